package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/jun/medidash/internal/handler"
)

func TestMenuFor(t *testing.T) {
	admin := handler.MenuFor(adminSession, "/setup")
	if len(admin) != 4 || admin[3].Path != "/setup" {
		t.Errorf("Unexpected admin menu %+v", admin)
	}

	cliente := handler.MenuFor(clienteSession, "/setup")
	for _, item := range cliente {
		if item.Path == "/folders" || item.Path == "/setup" || item.Path == "/dashboard" {
			t.Errorf("cliente menu exposes admin entry %+v", item)
		}
	}
	if cliente[2].Path != "/tenants/ACME/files" {
		t.Errorf("Expected files entry scoped to ACME, got %q", cliente[2].Path)
	}
}

func TestNavigationHandler(t *testing.T) {
	h := handler.NewNavigationHandler(testJWTSecret, "/setup", nil)

	resp, _ := h.Navigation(context.Background(), makeRequest(http.MethodGet, "/navigation", "", &clienteSession))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["role"] != "cliente" || len(body["items"].([]any)) != 3 {
		t.Errorf("Unexpected navigation %v", body)
	}

	resp, _ = h.Navigation(context.Background(), makeRequest(http.MethodGet, "/navigation", "", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
}
