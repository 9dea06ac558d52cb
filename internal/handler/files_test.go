package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/jun/medidash/internal/adapter/memory"
	"github.com/jun/medidash/internal/auth"
	"github.com/jun/medidash/internal/handler"
	"github.com/jun/medidash/internal/model"
	"github.com/jun/medidash/internal/repository"
)

func setupFiles(t *testing.T) (*handler.FileHandler, *repository.Memory) {
	t.Helper()
	ctx := context.Background()

	drive := memory.NewBrowser()
	folder, err := drive.AddFolder("root", "ACME Docs")
	if err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if _, err := drive.AddFile(folder, "informe.pdf", 2048, "https://example.com/informe.pdf"); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if _, err := drive.AddFolder(folder, "2025"); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	repo := repository.NewMemory()
	repo.UpsertTenant(ctx, "ACME", "Acme SA")
	repo.UpsertTenant(ctx, "ZETA", "Zeta SRL")
	if _, err := repo.UpdateTenant(ctx, "ACME", repository.TenantPatch{OneDriveFolderID: &folder}); err != nil {
		t.Fatalf("UpdateTenant: %v", err)
	}

	tokens := auth.StaticTokenProvider{Delegated: "delegated"}
	return handler.NewFileHandler(repo, drive, tokens, testJWTSecret, nil), repo
}

func TestFileHandler_TenantFiles(t *testing.T) {
	h, _ := setupFiles(t)

	req := makeRequest(http.MethodGet, "/tenants/ACME/files", "", &clienteSession)
	req.PathParameters["tenantId"] = "ACME"
	resp, _ := h.TenantFiles(context.Background(), req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	body := decode(t, resp)
	if body["clientName"] != "Acme SA" {
		t.Errorf("Expected clientName Acme SA, got %v", body["clientName"])
	}
	if body["totalFiles"] != float64(2) {
		t.Errorf("Expected 2 files, got %v", body["totalFiles"])
	}
	files := body["files"].([]any)
	if first := files[0].(map[string]any); first["name"] != "2025" {
		t.Errorf("Expected folders first, got %v", first["name"])
	}
}

func TestFileHandler_NoFolder(t *testing.T) {
	h, _ := setupFiles(t)

	req := makeRequest(http.MethodGet, "/tenants/ZETA/files", "", &adminSession)
	req.PathParameters["tenantId"] = "ZETA"
	resp, _ := h.TenantFiles(context.Background(), req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	body := decode(t, resp)
	if body["message"] != handler.NoFolderMessage {
		t.Errorf("Expected no-folder message, got %v", body["message"])
	}
	if files, ok := body["files"].([]any); !ok || len(files) != 0 {
		t.Errorf("Expected empty files array, got %v", body["files"])
	}
}

func TestFileHandler_Errors(t *testing.T) {
	h, _ := setupFiles(t)

	tests := []struct {
		name     string
		tenantID string
		session  *model.Session
		status   int
		code     string
	}{
		{"unknown tenant", "NOPE", &adminSession, http.StatusNotFound, "NOT_FOUND"},
		{"other tenant", "ZETA", &clienteSession, http.StatusForbidden, "FORBIDDEN"},
		{"slash in id", "A/B", &adminSession, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"anonymous", "ACME", nil, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := makeRequest(http.MethodGet, "/tenants/x/files", "", tc.session)
			req.PathParameters["tenantId"] = tc.tenantID

			resp, _ := h.TenantFiles(context.Background(), req)
			if resp.StatusCode != tc.status {
				t.Fatalf("Expected %d, got %d: %s", tc.status, resp.StatusCode, resp.Body)
			}
			if got := textCode(t, resp); got != tc.code {
				t.Errorf("Expected text code %s, got %s", tc.code, got)
			}
		})
	}
}

func TestFileHandler_NotConnected(t *testing.T) {
	ctx := context.Background()
	drive := memory.NewBrowser()
	folder, _ := drive.AddFolder("root", "Docs")

	repo := repository.NewMemory()
	repo.UpsertTenant(ctx, "ACME", "Acme SA")
	repo.UpdateTenant(ctx, "ACME", repository.TenantPatch{OneDriveFolderID: &folder})

	h := handler.NewFileHandler(repo, drive, auth.StaticTokenProvider{}, testJWTSecret, nil)
	req := makeRequest(http.MethodGet, "/tenants/ACME/files", "", &adminSession)
	req.PathParameters["tenantId"] = "ACME"

	resp, _ := h.TenantFiles(ctx, req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", resp.StatusCode)
	}
	if hint := decode(t, resp)["hint"]; hint != "/auth/login" {
		t.Errorf("Expected login hint, got %v", hint)
	}
}
