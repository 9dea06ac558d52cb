package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/medidash/internal/adapter/memory"
	"github.com/jun/medidash/internal/auth"
	"github.com/jun/medidash/internal/config"
	"github.com/jun/medidash/internal/handler"
	"github.com/jun/medidash/internal/model"
	"github.com/jun/medidash/internal/repository"
)

func testApp(devMode bool) *App {
	cfg := &config.Config{
		DevMode:          devMode,
		JWTSecret:        "test-secret",
		SyncSecret:       "sync-secret",
		APIGatewaySecret: "origin-secret",
		FrontendURL:      "http://localhost:3000",
		SetupPath:        "/setup",
		StatsConcurrency: 2,
	}
	drive := memory.NewBrowser()
	manager := auth.NewManager(auth.Config{TenantID: "t", ClientID: "c"}, auth.NewMemoryTokenStore())
	return New(cfg, Deps{
		Repo:           repository.NewMemory(),
		Flow:           manager,
		Tokens:         auth.StaticTokenProvider{Delegated: "d", App: "a"},
		DelegatedFiles: drive,
		ServiceFiles:   drive,
	}, nil)
}

func request(method, path, body string, s *model.Session) events.APIGatewayProxyRequest {
	req := events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       body,
		Headers: map[string]string{
			"x-origin-verify": "origin-secret",
			"X-Sync-Secret":   "sync-secret",
		},
	}
	if s != nil {
		signed, err := handler.IssueSession(*s, "test-secret", time.Hour)
		if err != nil {
			panic(err)
		}
		req.Headers["Authorization"] = "Bearer " + signed
	}
	return req
}

func TestHandleRequest_Preflight(t *testing.T) {
	app := testApp(false)

	resp, _ := app.HandleRequest(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodOptions, Path: "/api/sync"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Headers["Access-Control-Allow-Origin"]; got != "http://localhost:3000" {
		t.Errorf("Unexpected allowed origin %q", got)
	}
	if got := resp.Headers["Access-Control-Allow-Headers"]; got != "Content-Type,Authorization,X-Sync-Secret" {
		t.Errorf("Unexpected allowed headers %q", got)
	}
}

func TestHandleRequest_OriginCheck(t *testing.T) {
	app := testApp(false)
	req := request(http.MethodGet, "/navigation", "", &model.Session{UserID: "u", Role: model.RoleAdmin})
	delete(req.Headers, "x-origin-verify")

	resp, _ := app.HandleRequest(context.Background(), req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 without origin header, got %d", resp.StatusCode)
	}

	dev := testApp(true)
	resp, _ = dev.HandleRequest(context.Background(), req)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected DEV_MODE to skip the origin check, got %d", resp.StatusCode)
	}
}

func TestHandleRequest_EmptyOriginSecretRejectsEverything(t *testing.T) {
	app := testApp(false)
	app.apiGatewaySecret = ""

	admin := &model.Session{UserID: "u", Role: model.RoleAdmin}
	for _, origin := range []string{"", "anything"} {
		req := request(http.MethodGet, "/auth/token", "", admin)
		if origin == "" {
			delete(req.Headers, "x-origin-verify")
		} else {
			req.Headers["x-origin-verify"] = origin
		}

		resp, _ := app.HandleRequest(context.Background(), req)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("origin %q: expected 403, got %d: %s", origin, resp.StatusCode, resp.Body)
		}
	}
}

func TestHandleRequest_WrongOriginSecret(t *testing.T) {
	app := testApp(false)
	req := request(http.MethodGet, "/navigation", "", &model.Session{UserID: "u", Role: model.RoleAdmin})
	req.Headers["x-origin-verify"] = "origin-secreT"

	resp, _ := app.HandleRequest(context.Background(), req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for a wrong origin secret, got %d", resp.StatusCode)
	}
}

func TestHandleRequest_NotFound(t *testing.T) {
	app := testApp(false)

	for _, path := range []string{"/nope", "/tenants/ACME/unknown", "/tenants/ACME/branches/B1/readings"} {
		resp, _ := app.HandleRequest(context.Background(), request(http.MethodGet, path, "", nil))
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
			continue
		}
		var body struct {
			Success bool `json:"success"`
			Error   struct {
				TextCode string `json:"text_code"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(resp.Body), &body); err != nil || body.Error.TextCode != "NOT_FOUND" {
			t.Errorf("%s: expected JSON envelope, got %s", path, resp.Body)
		}
	}
}

func TestHandleRequest_DevLoginOnlyInDevMode(t *testing.T) {
	resp, _ := testApp(false).HandleRequest(context.Background(), request(http.MethodGet, "/auth/dev-login", "", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 outside DEV_MODE, got %d", resp.StatusCode)
	}

	resp, _ = testApp(true).HandleRequest(context.Background(), request(http.MethodGet, "/auth/dev-login", "", nil))
	if resp.StatusCode != http.StatusFound {
		t.Errorf("Expected 302 in DEV_MODE, got %d", resp.StatusCode)
	}
}

func TestHandleRequest_SyncThenBrowse(t *testing.T) {
	app := testApp(false)
	ctx := context.Background()
	admin := &model.Session{UserID: "admin", Role: model.RoleAdmin}
	cliente := &model.Session{UserID: "c", Role: model.RoleCliente, EmpresaID: "ACME"}

	body := `{"empresaId":"ACME","empresa":"Acme SA","sucursalId":"B1","fechaMedicion":"01/01/2025","value":"OK"}`
	resp, _ := app.HandleRequest(ctx, request(http.MethodPost, "/api/sync", body, nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	tests := []struct {
		method  string
		path    string
		body    string
		session *model.Session
		status  int
	}{
		{http.MethodGet, "/api/tenants", "", admin, http.StatusOK},
		{http.MethodGet, "/api/tenants", "", cliente, http.StatusForbidden},
		{http.MethodGet, "/api/tenants/ACME", "", cliente, http.StatusOK},
		{http.MethodGet, "/api/tenants/ACME/branches", "", cliente, http.StatusOK},
		{http.MethodGet, "/api/tenants/ACME/branches/B1/measurements", "", cliente, http.StatusOK},
		{http.MethodGet, "/api/tenants/ACME/branches/B1/measurements/01-01-2025", "", cliente, http.StatusOK},
		{http.MethodGet, "/api/tenants/ACME/branches/B1/measurements/01/01/2025", "", cliente, http.StatusOK},
		{http.MethodGet, "/api/tenants/ACME/branches/B1/measurements/02/01/2025", "", cliente, http.StatusNotFound},
		{http.MethodGet, "/api/tenants/ACME/files", "", cliente, http.StatusOK},
		{http.MethodPatch, "/api/tenants/ACME", `{"nombre":"Acme"}`, admin, http.StatusOK},
		{http.MethodGet, "/api/dashboard/stats", "", admin, http.StatusOK},
		{http.MethodGet, "/api/folders", "", admin, http.StatusBadRequest},
		{http.MethodGet, "/api/navigation", "", cliente, http.StatusOK},
		{http.MethodPost, "/api/auth/logout", "", nil, http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp, err := app.HandleRequest(ctx, request(tc.method, tc.path, tc.body, tc.session))
			if err != nil {
				t.Fatalf("HandleRequest returned error: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Errorf("Expected %d, got %d: %s", tc.status, resp.StatusCode, resp.Body)
			}
		})
	}
}
