package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/jun/medidash/internal/adapter/memory"
	"github.com/jun/medidash/internal/auth"
	"github.com/jun/medidash/internal/handler"
)

func TestParseFolderAction(t *testing.T) {
	tests := []struct {
		name    string
		query   map[string]string
		want    handler.FolderAction
		wantErr bool
	}{
		{"root", map[string]string{"action": "list-root-folders"}, handler.ListRootFolders{}, false},
		{"search", map[string]string{"action": "search-folder", "query": " acme "}, handler.SearchFolder{Query: "acme"}, false},
		{"search without query", map[string]string{"action": "search-folder"}, nil, true},
		{"info", map[string]string{"action": "get-folder-info", "folderId": "F1"}, handler.GetFolderInfo{FolderID: "F1"}, false},
		{"info without id", map[string]string{"action": "get-folder-info"}, nil, true},
		{"contents", map[string]string{"action": "list-folder-contents", "folderId": "F1"}, handler.ListFolderContents{FolderID: "F1"}, false},
		{"missing action", map[string]string{}, nil, true},
		{"unknown action", map[string]string{"action": "delete-everything"}, nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := handler.ParseFolderAction(tc.query)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %#v, got %#v", tc.want, got)
			}
		})
	}
}

func TestFolderHandler_Folders(t *testing.T) {
	drive := memory.NewBrowser()
	acme, _ := drive.AddFolder("root", "ACME")
	drive.AddFolder("root", "Zeta")
	drive.AddFile("root", "readme.txt", 10, "")
	drive.AddFolder(acme, "Acme Informes")
	drive.AddFile(acme, "plan.xlsx", 100, "")

	h := handler.NewFolderHandler(drive, auth.StaticTokenProvider{App: "app-token"}, testJWTSecret, nil)

	tests := []struct {
		name  string
		query map[string]string
		check func(t *testing.T, body map[string]any)
	}{
		{
			name:  "list root folders skips files",
			query: map[string]string{"action": "list-root-folders"},
			check: func(t *testing.T, body map[string]any) {
				if body["total"] != float64(2) {
					t.Errorf("Expected 2 folders, got %v", body["total"])
				}
			},
		},
		{
			name:  "search is case-insensitive and recursive",
			query: map[string]string{"action": "search-folder", "query": "acme"},
			check: func(t *testing.T, body map[string]any) {
				if body["total"] != float64(2) {
					t.Errorf("Expected 2 matches, got %v", body["total"])
				}
				if body["query"] != "acme" {
					t.Errorf("Expected query echo, got %v", body["query"])
				}
			},
		},
		{
			name:  "folder info",
			query: map[string]string{"action": "get-folder-info", "folderId": acme},
			check: func(t *testing.T, body map[string]any) {
				folder := body["folder"].(map[string]any)
				if folder["name"] != "ACME" || folder["childCount"] != float64(2) {
					t.Errorf("Unexpected folder %v", folder)
				}
			},
		},
		{
			name:  "folder contents include files",
			query: map[string]string{"action": "list-folder-contents", "folderId": acme},
			check: func(t *testing.T, body map[string]any) {
				if body["total"] != float64(2) || body["folderId"] != acme {
					t.Errorf("Unexpected contents %v", body)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := makeRequest(http.MethodGet, "/folders", "", &adminSession)
			req.QueryStringParameters = tc.query
			resp, _ := h.Folders(context.Background(), req)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
			}
			body := decode(t, resp)
			if body["action"] != tc.query["action"] || body["success"] != true {
				t.Errorf("Unexpected envelope %v", body)
			}
			tc.check(t, body)
		})
	}
}

func TestFolderHandler_Usage(t *testing.T) {
	h := handler.NewFolderHandler(memory.NewBrowser(), auth.StaticTokenProvider{App: "app-token"}, testJWTSecret, nil)

	req := makeRequest(http.MethodGet, "/folders", "", &adminSession)
	req.QueryStringParameters = map[string]string{"action": "rename"}
	resp, _ := h.Folders(context.Background(), req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}
	usage, ok := decode(t, resp)["usage"].(map[string]any)
	if !ok || len(usage) != len(handler.FolderUsage) {
		t.Errorf("Expected usage listing, got %s", resp.Body)
	}
}

func TestFolderHandler_Errors(t *testing.T) {
	drive := memory.NewBrowser()

	t.Run("cliente", func(t *testing.T) {
		h := handler.NewFolderHandler(drive, auth.StaticTokenProvider{App: "app-token"}, testJWTSecret, nil)
		req := makeRequest(http.MethodGet, "/folders", "", &clienteSession)
		req.QueryStringParameters = map[string]string{"action": "list-root-folders"}
		resp, _ := h.Folders(context.Background(), req)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("unknown folder", func(t *testing.T) {
		h := handler.NewFolderHandler(drive, auth.StaticTokenProvider{App: "app-token"}, testJWTSecret, nil)
		req := makeRequest(http.MethodGet, "/folders", "", &adminSession)
		req.QueryStringParameters = map[string]string{"action": "get-folder-info", "folderId": "missing"}
		resp, _ := h.Folders(context.Background(), req)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("app credentials rejected", func(t *testing.T) {
		h := handler.NewFolderHandler(drive, auth.StaticTokenProvider{}, testJWTSecret, nil)
		req := makeRequest(http.MethodGet, "/folders", "", &adminSession)
		req.QueryStringParameters = map[string]string{"action": "list-root-folders"}
		resp, _ := h.Folders(context.Background(), req)
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("Expected 500, got %d", resp.StatusCode)
		}
		if got := textCode(t, resp); got != "PROVIDER_AUTH_ERROR" {
			t.Errorf("Expected PROVIDER_AUTH_ERROR, got %s", got)
		}
	})
}
