package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/apperr"
	"github.com/jun/medidash/internal/repository"
)

// NoFolderMessage is returned for tenants without a folder mapping.
const NoFolderMessage = "No OneDrive folder is configured for this client yet."

// FileHandler lists a tenant's documents.
type FileHandler struct {
	repo      repository.Repository
	files     adapter.FileBrowser
	tokens    adapter.TokenProvider
	jwtSecret string
	logger    glog.Logger
}

// NewFileHandler creates a new FileHandler. files must be bound to the delegated drive.
func NewFileHandler(repo repository.Repository, files adapter.FileBrowser, tokens adapter.TokenProvider, jwtSecret string, logger glog.Logger) *FileHandler {
	if logger == nil {
		logger = glog.Nop()
	}
	return &FileHandler{repo: repo, files: files, tokens: tokens, jwtSecret: jwtSecret, logger: logger}
}

// TenantFilesResponse is the body of GET /tenants/{tenantId}/files.
type TenantFilesResponse struct {
	Success    bool                 `json:"success"`
	ClientID   string               `json:"clientId"`
	ClientName string               `json:"clientName"`
	Files      []adapter.FileRecord `json:"files"`
	TotalFiles int                  `json:"totalFiles"`
	Message    string               `json:"message,omitempty"`
}

// TenantFiles resolves the tenant's folder and lists its direct children.
func (h *FileHandler) TenantFiles(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	s, resp := authenticate(h.logger, req, h.jwtSecret)
	if resp != nil {
		return *resp, nil
	}

	tenantID := req.PathParameters["tenantId"]
	if !repository.ValidID(tenantID) {
		return errorResponse(h.logger, "list tenant files", apperr.BadInput("invalid tenant id")), nil
	}
	if !s.CanView(tenantID) {
		return errorResponse(h.logger, "list tenant files", apperr.Forbidden("no access to this client")), nil
	}

	out, err := h.resolveTenantFiles(ctx, tenantID)
	if err != nil {
		return errorResponse(h.logger, "list tenant files", err), nil
	}
	return jsonResponse(http.StatusOK, out), nil
}

func (h *FileHandler) resolveTenantFiles(ctx context.Context, tenantID string) (*TenantFilesResponse, error) {
	tenant, err := h.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := &TenantFilesResponse{
		Success:    true,
		ClientID:   tenant.ID,
		ClientName: tenant.Nombre,
		Files:      []adapter.FileRecord{},
	}
	if !tenant.HasFolder() {
		out.Message = NoFolderMessage
		return out, nil
	}

	tok, err := h.tokens.GetValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	files, err := h.files.ListChildren(ctx, tok.Value, tenant.OneDriveFolderID)
	if err != nil {
		return nil, err
	}

	out.Files = files
	out.TotalFiles = len(files)
	h.logger.Debug("tenant files listed", "empresa_id", tenantID, "total", out.TotalFiles)
	return out, nil
}
