package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/apperr"
	"github.com/jun/medidash/internal/ingest"
	"github.com/jun/medidash/internal/repository"
)

// TenantHandler serves the read views over empresas, sucursales and mediciones,
// and the admin edit of a tenant.
type TenantHandler struct {
	repo      repository.Repository
	jwtSecret string
	logger    glog.Logger
}

// NewTenantHandler creates a new TenantHandler.
func NewTenantHandler(repo repository.Repository, jwtSecret string, logger glog.Logger) *TenantHandler {
	if logger == nil {
		logger = glog.Nop()
	}
	return &TenantHandler{repo: repo, jwtSecret: jwtSecret, logger: logger}
}

// viewer authenticates the caller and checks access to the tenant in the path.
func (h *TenantHandler) viewer(req events.APIGatewayProxyRequest) (string, *events.APIGatewayProxyResponse) {
	s, resp := authenticate(h.logger, req, h.jwtSecret)
	if resp != nil {
		return "", resp
	}
	tenantID := req.PathParameters["tenantId"]
	if !repository.ValidID(tenantID) {
		r := errorResponse(h.logger, "tenant view", apperr.BadInput("invalid tenant id"))
		return "", &r
	}
	if !s.CanView(tenantID) {
		r := errorResponse(h.logger, "tenant view", apperr.Forbidden("no access to this client"))
		return "", &r
	}
	return tenantID, nil
}

// ListTenants returns every tenant. Administrators only.
func (h *TenantHandler) ListTenants(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, resp := requireAdmin(h.logger, req, h.jwtSecret); resp != nil {
		return *resp, nil
	}
	tenants, err := h.repo.ListTenants(ctx)
	if err != nil {
		return errorResponse(h.logger, "list tenants", err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"success": true, "tenants": tenants, "total": len(tenants)}), nil
}

// GetTenant returns one tenant.
func (h *TenantHandler) GetTenant(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	tenantID, resp := h.viewer(req)
	if resp != nil {
		return *resp, nil
	}
	tenant, err := h.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return errorResponse(h.logger, "get tenant", err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"success": true, "tenant": tenant}), nil
}

// PatchTenantRequest is the body of PATCH /tenants/{tenantId}.
type PatchTenantRequest struct {
	Nombre           *string `json:"nombre"`
	OneDriveFolderID *string `json:"oneDriveFolderId"`
}

// PatchTenant renames a tenant or maps its document folder. Administrators only.
func (h *TenantHandler) PatchTenant(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	s, resp := requireAdmin(h.logger, req, h.jwtSecret)
	if resp != nil {
		return *resp, nil
	}
	tenantID := req.PathParameters["tenantId"]
	if !repository.ValidID(tenantID) {
		return errorResponse(h.logger, "patch tenant", apperr.BadInput("invalid tenant id")), nil
	}

	raw, err := requestBody(req)
	if err != nil {
		return errorResponse(h.logger, "patch tenant", apperr.BadInput("request body is not valid base64")), nil
	}
	var input PatchTenantRequest
	if err := json.Unmarshal(raw, &input); err != nil {
		return errorResponse(h.logger, "patch tenant", apperr.BadInput("invalid request body")), nil
	}
	if input.Nombre == nil && input.OneDriveFolderID == nil {
		return errorResponse(h.logger, "patch tenant", apperr.BadInput("nothing to update: send nombre or oneDriveFolderId")), nil
	}
	if input.Nombre != nil && strings.TrimSpace(*input.Nombre) == "" {
		return errorResponse(h.logger, "patch tenant", apperr.BadInput("nombre must not be empty")), nil
	}
	if input.OneDriveFolderID != nil {
		trimmed := strings.TrimSpace(*input.OneDriveFolderID)
		input.OneDriveFolderID = &trimmed
	}

	tenant, err := h.repo.UpdateTenant(ctx, tenantID, repository.TenantPatch{
		Nombre:           input.Nombre,
		OneDriveFolderID: input.OneDriveFolderID,
	})
	if err != nil {
		return errorResponse(h.logger, "patch tenant", err), nil
	}

	h.logger.Info("tenant updated", "empresa_id", tenantID, "by", s.UserID, "has_folder", tenant.HasFolder())
	return jsonResponse(http.StatusOK, map[string]any{"success": true, "tenant": tenant}), nil
}

// ListBranches returns a tenant's branches.
func (h *TenantHandler) ListBranches(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	tenantID, resp := h.viewer(req)
	if resp != nil {
		return *resp, nil
	}
	if _, err := h.repo.GetTenant(ctx, tenantID); err != nil {
		return errorResponse(h.logger, "list branches", err), nil
	}
	branches, err := h.repo.ListBranches(ctx, tenantID)
	if err != nil {
		return errorResponse(h.logger, "list branches", err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"success": true, "empresaId": tenantID, "branches": branches, "total": len(branches)}), nil
}

// ListMeasurements returns a branch's measurements.
func (h *TenantHandler) ListMeasurements(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	tenantID, resp := h.viewer(req)
	if resp != nil {
		return *resp, nil
	}
	branchID := req.PathParameters["branchId"]
	if !repository.ValidID(branchID) {
		return errorResponse(h.logger, "list measurements", apperr.BadInput("invalid branch id")), nil
	}

	measurements, err := h.repo.ListMeasurements(ctx, tenantID, branchID)
	if err != nil {
		return errorResponse(h.logger, "list measurements", err), nil
	}
	docs := make([]map[string]any, 0, len(measurements))
	for _, m := range measurements {
		docs = append(docs, m.Document())
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"success":      true,
		"empresaId":    tenantID,
		"sucursalId":   branchID,
		"measurements": docs,
		"total":        len(docs),
	}), nil
}

// GetMeasurement returns one measurement by its date id. Dates with "/" are
// accepted and normalized the same way ingestion does.
func (h *TenantHandler) GetMeasurement(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	tenantID, resp := h.viewer(req)
	if resp != nil {
		return *resp, nil
	}
	branchID := req.PathParameters["branchId"]
	date := ingest.NormalizeDate(req.PathParameters["date"])
	if !repository.ValidID(branchID) || date == "" {
		return errorResponse(h.logger, "get measurement", apperr.BadInput("invalid branch id or date")), nil
	}

	m, err := h.repo.GetMeasurement(ctx, tenantID, branchID, date)
	if err != nil {
		return errorResponse(h.logger, "get measurement", err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{"success": true, "measurement": m.Document()}), nil
}
