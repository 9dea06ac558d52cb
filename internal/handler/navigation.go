package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/model"
)

// NavItem is one menu entry.
type NavItem struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

// NavigationHandler serves the role-dependent menu.
type NavigationHandler struct {
	jwtSecret string
	setupPath string
	logger    glog.Logger
}

func NewNavigationHandler(jwtSecret, setupPath string, logger glog.Logger) *NavigationHandler {
	if logger == nil {
		logger = glog.Nop()
	}
	return &NavigationHandler{jwtSecret: jwtSecret, setupPath: setupPath, logger: logger}
}

// MenuFor returns the entries visible to s.
func MenuFor(s model.Session, setupPath string) []NavItem {
	if s.IsAdmin() {
		return []NavItem{
			{Label: "Dashboard", Path: "/dashboard"},
			{Label: "Empresas", Path: "/tenants"},
			{Label: "Carpetas OneDrive", Path: "/folders"},
			{Label: "Conexión Microsoft", Path: setupPath},
		}
	}
	base := "/tenants/" + s.EmpresaID
	return []NavItem{
		{Label: "Mi empresa", Path: base},
		{Label: "Sucursales", Path: base + "/branches"},
		{Label: "Documentos", Path: base + "/files"},
	}
}

// Navigation returns the caller's menu.
func (h *NavigationHandler) Navigation(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	s, resp := authenticate(h.logger, req, h.jwtSecret)
	if resp != nil {
		return *resp, nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"success":   true,
		"role":      s.Role,
		"empresaId": s.EmpresaID,
		"items":     MenuFor(*s, h.setupPath),
	}), nil
}
