package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/model"
)

// SummaryProvider produces the per-tenant overview.
type SummaryProvider interface {
	Summaries(ctx context.Context) ([]model.TenantSummary, error)
}

// DashboardHandler serves the administrator overview.
type DashboardHandler struct {
	summaries SummaryProvider
	jwtSecret string
	logger    glog.Logger
}

func NewDashboardHandler(summaries SummaryProvider, jwtSecret string, logger glog.Logger) *DashboardHandler {
	if logger == nil {
		logger = glog.Nop()
	}
	return &DashboardHandler{summaries: summaries, jwtSecret: jwtSecret, logger: logger}
}

// Stats returns per-tenant counts and totals. Administrators only.
func (h *DashboardHandler) Stats(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, resp := requireAdmin(h.logger, req, h.jwtSecret); resp != nil {
		return *resp, nil
	}

	rows, err := h.summaries.Summaries(ctx)
	if err != nil {
		return errorResponse(h.logger, "dashboard stats", err), nil
	}

	totals := map[string]int{"empresas": len(rows)}
	for _, r := range rows {
		totals["sucursales"] += r.Sucursales
		totals["mediciones"] += r.Mediciones
		if r.HasFolder {
			totals["conCarpeta"]++
		}
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"success": true,
		"tenants": rows,
		"totals":  totals,
	}), nil
}
