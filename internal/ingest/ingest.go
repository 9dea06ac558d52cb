// Package ingest validates and persists measurement payloads pushed by the
// spreadsheet webhook.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/model"
	"github.com/jun/medidash/internal/repository"
)

// Payload keys.
const (
	KeyEmpresaID     = "empresaId"
	KeySucursalID    = "sucursalId"
	KeyFechaMedicion = "fechaMedicion"
	KeyEmpresa       = "empresa"
	KeySucursal      = "sucursal"
)

var requiredKeys = []string{KeyEmpresaID, KeySucursalID, KeyFechaMedicion}

// ValidationError lists every problem found in a payload.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "fields must not contain '/': "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// Result identifies the stored measurement.
type Result struct {
	EmpresaID  string `json:"empresaId"`
	SucursalID string `json:"sucursalId"`
	MedicionID string `json:"medicionId"`
	Path       string `json:"path"`
}

// Service writes tenant, branch and measurement for each payload.
type Service struct {
	repo   repository.Repository
	logger glog.Logger
}

func NewService(repo repository.Repository, logger glog.Logger) *Service {
	if logger == nil {
		logger = glog.Nop()
	}
	return &Service{repo: repo, logger: logger}
}

// NormalizeDate turns a date into a path-safe id by replacing every "/" with "-".
func NormalizeDate(s string) string {
	return strings.ReplaceAll(s, "/", "-")
}

// Ingest validates payload and upserts tenant, branch and measurement in that
// order. Nothing is written when validation fails. A failed write leaves the
// earlier ones in place.
func (s *Service) Ingest(ctx context.Context, payload map[string]any) (*Result, error) {
	fields, err := validate(payload)
	if err != nil {
		return nil, err
	}

	empresaID := fields[KeyEmpresaID]
	sucursalID := fields[KeySucursalID]
	medicionID := NormalizeDate(fields[KeyFechaMedicion])

	empresa := text(payload[KeyEmpresa])
	if empresa == "" {
		empresa = empresaID
	}
	sucursal := text(payload[KeySucursal])
	if sucursal == "" {
		sucursal = sucursalID
	}

	if err := s.repo.UpsertTenant(ctx, empresaID, empresa); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertBranch(ctx, empresaID, sucursalID, sucursal); err != nil {
		return nil, err
	}
	err = s.repo.PutMeasurement(ctx, model.Measurement{
		ID:         medicionID,
		EmpresaID:  empresaID,
		SucursalID: sucursalID,
		Data:       payload,
	})
	if err != nil {
		return nil, err
	}

	path := repository.MeasurementPath(empresaID, sucursalID, medicionID)
	s.logger.Info("measurement stored", "path", path)
	return &Result{
		EmpresaID:  empresaID,
		SucursalID: sucursalID,
		MedicionID: medicionID,
		Path:       path,
	}, nil
}

func validate(payload map[string]any) (map[string]string, error) {
	if payload == nil {
		return nil, &ValidationError{Missing: requiredKeys}
	}

	fields := make(map[string]string, len(requiredKeys))
	verr := &ValidationError{}
	for _, k := range requiredKeys {
		v := text(payload[k])
		switch {
		case v == "":
			verr.Missing = append(verr.Missing, k)
		case k != KeyFechaMedicion && strings.Contains(v, "/"):
			verr.Invalid = append(verr.Invalid, k)
		}
		fields[k] = v
	}
	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return nil, verr
	}
	return fields, nil
}

// text renders a scalar payload value as trimmed text. Other kinds are treated as absent.
func text(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return ""
	}
}
