// Package repository persists the tenant hierarchy: empresas, their sucursales
// and the mediciones of each sucursal. Records are addressed by a collection
// path and an id, mirroring a document-store layout.
package repository

import (
	"context"
	"strings"

	"github.com/jun/medidash/internal/model"
)

// TenantsCollection holds every tenant.
const TenantsCollection = "empresas"

// BranchesCollection is the collection path of a tenant's branches.
func BranchesCollection(empresaID string) string {
	return TenantsCollection + "/" + empresaID + "/sucursales"
}

// MeasurementsCollection is the collection path of a branch's measurements.
func MeasurementsCollection(empresaID, sucursalID string) string {
	return BranchesCollection(empresaID) + "/" + sucursalID + "/mediciones"
}

// MeasurementPath is the full document path of one measurement.
func MeasurementPath(empresaID, sucursalID, id string) string {
	return MeasurementsCollection(empresaID, sucursalID) + "/" + id
}

// ValidID reports whether id can be used as a path segment.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}

// TenantPatch is an admin edit of a tenant. Nil fields are left alone; an empty
// OneDriveFolderID clears the mapping.
type TenantPatch struct {
	Nombre           *string
	OneDriveFolderID *string
}

// Repository is the tenant hierarchy store.
type Repository interface {
	// UpsertTenant creates the tenant or updates its name. The folder mapping and
	// extra fields of an existing tenant are preserved.
	UpsertTenant(ctx context.Context, id, nombre string) error
	UpsertBranch(ctx context.Context, empresaID, id, nombre string) error
	// PutMeasurement writes the measurement, replacing any with the same id.
	PutMeasurement(ctx context.Context, m model.Measurement) error

	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	UpdateTenant(ctx context.Context, id string, patch TenantPatch) (*model.Tenant, error)

	ListBranches(ctx context.Context, empresaID string) ([]model.Branch, error)

	ListMeasurements(ctx context.Context, empresaID, sucursalID string) ([]model.Measurement, error)
	GetMeasurement(ctx context.Context, empresaID, sucursalID, id string) (*model.Measurement, error)
	CountMeasurements(ctx context.Context, empresaID, sucursalID string) (int, error)
}
