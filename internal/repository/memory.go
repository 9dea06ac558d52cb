package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/model"
)

// Memory is an in-process Repository for DEV_MODE and tests. Listings are
// ordered by id, like a sort-key query.
type Memory struct {
	mu           sync.RWMutex
	tenants      map[string]model.Tenant
	branches     map[string]map[string]model.Branch
	measurements map[string]map[string]model.Measurement
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tenants:      make(map[string]model.Tenant),
		branches:     make(map[string]map[string]model.Branch),
		measurements: make(map[string]map[string]model.Measurement),
		now:          time.Now,
	}
}

var _ Repository = (*Memory)(nil)

func (m *Memory) UpsertTenant(ctx context.Context, id, nombre string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tenants[id]
	t.ID = id
	t.Nombre = nombre
	t.UpdatedAt = m.now()
	m.tenants[id] = t
	return nil
}

func (m *Memory) UpsertBranch(ctx context.Context, empresaID, id, nombre string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := BranchesCollection(empresaID)
	if m.branches[col] == nil {
		m.branches[col] = make(map[string]model.Branch)
	}
	m.branches[col][id] = model.Branch{ID: id, Nombre: nombre, Empresa: empresaID, UpdatedAt: m.now()}
	return nil
}

func (m *Memory) PutMeasurement(ctx context.Context, meas model.Measurement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meas.CreatedAt.IsZero() {
		meas.CreatedAt = m.now()
	}
	meas.Data = maps.Clone(meas.Data)
	col := MeasurementsCollection(meas.EmpresaID, meas.SucursalID)
	if m.measurements[col] == nil {
		m.measurements[col] = make(map[string]model.Measurement)
	}
	m.measurements[col][meas.ID] = meas
	return nil
}

func (m *Memory) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", TenantsCollection, id, adapter.ErrNotFound)
	}
	return &t, nil
}

func (m *Memory) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.tenants, func(t model.Tenant) string { return t.ID }), nil
}

func (m *Memory) UpdateTenant(ctx context.Context, id string, patch TenantPatch) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %q: %w", id, adapter.ErrNotFound)
	}
	if patch.Nombre != nil {
		t.Nombre = *patch.Nombre
	}
	if patch.OneDriveFolderID != nil {
		t.OneDriveFolderID = *patch.OneDriveFolderID
	}
	t.UpdatedAt = m.now()
	m.tenants[id] = t
	return &t, nil
}

func (m *Memory) ListBranches(ctx context.Context, empresaID string) ([]model.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.branches[BranchesCollection(empresaID)], func(b model.Branch) string { return b.ID }), nil
}

func (m *Memory) ListMeasurements(ctx context.Context, empresaID, sucursalID string) ([]model.Measurement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col := m.measurements[MeasurementsCollection(empresaID, sucursalID)]
	return sortedValues(col, func(x model.Measurement) string { return x.ID }), nil
}

func (m *Memory) GetMeasurement(ctx context.Context, empresaID, sucursalID, id string) (*model.Measurement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meas, ok := m.measurements[MeasurementsCollection(empresaID, sucursalID)][id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", MeasurementPath(empresaID, sucursalID, id), adapter.ErrNotFound)
	}
	meas.Data = maps.Clone(meas.Data)
	return &meas, nil
}

func (m *Memory) CountMeasurements(ctx context.Context, empresaID, sucursalID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.measurements[MeasurementsCollection(empresaID, sucursalID)]), nil
}

func sortedValues[T any](items map[string]T, id func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, v := range items {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int { return strings.Compare(id(a), id(b)) })
	return out
}
