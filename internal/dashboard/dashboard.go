// Package dashboard builds the per-tenant overview shown to administrators.
package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/model"
	"github.com/jun/medidash/internal/repository"
)

// DefaultConcurrency caps the tenants processed at once.
const DefaultConcurrency = 8

// Folder status values reported in TenantSummary.FolderStatus.
const (
	FolderOK           = "ok"
	FolderUnconfigured = "unconfigured"
	FolderNotFound     = "not_found"
	FolderNoToken      = "no_token"
	FolderError        = "error"
)

// Aggregator counts branches, measurements and files per tenant.
type Aggregator struct {
	repo        repository.Repository
	files       adapter.FileBrowser
	tokens      adapter.TokenProvider
	logger      glog.Logger
	concurrency int
}

// NewAggregator creates an Aggregator. files and tokens may be nil, in which
// case file counts are omitted.
func NewAggregator(repo repository.Repository, files adapter.FileBrowser, tokens adapter.TokenProvider, concurrency int, logger glog.Logger) *Aggregator {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &Aggregator{repo: repo, files: files, tokens: tokens, logger: logger, concurrency: concurrency}
}

// Summaries returns one summary per tenant in tenant order. Repository errors
// abort the whole call; file listing problems only mark the tenant's FolderStatus.
func (a *Aggregator) Summaries(ctx context.Context) ([]model.TenantSummary, error) {
	tenants, err := a.repo.ListTenants(ctx)
	if err != nil {
		return nil, err
	}

	token, haveToken := a.fileToken(ctx)

	out := make([]model.TenantSummary, len(tenants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, t := range tenants {
		g.Go(func() error {
			s, err := a.summarize(gctx, t, token, haveToken)
			if err != nil {
				return fmt.Errorf("tenant %q: %w", t.ID, err)
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fileToken fetches the delegated token once for the whole fan-out.
func (a *Aggregator) fileToken(ctx context.Context) (string, bool) {
	if a.files == nil || a.tokens == nil {
		return "", false
	}
	tok, err := a.tokens.GetValidAccessToken(ctx)
	if err != nil {
		if !errors.Is(err, adapter.ErrNotAuthenticated) {
			a.logger.Warn("dashboard file counts unavailable", "error", err)
		}
		return "", false
	}
	return tok.Value, true
}

func (a *Aggregator) summarize(ctx context.Context, t model.Tenant, token string, haveToken bool) (model.TenantSummary, error) {
	s := model.TenantSummary{
		EmpresaID: t.ID,
		Nombre:    t.Nombre,
		HasFolder: t.HasFolder(),
	}

	branches, err := a.repo.ListBranches(ctx, t.ID)
	if err != nil {
		return s, err
	}
	s.Sucursales = len(branches)
	for _, b := range branches {
		n, err := a.repo.CountMeasurements(ctx, t.ID, b.ID)
		if err != nil {
			return s, err
		}
		s.Mediciones += n
	}

	switch {
	case !t.HasFolder():
		s.FolderStatus = FolderUnconfigured
	case !haveToken:
		s.FolderStatus = FolderNoToken
	default:
		files, err := a.files.ListChildren(ctx, token, t.OneDriveFolderID)
		switch {
		case err == nil:
			n := len(files)
			s.Archivos = &n
			s.FolderStatus = FolderOK
		case errors.Is(err, adapter.ErrNotFound):
			s.FolderStatus = FolderNotFound
		default:
			a.logger.Warn("failed to count tenant files", "empresa_id", t.ID, "error", err)
			s.FolderStatus = FolderError
		}
	}
	return s, nil
}
