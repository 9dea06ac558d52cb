// Package auth owns the deployment's Microsoft identity tokens: the delegated
// authorization-code session shared by all users and the app-only client
// credentials token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/lease"
	"github.com/jun/medidash/internal/model"
)

// DefaultExpiryMargin is how long before expiry a stored access token is refreshed.
const DefaultExpiryMargin = 5 * time.Minute

// DelegatedScopes are requested on the consent screen.
var DelegatedScopes = []string{"offline_access", "Files.Read.All", "Sites.Read.All", "User.Read"}

// AppScope is the client-credentials scope.
const AppScope = "https://graph.microsoft.com/.default"

const leaseKey = "token:" + model.TokenSlot

var _ adapter.TokenProvider = (*Manager)(nil)

// Config holds the app registration.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AuthorityURL overrides https://login.microsoftonline.com.
	AuthorityURL string

	ExpiryMargin time.Duration
}

// Manager runs the OAuth flows and keeps the stored delegated token fresh.
type Manager struct {
	oauth      *oauth2.Config
	app        *clientcredentials.Config
	store      TokenStore
	locker     lease.Locker
	httpClient *http.Client
	logger     glog.Logger
	margin     time.Duration
	now        func() time.Time
	owner      string

	pollInterval time.Duration
	pollAttempts int

	mu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// WithLocker sets the cross-instance refresh lease. Without it the manager
// only serializes refreshes within the process.
func WithLocker(l lease.Locker) ManagerOption {
	return func(m *Manager) { m.locker = l }
}

func WithLogger(l glog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager for the given app registration.
func NewManager(cfg Config, store TokenStore, opts ...ManagerOption) *Manager {
	endpoint := authorityEndpoint(cfg.AuthorityURL, cfg.TenantID)

	m := &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       DelegatedScopes,
		},
		app: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     endpoint.TokenURL,
			Scopes:       []string{AppScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		store:        store,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		margin:       cfg.ExpiryMargin,
		now:          time.Now,
		owner:        uuid.NewString(),
		pollInterval: 200 * time.Millisecond,
		pollAttempts: 25,
	}
	if m.margin <= 0 {
		m.margin = DefaultExpiryMargin
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.locker == nil {
		m.locker = lease.NewMemoryLocker()
	}
	if m.logger == nil {
		m.logger = glog.Nop()
	}
	return m
}

func authorityEndpoint(authority, tenant string) oauth2.Endpoint {
	if authority == "" {
		ep := microsoft.AzureADEndpoint(tenant)
		ep.AuthStyle = oauth2.AuthStyleInParams
		return ep
	}
	base := strings.TrimRight(authority, "/") + "/" + tenant + "/oauth2/v2.0"
	return oauth2.Endpoint{
		AuthURL:   base + "/authorize",
		TokenURL:  base + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// NewState returns an anti-CSRF state value for the consent redirect.
func (m *Manager) NewState() string {
	return uuid.NewString()
}

// AuthorizationURL returns the consent URL carrying state.
func (m *Manager) AuthorizationURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// ExchangeCode trades an authorization code for a token pair. No retries.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*model.TokenRecord, error) {
	tok, err := m.oauth.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return nil, newExchangeError("exchange", err)
	}
	return m.record(tok, ""), nil
}

// RefreshTokens redeems refreshToken. The previous refresh token is kept when
// the provider does not rotate it.
func (m *Manager) RefreshTokens(ctx context.Context, refreshToken string) (*model.TokenRecord, error) {
	src := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, newExchangeError("refresh", err)
	}
	return m.record(tok, refreshToken), nil
}

// ClientCredentialsToken fetches an app-only token. It is not cached.
func (m *Manager) ClientCredentialsToken(ctx context.Context) (model.AccessToken, error) {
	tok, err := m.app.Token(m.clientContext(ctx))
	if err != nil {
		return model.AccessToken{}, newExchangeError("client_credentials", err)
	}
	return model.AccessToken{Value: tok.AccessToken, ExpiresAt: m.expiry(tok)}, nil
}

func (m *Manager) record(tok *oauth2.Token, prevRefresh string) *model.TokenRecord {
	rec := &model.TokenRecord{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    m.expiry(tok),
		UpdatedAt:    m.now(),
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = prevRefresh
	}
	return rec
}

func (m *Manager) expiry(tok *oauth2.Token) time.Time {
	if tok.ExpiresIn > 0 {
		return m.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return tok.Expiry
}

// Complete finishes the authorization-code flow and stores the result.
func (m *Manager) Complete(ctx context.Context, code string) (*model.TokenRecord, error) {
	rec, err := m.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.RefreshToken == "" {
		m.logger.Warn("authorization code exchange returned no refresh token", "expires_at", rec.ExpiresAt)
	}
	if err := m.store.Save(ctx, *rec); err != nil {
		return nil, fmt.Errorf("failed to store tokens: %w", err)
	}
	m.logger.Info("delegated token stored", "expires_at", rec.ExpiresAt)
	return rec, nil
}

func (m *Manager) fresh(rec *model.TokenRecord) bool {
	return rec.AccessToken != "" && rec.ExpiresAt.Sub(m.now()) > m.margin
}

// GetValidAccessToken returns the stored delegated token, refreshing and
// persisting it first when it is within the expiry margin.
func (m *Manager) GetValidAccessToken(ctx context.Context) (model.AccessToken, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return model.AccessToken{}, err
	}
	if m.fresh(rec) {
		return accessToken(rec), nil
	}
	return m.refresh(ctx)
}

func (m *Manager) load(ctx context.Context) (*model.TokenRecord, error) {
	rec, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoToken) {
		return nil, fmt.Errorf("%w: authorization not completed", adapter.ErrNotAuthenticated)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *Manager) refresh(ctx context.Context) (model.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have refreshed while we waited on the mutex.
	rec, err := m.load(ctx)
	if err != nil {
		return model.AccessToken{}, err
	}
	if m.fresh(rec) {
		return accessToken(rec), nil
	}
	if rec.RefreshToken == "" {
		return model.AccessToken{}, fmt.Errorf("%w: stored record has no refresh token", adapter.ErrNotAuthenticated)
	}

	if _, err := m.locker.Acquire(ctx, leaseKey, m.owner); err != nil {
		if errors.Is(err, lease.ErrLeaseHeld) {
			m.logger.Debug("token refresh running elsewhere, waiting", "expires_at", rec.ExpiresAt)
			return m.awaitPeer(ctx, rec.ExpiresAt)
		}
		return model.AccessToken{}, err
	}
	defer func() {
		if err := m.locker.Release(context.WithoutCancel(ctx), leaseKey, m.owner); err != nil {
			m.logger.Warn("failed to release token lease", "error", err)
		}
	}()

	// A peer may have finished between our read and the lease.
	rec, err = m.load(ctx)
	if err != nil {
		return model.AccessToken{}, err
	}
	if m.fresh(rec) {
		return accessToken(rec), nil
	}

	next, err := m.RefreshTokens(ctx, rec.RefreshToken)
	if err != nil {
		m.logger.Error("token refresh failed", "error", err)
		return model.AccessToken{}, err
	}

	err = m.store.SaveIfUnchanged(ctx, *next, rec.ExpiresAt)
	if errors.Is(err, ErrTokenConflict) {
		m.logger.Info("token refreshed concurrently, using stored record")
		winner, err := m.load(ctx)
		if err != nil {
			return model.AccessToken{}, err
		}
		return accessToken(winner), nil
	}
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	m.logger.Info("delegated token refreshed", "expires_at", next.ExpiresAt)
	return accessToken(next), nil
}

// awaitPeer polls the store until the lease holder has written a new record.
// It stops early when the lease is gone and the record did not change, which
// means the holder gave up or crashed.
func (m *Manager) awaitPeer(ctx context.Context, prev time.Time) (model.AccessToken, error) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for i := 0; i < m.pollAttempts; i++ {
		select {
		case <-ctx.Done():
			return model.AccessToken{}, ctx.Err()
		case <-ticker.C:
		}
		// Read the lease before the record: a holder saves before it releases.
		held, statusErr := m.locker.Status(ctx, leaseKey)
		if statusErr != nil {
			m.logger.Warn("failed to read token lease", "error", statusErr)
		}
		rec, err := m.load(ctx)
		if err != nil {
			return model.AccessToken{}, err
		}
		if !rec.ExpiresAt.Equal(prev) && m.fresh(rec) {
			return accessToken(rec), nil
		}
		if statusErr == nil && held == nil {
			return model.AccessToken{}, fmt.Errorf("%w: token refresh by another instance was abandoned", adapter.ErrUpstream)
		}
	}
	return model.AccessToken{}, fmt.Errorf("%w: token refresh by another instance did not complete", adapter.ErrUpstream)
}

func accessToken(rec *model.TokenRecord) model.AccessToken {
	return model.AccessToken{Value: rec.AccessToken, ExpiresAt: rec.ExpiresAt}
}
