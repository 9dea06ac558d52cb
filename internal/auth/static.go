package auth

import (
	"context"
	"time"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/model"
)

// StaticTokenProvider hands out fixed tokens. DEV_MODE pairs it with the
// in-memory file browser, which only checks that a token is present.
type StaticTokenProvider struct {
	Delegated string
	App       string
}

var _ adapter.TokenProvider = StaticTokenProvider{}

func (p StaticTokenProvider) GetValidAccessToken(ctx context.Context) (model.AccessToken, error) {
	if p.Delegated == "" {
		return model.AccessToken{}, adapter.ErrNotAuthenticated
	}
	return model.AccessToken{Value: p.Delegated, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p StaticTokenProvider) ClientCredentialsToken(ctx context.Context) (model.AccessToken, error) {
	return model.AccessToken{Value: p.App, ExpiresAt: time.Now().Add(time.Hour)}, nil
}
