package adapter

import (
	"context"

	"github.com/jun/medidash/internal/model"
)

// TokenProvider yields access tokens for the two Graph access modes.
type TokenProvider interface {
	// GetValidAccessToken returns the deployment's delegated token, refreshing it when near expiry.
	GetValidAccessToken(ctx context.Context) (model.AccessToken, error)

	// ClientCredentialsToken returns a fresh application-only token.
	ClientCredentialsToken(ctx context.Context) (model.AccessToken, error)
}
