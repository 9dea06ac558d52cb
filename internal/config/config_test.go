package config

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[string]string

func (m mapResolver) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return v, nil
}

var productionSecrets = mapResolver{
	"/medidash/jwt-secret":         "prod-jwt-secret",
	"/medidash/api-gateway-secret": "prod-origin-secret",
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEV_MODE", "")
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("GRAPH_REDIRECT_URL", "")

	cfg, err := Load(context.Background(), productionSecrets, nil)
	require.NoError(t, err)

	assert.False(t, cfg.DevMode)
	assert.Equal(t, "http://localhost:3000", cfg.FrontendURL)
	assert.Equal(t, "http://localhost:3000/api/auth/callback", cfg.GraphRedirectURL)
	assert.Equal(t, "/setup", cfg.SetupPath)
	assert.Equal(t, 5*time.Minute, cfg.TokenExpiryMargin)
	assert.Equal(t, 8, cfg.StatsConcurrency)
	assert.Equal(t, "prod-jwt-secret", cfg.JWTSecret)
	assert.Equal(t, "prod-origin-secret", cfg.APIGatewaySecret)
	assert.Empty(t, cfg.SyncSecret)
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("DEV_MODE", "")

	tests := map[string]mapResolver{
		"resolver down":      {},
		"no jwt secret":      {"/medidash/api-gateway-secret": "origin"},
		"no origin secret":   {"/medidash/jwt-secret": "jwt"},
		"empty origin value": {"/medidash/jwt-secret": "jwt", "/medidash/api-gateway-secret": ""},
	}
	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(context.Background(), r, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingSecret)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoad_DevModeFallsBackToDevSecret(t *testing.T) {
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load(context.Background(), mapResolver{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "default-dev-secret", cfg.JWTSecret)
	assert.Empty(t, cfg.APIGatewaySecret)
}

func TestLoad_FromEnvAndResolver(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("GRAPH_CLIENT_ID", "client-1")
	t.Setenv("GRAPH_REDIRECT_URL", "")
	t.Setenv("TOKEN_EXPIRY_MARGIN", "2m")
	t.Setenv("STATS_CONCURRENCY", "3")
	t.Setenv("SYNC_SECRET_PARAM", "/custom/sync")

	r := mapResolver{
		"/medidash/graph-client-secret": "graph-secret",
		"/medidash/jwt-secret":          "jwt-secret",
		"/custom/sync":                  "sync-secret",
	}
	cfg, err := Load(context.Background(), r, nil)
	require.NoError(t, err)

	assert.True(t, cfg.DevMode)
	assert.Equal(t, "http://localhost:8080/auth/callback", cfg.GraphRedirectURL)
	assert.Equal(t, "graph-secret", cfg.GraphClientSecret)
	assert.Equal(t, "jwt-secret", cfg.JWTSecret)
	assert.Equal(t, "sync-secret", cfg.SyncSecret)
	assert.Equal(t, 2*time.Minute, cfg.TokenExpiryMargin)
	assert.Equal(t, 3, cfg.StatsConcurrency)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"TOKEN_EXPIRY_MARGIN": "soon",
		"STATS_CONCURRENCY":   "0",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load(context.Background(), productionSecrets, nil)
			assert.Error(t, err)
		})
	}
}

func TestRedact(t *testing.T) {
	cfg := &Config{
		GraphClientSecret: "abcdefghijklmnop",
		JWTSecret:         "short",
	}
	kv := cfg.Redact()
	fields := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i].(string)] = kv[i+1]
	}

	assert.Equal(t, "abcd****", fields["graph_client_secret"])
	assert.Equal(t, "****", fields["jwt_secret"])
	assert.Equal(t, "", fields["sync_secret"])
}
