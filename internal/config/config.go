// Package config reads the deployment configuration from the environment and
// resolves its secrets.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/secret"
)

// Config is the resolved deployment configuration.
type Config struct {
	DevMode bool

	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphRedirectURL  string
	GraphServiceUser  string
	GraphBaseURL      string
	GraphAuthorityURL string

	TokensTable    string
	DocumentsTable string
	LeasesTable    string
	KMSKeyID       string
	// DynamoEndpoint points DEV_MODE at a local DynamoDB (LocalStack) instead of memory.
	DynamoEndpoint string

	JWTSecret        string
	SyncSecret       string
	APIGatewaySecret string

	FrontendURL string
	SetupPath   string

	TokenExpiryMargin time.Duration
	StatsConcurrency  int
}

const (
	defaultJWTSecret        = "default-dev-secret"
	defaultStatsConcurrency = 8
)

// Load builds the Config. Outside DEV_MODE the JWT and API Gateway secrets are
// required; in DEV_MODE the JWT secret falls back to a development value. Other
// missing secrets are logged and left empty. Malformed numbers and durations
// are errors.
func Load(ctx context.Context, r secret.Resolver, logger glog.Logger) (*Config, error) {
	if logger == nil {
		logger = glog.Nop()
	}

	cfg := &Config{
		DevMode:           os.Getenv("DEV_MODE") == "true",
		GraphTenantID:     getenv("GRAPH_TENANT_ID", "common"),
		GraphClientID:     os.Getenv("GRAPH_CLIENT_ID"),
		GraphServiceUser:  os.Getenv("GRAPH_SERVICE_USER"),
		GraphBaseURL:      os.Getenv("GRAPH_BASE_URL"),
		GraphAuthorityURL: os.Getenv("GRAPH_AUTHORITY_URL"),
		TokensTable:       getenv("TOKENS_TABLE", "MedidashTokens"),
		DocumentsTable:    getenv("DOCUMENTS_TABLE", "MedidashDocuments"),
		LeasesTable:       getenv("LEASES_TABLE", "MedidashLeases"),
		KMSKeyID:          getenv("KMS_KEY_ID", "alias/medidash-token-key"),
		DynamoEndpoint:    os.Getenv("DYNAMODB_ENDPOINT"),
		FrontendURL:       getenv("FRONTEND_URL", "http://localhost:3000"),
		SetupPath:         getenv("SETUP_PATH", "/setup"),
		TokenExpiryMargin: 5 * time.Minute,
		StatsConcurrency:  defaultStatsConcurrency,
	}

	cfg.GraphRedirectURL = os.Getenv("GRAPH_REDIRECT_URL")
	if cfg.GraphRedirectURL == "" {
		if cfg.DevMode {
			cfg.GraphRedirectURL = "http://localhost:8080/auth/callback"
		} else {
			cfg.GraphRedirectURL = cfg.FrontendURL + "/api/auth/callback"
		}
	}

	if v := os.Getenv("TOKEN_EXPIRY_MARGIN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid TOKEN_EXPIRY_MARGIN %q", v)
		}
		cfg.TokenExpiryMargin = d
	}
	if v := os.Getenv("STATS_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid STATS_CONCURRENCY %q", v)
		}
		cfg.StatsConcurrency = n
	}

	var err error
	cfg.GraphClientSecret, err = r.GetSecret(ctx, getenv("GRAPH_CLIENT_SECRET_PARAM", "/medidash/graph-client-secret"))
	if err != nil {
		logger.Warn("graph client secret not resolved", "error", err)
	}

	cfg.JWTSecret, err = r.GetSecret(ctx, getenv("JWT_SECRET_PARAM", "/medidash/jwt-secret"))
	switch {
	case err == nil && cfg.JWTSecret != "":
	case cfg.DevMode:
		logger.Warn("jwt secret not resolved, using development secret", "error", err)
		cfg.JWTSecret = defaultJWTSecret
	default:
		return nil, fmt.Errorf("resolve jwt secret: %w", secretErr(err))
	}

	cfg.SyncSecret = secret.Optional(ctx, r, getenv("SYNC_SECRET_PARAM", "/medidash/sync-secret"), "")
	if cfg.SyncSecret == "" {
		logger.Warn("sync secret not configured, POST /sync accepts unauthenticated requests")
	}

	cfg.APIGatewaySecret, err = r.GetSecret(ctx, getenv("API_GATEWAY_SECRET_PARAM", "/medidash/api-gateway-secret"))
	if (err != nil || cfg.APIGatewaySecret == "") && !cfg.DevMode {
		return nil, fmt.Errorf("resolve api gateway secret: %w", secretErr(err))
	}

	if cfg.GraphClientID == "" && !cfg.DevMode {
		logger.Warn("GRAPH_CLIENT_ID is not set, Microsoft sign-in will fail")
	}

	return cfg, nil
}

// ErrMissingSecret is returned outside DEV_MODE when a required secret is absent.
var ErrMissingSecret = errors.New("required secret is not configured")

func secretErr(err error) error {
	if err == nil {
		return ErrMissingSecret
	}
	return errors.Join(ErrMissingSecret, err)
}

// Redact returns the configuration as loggable key/value pairs with secrets masked.
func (c *Config) Redact() []any {
	return []any{
		"dev_mode", c.DevMode,
		"graph_tenant_id", c.GraphTenantID,
		"graph_client_id", c.GraphClientID,
		"graph_client_secret", mask(c.GraphClientSecret),
		"graph_redirect_url", c.GraphRedirectURL,
		"graph_service_user", c.GraphServiceUser,
		"tokens_table", c.TokensTable,
		"documents_table", c.DocumentsTable,
		"leases_table", c.LeasesTable,
		"kms_key_id", c.KMSKeyID,
		"dynamodb_endpoint", c.DynamoEndpoint,
		"jwt_secret", mask(c.JWTSecret),
		"sync_secret", mask(c.SyncSecret),
		"api_gateway_secret", mask(c.APIGatewaySecret),
		"frontend_url", c.FrontendURL,
		"token_expiry_margin", c.TokenExpiryMargin.String(),
		"stats_concurrency", c.StatsConcurrency,
	}
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "****"
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
