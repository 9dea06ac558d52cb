package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/apperr"
	"github.com/jun/medidash/internal/auth"
	"github.com/jun/medidash/internal/model"
)

// OAuthFlow is the authorization-code side of the token manager.
type OAuthFlow interface {
	NewState() string
	AuthorizationURL(state string) string
	Complete(ctx context.Context, code string) (*model.TokenRecord, error)
}

// AuthConfig holds the redirect targets and cookie policy.
type AuthConfig struct {
	JWTSecret     string
	FrontendURL   string
	SetupPath     string
	SecureCookies bool
	SessionTTL    time.Duration
}

// AuthHandler handles the Microsoft sign-in flow and dashboard sessions.
type AuthHandler struct {
	flow   OAuthFlow
	tokens adapter.TokenProvider
	cfg    AuthConfig
	logger glog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(flow OAuthFlow, tokens adapter.TokenProvider, cfg AuthConfig, logger glog.Logger) *AuthHandler {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &AuthHandler{flow: flow, tokens: tokens, cfg: cfg, logger: logger}
}

// Login starts the consent flow. Administrators only.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, resp := requireAdmin(h.logger, req, h.cfg.JWTSecret); resp != nil {
		return *resp, nil
	}

	state := h.flow.NewState()
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": h.flow.AuthorizationURL(state),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {setCookie(StateCookie, state, "/", 600, h.cfg.SecureCookies)},
		},
	}, nil
}

// Callback completes the consent flow and redirects to the setup page.
func (h *AuthHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	q := req.QueryStringParameters

	if code := q["error"]; code != "" {
		h.logger.Warn("authorization denied by provider", "error", code, "description", q["error_description"])
		return h.setupRedirect(url.Values{"error": {code}}), nil
	}

	state := cookie(req, StateCookie)
	if state == "" || state != q["state"] {
		h.logger.Warn("authorization callback with invalid state")
		return h.setupRedirect(url.Values{"error": {"invalid_state"}}), nil
	}

	code := q["code"]
	if code == "" {
		return h.setupRedirect(url.Values{"error": {"missing_code"}}), nil
	}

	if _, err := h.flow.Complete(ctx, code); err != nil {
		h.logger.Error("authorization code exchange failed", "error", err)
		reason := "token_exchange_failed"
		var xe *auth.ExchangeError
		if errors.As(err, &xe) && xe.Code != "" {
			reason = xe.Code
		}
		return h.setupRedirect(url.Values{"error": {reason}}), nil
	}

	return h.setupRedirect(url.Values{"success": {"true"}}), nil
}

func (h *AuthHandler) setupRedirect(q url.Values) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": h.cfg.FrontendURL + h.cfg.SetupPath + "?" + q.Encode(),
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {setCookie(StateCookie, "", "/", 0, h.cfg.SecureCookies)},
		},
	}
}

// Token returns the current delegated access token. Administrators only.
func (h *AuthHandler) Token(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, resp := requireAdmin(h.logger, req, h.cfg.JWTSecret); resp != nil {
		return *resp, nil
	}

	tok, err := h.tokens.GetValidAccessToken(ctx)
	if err != nil {
		return errorResponse(h.logger, "get access token", err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"access_token": tok.Value,
		"expires_at":   tok.ExpiresAt,
	}), nil
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	resp := jsonResponse(http.StatusOK, map[string]bool{"success": true})
	resp.MultiValueHeaders = map[string][]string{
		"Set-Cookie": {setCookie(SessionCookie, "", "/", 0, h.cfg.SecureCookies)},
	}
	return resp, nil
}

// Me returns the caller's session.
func (h *AuthHandler) Me(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	s, resp := authenticate(h.logger, req, h.cfg.JWTSecret)
	if resp != nil {
		return *resp, nil
	}
	return jsonResponse(http.StatusOK, s), nil
}

// DevLogin issues a session for the requested role without credentials.
// Only routed in DEV_MODE.
func (h *AuthHandler) DevLogin(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	q := req.QueryStringParameters
	s := model.Session{UserID: "dev-admin", Role: model.RoleAdmin}
	if model.Role(q["role"]) == model.RoleCliente {
		if q["empresaId"] == "" {
			return errorResponse(h.logger, "dev login", apperr.BadInput("empresaId is required for role cliente")), nil
		}
		s = model.Session{UserID: "dev-" + q["empresaId"], Role: model.RoleCliente, EmpresaID: q["empresaId"]}
	}

	signed, err := IssueSession(s, h.cfg.JWTSecret, h.cfg.SessionTTL)
	if err != nil {
		return errorResponse(h.logger, "sign session", err), nil
	}

	h.logger.Info("dev session issued", "role", s.Role, "empresa_id", s.EmpresaID)
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": h.cfg.FrontendURL + "/",
		},
		MultiValueHeaders: map[string][]string{
			"Set-Cookie": {setCookie(SessionCookie, signed, "/", int(h.cfg.SessionTTL.Seconds()), h.cfg.SecureCookies)},
		},
	}, nil
}
