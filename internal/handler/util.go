package handler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/apperr"
	"github.com/jun/medidash/internal/model"
)

// Cookie names.
const (
	SessionCookie = "session_token"
	StateCookie   = "oauth_state"
)

// SessionClaims are the dashboard session JWT claims. The subject is the user id.
type SessionClaims struct {
	Role      model.Role `json:"role"`
	EmpresaID string     `json:"empresaId,omitempty"`
	jwt.RegisteredClaims
}

// IssueSession signs a session token for s.
func IssueSession(s model.Session, jwtSecret string, ttl time.Duration) (string, error) {
	claims := SessionClaims{
		Role:      s.Role,
		EmpresaID: s.EmpresaID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

// GetSession extracts the session from the Authorization header or session cookie.
func GetSession(req events.APIGatewayProxyRequest, jwtSecret string) (*model.Session, error) {
	tokenString := ""
	if authHeader := header(req, "Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}
	if tokenString == "" {
		tokenString = cookie(req, SessionCookie)
	}
	if tokenString == "" {
		return nil, fmt.Errorf("no authorization token found")
	}

	var claims SessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	s := &model.Session{UserID: claims.Subject, Role: claims.Role, EmpresaID: claims.EmpresaID}
	switch {
	case s.UserID == "":
		return nil, fmt.Errorf("invalid token claims: missing subject")
	case s.Role == model.RoleAdmin:
	case s.Role == model.RoleCliente && s.EmpresaID != "":
	default:
		return nil, fmt.Errorf("invalid token claims: role %q", s.Role)
	}
	return s, nil
}

// header is a case-insensitive header lookup.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// cookie reads one cookie from the Cookie header.
func cookie(req events.APIGatewayProxyRequest, name string) string {
	for _, part := range strings.Split(header(req, "Cookie"), ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, name+"="); ok {
			return v
		}
	}
	return ""
}

// requestBody returns the raw body, decoding it when API Gateway delivered it base64 encoded.
func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"success":false}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// errorResponse logs err and renders it as the JSON error envelope.
func errorResponse(logger glog.Logger, op string, err error) events.APIGatewayProxyResponse {
	rich := apperr.Translate(err)
	if rich.Code >= http.StatusInternalServerError {
		logger.Error(op+" failed", "error", err, "text_code", rich.TextCode)
	} else {
		logger.Debug(op+" rejected", "error", err, "text_code", rich.TextCode)
	}
	return jsonResponse(rich.Code, apperr.Envelope(rich, apperr.Hint(err)))
}

// authenticate resolves the session or returns the 401 response to send.
func authenticate(logger glog.Logger, req events.APIGatewayProxyRequest, jwtSecret string) (*model.Session, *events.APIGatewayProxyResponse) {
	s, err := GetSession(req, jwtSecret)
	if err != nil {
		resp := errorResponse(logger, "authenticate", apperr.Unauthenticated("Unauthorized"))
		return nil, &resp
	}
	return s, nil
}

// requireAdmin resolves an admin session or returns the 401/403 response to send.
func requireAdmin(logger glog.Logger, req events.APIGatewayProxyRequest, jwtSecret string) (*model.Session, *events.APIGatewayProxyResponse) {
	s, resp := authenticate(logger, req, jwtSecret)
	if resp != nil {
		return nil, resp
	}
	if !s.IsAdmin() {
		r := errorResponse(logger, "authorize", apperr.Forbidden("administrator role required"))
		return nil, &r
	}
	return s, nil
}

// setCookie formats a Set-Cookie value. maxAge 0 deletes the cookie.
func setCookie(name, value, path string, maxAge int, secure bool) string {
	c := fmt.Sprintf("%s=%s; HttpOnly; Path=%s; Max-Age=%d", name, value, path, maxAge)
	if secure {
		return c + "; SameSite=None; Secure"
	}
	return c + "; SameSite=Lax"
}
