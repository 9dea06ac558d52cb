// Package apperr translates errors from the lower layers into categorized
// go-errors values with an HTTP status and a stable text code.
package apperr

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/adapter/graph"
	"github.com/jun/medidash/internal/auth"
	"github.com/jun/medidash/internal/ingest"
)

// Text codes.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeAuthRequired     = "AUTHENTICATION_REQUIRED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeProviderForbid   = "PROVIDER_FORBIDDEN"
	CodeProviderAuth     = "PROVIDER_AUTH_ERROR"
	CodeUpstreamProvider = "UPSTREAM_PROVIDER_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

// LoginPath is where an administrator starts the Microsoft sign-in.
const LoginPath = "/auth/login"

func newError(message string, category goerrors.Category, code int, textCode string) *goerrors.Error {
	return goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
}

// BadInput is a malformed request.
func BadInput(message string) *goerrors.Error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, CodeValidation)
}

// Unauthenticated is a missing or invalid dashboard session.
func Unauthenticated(message string) *goerrors.Error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, CodeAuthRequired)
}

// Forbidden is a role violation.
func Forbidden(message string) *goerrors.Error {
	return newError(message, goerrors.CategoryAuthz, http.StatusForbidden, CodeForbidden)
}

// NotFound is an unknown route or record.
func NotFound(message string) *goerrors.Error {
	return newError(message, goerrors.CategoryNotFound, http.StatusNotFound, CodeNotFound)
}

// Translate maps err onto a go-errors value. Rich errors pass through.
func Translate(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}

	var verr *ingest.ValidationError
	if errors.As(err, &verr) {
		meta := map[string]any{}
		if len(verr.Missing) > 0 {
			meta["missing"] = verr.Missing
		}
		if len(verr.Invalid) > 0 {
			meta["invalid"] = verr.Invalid
		}
		return newError(verr.Error(), goerrors.CategoryValidation, http.StatusBadRequest, CodeValidation).
			WithMetadata(meta)
	}

	var out *goerrors.Error
	switch {
	case errors.Is(err, adapter.ErrNotAuthenticated):
		out = newError("Microsoft account is not connected. An administrator must sign in first.",
			goerrors.CategoryAuth, http.StatusUnauthorized, CodeAuthRequired)
	case errors.Is(err, adapter.ErrNotFound):
		out = newError(err.Error(), goerrors.CategoryNotFound, http.StatusNotFound, CodeNotFound)
	case errors.Is(err, adapter.ErrForbidden):
		out = newError(err.Error(), goerrors.CategoryExternal, http.StatusForbidden, CodeProviderForbid)
	case errors.Is(err, adapter.ErrProviderAuth):
		out = newError(err.Error(), goerrors.CategoryExternal, http.StatusInternalServerError, CodeProviderAuth)
	case errors.Is(err, adapter.ErrUpstream):
		out = newError(err.Error(), goerrors.CategoryExternal, http.StatusInternalServerError, CodeUpstreamProvider)
	default:
		return newError("internal server error", goerrors.CategoryInternal, http.StatusInternalServerError, CodeInternal)
	}

	if meta := providerMetadata(err); len(meta) > 0 {
		out.WithMetadata(meta)
	}
	return out
}

func providerMetadata(err error) map[string]any {
	var xe *auth.ExchangeError
	if errors.As(err, &xe) {
		return map[string]any{
			"operation":            xe.Op,
			"provider_status":      xe.Status,
			"provider_code":        xe.Code,
			"provider_description": xe.Description,
		}
	}
	var pe *graph.ProviderError
	if errors.As(err, &pe) {
		return map[string]any{
			"provider_status":  pe.Status,
			"provider_code":    pe.Code,
			"provider_message": pe.Message,
		}
	}
	return nil
}

// Hint suggests a next step for the caller, or "".
func Hint(err error) string {
	switch {
	case errors.Is(err, adapter.ErrNotAuthenticated):
		return LoginPath
	case errors.Is(err, adapter.ErrProviderAuth):
		return "verify GRAPH_TENANT_ID, GRAPH_CLIENT_ID and the client secret, and that admin consent was granted"
	case errors.Is(err, adapter.ErrForbidden):
		return "the service account has no access to this item"
	}
	return ""
}

// Body is the JSON envelope of every error response. The error object is
// go-errors' own response shape.
type Body struct {
	Success bool `json:"success"`
	goerrors.ErrorResponse
	Hint string `json:"hint,omitempty"`
}

// Envelope renders rich as a response body. rich is not modified. The wrapped
// cause and the captured source location stay out of the response.
func Envelope(rich *goerrors.Error, hint string) Body {
	out := rich.Clone()
	out.Source = nil
	out.Location = nil
	return Body{
		ErrorResponse: out.ToErrorResponse(false, nil),
		Hint:          hint,
	}
}
