package graph

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jun/medidash/internal/adapter"
)

// ProviderError is a non-2xx Graph response. Code and Message are taken verbatim
// from the Graph error body.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graph: status %d", e.Status)
	}
	return fmt.Sprintf("graph: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap exposes the adapter sentinel matching the status code.
func (e *ProviderError) Unwrap() error {
	return classify(e.Status)
}

func classify(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return adapter.ErrProviderAuth
	case http.StatusForbidden:
		return adapter.ErrForbidden
	case http.StatusNotFound:
		return adapter.ErrNotFound
	default:
		return adapter.ErrUpstream
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newProviderError(status int, body []byte) *ProviderError {
	perr := &ProviderError{Status: status}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		perr.Code = parsed.Error.Code
		perr.Message = parsed.Error.Message
	}
	if perr.Code == "" && perr.Message == "" && len(body) > 0 {
		perr.Message = truncate(string(body), 512)
	}
	return perr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
