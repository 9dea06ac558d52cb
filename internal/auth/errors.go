package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/jun/medidash/internal/adapter"
)

// ExchangeError is a failed call to the token endpoint. Code and Description
// are the provider's error and error_description verbatim.
type ExchangeError struct {
	Op          string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token %s failed (%d): %s: %s", e.Op, e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("token %s failed (%d): %s", e.Op, e.Status, e.Description)
}

// Unwrap exposes the taxonomy sentinel alongside the cause.
func (e *ExchangeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.kind()}
	}
	return []error{e.kind(), e.Err}
}

func (e *ExchangeError) kind() error {
	code := strings.ToLower(e.Code)
	switch {
	case code == "invalid_grant" && e.Op == "refresh":
		return adapter.ErrNotAuthenticated
	case providerAuthCodes[code], strings.Contains(e.Description, "AADSTS"):
		return adapter.ErrProviderAuth
	default:
		return adapter.ErrUpstream
	}
}

var providerAuthCodes = map[string]bool{
	"invalid_client":       true,
	"unauthorized_client":  true,
	"consent_required":     true,
	"interaction_required": true,
	"invalid_scope":        true,
	"invalid_request":      true,
}

const maxBodyInError = 512

func newExchangeError(op string, err error) *ExchangeError {
	e := &ExchangeError{Op: op, Err: err}

	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		e.Description = err.Error()
		return e
	}
	if re.Response != nil {
		e.Status = re.Response.StatusCode
	}
	e.Code = re.ErrorCode
	e.Description = re.ErrorDescription
	if e.Code == "" && e.Description == "" {
		body := string(re.Body)
		if len(body) > maxBodyInError {
			body = body[:maxBodyInError]
		}
		e.Description = body
	}
	return e
}
