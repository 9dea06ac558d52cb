package adapter

import (
	"errors"
)

var (
	// ErrNotFound is returned when a tenant, folder or item does not resolve.
	ErrNotFound = errors.New("resource not found")

	// ErrNotAuthenticated is returned when no delegated token exists yet, or the stored one
	// can no longer be refreshed. The authorization-code flow must be completed first.
	ErrNotAuthenticated = errors.New("not authenticated with file provider")

	// ErrProviderAuth is returned for credential or configuration problems against the provider
	// (invalid tenant/client id/secret, consent not granted, rejected token).
	ErrProviderAuth = errors.New("provider authentication failed")

	// ErrForbidden is returned when the provider denies access to the requested item.
	ErrForbidden = errors.New("provider denied access")

	// ErrUpstream is returned for any other non-2xx provider response.
	ErrUpstream = errors.New("provider request failed")
)
