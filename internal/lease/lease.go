// Package lease provides short-lived, TTL-bounded exclusive leases shared by all
// instances of the deployment. The token manager holds one while refreshing so
// that only one instance talks to the identity provider at a time.
package lease

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long a crashed holder can block others.
const DefaultTTL = 30 * time.Second

var (
	ErrLeaseHeld = errors.New("lease held by another owner")
	ErrNotOwner  = errors.New("lease not found or not owned")
)

// Lease is one held lease.
type Lease struct {
	Key       string `dynamodbav:"lease_key"`
	Owner     string `dynamodbav:"owner"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// Expired reports whether the lease is past its TTL at now.
func (l Lease) Expired(now time.Time) bool {
	return l.ExpiresAt < now.Unix()
}

// Locker manages leases.
type Locker interface {
	// Acquire takes the lease for owner. It succeeds when the lease is free, expired
	// or already held by owner, and returns ErrLeaseHeld otherwise.
	Acquire(ctx context.Context, key, owner string) (*Lease, error)

	// Release drops the lease if owner holds it.
	Release(ctx context.Context, key, owner string) error

	// Status returns the live lease for key, or nil when free.
	Status(ctx context.Context, key string) (*Lease, error)
}
