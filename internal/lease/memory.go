package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker in process. Used in DEV_MODE and tests.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]*Lease
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]*Lease),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key, owner string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.leases[key]; ok {
		if !existing.Expired(now) && existing.Owner != owner {
			return nil, ErrLeaseHeld
		}
	}

	lease := &Lease{
		Key:       key,
		Owner:     owner,
		ExpiresAt: now.Add(m.ttl).Unix(),
	}
	m.leases[key] = lease
	copied := *lease
	return &copied, nil
}

func (m *MemoryLocker) Release(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.Owner != owner {
		return ErrNotOwner
	}
	delete(m.leases, key)
	return nil
}

func (m *MemoryLocker) Status(ctx context.Context, key string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.Expired(m.now()) {
		return nil, nil
	}
	copied := *existing
	return &copied, nil
}
