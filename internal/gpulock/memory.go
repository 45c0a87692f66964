package gpulock

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps the lease in process memory. Locks sharing one
// MemoryBackend exclude each other; separate processes do not.
type MemoryBackend struct {
	mu     sync.Mutex
	holder *Holder
	now    func() time.Time
}

// NewMemoryBackend returns an empty in-process lease store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{now: time.Now}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Expiring() bool { return true }

func (m *MemoryBackend) TryAcquire(_ context.Context, holder Holder, ttl time.Duration) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != nil && !m.holder.Expired(now) && m.holder.Owner != holder.Owner {
		return false, nil
	}
	holder.ExpiresAt = now.Add(ttl)
	m.holder = &holder
	return true, nil
}

func (m *MemoryBackend) Renew(_ context.Context, owner string, ttl time.Duration) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == nil || m.holder.Owner != owner || m.holder.Expired(now) {
		return false, nil
	}
	m.holder.ExpiresAt = now.Add(ttl)
	return true, nil
}

func (m *MemoryBackend) Release(_ context.Context, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == nil || m.holder.Owner != owner {
		return false, nil
	}
	m.holder = nil
	return true, nil
}

func (m *MemoryBackend) Current(_ context.Context) (Holder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == nil || m.holder.Expired(m.now()) {
		return Holder{}, false, nil
	}
	return *m.holder, true, nil
}
