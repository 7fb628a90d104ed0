package fleet

import (
	"context"
	"sync"
	"time"
)

// Store is the durable collaborator behind the registry. Every Upsert must be
// committed before the registry acknowledges a report; the in-memory view is
// a rebuildable cache over this store.
type Store interface {
	Upsert(ctx context.Context, e Entry) error
	// DeleteOlderThan removes the row only while its last_seen is before the
	// cutoff, so a purge can never erase a concurrently refreshed entry.
	// It reports whether a row was deleted and is safe to call repeatedly.
	DeleteOlderThan(ctx context.Context, storeKey string, cutoff time.Time) (bool, error)
	List(ctx context.Context) ([]Entry, error)
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is the in-process Store used by tests and DSN-less runs. It is
// durable only for the lifetime of the process, which is what the registry's
// restart-recovery tests exercise by sharing one MemoryStore across two
// registry instances.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Upsert(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.StoreKey] = e
	return nil
}

func (m *MemoryStore) DeleteOlderThan(ctx context.Context, storeKey string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[storeKey]
	if !ok || !e.LastSeen.Before(cutoff) {
		return false, nil
	}
	delete(m.entries, storeKey)
	return true, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}
