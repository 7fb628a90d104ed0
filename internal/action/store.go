package action

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the durable table behind the queue. Every mutation must commit
// before the queue acknowledges the call.
type Store interface {
	Insert(ctx context.Context, a Action) error
	Find(ctx context.Context, id string) (Action, error)
	// ListPending returns the machine's non-terminal actions oldest-first.
	// The advisory executing state never hides an action from delivery.
	ListPending(ctx context.Context, orgID, machineID string) ([]Action, error)
	// MarkExecuting flips pending -> executing. Any other current status
	// leaves the row unchanged; the transition is purely informational.
	MarkExecuting(ctx context.Context, id string, at time.Time) error
	// CompleteIfPending atomically applies the first terminal write: it moves
	// a non-terminal action to the given status and reports applied=true, or
	// leaves an already-terminal action untouched and reports applied=false.
	// The returned action is the row's state after the call.
	CompleteIfPending(ctx context.Context, id string, status Status, result string, at time.Time) (Action, bool, error)
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the queue in process memory for tests and DSN-less runs.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string]Action
}

// NewMemoryStore creates an empty queue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]Action)}
}

func (m *MemoryStore) Insert(ctx context.Context, a Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[a.ID] = a
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, id string) (Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return Action{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) ListPending(ctx context.Context, orgID, machineID string) ([]Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Action
	for _, a := range m.actions {
		if a.OrgID == orgID && a.MachineID == machineID && !a.Status.Terminal() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) MarkExecuting(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != StatusPending {
		return nil
	}
	a.Status = StatusExecuting
	m.actions[id] = a
	return nil
}

func (m *MemoryStore) CompleteIfPending(ctx context.Context, id string, status Status, result string, at time.Time) (Action, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return Action{}, false, ErrNotFound
	}
	if a.Status.Terminal() {
		return a, false, nil
	}
	a.Status = status
	a.Result = result
	ts := at
	a.ExecutedAt = &ts
	m.actions[id] = a
	return a, true, nil
}
