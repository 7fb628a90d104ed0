package auth

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with in-process maps. It backs tests and
// DSN-less development runs; the Postgres store is the production path.
type MemoryStore struct {
	mu       sync.RWMutex
	orgs     map[string]Organization
	keys     map[string]APIKey
	sessions map[string]Session
}

// NewMemoryStore creates an empty credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:     make(map[string]Organization),
		keys:     make(map[string]APIKey),
		sessions: make(map[string]Session),
	}
}

func (m *MemoryStore) Organizations(ctx context.Context) OrganizationStore { return memOrgs{m} }
func (m *MemoryStore) APIKeys(ctx context.Context) APIKeyStore             { return memKeys{m} }
func (m *MemoryStore) Sessions(ctx context.Context) SessionStore           { return memSessions{m} }

type memOrgs struct{ s *MemoryStore }

func (o memOrgs) Create(ctx context.Context, org *Organization) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.orgs[org.ID]; ok {
		return ErrAlreadyExists
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	o.s.orgs[org.ID] = *org
	return nil
}

func (o memOrgs) Find(ctx context.Context, id string) (*Organization, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	org, ok := o.s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := org
	return &out, nil
}

func (o memOrgs) List(ctx context.Context) ([]*Organization, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	out := make([]*Organization, 0, len(o.s.orgs))
	for _, org := range o.s.orgs {
		cp := org
		out = append(out, &cp)
	}
	return out, nil
}

type memKeys struct{ s *MemoryStore }

func (k memKeys) Create(ctx context.Context, key *APIKey) error {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	if _, ok := k.s.keys[key.Key]; ok {
		return ErrAlreadyExists
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	k.s.keys[key.Key] = *key
	return nil
}

func (k memKeys) Find(ctx context.Context, key string) (*APIKey, error) {
	k.s.mu.RLock()
	defer k.s.mu.RUnlock()
	rec, ok := k.s.keys[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

func (k memKeys) Revoke(ctx context.Context, key string) error {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	rec, ok := k.s.keys[key]
	if !ok {
		return ErrNotFound
	}
	rec.Revoked = true
	k.s.keys[key] = rec
	return nil
}

func (k memKeys) ListByOrg(ctx context.Context, orgID string) ([]*APIKey, error) {
	k.s.mu.RLock()
	defer k.s.mu.RUnlock()
	var out []*APIKey
	for _, rec := range k.s.keys {
		if rec.OrgID == orgID {
			cp := rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memSessions struct{ s *MemoryStore }

func (s memSessions) Create(ctx context.Context, sess *Session) error {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	s.s.sessions[sess.ID] = *sess
	return nil
}

func (s memSessions) Find(ctx context.Context, id string) (*Session, error) {
	s.s.mu.RLock()
	defer s.s.mu.RUnlock()
	sess, ok := s.s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := sess
	return &out, nil
}

func (s memSessions) Delete(ctx context.Context, id string) error {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	delete(s.s.sessions, id)
	return nil
}
