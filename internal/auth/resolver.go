package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/ids"
)

const defaultSessionTTL = 8 * time.Hour

// Resolver maps bearer credentials to organizations and manages session
// lifecycle. Expired sessions are deleted lazily on first access past their
// deadline; no background sweep is required.
type Resolver struct {
	store      Store
	sessionTTL time.Duration
	now        func() time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.sessionTTL = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the given credential store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:      store,
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAPIKey maps an API key to its organization. Unknown and revoked keys
// both fail with ErrUnauthorized.
func (r *Resolver) ResolveAPIKey(ctx context.Context, token string) (Organization, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Organization{}, ErrUnauthorized
	}
	key, err := r.store.APIKeys(ctx).Find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Organization{}, ErrUnauthorized
		}
		return Organization{}, err
	}
	if key.Revoked {
		return Organization{}, ErrUnauthorized
	}
	org, err := r.store.Organizations(ctx).Find(ctx, key.OrgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Organization{}, ErrUnauthorized
		}
		return Organization{}, err
	}
	return *org, nil
}

// CreateSession validates the API key and mints a fresh session credential.
func (r *Resolver) CreateSession(ctx context.Context, apiKey string) (Session, error) {
	org, err := r.ResolveAPIKey(ctx, apiKey)
	if err != nil {
		return Session{}, err
	}
	now := r.now().UTC()
	sess := Session{
		ID:        ids.Token("ses"),
		OrgID:     org.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(r.sessionTTL),
	}
	if err := r.store.Sessions(ctx).Create(ctx, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ResolveSession maps a session id to its organization. A session past its
// deadline is deleted on access and reported as ErrUnauthorized.
func (r *Resolver) ResolveSession(ctx context.Context, id string) (Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Organization{}, ErrUnauthorized
	}
	sessions := r.store.Sessions(ctx)
	sess, err := sessions.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Organization{}, ErrUnauthorized
		}
		return Organization{}, err
	}
	if r.now().After(sess.ExpiresAt) {
		_ = sessions.Delete(ctx, id)
		return Organization{}, ErrUnauthorized
	}
	org, err := r.store.Organizations(ctx).Find(ctx, sess.OrgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Organization{}, ErrUnauthorized
		}
		return Organization{}, err
	}
	return *org, nil
}

// RevokeSession deletes the session. Deleting an unknown session is not an
// error.
func (r *Resolver) RevokeSession(ctx context.Context, id string) error {
	return r.store.Sessions(ctx).Delete(ctx, id)
}

// Bootstrap ensures the given organization and API key exist, creating them
// with the admin role when missing. Used at startup for first-run setups.
func (r *Resolver) Bootstrap(ctx context.Context, orgID, orgName, apiKey string) error {
	orgs := r.store.Organizations(ctx)
	if _, err := orgs.Find(ctx, orgID); errors.Is(err, ErrNotFound) {
		org := Organization{ID: orgID, Name: orgName, Role: RoleAdmin, CreatedAt: r.now().UTC()}
		if err := orgs.Create(ctx, &org); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	} else if err != nil {
		return err
	}

	keys := r.store.APIKeys(ctx)
	if _, err := keys.Find(ctx, apiKey); errors.Is(err, ErrNotFound) {
		key := APIKey{Key: apiKey, OrgID: orgID, CreatedAt: r.now().UTC()}
		if err := keys.Create(ctx, &key); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	} else if err != nil {
		return err
	}
	return nil
}
