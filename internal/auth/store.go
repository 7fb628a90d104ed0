package auth

import "context"

// Store describes persistence operations required by the credential resolver.
type Store interface {
	Organizations(ctx context.Context) OrganizationStore
	APIKeys(ctx context.Context) APIKeyStore
	Sessions(ctx context.Context) SessionStore
}

// OrganizationStore manages tenants.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	List(ctx context.Context) ([]*Organization, error)
}

// APIKeyStore manages long-lived credentials. Revoke is a soft flag, never a
// delete.
type APIKeyStore interface {
	Create(ctx context.Context, key *APIKey) error
	Find(ctx context.Context, key string) (*APIKey, error)
	Revoke(ctx context.Context, key string) error
	ListByOrg(ctx context.Context, orgID string) ([]*APIKey, error)
}

// SessionStore manages short-lived credentials. Delete is idempotent.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}
