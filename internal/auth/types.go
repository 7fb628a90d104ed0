package auth

import "time"

// Role gates which API operations an organization's credentials may perform.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleUser     Role = "user"
	RoleReadonly Role = "readonly"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleReadonly:
		return true
	}
	return false
}

// CanWrite reports whether credentials of this role may mutate state
// (report metrics, poll and resolve actions).
func (r Role) CanWrite() bool { return r == RoleAdmin || r == RoleUser }

// Organization is a tenant. Fleets and actions of different organizations are
// fully isolated from each other.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey is a long-lived bearer credential bound to one organization.
// Revocation is a soft flag: revoked keys fail authorization but the row
// remains for audit queries.
type APIKey struct {
	Key       string    `json:"key"`
	OrgID     string    `json:"org_id"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
}

// Session is a short-lived bearer credential minted from a valid API key.
type Session struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
