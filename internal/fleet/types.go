package fleet

import (
	"errors"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/health"
)

// StatusOnline is the only status an entry carries while present in the
// registry; expiry removes the entry instead of flipping the flag.
const StatusOnline = "ONLINE"

// Entry is the last-known state of one machine within one organization.
// StoreKey ("org_id:machine_id") is the uniqueness invariant.
type Entry struct {
	StoreKey  string         `json:"store_key"`
	MachineID string         `json:"machine_id"`
	OrgID     string         `json:"org_id"`
	Report    Report         `json:"report"`
	LastSeen  time.Time      `json:"last_seen"`
	SourceIP  string         `json:"source_ip"`
	Status    string         `json:"status"`
	Health    *health.Result `json:"health,omitempty"`
}

// Key builds the registry storage key for an (organization, machine) pair.
func Key(orgID, machineID string) string { return orgID + ":" + machineID }

var ErrNotFound = errors.New("fleet: not found")
