// Package fleet maintains the per-organization view of which machines are
// alive and what they last reported.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/health"
)

const defaultTTL = 10 * time.Minute

// Registry is the authoritative mapping from (organization, machine) to the
// machine's last-known report. Writes are applied last-write-wins by arrival
// order; entries older than the TTL are purged from reads. The in-memory map
// is a cache over the durable Store and is rebuilt via Load after a restart.
//
// The mutex guards only the map; it is never held across store I/O, so a slow
// backend cannot starve reads for other organizations.
type Registry struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTTL overrides the staleness window after which entries expire.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry constructs a Registry over the durable store.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:   store,
		ttl:     defaultTTL,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load rebuilds the in-memory view from the durable store, dropping rows that
// expired while the process was down. Committed fresh state survives.
func (r *Registry) Load(ctx context.Context) error {
	rows, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("fleet: load entries: %w", err)
	}
	cutoff := r.now().UTC().Add(-r.ttl)
	fresh := make(map[string]Entry, len(rows))
	for _, e := range rows {
		if e.LastSeen.Before(cutoff) {
			_, _ = r.store.DeleteOlderThan(ctx, e.StoreKey, cutoff)
			continue
		}
		fresh[e.StoreKey] = e
	}
	r.mu.Lock()
	r.entries = fresh
	r.mu.Unlock()
	return nil
}

// Upsert records a machine report, fully replacing any prior entry for the
// same (org, machine) key. The write is durable before the call returns; on a
// persistence failure the in-memory view is left untouched.
//
// There is deliberately no ordering check against the agent-side timestamp:
// a retrying agent with a clock behind the previous report still overwrites.
func (r *Registry) Upsert(ctx context.Context, orgID, machineID string, report Report, sourceIP string) (Entry, error) {
	e := Entry{
		StoreKey:  Key(orgID, machineID),
		MachineID: machineID,
		OrgID:     orgID,
		Report:    report,
		LastSeen:  r.now().UTC(),
		SourceIP:  sourceIP,
		Status:    StatusOnline,
	}
	if err := r.store.Upsert(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("fleet: persist entry: %w", err)
	}
	r.mu.Lock()
	r.entries[e.StoreKey] = e
	r.mu.Unlock()
	return e, nil
}

// ListByOrg returns the organization's live entries, health-enriched, sorted
// by machine id. Expired entries are purged first so stale machines are never
// exposed even when the background purge has not run.
func (r *Registry) ListByOrg(ctx context.Context, orgID string) ([]Entry, error) {
	if _, err := r.PurgeExpired(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := make([]Entry, 0, 8)
	for _, e := range r.entries {
		if e.OrgID == orgID {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	for i := range out {
		h := health.Score(out[i].Report.CPUPercent, out[i].Report.RAMPercent, out[i].Report.DiskPercent)
		out[i].Health = &h
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out, nil
}

// PurgeExpired removes entries whose last report is older than the TTL and
// returns the purged store keys. Each key is re-checked under the write lock
// before removal, so a report arriving mid-purge wins over expiry. Durable
// deletes are conditional on the cutoff and therefore safe to repeat and safe
// against concurrent refreshes.
func (r *Registry) PurgeExpired(ctx context.Context) ([]string, error) {
	cutoff := r.now().UTC().Add(-r.ttl)

	r.mu.RLock()
	candidates := make([]string, 0)
	for key, e := range r.entries {
		if e.LastSeen.Before(cutoff) {
			candidates = append(candidates, key)
		}
	}
	r.mu.RUnlock()

	var purged []string
	var errs []error
	for _, key := range candidates {
		r.mu.Lock()
		e, ok := r.entries[key]
		expired := ok && e.LastSeen.Before(cutoff)
		if expired {
			delete(r.entries, key)
		}
		r.mu.Unlock()
		if !expired {
			continue
		}
		if _, err := r.store.DeleteOlderThan(ctx, key, cutoff); err != nil {
			errs = append(errs, fmt.Errorf("fleet: purge %s: %w", key, err))
		}
		purged = append(purged, key)
	}
	return purged, errors.Join(errs...)
}
