package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}
}

func TestUpsertReplacesPriorEntry(t *testing.T) {
	reg := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	if _, err := reg.Upsert(ctx, "org-a", "pc-1", Report{CPUPercent: 10}, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Upsert(ctx, "org-a", "pc-1", Report{CPUPercent: 95}, "10.0.0.2"); err != nil {
		t.Fatal(err)
	}

	entries, err := reg.ListByOrg(ctx, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Report.CPUPercent != 95 || entries[0].SourceIP != "10.0.0.2" {
		t.Fatalf("last write did not win: %+v", entries[0])
	}
	if entries[0].Status != StatusOnline {
		t.Fatalf("expected status %s, got %s", StatusOnline, entries[0].Status)
	}
}

func TestTenantIsolation(t *testing.T) {
	reg := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	// Two tenants report the same machine id string.
	if _, err := reg.Upsert(ctx, "org-a", "pc-1", Report{CPUPercent: 11}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Upsert(ctx, "org-b", "pc-1", Report{CPUPercent: 99}, ""); err != nil {
		t.Fatal(err)
	}

	entries, err := reg.ListByOrg(ctx, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry for org-a, got %d", len(entries))
	}
	if entries[0].OrgID != "org-a" || entries[0].Report.CPUPercent != 11 {
		t.Fatalf("org-a view leaked foreign data: %+v", entries[0])
	}
}

func TestTTLExpiryPurgedExactlyOnce(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reg := NewRegistry(NewMemoryStore(), WithTTL(10*time.Minute), WithClock(clock))
	ctx := context.Background()

	if _, err := reg.Upsert(ctx, "org-a", "pc-1", Report{}, ""); err != nil {
		t.Fatal(err)
	}

	advance(10*time.Minute + time.Second)

	purged, err := reg.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(purged) != 1 || purged[0] != Key("org-a", "pc-1") {
		t.Fatalf("unexpected purge set: %v", purged)
	}

	entries, err := reg.ListByOrg(ctx, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected expired entry absent, got %d entries", len(entries))
	}

	again, err := reg.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("entry purged twice: %v", again)
	}
}

func TestRefreshWinsOverExpiry(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reg := NewRegistry(NewMemoryStore(), WithTTL(10*time.Minute), WithClock(clock))
	ctx := context.Background()

	if _, err := reg.Upsert(ctx, "org-a", "pc-1", Report{}, ""); err != nil {
		t.Fatal(err)
	}
	advance(10*time.Minute + time.Second)
	// The machine reports again just as the purge would run.
	if _, err := reg.Upsert(ctx, "org-a", "pc-1", Report{}, ""); err != nil {
		t.Fatal(err)
	}

	purged, err := reg.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(purged) != 0 {
		t.Fatalf("refreshed entry was purged: %v", purged)
	}
	entries, err := reg.ListByOrg(ctx, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected refreshed entry present, got %d", len(entries))
	}
}

func TestConcurrentUpsertsDistinctMachines(t *testing.T) {
	reg := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			machine := fmt.Sprintf("pc-%03d", i)
			if _, err := reg.Upsert(ctx, "org-a", machine, Report{CPUPercent: float64(i)}, ""); err != nil {
				t.Errorf("upsert %s: %v", machine, err)
			}
		}(i)
	}
	wg.Wait()

	entries, err := reg.ListByOrg(ctx, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Fatalf("lost updates: expected %d entries, got %d", n, len(entries))
	}
}

func TestRestartRecovery(t *testing.T) {
	clock, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	ctx := context.Background()

	reg := NewRegistry(store, WithTTL(10*time.Minute), WithClock(clock))
	if _, err := reg.Upsert(ctx, "org-a", "pc-live", Report{CPUPercent: 20}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Upsert(ctx, "org-a", "pc-stale", Report{}, ""); err != nil {
		t.Fatal(err)
	}
	advance(5 * time.Minute)
	// Refresh one machine, let the other age out across the "restart".
	if _, err := reg.Upsert(ctx, "org-a", "pc-live", Report{CPUPercent: 30}, ""); err != nil {
		t.Fatal(err)
	}
	advance(6 * time.Minute)

	restarted := NewRegistry(store, WithTTL(10*time.Minute), WithClock(clock))
	if err := restarted.Load(ctx); err != nil {
		t.Fatal(err)
	}
	entries, err := restarted.ListByOrg(ctx, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 recovered entry, got %d", len(entries))
	}
	if entries[0].MachineID != "pc-live" || entries[0].Report.CPUPercent != 30 {
		t.Fatalf("recovered wrong state: %+v", entries[0])
	}
}

func TestListEnrichesHealth(t *testing.T) {
	reg := NewRegistry(NewMemoryStore())
	ctx := context.Background()

	if _, err := reg.Upsert(ctx, "org-a", "pc-1", Report{CPUPercent: 45.2, RAMPercent: 62.1, DiskPercent: 78.5}, ""); err != nil {
		t.Fatal(err)
	}
	entries, err := reg.ListByOrg(ctx, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Health == nil {
		t.Fatal("expected health enrichment")
	}
	if entries[0].Health.Score != 90 || entries[0].Health.Status != "ok" {
		t.Fatalf("unexpected health: %+v", entries[0].Health)
	}
}

type failingStore struct {
	*MemoryStore
	failUpsert bool
}

func (f *failingStore) Upsert(ctx context.Context, e Entry) error {
	if f.failUpsert {
		return errors.New("backend down")
	}
	return f.MemoryStore.Upsert(ctx, e)
}

func TestUpsertFailureLeavesViewUntouched(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	reg := NewRegistry(store)
	ctx := context.Background()

	if _, err := reg.Upsert(ctx, "org-a", "pc-1", Report{CPUPercent: 10}, ""); err != nil {
		t.Fatal(err)
	}

	store.failUpsert = true
	if _, err := reg.Upsert(ctx, "org-a", "pc-1", Report{CPUPercent: 99}, ""); err == nil {
		t.Fatal("expected persistence failure to surface")
	}

	entries, err := reg.ListByOrg(ctx, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Report.CPUPercent != 10 {
		t.Fatalf("failed write leaked into view: %+v", entries[0])
	}
}
