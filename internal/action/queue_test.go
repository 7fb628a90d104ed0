package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEnqueueRejectsUnknownType(t *testing.T) {
	q := NewQueue(NewMemoryStore())
	if _, err := q.Enqueue(context.Background(), "org-a", "pc-1", "format_disk", nil, "admin"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestRapidEnqueuesGetDistinctIDs(t *testing.T) {
	// A frozen clock forces every id to share the same wall-clock instant.
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueue(NewMemoryStore(), WithClock(func() time.Time { return frozen }))
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		a, err := q.Enqueue(ctx, "org-a", "pc-1", "message", json.RawMessage(`{"message":"hi"}`), "admin")
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[a.ID]; dup {
			t.Fatalf("duplicate action id %s", a.ID)
		}
		seen[a.ID] = struct{}{}
	}

	pending, err := q.PollPending(ctx, "org-a", "pc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 100 {
		t.Fatalf("expected 100 pending actions, got %d", len(pending))
	}
}

func TestPollIsNonDestructivePeek(t *testing.T) {
	q := NewQueue(NewMemoryStore())
	ctx := context.Background()

	a, err := q.Enqueue(ctx, "org-a", "pc-1", "restart", nil, "admin")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		pending, err := q.PollPending(ctx, "org-a", "pc-1")
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 1 || pending[0].ID != a.ID {
			t.Fatalf("poll %d: expected the action to remain visible, got %v", i, pending)
		}
	}
}

func TestReportResultIdempotent(t *testing.T) {
	clock, advance := queueClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	q := NewQueue(NewMemoryStore(), WithClock(clock))
	ctx := context.Background()

	a, err := q.Enqueue(ctx, "org-a", "pc-1", "message", nil, "admin")
	if err != nil {
		t.Fatal(err)
	}

	first, err := q.ReportResult(ctx, "org-a", a.ID, StatusDone, "shown")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Applied || first.Conflict {
		t.Fatalf("expected first terminal write applied, got %+v", first)
	}
	firstExecuted := *first.Action.ExecutedAt

	advance(time.Minute)
	second, err := q.ReportResult(ctx, "org-a", a.ID, StatusDone, "shown")
	if err != nil {
		t.Fatal(err)
	}
	if second.Applied {
		t.Fatal("second identical report must not re-apply")
	}
	if second.Conflict {
		t.Fatal("identical repeat is not a conflict")
	}
	if !second.Action.ExecutedAt.Equal(firstExecuted) {
		t.Fatalf("executed_at overwritten: %v != %v", second.Action.ExecutedAt, firstExecuted)
	}

	pending, err := q.PollPending(ctx, "org-a", "pc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("terminal action still pending: %v", pending)
	}
}

func TestConflictingTerminalReportIgnored(t *testing.T) {
	q := NewQueue(NewMemoryStore())
	ctx := context.Background()

	a, err := q.Enqueue(ctx, "org-a", "pc-1", "reboot", nil, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.ReportResult(ctx, "org-a", a.ID, StatusDone, "rebooted"); err != nil {
		t.Fatal(err)
	}

	res, err := q.ReportResult(ctx, "org-a", a.ID, StatusError, "it broke")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Conflict {
		t.Fatal("expected conflict flag on differing terminal status")
	}
	if res.Action.Status != StatusDone || res.Action.Result != "rebooted" {
		t.Fatalf("first terminal write did not win: %+v", res.Action)
	}
}

func TestExecutingIsAdvisory(t *testing.T) {
	q := NewQueue(NewMemoryStore())
	ctx := context.Background()

	a, err := q.Enqueue(ctx, "org-a", "pc-1", "cleanup_temp", nil, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if err := q.MarkExecuting(ctx, "org-a", a.ID); err != nil {
		t.Fatal(err)
	}

	// Executing does not hide the action from polls: an agent that dies
	// mid-run still gets the action redelivered next cycle.
	pending, err := q.PollPending(ctx, "org-a", "pc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Status != StatusExecuting {
		t.Fatalf("executing action missing from poll: %v", pending)
	}

	// Executing does not gate the terminal report.
	res, err := q.ReportResult(ctx, "org-a", a.ID, StatusDone, "deleted 3 files")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied {
		t.Fatalf("terminal write blocked by executing state: %+v", res)
	}

	// Marking a terminal action executing is a no-op.
	if err := q.MarkExecuting(ctx, "org-a", a.ID); err != nil {
		t.Fatal(err)
	}
	got, err := q.find(ctx, "org-a", a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusDone {
		t.Fatalf("terminal state regressed to %s", got.Status)
	}
}

func TestTenantScoping(t *testing.T) {
	q := NewQueue(NewMemoryStore())
	ctx := context.Background()

	a, err := q.Enqueue(ctx, "org-a", "pc-1", "message", nil, "admin")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := q.ReportResult(ctx, "org-b", a.ID, StatusDone, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign tenant could address the action: %v", err)
	}
	pending, err := q.PollPending(ctx, "org-b", "pc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("foreign tenant sees actions: %v", pending)
	}
}

func TestReportResultUnknownID(t *testing.T) {
	q := NewQueue(NewMemoryStore())
	if _, err := q.ReportResult(context.Background(), "org-a", "org-a:pc-1:missing", StatusDone, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func queueClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}
