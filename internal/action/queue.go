// Package action implements the durable queue between an admin-issued remote
// command and an agent's asynchronous execution report.
//
// Delivery is at-least-once: polling is a non-destructive peek with no
// claim/lease step, so the same pending action is returned until a terminal
// report lands. Agents are expected to execute idempotently.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/ids"
)

// Result describes the outcome of a terminal report.
type Result struct {
	Action Action
	// Applied is true when this call performed the terminal write.
	Applied bool
	// Conflict is true when the action was already terminal with a different
	// status or result. First write wins; the new report is ignored.
	Conflict bool
}

// Queue is the per-(organization, machine) queue of remote commands. All
// state lives in the durable store; the queue layer enforces tenant scoping,
// id generation and the terminal-once policy.
type Queue struct {
	store Store
	now   func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) QueueOption {
	return func(q *Queue) {
		if fn != nil {
			q.now = fn
		}
	}
}

// NewQueue constructs a Queue over the durable store.
func NewQueue(store Store, opts ...QueueOption) *Queue {
	q := &Queue{store: store, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue records a new pending command and returns it. Action ids embed a
// ULID, so rapid enqueues for one machine within the same wall-clock second
// never collide.
func (q *Queue) Enqueue(ctx context.Context, orgID, machineID, actionType string, payload json.RawMessage, createdBy string) (Action, error) {
	actionType = strings.TrimSpace(actionType)
	if !KnownType(actionType) {
		return Action{}, ErrUnknownType
	}
	a := Action{
		ID:        orgID + ":" + machineID + ":" + ids.New(),
		OrgID:     orgID,
		MachineID: machineID,
		Type:      actionType,
		Payload:   payload,
		Status:    StatusPending,
		CreatedBy: createdBy,
		CreatedAt: q.now().UTC(),
	}
	if err := q.store.Insert(ctx, a); err != nil {
		return Action{}, fmt.Errorf("action: persist: %w", err)
	}
	return a, nil
}

// PollPending returns the machine's unfinished actions oldest-first. This is
// a peek, not a claim: repeated polls return the same actions until a
// terminal report arrives, and the advisory executing state does not hide an
// action from redelivery.
func (q *Queue) PollPending(ctx context.Context, orgID, machineID string) ([]Action, error) {
	return q.store.ListPending(ctx, orgID, machineID)
}

// MarkExecuting records the advisory executing state. It never gates result
// reporting and marking an already-terminal action is a no-op.
func (q *Queue) MarkExecuting(ctx context.Context, orgID, id string) error {
	if _, err := q.find(ctx, orgID, id); err != nil {
		return err
	}
	return q.store.MarkExecuting(ctx, id, q.now().UTC())
}

// ReportResult applies the agent's terminal report. The first terminal write
// wins; a repeated identical report is acknowledged without changing state
// (executed_at keeps its original value), and a conflicting one is flagged so
// the caller can log it.
func (q *Queue) ReportResult(ctx context.Context, orgID, id string, status Status, result string) (Result, error) {
	if !status.Terminal() {
		return Result{}, ErrBadStatus
	}
	if _, err := q.find(ctx, orgID, id); err != nil {
		return Result{}, err
	}

	final, applied, err := q.store.CompleteIfPending(ctx, id, status, result, q.now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("action: report result: %w", err)
	}
	res := Result{Action: final, Applied: applied}
	if !applied && (final.Status != status || final.Result != result) {
		res.Conflict = true
	}
	return res, nil
}

// find loads the action and hides rows belonging to other tenants behind
// ErrNotFound.
func (q *Queue) find(ctx context.Context, orgID, id string) (Action, error) {
	a, err := q.store.Find(ctx, id)
	if err != nil {
		return Action{}, err
	}
	if a.OrgID != orgID {
		return Action{}, ErrNotFound
	}
	return a, nil
}
