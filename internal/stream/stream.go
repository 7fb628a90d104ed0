// Package stream fan-outs fleet events to active SSE subscribers.
package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds published on the stream.
const (
	KindReport         = "fleet.report"
	KindActionQueued   = "action.queued"
	KindActionResult   = "action.result"
	KindMachineExpired = "fleet.expired"
)

// Event describes something that happened to the fleet. Subscribers
// only receive events for their own organization.
type Event struct {
	Kind      string    `json:"kind"`
	OrgID     string    `json:"org_id"`
	MachineID string    `json:"machine_id"`
	Score     int       `json:"score,omitempty"`
	ActionID  string    `json:"action_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriber struct {
	orgID string
	ch    chan Event
}

// Stream fan-outs events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber scoped to orgID and returns a
// channel which will receive its events. The channel is closed when
// the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, orgID string) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{orgID: orgID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers of its organization.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.orgID != evt.OrgID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
