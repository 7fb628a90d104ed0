// Package webhook posts critical-health notifications to an external
// endpoint, throttled per organization so a flapping machine cannot
// flood the channel.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Notifier sends JSON messages of the form {"text": "..."} to a single
// configured URL. A zero URL disables sending.
type Notifier struct {
	url         string
	minInterval time.Duration
	client      *http.Client
	now         func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time // org id -> last successful send
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// New builds a Notifier. minInterval is the smallest gap between two
// notifications for the same organization.
func New(url string, minInterval time.Duration, opts ...Option) *Notifier {
	n := &Notifier{
		url:         url,
		minInterval: minInterval,
		client:      &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
		lastSent:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether a destination URL is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// NotifyCritical posts a message about machineID for orgID. It returns
// (false, nil) when the org is still inside its throttle window or no
// URL is configured. The throttle timestamp only advances on a
// successful delivery, so a failed POST is retried on the next
// critical report.
func (n *Notifier) NotifyCritical(ctx context.Context, orgID, machineID string, score int) (bool, error) {
	if !n.Enabled() {
		return false, nil
	}

	n.mu.Lock()
	last, ok := n.lastSent[orgID]
	if ok && n.now().Sub(last) < n.minInterval {
		n.mu.Unlock()
		return false, nil
	}
	n.mu.Unlock()

	msg := struct {
		Text string `json:"text"`
	}{
		Text: fmt.Sprintf("machine %s (org %s) reported critical health, score %d", machineID, orgID, score),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}

	n.mu.Lock()
	n.lastSent[orgID] = n.now()
	n.mu.Unlock()
	return true, nil
}
