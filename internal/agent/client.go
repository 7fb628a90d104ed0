// Package agent implements the reporting agent: a sequential loop that
// samples machine metrics, uploads them, polls for queued actions, runs
// them, and reports the results.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/fleet"
)

// PendingAction is one queued command as the server hands it out.
type PendingAction struct {
	ActionID string          `json:"action_id"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Client talks to the fleet API with a bounded timeout and a small linear
// backoff retry. A non-2xx answer after the retries is an error the loop
// logs and survives.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retries int
	backoff time.Duration
}

// NewClient builds a Client for the given server and API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		retries: 2,
		backoff: 2 * time.Second,
	}
}

// Report uploads one metrics snapshot.
func (c *Client) Report(ctx context.Context, machineID string, report fleet.Report) error {
	body := map[string]any{"machine_id": machineID, "report": report}
	return c.do(ctx, http.MethodPost, "/api/fleet/report", body, nil)
}

// PollPending fetches the machine's queued actions. The same action may be
// returned again until its result is reported.
func (c *Client) PollPending(ctx context.Context, machineID string) ([]PendingAction, error) {
	var resp struct {
		Actions []PendingAction `json:"actions"`
	}
	path := "/api/actions/pending?machine_id=" + url.QueryEscape(machineID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

// ReportResult posts the terminal status for one action.
func (c *Client) ReportResult(ctx context.Context, actionID, status, result string) error {
	body := map[string]any{"action_id": actionID, "status": status, "result": result}
	return c.do(ctx, http.MethodPost, "/api/actions/report", body, nil)
}

// MarkExecuting tells the server the action is being worked on. The flag is
// advisory, so this is a single attempt with no retries.
func (c *Client) MarkExecuting(ctx context.Context, actionID string) error {
	body := map[string]any{"action_id": actionID, "status": "executing"}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.once(ctx, http.MethodPost, "/api/actions/report", payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
		lastErr = c.once(ctx, method, path, payload, dst)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, dst any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if dst != nil {
		return json.NewDecoder(resp.Body).Decode(dst)
	}
	return nil
}
