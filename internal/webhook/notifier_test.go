package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNotifyCriticalPostsJSON(t *testing.T) {
	var got struct {
		Text string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, 5*time.Minute)
	sent, err := n.NotifyCritical(context.Background(), "org-1", "host-a", 42)
	if err != nil {
		t.Fatalf("NotifyCritical: %v", err)
	}
	if !sent {
		t.Fatal("expected message to be sent")
	}
	if !strings.Contains(got.Text, "host-a") || !strings.Contains(got.Text, "42") {
		t.Fatalf("unexpected message: %q", got.Text)
	}
}

func TestThrottlePerOrg(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	n := New(srv.URL, 5*time.Minute, WithClock(func() time.Time { return now }))

	ctx := context.Background()
	if sent, _ := n.NotifyCritical(ctx, "org-1", "host-a", 10); !sent {
		t.Fatal("first send suppressed")
	}
	if sent, _ := n.NotifyCritical(ctx, "org-1", "host-b", 20); sent {
		t.Fatal("second send inside window not suppressed")
	}
	// A different org has its own window.
	if sent, _ := n.NotifyCritical(ctx, "org-2", "host-a", 10); !sent {
		t.Fatal("other org suppressed")
	}

	now = now.Add(5 * time.Minute)
	if sent, _ := n.NotifyCritical(ctx, "org-1", "host-a", 10); !sent {
		t.Fatal("send after window suppressed")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestFailedSendDoesNotAdvanceThrottle(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, 5*time.Minute)
	ctx := context.Background()

	if _, err := n.NotifyCritical(ctx, "org-1", "host-a", 10); err == nil {
		t.Fatal("expected error from 502 response")
	}
	fail.Store(false)
	// Retry succeeds immediately because the failed attempt did not
	// start a throttle window.
	if sent, err := n.NotifyCritical(ctx, "org-1", "host-a", 10); err != nil || !sent {
		t.Fatalf("retry: sent=%v err=%v", sent, err)
	}
}

func TestDisabledWithoutURL(t *testing.T) {
	n := New("", time.Minute)
	if n.Enabled() {
		t.Fatal("empty URL should disable notifier")
	}
	if sent, err := n.NotifyCritical(context.Background(), "org-1", "host-a", 0); sent || err != nil {
		t.Fatalf("disabled notifier: sent=%v err=%v", sent, err)
	}
}
