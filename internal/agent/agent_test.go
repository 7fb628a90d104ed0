package agent

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/fleet"
)

type stubCollector struct {
	report fleet.Report
}

func (s stubCollector) Collect(ctx context.Context) (fleet.Report, error) {
	return s.report, nil
}

type recordingRunner struct {
	mu   sync.Mutex
	runs []PendingAction
}

func (r *recordingRunner) Run(ctx context.Context, act PendingAction) (bool, string) {
	r.mu.Lock()
	r.runs = append(r.runs, act)
	r.mu.Unlock()
	return true, "ok"
}

// fakeServer mimics the three endpoints the agent talks to.
type fakeServer struct {
	mu       sync.Mutex
	reports  []map[string]any
	pending  []PendingAction
	results  []map[string]string
	failNext bool
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/fleet/report", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failNext {
			f.failNext = false
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		f.reports = append(f.reports, req)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	mux.HandleFunc("/api/actions/pending", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"actions": f.pending})
	})
	mux.HandleFunc("/api/actions/report", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.results = append(f.results, req)
		// Only a terminal report clears the queue, like the real server.
		if req["status"] == "done" || req["status"] == "error" {
			f.pending = nil
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})
	return mux
}

func newTestAgent(t *testing.T, f *fakeServer, runner ActionRunner) *Agent {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "key_test")
	client.retries = 0
	logger := log.New(io.Discard, "", 0)
	return New(client, stubCollector{report: fleet.Report{CPUPercent: 10, RAMPercent: 20, DiskPercent: 30}},
		"host-test", logger, WithRunner(runner), WithInterval(time.Hour))
}

func TestCycleReportsAndRunsActions(t *testing.T) {
	f := &fakeServer{pending: []PendingAction{
		{ActionID: "org:host-test:01A", Type: "message", Data: json.RawMessage(`{"text":"hi"}`)},
	}}
	runner := &recordingRunner{}
	a := newTestAgent(t, f, runner)

	a.Cycle(context.Background())

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(f.reports))
	}
	if f.reports[0]["machine_id"] != "host-test" {
		t.Fatalf("machine_id = %v", f.reports[0]["machine_id"])
	}
	if len(runner.runs) != 1 || runner.runs[0].ActionID != "org:host-test:01A" {
		t.Fatalf("runs = %+v", runner.runs)
	}
	if len(f.results) != 2 {
		t.Fatalf("results = %+v, want executing then done", f.results)
	}
	if f.results[0]["status"] != "executing" || f.results[1]["status"] != "done" {
		t.Fatalf("results = %+v, want executing then done", f.results)
	}
}

func TestCycleSurvivesFailedReport(t *testing.T) {
	f := &fakeServer{failNext: true}
	runner := &recordingRunner{}
	a := newTestAgent(t, f, runner)

	// First cycle fails on the report and stops there.
	a.Cycle(context.Background())
	f.mu.Lock()
	if len(f.reports) != 0 {
		t.Fatalf("reports after failure = %d", len(f.reports))
	}
	f.mu.Unlock()

	// The next cycle recovers.
	a.Cycle(context.Background())
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reports) != 1 {
		t.Fatalf("reports after recovery = %d, want 1", len(f.reports))
	}
}

func TestLogRunnerContract(t *testing.T) {
	r := LogRunner{Logger: log.New(io.Discard, "", 0)}

	ok, msg := r.Run(context.Background(), PendingAction{Type: "message", Data: json.RawMessage(`{"text":"hello"}`)})
	if !ok || msg == "" {
		t.Fatalf("message action: ok=%v msg=%q", ok, msg)
	}

	ok, msg = r.Run(context.Background(), PendingAction{Type: "reboot"})
	if ok {
		t.Fatal("unsupported type must report an error result")
	}
	if msg == "" {
		t.Fatal("error result needs a message")
	}
}

func TestProcCollectorFixtures(t *testing.T) {
	dir := t.TempDir()
	stat := filepath.Join(dir, "stat")
	meminfo := filepath.Join(dir, "meminfo")
	uptime := filepath.Join(dir, "uptime")

	// Two identical reads give zero delta, which must not divide by zero.
	if err := os.WriteFile(stat, []byte("cpu  100 0 100 700 100 0 0 0 0 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(meminfo, []byte("MemTotal:       1000 kB\nMemAvailable:    250 kB\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(uptime, []byte("3725.91 7200.00\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := &ProcCollector{StatPath: stat, MeminfoPath: meminfo, UptimePath: uptime, DiskMount: dir, SampleGap: time.Millisecond}
	report, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.RAMPercent != 75 {
		t.Fatalf("ram = %v, want 75", report.RAMPercent)
	}
	if report.CPUPercent != 0 {
		t.Fatalf("cpu with zero delta = %v, want 0", report.CPUPercent)
	}
	if report.DiskPercent < 0 || report.DiskPercent > 100 {
		t.Fatalf("disk = %v out of range", report.DiskPercent)
	}
	if got := string(report.Extra["uptime_seconds"]); got != "3725" {
		t.Fatalf("uptime_seconds = %s, want 3725", got)
	}
	if got := string(report.Extra["uptime_hms"]); got != `"01:02:05"` {
		t.Fatalf("uptime_hms = %s", got)
	}
}

func TestFormatUptimeHMS(t *testing.T) {
	cases := map[int64]string{
		0:      "00:00:00",
		59:     "00:00:59",
		3661:   "01:01:01",
		90000:  "25:00:00",
		360125: "100:02:05",
	}
	for in, want := range cases {
		if got := formatUptimeHMS(in); got != want {
			t.Fatalf("formatUptimeHMS(%d) = %q, want %q", in, got, want)
		}
	}
}
