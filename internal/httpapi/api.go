// Package httpapi is the HTTP layer: it authenticates every call, scopes
// registry and queue operations by the resolved organization, and maps
// internal errors to wire status codes. No business logic lives here beyond
// request validation and response shaping.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/action"
	"github.com/BunaTech-G/Dash-Fleet/internal/auth"
	"github.com/BunaTech-G/Dash-Fleet/internal/fleet"
	"github.com/BunaTech-G/Dash-Fleet/internal/obs"
	"github.com/BunaTech-G/Dash-Fleet/internal/stream"
	"github.com/BunaTech-G/Dash-Fleet/internal/webhook"
)

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// Config carries the API's collaborators and tuning.
type Config struct {
	Resolver *auth.Resolver
	Registry *fleet.Registry
	Queue    *action.Queue
	Stream   *stream.Stream
	Notifier *webhook.Notifier
	Ready    ReadyProbe
	Version  string

	// HS256 secret for export tokens; empty disables the export surface.
	ExportSecret   []byte
	ExportTokenTTL time.Duration

	// Requests per minute per credential (or client IP before auth).
	ReportPerMinute  int
	ActionsPerMinute int
	DefaultPerMinute int
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	resolver *auth.Resolver
	registry *fleet.Registry
	queue    *action.Queue
	stream   *stream.Stream
	notifier *webhook.Notifier
	ready    ReadyProbe
	version  string

	exportSecret []byte
	exportTTL    time.Duration

	limits *limiterSet
}

func New(cfg Config) *API {
	a := &API{
		mux:          http.NewServeMux(),
		resolver:     cfg.Resolver,
		registry:     cfg.Registry,
		queue:        cfg.Queue,
		stream:       cfg.Stream,
		notifier:     cfg.Notifier,
		ready:        cfg.Ready,
		version:      cfg.Version,
		exportSecret: cfg.ExportSecret,
		exportTTL:    cfg.ExportTokenTTL,
		limits:       newLimiterSet(cfg.DefaultPerMinute, cfg.ReportPerMinute, cfg.ActionsPerMinute),
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/api/fleet/report", a.limits.wrap(classReport, http.HandlerFunc(a.handleFleetReport)))
	a.mux.Handle("/api/fleet", a.limits.wrap(classDefault, http.HandlerFunc(a.handleFleetList)))

	queueHandler := a.limits.wrap(classActions, http.HandlerFunc(a.handleActionQueue))
	a.mux.Handle("/api/actions/queue", queueHandler)
	a.mux.Handle("/api/action", queueHandler)
	a.mux.Handle("/api/actions/pending", a.limits.wrap(classDefault, http.HandlerFunc(a.handleActionsPending)))
	a.mux.Handle("/api/actions/report", a.limits.wrap(classDefault, http.HandlerFunc(a.handleActionReport)))

	a.mux.Handle("/api/login", a.limits.wrap(classDefault, http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/api/logout", a.limits.wrap(classDefault, http.HandlerFunc(a.handleLogout)))

	a.mux.HandleFunc("/api/events", a.handleEvents)
	a.mux.Handle("/api/export/token", a.limits.wrap(classDefault, http.HandlerFunc(a.handleExportToken)))
	a.mux.HandleFunc("/api/export/fleet.csv", a.handleExportCSV)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = Logging(h)
	h = RequestID(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "dashfleet-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorFields(w, r, code, msg, nil)
}

// writeErrorFields includes per-field validation messages when present.
func writeErrorFields(w http.ResponseWriter, r *http.Request, code int, msg string, fields map[string]string) {
	payload := map[string]any{
		"error": msg,
	}
	if len(fields) > 0 {
		payload["fields"] = fields
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
