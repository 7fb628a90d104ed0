package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/BunaTech-G/Dash-Fleet/internal/audit"
	"github.com/BunaTech-G/Dash-Fleet/internal/auth"
	"github.com/BunaTech-G/Dash-Fleet/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// RequestID assigns every request a UUID (or keeps the caller's X-Request-ID)
// and echoes it in the response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		ctx = audit.WithRequestID(ctx, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext extracts the request id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logging emits one JSON line per request: method, path, status, duration,
// request id.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		obs.LogRequest(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.code,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  RequestIDFromContext(r.Context()),
		})
	})
}

// SecurityHeaders hardens every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// MaxBodyBytes limits request body size.
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// --- rate limiting ---

type limitClass int

const (
	classDefault limitClass = iota
	classReport
	classActions
)

// limiterSet holds token buckets keyed by (class, credential-or-IP). Buckets
// refill at a per-minute rate with an equal burst; idle buckets are swept.
type limiterSet struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rates   map[limitClass]int
}

type clientBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLimiterSet(defaultPerMin, reportPerMin, actionsPerMin int) *limiterSet {
	if defaultPerMin <= 0 {
		defaultPerMin = 100
	}
	if reportPerMin <= 0 {
		reportPerMin = defaultPerMin
	}
	if actionsPerMin <= 0 {
		actionsPerMin = defaultPerMin
	}
	ls := &limiterSet{
		buckets: make(map[string]*clientBucket),
		rates: map[limitClass]int{
			classDefault: defaultPerMin,
			classReport:  reportPerMin,
			classActions: actionsPerMin,
		},
	}
	go ls.sweep()
	return ls
}

func (ls *limiterSet) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-5 * time.Minute)
		ls.mu.Lock()
		for k, b := range ls.buckets {
			if b.seen.Before(cutoff) {
				delete(ls.buckets, k)
			}
		}
		ls.mu.Unlock()
	}
}

func (ls *limiterSet) allow(class limitClass, key string) bool {
	perMin := ls.rates[class]
	bucketKey := strconv.Itoa(int(class)) + ":" + key

	ls.mu.Lock()
	b, ok := ls.buckets[bucketKey]
	if !ok {
		b = &clientBucket{lim: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)}
		ls.buckets[bucketKey] = b
	}
	b.seen = time.Now()
	ls.mu.Unlock()

	return b.lim.Allow()
}

// wrap enforces the class's budget per authenticated org, falling back to the
// client IP for unauthenticated calls.
func (ls *limiterSet) wrap(class limitClass, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if org, ok := auth.OrgFromContext(r.Context()); ok {
			key = org.ID
		}
		if !ls.allow(class, key) {
			w.Header().Set("Retry-After", "60")
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
