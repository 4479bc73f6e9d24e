package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

const namespace = "authgate"

// Auth events counted by the gate and the auth services.
const (
	EventLoginSuccess      = "login_success"
	EventLoginFailure      = "login_failure"
	EventRegister          = "register"
	EventTokenIssued       = "token_issued"
	EventRefreshFailure    = "refresh_failure"
	EventPasswordChanged   = "password_changed"
	EventResetRequested    = "reset_requested"
	EventResetConfirmed    = "reset_confirmed"
	EventResetRejected     = "reset_rejected"
	EventGateMissingHeader = "gate_missing_header"
	EventGateInvalidToken  = "gate_invalid_token"
	EventGateAllowed       = "gate_allowed"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	requestCount    map[string]*uint64     // endpoint:method -> count
	requestDuration map[string]*Histogram  // endpoint:method -> duration histogram
	requestErrors   map[string]*uint64     // endpoint:method:status_class -> count
	authEvents      map[string]*uint64

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu    sync.Mutex
	count uint64
	sum   float64
	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a new histogram with default buckets
func NewHistogram() *Histogram {
	return &Histogram{
		buckets:    []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		bucketVals: make([]uint64, 11),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]*uint64),
		requestDuration: make(map[string]*Histogram),
		requestErrors:   make(map[string]*uint64),
		authEvents:      make(map[string]*uint64),
		startTime:       time.Now(),
	}
}

// counter returns the counter stored under key, creating it on first use.
func (m *Metrics) counter(set map[string]*uint64, key string) *uint64 {
	m.mu.RLock()
	c := set[key]
	m.mu.RUnlock()
	if c != nil {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if set[key] == nil {
		set[key] = new(uint64)
	}
	return set[key]
}

func (m *Metrics) histogram(key string) *Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requestDuration[key] == nil {
		m.requestDuration[key] = NewHistogram()
	}
	return m.requestDuration[key]
}

// RecordRequest records a request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)

	atomic.AddUint64(m.counter(m.requestCount, key), 1)
	m.histogram(key).Observe(duration.Seconds())

	if statusCode >= 400 {
		errorKey := fmt.Sprintf("%s:%d", key, statusCode/100)
		atomic.AddUint64(m.counter(m.requestErrors, errorKey), 1)
	}
}

// RecordAuthEvent increments the counter for an auth event.
func (m *Metrics) RecordAuthEvent(event string) {
	atomic.AddUint64(m.counter(m.authEvents, event), 1)
}

// AuthEventCount returns how many times event was recorded.
func (m *Metrics) AuthEventCount(event string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.authEvents[event]; c != nil {
		return atomic.LoadUint64(c)
	}
	return 0
}

// normalizeEndpoint normalizes an endpoint path for metrics (removes IDs)
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		} else if len(part) > 0 && isNumeric(part) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP %s_uptime_seconds Time since the server started\n", namespace)
		fmt.Fprintf(&sb, "# TYPE %s_uptime_seconds gauge\n", namespace)
		fmt.Fprintf(&sb, "%s_uptime_seconds %f\n\n", namespace, time.Since(m.startTime).Seconds())

		m.mu.RLock()
		defer m.mu.RUnlock()

		if len(m.requestCount) > 0 {
			fmt.Fprintf(&sb, "# HELP %s_http_requests_total Total HTTP requests\n", namespace)
			fmt.Fprintf(&sb, "# TYPE %s_http_requests_total counter\n", namespace)
			for _, key := range sortedKeys(m.requestCount) {
				endpoint, method, _ := strings.Cut(key, ":")
				fmt.Fprintf(&sb, "%s_http_requests_total{endpoint=%q,method=%q} %d\n",
					namespace, endpoint, method, atomic.LoadUint64(m.requestCount[key]))
			}
			sb.WriteString("\n")
		}

		if len(m.requestDuration) > 0 {
			fmt.Fprintf(&sb, "# HELP %s_http_request_duration_seconds HTTP request latency\n", namespace)
			fmt.Fprintf(&sb, "# TYPE %s_http_request_duration_seconds histogram\n", namespace)
			for _, key := range sortedKeys(m.requestDuration) {
				endpoint, method, _ := strings.Cut(key, ":")
				h := m.requestDuration[key]
				h.mu.Lock()
				for i, bucket := range h.buckets {
					fmt.Fprintf(&sb, "%s_http_request_duration_seconds_bucket{endpoint=%q,method=%q,le=\"%g\"} %d\n",
						namespace, endpoint, method, bucket, h.bucketVals[i])
				}
				fmt.Fprintf(&sb, "%s_http_request_duration_seconds_bucket{endpoint=%q,method=%q,le=\"+Inf\"} %d\n", namespace, endpoint, method, h.count)
				fmt.Fprintf(&sb, "%s_http_request_duration_seconds_sum{endpoint=%q,method=%q} %f\n", namespace, endpoint, method, h.sum)
				fmt.Fprintf(&sb, "%s_http_request_duration_seconds_count{endpoint=%q,method=%q} %d\n", namespace, endpoint, method, h.count)
				h.mu.Unlock()
			}
			sb.WriteString("\n")
		}

		if len(m.requestErrors) > 0 {
			fmt.Fprintf(&sb, "# HELP %s_http_errors_total Total HTTP errors by status class\n", namespace)
			fmt.Fprintf(&sb, "# TYPE %s_http_errors_total counter\n", namespace)
			for _, key := range sortedKeys(m.requestErrors) {
				// endpoint:method:class
				parts := strings.Split(key, ":")
				if len(parts) < 3 {
					continue
				}
				fmt.Fprintf(&sb, "%s_http_errors_total{endpoint=%q,method=%q,status_class=\"%sxx\"} %d\n",
					namespace, parts[0], parts[1], parts[2], atomic.LoadUint64(m.requestErrors[key]))
			}
			sb.WriteString("\n")
		}

		if len(m.authEvents) > 0 {
			fmt.Fprintf(&sb, "# HELP %s_auth_events_total Authentication events\n", namespace)
			fmt.Fprintf(&sb, "# TYPE %s_auth_events_total counter\n", namespace)
			for _, event := range sortedKeys(m.authEvents) {
				fmt.Fprintf(&sb, "%s_auth_events_total{event=%q} %d\n",
					namespace, event, atomic.LoadUint64(m.authEvents[event]))
			}
		}

		w.Write([]byte(sb.String()))
	}
}

// Middleware records request metrics for every request it wraps.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordRequest(knownMethod(r.Method), routePattern(r), wrapped.statusCode, time.Since(start))
		})
	}
}

// UnmatchedEndpoint labels requests that never reached a route, such as
// gate denials and unknown paths.
const UnmatchedEndpoint = "unmatched"

// routePattern returns the matched chi pattern. It is only complete once
// the request has been routed.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" && p != "/*" {
			return p
		}
	}
	return UnmatchedEndpoint
}

func knownMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return method
	}
	return "OTHER"
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
