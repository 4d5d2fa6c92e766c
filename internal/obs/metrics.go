package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-wide metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Authentication and authorization outcomes.
var (
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Credential verification attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	authzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Permission resolver decisions.",
		},
		[]string{"decision"},
	)

	cacheWaitPolls = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authcache_wait_polls",
		Help:    "Poll attempts spent in authorization cache waits.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authAttemptsTotal, authzDecisionsTotal, cacheWaitPolls,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthAttempt records one credential verification outcome.
func ObserveAuthAttempt(method, outcome string) {
	authAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveAuthzDecision records one resolver decision ("allow" or "deny").
func ObserveAuthzDecision(decision string) {
	authzDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveCacheWait records how many polls a cache wait consumed.
func ObserveCacheWait(polls int) {
	cacheWaitPolls.Observe(float64(polls))
}

// CanonicalPath collapses caller-specific path segments so metric labels
// stay low-cardinality. Account-scoped routes become templates; fixed
// service routes pass through unchanged.
func CanonicalPath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || path == "/" {
		return "/"
	}
	switch path {
	case "/healthz", "/readyz", "/metrics", "/openapi.yaml", "/v1/info":
		return path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 1:
		return "/:account"
	case len(parts) == 2 && parts[1] == "users":
		return "/:account/users"
	case len(parts) == 3 && parts[1] == "users":
		return "/:account/users/:login"
	case len(parts) == 4 && parts[1] == "machines" && parts[3] == "audit":
		return "/:account/machines/:id/audit"
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
