package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Route authorization decisions by rule and outcome.",
		},
		[]string{"rule", "outcome"},
	)

	roleLookupFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "role_lookup_failures_total",
		Help: "Role lookups that failed with a store error.",
	})

	auditEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Audit entry writes by action and result.",
		},
		[]string{"action", "result"},
	)

	initOnce sync.Once
)

// Init registers the service metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, roleLookupFailures, auditEntries,
		)
	})
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts one route authorization outcome.
func ObserveDecision(rule, outcome string) {
	if rule == "" {
		rule = "none"
	}
	authzDecisions.WithLabelValues(rule, outcome).Inc()
}

// RoleLookupFailed counts a role lookup that hit a store error.
func RoleLookupFailed() {
	roleLookupFailures.Inc()
}

// ObserveAudit counts one audit write attempt.
func ObserveAudit(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	auditEntries.WithLabelValues(action, result).Inc()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers so metric labels stay bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(raw, "/"), "/")

	switch {
	case parts[0] == "api" && len(parts) >= 2 && parts[1] == "forms":
		return canonicalForms(parts)
	case parts[0] == "api" && len(parts) == 6 && parts[1] == "firms" && parts[3] == "users" && parts[5] == "role":
		return "/api/firms/:slug/users/:id/role"
	case parts[0] == "api":
		return raw
	case parts[0] == "firms" && len(parts) >= 3 && parts[2] == "admin":
		return "/firms/:slug/admin"
	case len(parts) > 1:
		return "/" + parts[0] + "/*"
	default:
		return raw
	}
}

func canonicalForms(parts []string) string {
	switch len(parts) {
	case 2:
		return "/api/forms"
	case 3:
		return "/api/forms/:type"
	case 4:
		return "/api/forms/:type/:id"
	case 5:
		return "/api/forms/:type/:id/" + parts[4]
	default:
		return "/api/forms/:type/:id/*"
	}
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
