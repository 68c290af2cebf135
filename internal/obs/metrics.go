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
	initOnce sync.Once

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
			Name: "clinica_authz_decisions_total",
			Help: "Access guard decisions by identity track and outcome.",
		},
		[]string{"track", "outcome"},
	)

	auditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinica_audit_writes_total",
			Help: "Audit log writes by outcome.",
		},
		[]string{"outcome"},
	)

	staffLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinica_staff_logins_total",
			Help: "Staff login attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers the collectors with the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, auditWrites, staffLogins,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts one access guard decision.
func ObserveDecision(track, outcome string) {
	if track == "" {
		track = "none"
	}
	authzDecisions.WithLabelValues(track, outcome).Inc()
}

// ObserveAuditWrite counts one audit write attempt ("ok" or "error").
func ObserveAuditWrite(outcome string) {
	auditWrites.WithLabelValues(outcome).Inc()
}

// ObserveStaffLogin counts one staff login attempt.
func ObserveStaffLogin(outcome string) {
	staffLogins.WithLabelValues(outcome).Inc()
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

// routeWords are the literal path segments of the public API; anything else
// is treated as an identifier so label cardinality stays bounded.
var routeWords = map[string]struct{}{
	"v1": {}, "staff": {}, "login": {}, "session": {},
	"roles": {}, "permissions": {}, "role-users": {},
	"patients": {}, "resolve": {}, "unregistered-patients": {},
	"audit": {}, "me": {}, "auth": {}, "token": {}, "info": {},
	"healthz": {}, "readyz": {}, "metrics": {},
}

// CanonicalPath collapses identifiers in path to ":id".
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if _, ok := routeWords[p]; !ok {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
