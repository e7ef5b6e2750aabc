package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Domain metrics for the access-control core.
var (
	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Permission evaluations by outcome reason code.",
		},
		[]string{"reason"},
	)

	sessionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Sessions created by risk band.",
		},
		[]string{"risk"},
	)

	ipBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bruteforce_ip_blocks_total",
		Help: "IP addresses moved to the blocked state.",
	})

	securityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bruteforce_events_total",
			Help: "Security events recorded in the brute-force ledger.",
		},
		[]string{"type"},
	)

	auditFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_fallback_writes_total",
		Help: "Audit records diverted to the local diagnostic sink after a failed durable write.",
	})
)

// HTTP metrics for the ops endpoints served by cmd/api.
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

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		accessDecisions, sessionsCreated, ipBlocks, securityEvents, auditFallbacks,
		httpInFlight, httpRequestsTotal, httpRequestDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountAccessDecision records the outcome of one permission evaluation.
func CountAccessDecision(reason string) {
	accessDecisions.WithLabelValues(reason).Inc()
}

// CountSessionCreated records a new session in its risk band.
func CountSessionCreated(risk string) {
	sessionsCreated.WithLabelValues(risk).Inc()
}

// CountIPBlock records an IP transitioning to the blocked state.
func CountIPBlock() {
	ipBlocks.Inc()
}

// CountSecurityEvent records one brute-force ledger append.
func CountSecurityEvent(eventType string) {
	securityEvents.WithLabelValues(eventType).Inc()
}

// CountAuditFallback records an audit write diverted to the local sink.
func CountAuditFallback() {
	auditFallbacks.Inc()
}

// Instrument wraps an ops handler with request counting and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
