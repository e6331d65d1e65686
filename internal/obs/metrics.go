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

// HTTP metrics
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

// Ownership metrics
var (
	claimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_claims_total",
			Help: "Claim attempts by entity and outcome (won, rejected, lost, error).",
		},
		[]string{"entity", "outcome"},
	)

	sweepReleasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_sweep_released_total",
			Help: "Records changed by scheduled sweeps, by category.",
		},
		[]string{"category"},
	)

	sweepPassFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_sweep_pass_failures_total",
			Help: "Sweep passes or item writes that failed and were left for the next run.",
		},
		[]string{"pass"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ats_sweep_duration_seconds",
			Help:    "Wall time of a sweep run.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			claimsTotal, sweepReleasedTotal, sweepPassFailures, sweepDuration,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ClaimAttempt counts one claim attempt.
func ClaimAttempt(entity, outcome string) {
	claimsTotal.WithLabelValues(entity, outcome).Inc()
}

// SweepChanged adds n to the sweep counter of category. Zero is a no-op.
func SweepChanged(category string, n int) {
	if n <= 0 {
		return
	}
	sweepReleasedTotal.WithLabelValues(category).Add(float64(n))
}

// SweepFailure counts a failed pass or item write.
func SweepFailure(pass string) {
	sweepPassFailures.WithLabelValues(pass).Inc()
}

// ObserveSweep records how long a sweep job took.
func ObserveSweep(job string, d time.Duration) {
	sweepDuration.WithLabelValues(job).Observe(d.Seconds())
}

// Instrument wraps next with in-flight, count and latency metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses record identifiers so that metric label cardinality
// stays bounded: /v1/clients/01J.../access/01K... becomes
// /v1/clients/:id/access/:grant_id.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return raw
	}
	switch parts[1] {
	case "candidates", "clients":
		parts[2] = ":id"
		if len(parts) > 5 {
			return raw
		}
		if len(parts) == 5 && parts[1] == "clients" && parts[3] == "access" {
			parts[4] = ":grant_id"
		} else if len(parts) == 5 {
			return raw
		}
	case "admin":
		if len(parts) != 5 || (parts[2] != "candidates" && parts[2] != "clients") {
			return raw
		}
		parts[3] = ":id"
	case "references":
		parts[2] = ":token"
		if len(parts) > 4 {
			return raw
		}
	default:
		return raw
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

// Flush keeps server-sent event streams working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
