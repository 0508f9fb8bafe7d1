package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promMetrics holds the Prometheus collectors for the HTTP surface. A
// dedicated registry keeps test instances from colliding on the default
// global registry.
type promMetrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	csrfRejections   prometheus.Counter
	uploadRejections prometheus.Counter
	sanitizeRequests prometheus.Counter
	rateLimited      prometheus.Counter
}

func newPromMetrics() *promMetrics {
	m := &promMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path pattern, and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatehouse",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		csrfRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "csrf_rejections_total",
			Help:      "Requests rejected for a missing, stale, or replayed CSRF token.",
		}),
		uploadRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "upload_rejections_total",
			Help:      "Upload validations that found at least one violation.",
		}),
		sanitizeRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "sanitize_requests_total",
			Help:      "Payload sanitization requests served.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "session_rate_limited_total",
			Help:      "Session creations rejected by the per-IP rate limiter.",
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.csrfRejections,
		m.uploadRejections,
		m.sanitizeRequests,
		m.rateLimited,
	)
	return m
}

// MetricsHandler serves the Prometheus exposition endpoint.
func (a *API) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.metrics.registry, promhttp.HandlerOpts{})
}

// Instrument records request counts and latency per route.
func (a *API) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		a.metrics.requestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
		a.metrics.requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
