// Package telemetry exposes Prometheus metrics for the classifier service.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_classifications_total",
			Help: "Total classifications, labeled by result and mode.",
		},
		[]string{"label", "mode"},
	)

	renderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_render_attempts_total",
			Help: "Total render attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	renderDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classifier_render_duration_seconds",
			Help:    "Histogram of successful render durations.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80},
		},
	)

	inferenceDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "classifier_inference_duration_seconds",
			Help:    "Histogram of model invocation durations.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	cacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_cache_lookups_total",
			Help: "Boundary cache lookups, labeled by result.",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method", "route"},
	)
)

// ObserveClassification records one pipeline outcome.
func ObserveClassification(label, mode string) {
	classificationsTotal.WithLabelValues(label, mode).Inc()
}

// ObserveRenderAttempt records one render attempt outcome ("ok"/"error").
func ObserveRenderAttempt(outcome string) {
	renderAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRenderDuration records the duration of a successful render.
func ObserveRenderDuration(d time.Duration) {
	renderDurationSeconds.Observe(d.Seconds())
}

// ObserveInferenceDuration records the duration of a model invocation.
func ObserveInferenceDuration(d time.Duration) {
	inferenceDurationSeconds.Observe(d.Seconds())
}

// ObserveCacheLookup records a boundary cache lookup ("hit"/"miss").
func ObserveCacheLookup(result string) {
	cacheHitsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest records one completed HTTP request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
