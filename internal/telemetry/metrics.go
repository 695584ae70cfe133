// Package telemetry provides Prometheus instrumentation for the replay harness.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProtocolCalls counts adapter calls by method and outcome.
	ProtocolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybench_protocol_calls_total",
		Help: "Protocol adapter calls by method and status",
	}, []string{"method", "status"})

	ProtocolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replaybench_protocol_call_duration_seconds",
		Help:    "Wall time spent inside a protocol call",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"method"})

	TicksAdvanced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replaybench_ticks_advanced_total",
		Help: "Ticks advanced across all engines",
	})

	// ActionsRecorded counts successful agent actions by type.
	ActionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybench_actions_total",
		Help: "Agent actions recorded by the engine",
	}, []string{"type"})

	// StepFailures counts agent turns that errored or timed out.
	StepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybench_step_failures_total",
		Help: "Agent decision steps that failed",
	}, []string{"reason"})

	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybench_runs_total",
		Help: "Runs finished by final status",
	}, []string{"status"})

	AuditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replaybench_audit_failures_total",
		Help: "Runs whose metrics failed the post-hoc audit",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replaybench_http_requests_total",
		Help: "HTTP requests by method, path and status",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replaybench_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency for the wrapped handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
