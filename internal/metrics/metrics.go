// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stageBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

var (
	// GRPCServerHandlingSeconds is a histogram for gRPC server request latencies
	GRPCServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of gRPC that had been application-level handled by the server.",
			Buckets: stageBuckets,
		},
		[]string{"method", "code"},
	)

	// StageSeconds tracks the duration of each inpainting stage
	StageSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inpaint_stage_seconds",
			Help:    "Histogram of inpainting stage latency (seconds) by stage: initialize, preprocess, session, postprocess.",
			Buckets: stageBuckets,
		},
		[]string{"stage"},
	)

	// RunsTotal counts runs by outcome: ok, no_result, error
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inpaint_runs_total",
			Help: "Number of inpainting runs by outcome.",
		},
		[]string{"outcome"},
	)

	// CacheLookupsTotal counts result cache lookups by outcome: hit, miss, error
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inpaint_cache_lookups_total",
			Help: "Number of result cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	// SessionReady is 1 while an inference session handle exists
	SessionReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inpaint_session_ready",
			Help: "Whether the inference session is initialized (1 = ready, 0 = uninitialized).",
		},
	)

	// HealthStatus is a gauge indicating the health status of the service
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordGRPCLatency records the latency of a gRPC method call
func RecordGRPCLatency(method, code string, seconds float64) {
	GRPCServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordStage records the latency of one inpainting stage
func RecordStage(stage string, seconds float64) {
	StageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordRun counts a finished run
func RecordRun(outcome string) {
	RunsTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup counts a result cache lookup
func RecordCacheLookup(outcome string) {
	CacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// SetSessionReady reports whether the session handle exists
func SetSessionReady(ready bool) {
	if ready {
		SessionReady.Set(1)
		return
	}
	SessionReady.Set(0)
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
