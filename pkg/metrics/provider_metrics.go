// Package metrics provides Prometheus metrics for monitoring speech and language provider calls.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Provider call metrics
var (
	// providerCallsTotal records the total number of remote provider calls.
	// Labels:
	//   - provider: Implementation name (e.g., "openai-http", "openai-sdk", "mock-degraded")
	//   - operation: Call type (e.g., "transcribe", "summarize", "health")
	//   - status: Call status (e.g., "success", "failed", "timeout")
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Total number of remote provider calls",
		},
		[]string{"provider", "operation", "status"},
	)

	// providerCallDuration records the latency of remote provider calls.
	// Buckets: 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s, 300s (5 minutes)
	providerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Duration of remote provider calls in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"provider", "operation"},
	)

	// degradationEventsTotal records transcriber switches.
	// Labels:
	//   - from: Previously active transcriber
	//   - to: Newly active transcriber
	degradationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_degradation_events_total",
			Help: "Total number of transcriber switches (e.g., openai-http -> mock-degraded)",
		},
		[]string{"from", "to"},
	)
)

func init() {
	prometheus.MustRegister(providerCallsTotal)
	prometheus.MustRegister(providerCallDuration)
	prometheus.MustRegister(degradationEventsTotal)
}

// RecordProviderCall records a provider call event.
func RecordProviderCall(provider, operation, status string) {
	providerCallsTotal.WithLabelValues(provider, operation, status).Inc()
}

// RecordProviderDuration records the duration of a provider call.
func RecordProviderDuration(provider, operation string, durationSeconds float64) {
	providerCallDuration.WithLabelValues(provider, operation).Observe(durationSeconds)
}

// RecordDegradationEvent records a transcriber switch.
func RecordDegradationEvent(from, to string) {
	degradationEventsTotal.WithLabelValues(from, to).Inc()
}
