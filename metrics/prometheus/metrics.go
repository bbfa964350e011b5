// Package prometheus exports realtime session metrics in Prometheus format.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "arnold"

var (
	// sessionsActive is a gauge of sessions with a live provider connection.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions with a live provider connection",
		},
	)

	// connectsTotal counts connect outcomes.
	connectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total number of connect calls by outcome",
		},
		[]string{"status"}, // status: success, error
	)

	// reconnectsTotal counts reconnect cycles.
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of reconnect cycles",
		},
	)

	// sessionDuration is a histogram of connected session lifetime.
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of realtime sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// providerErrorsTotal counts errors reported by the provider or its stream.
	providerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total number of provider errors",
		},
		[]string{"kind"}, // kind: event, stream
	)

	// toolCallDuration is a histogram of tool call duration.
	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tool"},
	)

	// toolCallsTotal is a counter of tool calls.
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool", "status"}, // status: success, error
	)

	// audioBytesFlushed counts assistant audio bytes handed to playback.
	audioBytesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_flushed_total",
			Help:      "Total bytes of assistant audio delivered to playback",
		},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		sessionsActive,
		connectsTotal,
		reconnectsTotal,
		sessionDuration,
		providerErrorsTotal,
		toolCallDuration,
		toolCallsTotal,
		audioBytesFlushed,
	}
)

// RecordConnect records the outcome of a connect call.
func RecordConnect(status string) {
	connectsTotal.WithLabelValues(status).Inc()
}

// RecordReconnect records a reconnect cycle.
func RecordReconnect() {
	reconnectsTotal.Inc()
}

// RecordSessionEnd records the lifetime of a finished session.
func RecordSessionEnd(durationSeconds float64) {
	sessionDuration.Observe(durationSeconds)
}

// RecordProviderError records a provider error of the given kind.
func RecordProviderError(kind string) {
	providerErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordToolCall records a tool call.
func RecordToolCall(toolName, status string, durationSeconds float64) {
	toolCallDuration.WithLabelValues(toolName).Observe(durationSeconds)
	toolCallsTotal.WithLabelValues(toolName, status).Inc()
}

// RecordAudioFlushed records a flushed audio frame.
func RecordAudioFlushed(bytes int) {
	if bytes > 0 {
		audioBytesFlushed.Add(float64(bytes))
	}
}
