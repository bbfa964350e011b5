package session

import (
	"sync"
	"time"
)

// Metrics is a point-in-time copy of the session counters.
type Metrics struct {
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	Errors           int64     `json:"errors"`
	Reconnects       int64     `json:"reconnects"`
	FunctionCalls    int64     `json:"function_calls"`
	AverageLatency   float64   `json:"average_latency"` // seconds
	UptimeSeconds    float64   `json:"uptime_seconds"`
	ConnectionStart  time.Time `json:"connection_start"`
}

type metricsRecorder struct {
	mu sync.Mutex
	m  Metrics
	// completed tool calls, the denominator of the running average
	latencySamples int64
	now            func() time.Time
}

func (r *metricsRecorder) snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.m
	if !out.ConnectionStart.IsZero() {
		out.UptimeSeconds = r.now().Sub(out.ConnectionStart).Seconds()
	}
	return out
}

func (r *metricsRecorder) connectionStarted(t time.Time) {
	r.mu.Lock()
	r.m.ConnectionStart = t
	r.mu.Unlock()
}

func (r *metricsRecorder) sent(n int64) {
	r.mu.Lock()
	r.m.MessagesSent += n
	r.mu.Unlock()
}

func (r *metricsRecorder) received() {
	r.mu.Lock()
	r.m.MessagesReceived++
	r.mu.Unlock()
}

func (r *metricsRecorder) error() {
	r.mu.Lock()
	r.m.Errors++
	r.mu.Unlock()
}

func (r *metricsRecorder) reconnect() {
	r.mu.Lock()
	r.m.Reconnects++
	r.mu.Unlock()
}

func (r *metricsRecorder) functionCall() {
	r.mu.Lock()
	r.m.FunctionCalls++
	r.mu.Unlock()
}

// observeLatency folds one tool call into the running average:
// avg' = (avg*(n-1) + elapsed) / n.
func (r *metricsRecorder) observeLatency(elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencySamples++
	n := float64(r.latencySamples)
	r.m.AverageLatency = (r.m.AverageLatency*(n-1) + elapsed.Seconds()) / n
}
