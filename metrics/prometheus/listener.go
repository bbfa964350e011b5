package prometheus

import (
	"sync"

	"github.com/wilsonaustin10/arnoldaibackend/events"
)

// Label values.
const (
	statusSuccess = "success"
	statusError   = "error"

	kindEvent  = "event"
	kindStream = "stream"
)

// MetricsListener records session events as Prometheus metrics.
// Register it with EventBus.SubscribeAll.
type MetricsListener struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewMetricsListener creates a new MetricsListener.
func NewMetricsListener() *MetricsListener {
	return &MetricsListener{active: make(map[string]struct{})}
}

// Handle processes an event and records relevant metrics.
func (l *MetricsListener) Handle(event *events.Event) {
	//exhaustive:ignore
	switch event.Type {
	case events.EventSessionConnected:
		RecordConnect(statusSuccess)
		l.setActive(event.SessionID, true)
	case events.EventConnectFailed:
		RecordConnect(statusError)
	case events.EventSessionReconnecting:
		RecordReconnect()
		l.setActive(event.SessionID, false)
	case events.EventSessionDisconnected:
		l.handleDisconnected(event)
	case events.EventProviderError:
		RecordProviderError(kindEvent)
	case events.EventStreamInterrupted:
		RecordProviderError(kindStream)
	case events.EventToolCallCompleted:
		l.handleToolCall(event, statusSuccess)
	case events.EventToolCallFailed:
		l.handleToolCall(event, statusError)
	case events.EventAudioFlushed:
		if data, ok := event.Data.(*events.AudioEventData); ok {
			RecordAudioFlushed(data.Bytes)
		}
	default:
	}
}

// setActive tracks connected sessions by id so that repeated connects after
// a reconnect do not inflate the gauge.
func (l *MetricsListener) setActive(sessionID string, connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if connected {
		l.active[sessionID] = struct{}{}
	} else {
		delete(l.active, sessionID)
	}
	sessionsActive.Set(float64(len(l.active)))
}

func (l *MetricsListener) handleDisconnected(event *events.Event) {
	l.setActive(event.SessionID, false)
	if data, ok := event.Data.(*events.ConnectionEventData); ok && data.Uptime > 0 {
		RecordSessionEnd(data.Uptime.Seconds())
	}
}

func (l *MetricsListener) handleToolCall(event *events.Event, status string) {
	if data, ok := event.Data.(*events.ToolCallEventData); ok {
		RecordToolCall(data.ToolName, status, data.Duration.Seconds())
	}
}

// Listener returns an events.Listener function that can be registered with an EventBus.
func (l *MetricsListener) Listener() events.Listener {
	return l.Handle
}
