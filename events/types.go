package events

import (
	"time"
)

// EventType identifies the type of event emitted by a session.
type EventType string

const (
	// EventSessionConnected marks a successful provider connection.
	EventSessionConnected EventType = "session.connected"
	// EventSessionReconnecting marks the start of a reconnect cycle.
	EventSessionReconnecting EventType = "session.reconnecting"
	// EventSessionDisconnected marks the end of a session.
	EventSessionDisconnected EventType = "session.disconnected"
	// EventConnectFailed marks a connect call that exhausted its retries.
	EventConnectFailed EventType = "session.connect_failed"

	// EventProviderError marks an error event reported by the provider.
	EventProviderError EventType = "provider.error"
	// EventStreamInterrupted marks an abnormal end of the provider event stream.
	EventStreamInterrupted EventType = "stream.interrupted"

	// EventToolCallCompleted marks a tool call whose result envelope reports success.
	EventToolCallCompleted EventType = "tool.call.completed"
	// EventToolCallFailed marks a tool call whose result envelope reports failure.
	EventToolCallFailed EventType = "tool.call.failed"

	// EventAudioFlushed marks an audio frame handed to the playback sink.
	EventAudioFlushed EventType = "audio.flushed"
)

// EventData is a marker interface for event payloads.
type EventData interface {
	eventData()
}

// Event represents a session event delivered to listeners.
type Event struct {
	Type         EventType
	Timestamp    time.Time
	SessionID    string
	ConnectionID string
	Data         EventData
}

// baseEventData provides the marker implementation for all event payloads.
type baseEventData struct{}

func (baseEventData) eventData() {}

// ConnectionEventData is carried by connect, reconnect and disconnect events.
type ConnectionEventData struct {
	baseEventData
	Attempts int
	Uptime   time.Duration // set on disconnect
	Error    error         // set on failure
}

// ProviderErrorData is carried by provider error and stream interruption events.
type ProviderErrorData struct {
	baseEventData
	Code    string
	Message string
	Error   error
}

// ToolCallEventData is carried by tool call events.
type ToolCallEventData struct {
	baseEventData
	ToolName string
	CallID   string
	Duration time.Duration
	Error    string // set on failure
}

// AudioEventData is carried by audio flush events.
type AudioEventData struct {
	baseEventData
	Bytes int
	Final bool
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, sessionID, connectionID string, data EventData) *Event {
	return &Event{
		Type:         t,
		Timestamp:    time.Now(),
		SessionID:    sessionID,
		ConnectionID: connectionID,
		Data:         data,
	}
}
