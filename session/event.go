package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventKind classifies an event received from the provider.
type EventKind string

// Event kinds understood by the event pump.
const (
	EventError                EventKind = "error"
	EventSessionCreated       EventKind = "session.created"
	EventSpeechStarted        EventKind = "speech.started"
	EventSpeechStopped        EventKind = "speech.stopped"
	EventItemCreated          EventKind = "item.created"
	EventInputTranscription   EventKind = "input.transcription"
	EventAudioDelta           EventKind = "audio.delta"
	EventTextDelta            EventKind = "text.delta"
	EventAudioTranscriptDelta EventKind = "audio_transcript.delta"
	EventFunctionCall         EventKind = "function_call"
	EventResponseDone         EventKind = "response.done"
	EventOther                EventKind = "other"
)

// ContentPart is one part of a conversation item.
type ContentPart struct {
	Type string // "input_text", "text", "input_audio", "audio"
	Text string
}

// ToolCallRequest is a completed function call emitted by the model.
type ToolCallRequest struct {
	CallID     string
	Name       string
	Arguments  json.RawMessage
	ReceivedAt time.Time
}

// ProviderError is the payload of an error event.
type ProviderError struct {
	Type    string
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
	}
	return "provider error: " + e.Message
}

// Event is a provider event translated into provider-neutral form.
// Which fields are set depends on Kind.
type Event struct {
	Kind    EventKind
	EventID string
	// Type is the provider's raw event type, kept for logging.
	Type string

	// EventItemCreated
	Role  string
	Parts []ContentPart

	// EventAudioDelta (base64), EventTextDelta, EventAudioTranscriptDelta
	Delta string

	// EventInputTranscription
	Transcript string

	Call  *ToolCallRequest
	Error *ProviderError
}

// Channel is a live bidirectional session with the provider. Writes are safe
// for concurrent use. Events yields server events in delivery order and is
// closed when the stream ends; Err then reports why (nil after Close).
type Channel interface {
	Configure(ctx context.Context, cfg Config) error
	AppendAudio(ctx context.Context, pcm []byte) error
	CreateMessage(ctx context.Context, role, text string) error
	CreateResponse(ctx context.Context) error
	SendFunctionOutput(ctx context.Context, callID, output string) error
	Events() <-chan Event
	Err() error
	Close() error
}

// Dialer opens a new Channel.
type Dialer func(ctx context.Context) (Channel, error)
