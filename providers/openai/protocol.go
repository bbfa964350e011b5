// Package openai implements the realtime session channel over the OpenAI
// Realtime websocket API.
package openai

import (
	"encoding/json"
	"fmt"
)

// Realtime API constants
const (
	// RealtimeAPIEndpoint is the base WebSocket endpoint for the Realtime API.
	RealtimeAPIEndpoint = "wss://api.openai.com/v1/realtime"

	// RealtimeBetaHeader is required for the Realtime API.
	RealtimeBetaHeader = "realtime=v1"

	// DefaultModel is the realtime model used when none is configured.
	DefaultModel = "gpt-4o-realtime-preview"
)

// Client Events - sent from client to server

// ClientEvent is the base structure for all client events.
type ClientEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

// SessionUpdateEvent updates session configuration.
type SessionUpdateEvent struct {
	ClientEvent
	Session SessionConfig `json:"session"`
}

// SessionConfig is the session configuration sent in session.update.
type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetectionConfig `json:"turn_detection,omitempty"`
	Tools                   []ToolDef            `json:"tools,omitempty"`
	Temperature             float64              `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                  `json:"max_response_output_tokens,omitempty"`
}

// TranscriptionConfig enables transcription of user audio.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetectionConfig configures server-side voice activity detection.
type TurnDetectionConfig struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// ToolDef is the tool definition format for session config.
type ToolDef struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// InputAudioBufferAppendEvent appends audio to the input buffer.
type InputAudioBufferAppendEvent struct {
	ClientEvent
	Audio string `json:"audio"` // Base64-encoded audio data
}

// ConversationItemCreateEvent adds an item to the conversation.
type ConversationItemCreateEvent struct {
	ClientEvent
	Item ConversationItem `json:"item"`
}

// ConversationItem represents an item in the conversation.
type ConversationItem struct {
	ID      string                `json:"id,omitempty"`
	Type    string                `json:"type"` // "message", "function_call", "function_call_output"
	Status  string                `json:"status,omitempty"`
	Role    string                `json:"role,omitempty"`
	Content []ConversationContent `json:"content,omitempty"`
	CallID  string                `json:"call_id,omitempty"`
	Output  string                `json:"output,omitempty"`
	Name    string                `json:"name,omitempty"`
}

// ConversationContent represents content within a conversation item.
type ConversationContent struct {
	Type       string `json:"type"` // "input_text", "input_audio", "text", "audio"
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ResponseCreateEvent triggers a response from the model.
type ResponseCreateEvent struct {
	ClientEvent
}

// Server Events - received from server

// ServerEvent is the base structure for all server events.
type ServerEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// ErrorEvent indicates an error occurred.
type ErrorEvent struct {
	ServerEvent
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// SessionCreatedEvent is sent when the session is established.
type SessionCreatedEvent struct {
	ServerEvent
	Session struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"session"`
}

// SpeechEvent covers input_audio_buffer.speech_started and speech_stopped.
type SpeechEvent struct {
	ServerEvent
	ItemID       string `json:"item_id"`
	AudioStartMs int    `json:"audio_start_ms,omitempty"`
	AudioEndMs   int    `json:"audio_end_ms,omitempty"`
}

// ConversationItemCreatedEvent is sent when an item joins the conversation.
type ConversationItemCreatedEvent struct {
	ServerEvent
	Item ConversationItem `json:"item"`
}

// InputTranscriptionCompletedEvent carries the transcript of user audio.
type InputTranscriptionCompletedEvent struct {
	ServerEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

// DeltaEvent covers response.audio.delta, response.text.delta and
// response.audio_transcript.delta.
type DeltaEvent struct {
	ServerEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

// FunctionCallArgumentsDoneEvent is sent when a function call is complete.
type FunctionCallArgumentsDoneEvent struct {
	ServerEvent
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

// ResponseDoneEvent is sent when a response finishes.
type ResponseDoneEvent struct {
	ServerEvent
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Usage  *struct {
			TotalTokens  int `json:"total_tokens"`
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage,omitempty"`
	} `json:"response"`
}

// ParseServerEvent decodes a server message into its concrete event type.
// Types the session does not act on decode to *ServerEvent.
func ParseServerEvent(data []byte) (any, error) {
	var base ServerEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("parse server event: %w", err)
	}

	var ev any
	switch base.Type {
	case "error":
		ev = &ErrorEvent{}
	case "session.created":
		ev = &SessionCreatedEvent{}
	case "input_audio_buffer.speech_started", "input_audio_buffer.speech_stopped":
		ev = &SpeechEvent{}
	case "conversation.item.created":
		ev = &ConversationItemCreatedEvent{}
	case "conversation.item.input_audio_transcription.completed":
		ev = &InputTranscriptionCompletedEvent{}
	case "response.audio.delta", "response.text.delta", "response.audio_transcript.delta":
		ev = &DeltaEvent{}
	case "response.function_call_arguments.done":
		ev = &FunctionCallArgumentsDoneEvent{}
	case "response.done":
		ev = &ResponseDoneEvent{}
	default:
		return &base, nil
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("parse %s event: %w", base.Type, err)
	}
	return ev, nil
}
