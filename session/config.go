package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultInstructions is the system prompt sent with every session.
const DefaultInstructions = `You are Arnold, an AI workout assistant with real-time voice capabilities.
You help users track their workouts by understanding voice commands about exercises, reps, and weights.

Key responsibilities:
1. Parse workout information from natural language in real-time
2. Store workouts in the database using function calls
3. Query historical workout data when asked
4. Provide workout insights and progress tracking
5. Be encouraging and motivational
6. Respond naturally and conversationally

When a user tells you about a workout, extract:
- Exercise name (e.g., "bench press", "squats", "deadlifts")
- Number of reps
- Weight in pounds

Respond concisely and naturally. Use a friendly, encouraging tone.
Keep responses brief unless the user asks for detailed information.`

// Audio format constants.
const (
	AudioFormatPCM16 = "pcm16"
	SampleRate       = 24000
	Channels         = 1
)

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type" yaml:"type"`
	Threshold         float64 `json:"threshold" yaml:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms" yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms" yaml:"silence_duration_ms"`
}

// ToolDefinition is a tool exposed to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Config is the one-time configuration sent after each connect.
type Config struct {
	Modalities              []string         `json:"modalities"`
	Instructions            string           `json:"instructions"`
	Voice                   string           `json:"voice"`
	InputAudioFormat        string           `json:"input_audio_format"`
	OutputAudioFormat       string           `json:"output_audio_format"`
	TranscriptionModel      string           `json:"transcription_model,omitempty"`
	TurnDetection           *TurnDetection   `json:"turn_detection,omitempty"`
	Temperature             float64          `json:"temperature"`
	MaxResponseOutputTokens int              `json:"max_response_output_tokens"`
	Tools                   []ToolDefinition `json:"tools,omitempty"`
}

// DefaultConfig returns the session configuration used by the workout agent.
// Tools are filled in from the dispatcher when the manager is created.
func DefaultConfig() Config {
	return Config{
		Modalities:         []string{"text", "audio"},
		Instructions:       DefaultInstructions,
		Voice:              "alloy",
		InputAudioFormat:   AudioFormatPCM16,
		OutputAudioFormat:  AudioFormatPCM16,
		TranscriptionModel: "whisper-1",
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 200,
		},
		Temperature:             0.8,
		MaxResponseOutputTokens: 4096,
	}
}

// Validate checks the configuration for values the provider would reject.
func (c *Config) Validate() error {
	if len(c.Modalities) == 0 {
		return errors.New("session config: at least one modality is required")
	}
	if c.Voice == "" {
		return errors.New("session config: voice is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("session config: temperature %.2f out of range", c.Temperature)
	}
	if c.MaxResponseOutputTokens < 0 {
		return errors.New("session config: max response output tokens cannot be negative")
	}
	return nil
}
