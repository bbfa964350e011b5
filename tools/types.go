// Package tools implements the tool dispatcher that the realtime model calls
// to log and query workouts.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

// ToolDescriptor describes a tool exposed to the model.
type ToolDescriptor struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	InputSchema json.RawMessage `json:"input_schema" yaml:"input_schema"` // JSON Schema Draft-07
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
	ID   string          `json:"id"` // provider call ID
}

// ToolResult is the outcome of a tool call. Result always holds a JSON
// envelope with a "success" field, even when the call failed.
type ToolResult struct {
	Name      string          `json:"name"`
	ID        string          `json:"id"` // matches ToolCall.ID
	Result    json.RawMessage `json:"result"`
	LatencyMs int64           `json:"latency_ms"`
	Error     string          `json:"error,omitempty"`
}

// Success reports whether the envelope describes a successful call.
func (r *ToolResult) Success() bool {
	return r.Error == ""
}

// WorkoutStore is the workout capability the dispatcher needs.
type WorkoutStore interface {
	Create(ctx context.Context, in workout.Input) (*workout.Workout, error)
	Recent(ctx context.Context, limit int) ([]workout.Workout, error)
	ByExercise(ctx context.Context, exercise string, date *workout.Date) ([]workout.Workout, error)
}

// ValidationError represents a tool argument validation failure.
type ValidationError struct {
	Tool   string `json:"tool"`
	Detail string `json:"detail"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Detail)
}
