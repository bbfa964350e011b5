package tools

import "errors"

// Sentinel errors for tool operations.
var (
	// ErrUnknownTool is returned when the model names a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrToolTimeout is returned when a tool call exceeds the dispatcher timeout.
	ErrToolTimeout = errors.New("tool call timed out")

	// ErrToolPanicked is returned when a tool handler panics.
	ErrToolPanicked = errors.New("tool call panicked")
)

// unknownToolError carries the message the model sees for an unregistered tool.
type unknownToolError struct{ name string }

func (e *unknownToolError) Error() string { return "Unknown function: " + e.name }

func (e *unknownToolError) Unwrap() error { return ErrUnknownTool }
