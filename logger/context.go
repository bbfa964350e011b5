package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields. Values stored under these keys
// are added to every record logged with the context.
const (
	// ContextKeySessionID identifies the realtime session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyConnectionID identifies the current provider connection of a session.
	ContextKeyConnectionID contextKey = "connection_id"

	// ContextKeyCallID identifies a tool call requested by the model.
	ContextKeyCallID contextKey = "call_id"

	// ContextKeyTool names the tool being executed.
	ContextKeyTool contextKey = "tool"

	// ContextKeyRequestID identifies the individual HTTP request.
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyClientAddr is the remote address of a transport client.
	ContextKeyClientAddr contextKey = "client_addr"
)

var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyConnectionID,
	ContextKeyCallID,
	ContextKeyTool,
	ContextKeyRequestID,
	ContextKeyClientAddr,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithConnectionID returns a new context with the provider connection ID set.
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, ContextKeyConnectionID, connectionID)
}

// WithCallID returns a new context with the tool call ID set.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, ContextKeyCallID, callID)
}

// WithTool returns a new context with the tool name set.
func WithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, ContextKeyTool, tool)
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithClientAddr returns a new context with the client address set.
func WithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, ContextKeyClientAddr, addr)
}

// LoggingFields holds the standard logging context fields.
type LoggingFields struct {
	SessionID    string
	ConnectionID string
	CallID       string
	Tool         string
	RequestID    string
	ClientAddr   string
}

// ExtractLoggingFields returns the logging fields stored in ctx.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	get := func(k contextKey) string {
		s, _ := ctx.Value(k).(string)
		return s
	}
	return LoggingFields{
		SessionID:    get(ContextKeySessionID),
		ConnectionID: get(ContextKeyConnectionID),
		CallID:       get(ContextKeyCallID),
		Tool:         get(ContextKeyTool),
		RequestID:    get(ContextKeyRequestID),
		ClientAddr:   get(ContextKeyClientAddr),
	}
}
