package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrToolName     = attribute.Key("arnold.tool.name")
	AttrToolCallID   = attribute.Key("arnold.tool.call_id")
	AttrToolSuccess  = attribute.Key("arnold.tool.success")
	AttrSessionID    = attribute.Key("arnold.session.id")
	AttrConnectionID = attribute.Key("arnold.session.connection_id")
)

// StartToolSpan starts a span for one tool call.
func StartToolSpan(ctx context.Context, tracer trace.Tracer, tool, callID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tool."+tool,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrToolName.String(tool),
			AttrToolCallID.String(callID),
		),
	)
}

// EndToolSpan records the outcome of a tool call and ends the span.
func EndToolSpan(span trace.Span, success bool, errMsg string) {
	span.SetAttributes(AttrToolSuccess.Bool(success))
	if success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}

// StartConnectSpan starts a span around one session connect cycle.
func StartConnectSpan(ctx context.Context, tracer trace.Tracer, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "session.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrSessionID.String(sessionID)),
	)
}
