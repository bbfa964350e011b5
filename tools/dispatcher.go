package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/wilsonaustin10/arnoldaibackend/events"
	"github.com/wilsonaustin10/arnoldaibackend/logger"
	"github.com/wilsonaustin10/arnoldaibackend/telemetry"
)

// Handler executes one tool. The returned value is marshaled as the
// successful result envelope; an error becomes {"success":false,"error":...}.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Dispatcher maps tool calls to workout store operations. Dispatch never
// fails: every call yields a JSON envelope the model can read.
type Dispatcher struct {
	store       WorkoutStore
	validator   *SchemaValidator
	descriptors []*ToolDescriptor
	handlers    map[string]Handler
	tracer      trace.Tracer
	bus         *events.EventBus
	timeout     time.Duration
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracer sets the tracer used for tool spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tracer }
}

// WithEventBus publishes tool call events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithTimeout bounds each tool call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithClock overrides the clock used to default workout dates.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher exposing the workout tools backed by store.
func NewDispatcher(store WorkoutStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		validator:   NewSchemaValidator(),
		descriptors: workoutDescriptors,
		now:         time.Now,
	}
	d.handlers = map[string]Handler{
		ToolLogWorkout:              d.logWorkout,
		ToolGetRecentWorkouts:       d.getRecentWorkouts,
		ToolQueryWorkoutsByExercise: d.queryWorkoutsByExercise,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = telemetry.Tracer(nil)
	}
	return d
}

// Descriptors returns the exposed tools in a stable order.
func (d *Dispatcher) Descriptors() []*ToolDescriptor {
	out := make([]*ToolDescriptor, len(d.descriptors))
	copy(out, d.descriptors)
	return out
}

// Dispatch executes call and returns its result envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) *ToolResult {
	start := time.Now()
	ctx = logger.WithCallID(logger.WithTool(ctx, call.Name), call.ID)
	ctx, span := telemetry.StartToolSpan(ctx, d.tracer, call.Name, call.ID)

	payload, err := d.execute(ctx, call)
	result := &ToolResult{Name: call.Name, ID: call.ID}

	if err == nil {
		result.Result, err = json.Marshal(payload)
		if err != nil {
			err = fmt.Errorf("encode result: %w", err)
		}
	}
	if err != nil {
		result.Error = err.Error()
		// errorResult always marshals.
		result.Result, _ = json.Marshal(errorResult{Success: false, Error: result.Error})
	}

	elapsed := time.Since(start)
	result.LatencyMs = elapsed.Milliseconds()

	telemetry.EndToolSpan(span, result.Success(), result.Error)
	logger.ToolCall(ctx, call.Name, call.ID, result.Success(), elapsed)
	d.publish(ctx, call, result, elapsed)
	return result
}

func (d *Dispatcher) execute(ctx context.Context, call ToolCall) (any, error) {
	handler, ok := d.handlers[call.Name]
	if !ok {
		return nil, &unknownToolError{name: call.Name}
	}

	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := d.validator.ValidateArgs(d.descriptor(call.Name), args); err != nil {
		return nil, err
	}

	if d.timeout <= 0 {
		return invoke(ctx, handler, args)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		payload any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		p, err := invoke(ctx, handler, args)
		done <- outcome{p, err}
	}()

	select {
	case out := <-done:
		return out.payload, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s", ErrToolTimeout, d.timeout)
	}
}

func invoke(ctx context.Context, handler Handler, args json.RawMessage) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrToolPanicked, r)
		}
	}()
	return handler(ctx, args)
}

func (d *Dispatcher) descriptor(name string) *ToolDescriptor {
	for _, desc := range d.descriptors {
		if desc.Name == name {
			return desc
		}
	}
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, call ToolCall, result *ToolResult, elapsed time.Duration) {
	if d.bus == nil {
		return
	}
	eventType := events.EventToolCallCompleted
	if !result.Success() {
		eventType = events.EventToolCallFailed
	}
	fields := logger.ExtractLoggingFields(ctx)
	d.bus.Publish(events.NewEvent(eventType, fields.SessionID, fields.ConnectionID, &events.ToolCallEventData{
		ToolName: call.Name,
		CallID:   call.ID,
		Duration: elapsed,
		Error:    result.Error,
	}))
}
