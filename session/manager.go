// Package session manages one realtime conversation with the voice model: it
// owns the provider channel, pumps its events in order, resolves tool calls,
// smooths playback audio, and reconnects with backoff when the stream drops.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilsonaustin10/arnoldaibackend/events"
	"github.com/wilsonaustin10/arnoldaibackend/logger"
	"github.com/wilsonaustin10/arnoldaibackend/statestore"
	"github.com/wilsonaustin10/arnoldaibackend/telemetry"
	"github.com/wilsonaustin10/arnoldaibackend/tools"
)

// Defaults for Manager options.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSendAttempts      = 3
	DefaultSendRetryStep     = 100 * time.Millisecond
	snapshotTimeout          = 5 * time.Second
)

// Dispatcher resolves tool calls. *tools.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, call tools.ToolCall) *tools.ToolResult
	Descriptors() []*tools.ToolDescriptor
}

// Callbacks receive session output. Any may be nil. Callbacks run on the
// event pump goroutine and must not block for long.
type Callbacks struct {
	OnAudio            func(pcm []byte)
	OnTranscript       func(text string)
	OnResponseText     func(delta string)
	OnError            func(err error)
	OnConnectionStatus func(connected bool)
}

// Manager owns one realtime session with the provider.
type Manager struct {
	dialer     Dialer
	dispatcher Dispatcher
	callbacks  Callbacks
	cfg        Config
	policy     Policy

	sessionID         string
	heartbeatInterval time.Duration
	toolTimeout       time.Duration
	sendAttempts      int
	sendStep          time.Duration
	bus               *events.EventBus
	snapshots         statestore.Store
	tracer            trace.Tracer

	audio   *AudioBuffer
	metrics *metricsRecorder

	// life bounds background work and backoff sleeps; Disconnect cancels it.
	life       context.Context
	lifeCancel context.CancelFunc

	mu         sync.Mutex
	channel    Channel
	connID     string
	pumpCancel context.CancelFunc
	wg         sync.WaitGroup

	connected    atomic.Bool
	closed       atomic.Bool
	reconnecting atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithCallbacks sets the output callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(m *Manager) { m.callbacks = cb }
}

// WithConfig replaces the session configuration. Tools left empty are filled
// from the dispatcher.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithPolicy sets the reconnect policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithHeartbeatInterval sets how often activity is logged.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.heartbeatInterval = d }
}

// WithToolTimeout bounds each tool call. Zero (the default) means no bound.
func WithToolTimeout(d time.Duration) Option {
	return func(m *Manager) { m.toolTimeout = d }
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithSnapshotStore saves metrics snapshots on every heartbeat and on disconnect.
func WithSnapshotStore(store statestore.Store) Option {
	return func(m *Manager) { m.snapshots = store }
}

// WithSendRetry sets the audio send retry budget. Attempt n sleeps n*step first.
func WithSendRetry(attempts int, step time.Duration) Option {
	return func(m *Manager) {
		m.sendAttempts = attempts
		m.sendStep = step
	}
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) Option {
	return func(m *Manager) { m.sessionID = id }
}

// WithFlushThreshold sets the playback frame size in bytes.
func WithFlushThreshold(n int) Option {
	return func(m *Manager) { m.audio = NewAudioBuffer(n) }
}

// WithTracer sets the tracer used for connect spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// NewManager creates a Manager. Nothing is dialed until Connect.
func NewManager(dialer Dialer, dispatcher Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		dialer:            dialer,
		dispatcher:        dispatcher,
		cfg:               DefaultConfig(),
		policy:            DefaultPolicy(),
		sessionID:         uuid.NewString(),
		heartbeatInterval: DefaultHeartbeatInterval,
		sendAttempts:      DefaultSendAttempts,
		sendStep:          DefaultSendRetryStep,
		audio:             NewAudioBuffer(DefaultFlushThreshold),
		metrics:           &metricsRecorder{now: time.Now},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = telemetry.Tracer(nil)
	}
	if m.sendAttempts < 1 {
		m.sendAttempts = 1
	}
	m.life, m.lifeCancel = context.WithCancel(
		logger.WithSessionID(context.Background(), m.sessionID))
	if len(m.cfg.Tools) == 0 && dispatcher != nil {
		for _, d := range dispatcher.Descriptors() {
			m.cfg.Tools = append(m.cfg.Tools, ToolDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			})
		}
	}
	return m
}

// SessionID returns the stable ID of this logical session.
func (m *Manager) SessionID() string { return m.sessionID }

// ConnectionID returns the ID of the current connection, or "" before the first.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connID
}

// IsConnected reports whether a channel is live.
func (m *Manager) IsConnected() bool { return m.connected.Load() }

// Metrics returns a copy of the session counters.
func (m *Manager) Metrics() Metrics { return m.metrics.snapshot() }

// Connect dials the provider, retrying per the reconnect policy. Background
// work started on success is bound to the manager, not to ctx. Once every
// attempt has failed it returns a *ConnectionError. Connect on a live
// session is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return ErrSessionClosed
	}
	if m.connected.Load() {
		return nil
	}
	if err := m.policy.Validate(); err != nil {
		return err
	}
	if err := m.cfg.Validate(); err != nil {
		return err
	}

	ctx = logger.WithSessionID(ctx, m.sessionID)
	ctx, span := telemetry.StartConnectSpan(ctx, m.tracer, m.sessionID)
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= m.policy.MaxRetries; attempt++ {
		err := m.connectOnce(ctx, attempt)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSessionClosed) {
			return err
		}
		lastErr = err
		m.metrics.error()

		if attempt == m.policy.MaxRetries {
			break
		}
		delay := m.policy.Delay(attempt)
		logger.WarnContext(ctx, "Realtime session: connection attempt failed",
			"attempt", attempt, "max_attempts", m.policy.MaxRetries,
			"retry_in", delay, "error", logger.RedactSensitiveData(err.Error()))

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			return m.connectFailed(ctx, attempt, lastErr)
		case <-m.life.Done():
			return ErrSessionClosed
		case <-time.After(delay):
		}
	}
	return m.connectFailed(ctx, m.policy.MaxRetries, lastErr)
}

func (m *Manager) connectFailed(ctx context.Context, attempts int, err error) error {
	logger.ErrorContext(ctx, "Realtime session: failed to connect",
		"attempts", attempts, "error", logger.RedactSensitiveData(err.Error()))
	m.publish(events.EventConnectFailed, &events.ConnectionEventData{Attempts: attempts, Error: err})
	return &ConnectionError{Attempts: attempts, Err: err}
}

func (m *Manager) connectOnce(ctx context.Context, attempt int) error {
	ch, err := m.dialer(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if err := ch.Configure(ctx, m.cfg); err != nil {
		_ = ch.Close()
		return fmt.Errorf("configure session: %w", err)
	}

	connID := newConnectionID()
	pumpCtx, cancel := context.WithCancel(logger.WithConnectionID(m.life, connID))

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		cancel()
		_ = ch.Close()
		return ErrSessionClosed
	}
	if m.connected.Load() {
		// A concurrent Connect won; keep its channel.
		m.mu.Unlock()
		cancel()
		_ = ch.Close()
		return nil
	}
	m.channel = ch
	m.connID = connID
	m.pumpCancel = cancel
	m.metrics.connectionStarted(time.Now())
	m.connected.Store(true)
	m.wg.Add(2)
	m.mu.Unlock()

	go m.pump(pumpCtx, ch)
	go m.heartbeat(pumpCtx)

	logger.InfoContext(pumpCtx, "Realtime session: connected", "attempt", attempt)
	m.notifyStatus(true)
	m.publish(events.EventSessionConnected, &events.ConnectionEventData{Attempts: attempt})
	return nil
}

func newConnectionID() string {
	return fmt.Sprintf("conn_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}

func (m *Manager) pump(ctx context.Context, ch Channel) {
	defer m.wg.Done()

	stream := ch.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				m.streamEnded(ctx, ch)
				return
			}
			m.safeHandle(ctx, ch, ev)
		}
	}
}

func (m *Manager) streamEnded(ctx context.Context, ch Channel) {
	if ctx.Err() != nil || m.closed.Load() {
		return
	}
	err := ch.Err()
	if err == nil {
		err = ErrStreamClosed
	}
	m.metrics.error()
	logger.WarnContext(ctx, "Realtime session: event stream ended", "error", err)
	m.reportError(err)
	m.publish(events.EventStreamInterrupted, &events.ProviderErrorData{Message: err.Error(), Error: err})
	go m.reconnect(ch)
}

// safeHandle processes one event. A failure is logged and counted and never
// stops the pump.
func (m *Manager) safeHandle(ctx context.Context, ch Channel, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.error()
			logger.ErrorContext(ctx, "Realtime session: panic while handling event",
				"kind", ev.Kind, "panic", r)
		}
	}()

	if err := m.handleEvent(ctx, ch, ev); err != nil {
		m.metrics.error()
		logger.ErrorContext(ctx, "Realtime session: failed to handle event",
			"kind", ev.Kind, "type", ev.Type, "error", err)
		m.reportError(err)
	}
}

func (m *Manager) handleEvent(ctx context.Context, ch Channel, ev Event) error {
	m.metrics.received()

	switch ev.Kind {
	case EventError:
		m.handleProviderError(ctx, ev.Error)
	case EventSessionCreated:
		logger.InfoContext(ctx, "Realtime session: session created", "event_id", ev.EventID)
	case EventSpeechStarted:
		logger.DebugContext(ctx, "Realtime session: speech started")
	case EventSpeechStopped:
		logger.DebugContext(ctx, "Realtime session: speech stopped")
	case EventItemCreated:
		if ev.Role == "user" {
			for _, part := range ev.Parts {
				if part.Type == "input_text" && part.Text != "" && m.callbacks.OnTranscript != nil {
					m.callbacks.OnTranscript(part.Text)
				}
			}
		}
	case EventInputTranscription:
		if ev.Transcript != "" && m.callbacks.OnTranscript != nil {
			m.callbacks.OnTranscript(ev.Transcript)
		}
	case EventAudioDelta:
		return m.handleAudioDelta(ctx, ev.Delta)
	case EventTextDelta, EventAudioTranscriptDelta:
		if ev.Delta != "" && m.callbacks.OnResponseText != nil {
			m.callbacks.OnResponseText(ev.Delta)
		}
	case EventFunctionCall:
		return m.handleFunctionCall(ctx, ch, ev.Call)
	case EventResponseDone:
		logger.DebugContext(ctx, "Realtime session: response done")
	default:
		logger.DebugContext(ctx, "Realtime session: unhandled event", "type", ev.Type)
	}
	return nil
}

func (m *Manager) handleProviderError(ctx context.Context, perr *ProviderError) {
	m.metrics.error()
	if perr == nil {
		perr = &ProviderError{Message: "unknown error"}
	}
	logger.WarnContext(ctx, "Realtime session: provider error",
		"type", perr.Type, "code", perr.Code, "message", perr.Message)
	m.publish(events.EventProviderError, &events.ProviderErrorData{
		Code: perr.Code, Message: perr.Message, Error: perr,
	})
}

func (m *Manager) handleAudioDelta(ctx context.Context, delta string) error {
	pcm, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		return fmt.Errorf("decode audio delta: %w", err)
	}
	if frame := m.audio.Append(pcm); frame != nil {
		m.emitAudio(ctx, frame, false)
	}
	return nil
}

func (m *Manager) emitAudio(ctx context.Context, frame []byte, final bool) {
	if m.callbacks.OnAudio != nil {
		m.callbacks.OnAudio(frame)
	}
	logger.DebugContext(ctx, "Realtime session: audio flushed", "bytes", len(frame), "final", final)
	m.publish(events.EventAudioFlushed, &events.AudioEventData{Bytes: len(frame), Final: final})
}

// handleFunctionCall resolves one tool call and replies before the pump moves
// on, so every call ID gets exactly one output.
func (m *Manager) handleFunctionCall(ctx context.Context, ch Channel, call *ToolCallRequest) error {
	if call == nil {
		return errors.New("function call event without call")
	}
	m.metrics.functionCall()
	start := time.Now()

	callCtx := ctx
	if m.toolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.toolTimeout)
		defer cancel()
	}
	result := m.dispatcher.Dispatch(callCtx, tools.ToolCall{
		Name: call.Name,
		Args: call.Arguments,
		ID:   call.CallID,
	})

	if err := ch.SendFunctionOutput(ctx, call.CallID, string(result.Result)); err != nil {
		return fmt.Errorf("send function output for %s: %w", call.CallID, err)
	}
	m.metrics.sent(1)
	m.metrics.observeLatency(time.Since(start))

	if err := ch.CreateResponse(ctx); err != nil {
		return fmt.Errorf("request response after %s: %w", call.CallID, err)
	}
	m.metrics.sent(1)
	return nil
}

// reconnect replaces a dead channel. Concurrent triggers collapse into one,
// and a trigger for a channel that was already replaced is ignored.
func (m *Manager) reconnect(stale Channel) {
	if !m.reconnecting.CompareAndSwap(false, true) {
		logger.DebugContext(m.life, "Realtime session: reconnect already in progress")
		return
	}
	defer m.reconnecting.Store(false)

	if m.closed.Load() {
		return
	}

	m.mu.Lock()
	if m.channel != stale {
		m.mu.Unlock()
		logger.DebugContext(m.life, "Realtime session: ignoring reconnect for a replaced channel")
		if stale != nil {
			_ = stale.Close()
		}
		return
	}
	m.connected.Store(false)
	if m.pumpCancel != nil {
		m.pumpCancel()
		m.pumpCancel = nil
	}
	m.channel = nil
	m.mu.Unlock()
	if stale != nil {
		_ = stale.Close()
	}
	m.notifyStatus(false)

	m.metrics.reconnect()
	logger.InfoContext(m.life, "Realtime session: reconnecting")
	m.publish(events.EventSessionReconnecting, &events.ConnectionEventData{})

	if err := m.Connect(m.life); err != nil && !m.closed.Load() {
		logger.ErrorContext(m.life, "Realtime session: reconnect failed", "error", err)
		m.reportError(err)
	}
}

// IsReconnecting reports whether a reconnect cycle is running.
func (m *Manager) IsReconnecting() bool { return m.reconnecting.Load() }

func (m *Manager) heartbeat(ctx context.Context) {
	defer m.wg.Done()
	if m.heartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.metrics.snapshot()
			logger.DebugContext(ctx, "Realtime session: heartbeat",
				"sent", snap.MessagesSent, "received", snap.MessagesReceived)
			m.saveSnapshot(ctx, snap)
		}
	}
}

// currentChannel returns the live channel, or nil.
func (m *Manager) currentChannel() Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected.Load() {
		return nil
	}
	return m.channel
}

// SendAudio streams microphone PCM to the provider. It is a no-op returning
// ErrNotConnected while disconnected. Failed sends are retried; exhaustion
// is reported through OnError and returned, and the session stays up.
func (m *Manager) SendAudio(ctx context.Context, pcm []byte) error {
	ch := m.currentChannel()
	if ch == nil {
		logger.WarnContext(ctx, "Realtime session: not connected, dropping audio", "bytes", len(pcm))
		return ErrNotConnected
	}
	if len(pcm) == 0 {
		return nil
	}

	var err error
retry:
	for attempt := 1; ; attempt++ {
		if err = ch.AppendAudio(ctx, pcm); err == nil {
			m.metrics.sent(1)
			return nil
		}
		if attempt >= m.sendAttempts {
			break
		}
		logger.DebugContext(ctx, "Realtime session: audio send failed, retrying",
			"attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break retry
		case <-time.After(time.Duration(attempt) * m.sendStep):
		}
	}

	err = fmt.Errorf("send audio: %w", err)
	m.metrics.error()
	logger.ErrorContext(ctx, "Realtime session: failed to send audio", "error", err)
	m.reportError(err)
	return err
}

// SendText adds a user message and asks the model to respond.
func (m *Manager) SendText(ctx context.Context, text string) error {
	ch := m.currentChannel()
	if ch == nil {
		logger.WarnContext(ctx, "Realtime session: not connected, dropping text")
		return ErrNotConnected
	}

	if err := ch.CreateMessage(ctx, "user", text); err != nil {
		return m.sendFailed(ctx, fmt.Errorf("send text: %w", err))
	}
	if err := ch.CreateResponse(ctx); err != nil {
		m.metrics.sent(1)
		return m.sendFailed(ctx, fmt.Errorf("request response: %w", err))
	}
	m.metrics.sent(2)
	return nil
}

func (m *Manager) sendFailed(ctx context.Context, err error) error {
	m.metrics.error()
	logger.ErrorContext(ctx, "Realtime session: send failed", "error", err)
	m.reportError(err)
	return err
}

// Disconnect ends the session. Buffered audio is flushed to OnAudio before
// the channel closes. It is safe to call repeatedly and from any state.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed.Swap(true) {
		m.mu.Unlock()
		return nil
	}
	wasConnected := m.connected.Swap(false)
	ch := m.channel
	m.channel = nil
	if m.pumpCancel != nil {
		m.pumpCancel()
		m.pumpCancel = nil
	}
	connID := m.connID
	m.mu.Unlock()

	m.lifeCancel()
	m.wg.Wait()

	ctx = logger.WithConnectionID(logger.WithSessionID(ctx, m.sessionID), connID)
	if frame := m.audio.Drain(); frame != nil {
		m.emitAudio(ctx, frame, true)
	}

	var closeErr error
	if ch != nil {
		closeErr = ch.Close()
	}
	if wasConnected || ch != nil {
		m.notifyStatus(false)
	}

	snap := m.metrics.snapshot()
	logger.InfoContext(ctx, "Realtime session: disconnected",
		"messages_sent", snap.MessagesSent,
		"messages_received", snap.MessagesReceived,
		"errors", snap.Errors,
		"reconnects", snap.Reconnects,
		"function_calls", snap.FunctionCalls,
		"average_latency", snap.AverageLatency,
		"uptime_seconds", snap.UptimeSeconds)
	m.saveSnapshot(ctx, snap)
	m.publish(events.EventSessionDisconnected, &events.ConnectionEventData{
		Uptime: time.Duration(snap.UptimeSeconds * float64(time.Second)),
	})

	if closeErr != nil {
		return fmt.Errorf("close channel: %w", closeErr)
	}
	return nil
}

func (m *Manager) saveSnapshot(ctx context.Context, snap Metrics) {
	if m.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()

	err := m.snapshots.Save(ctx, &statestore.Snapshot{
		SessionID:        m.sessionID,
		ConnectionID:     m.ConnectionID(),
		Connected:        m.connected.Load(),
		MessagesSent:     snap.MessagesSent,
		MessagesReceived: snap.MessagesReceived,
		Errors:           snap.Errors,
		Reconnects:       snap.Reconnects,
		FunctionCalls:    snap.FunctionCalls,
		AverageLatency:   snap.AverageLatency,
		UptimeSeconds:    snap.UptimeSeconds,
		ConnectionStart:  snap.ConnectionStart,
	})
	if err != nil {
		logger.WarnContext(ctx, "Realtime session: failed to save metrics snapshot", "error", err)
	}
}

func (m *Manager) notifyStatus(connected bool) {
	if m.callbacks.OnConnectionStatus != nil {
		m.callbacks.OnConnectionStatus(connected)
	}
}

func (m *Manager) reportError(err error) {
	if m.callbacks.OnError != nil {
		m.callbacks.OnError(err)
	}
}

func (m *Manager) publish(t events.EventType, data events.EventData) {
	m.bus.Publish(events.NewEvent(t, m.sessionID, m.ConnectionID(), data))
}
