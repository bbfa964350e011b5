package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wilsonaustin10/arnoldaibackend/internal/streaming"
	"github.com/wilsonaustin10/arnoldaibackend/logger"
	"github.com/wilsonaustin10/arnoldaibackend/session"
)

const (
	defaultEventBuffer = 64
	defaultPingPeriod  = 20 * time.Second
)

// errServerClosed is reported when the server ends the stream cleanly.
var errServerClosed = errors.New("server closed the realtime connection")

// Config configures connections to the Realtime API.
type Config struct {
	APIKey string
	// Model defaults to DefaultModel.
	Model string
	// Endpoint defaults to RealtimeAPIEndpoint. Tests point it at a local server.
	Endpoint string
	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration
	// PingInterval is the websocket keepalive period. Negative disables pings.
	PingInterval time.Duration
	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Endpoint == "" {
		c.Endpoint = RealtimeAPIEndpoint
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingPeriod
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
}

// URL returns the websocket URL including the model query parameter.
func (c Config) URL() string {
	c.defaults()
	return fmt.Sprintf("%s?model=%s", c.Endpoint, url.QueryEscape(c.Model))
}

// Ensure Channel implements session.Channel.
var _ session.Channel = (*Channel)(nil)

// Channel is a realtime session with the OpenAI Realtime API.
type Channel struct {
	conn    *streaming.Conn
	events  chan session.Event
	eventID atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// NewDialer returns a session.Dialer that opens Channels with cfg.
func NewDialer(cfg Config) session.Dialer {
	return func(ctx context.Context) (session.Channel, error) {
		return Dial(ctx, cfg)
	}
}

// Dial connects to the Realtime API and starts reading server events.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	cfg.defaults()
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", RealtimeBetaHeader)

	conn, err := streaming.Dial(ctx, streaming.ConnConfig{
		URL:         cfg.URL(),
		Headers:     headers,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("openai realtime: %w", err)
	}

	c := &Channel{
		conn:   conn,
		events: make(chan session.Event, cfg.EventBuffer),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.readLoop(cfg.EventBuffer)
	if cfg.PingInterval > 0 {
		conn.StartHeartbeat(c.ctx, cfg.PingInterval)
	}
	logger.Info("OpenAI Realtime: connected", "model", cfg.Model)
	return c, nil
}

func (c *Channel) nextEventID() string {
	return fmt.Sprintf("evt_%d", c.eventID.Add(1))
}

func (c *Channel) send(ctx context.Context, msg any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.Send(msg)
}

// Configure sends session.update built from cfg.
func (c *Channel) Configure(ctx context.Context, cfg session.Config) error {
	sc := SessionConfig{
		Modalities:              cfg.Modalities,
		Instructions:            cfg.Instructions,
		Voice:                   cfg.Voice,
		InputAudioFormat:        cfg.InputAudioFormat,
		OutputAudioFormat:       cfg.OutputAudioFormat,
		Temperature:             cfg.Temperature,
		MaxResponseOutputTokens: cfg.MaxResponseOutputTokens,
	}
	if cfg.TranscriptionModel != "" {
		sc.InputAudioTranscription = &TranscriptionConfig{Model: cfg.TranscriptionModel}
	}
	if td := cfg.TurnDetection; td != nil {
		sc.TurnDetection = &TurnDetectionConfig{
			Type:              td.Type,
			Threshold:         td.Threshold,
			PrefixPaddingMs:   td.PrefixPaddingMs,
			SilenceDurationMs: td.SilenceDurationMs,
		}
	}
	for _, tool := range cfg.Tools {
		sc.Tools = append(sc.Tools, ToolDef{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}

	logger.Debug("OpenAI Realtime: sending session.update", "tools", len(sc.Tools), "voice", sc.Voice)
	return c.send(ctx, SessionUpdateEvent{
		ClientEvent: ClientEvent{EventID: c.nextEventID(), Type: "session.update"},
		Session:     sc,
	})
}

// AppendAudio streams PCM16 audio into the input buffer.
func (c *Channel) AppendAudio(ctx context.Context, pcm []byte) error {
	return c.send(ctx, InputAudioBufferAppendEvent{
		ClientEvent: ClientEvent{EventID: c.nextEventID(), Type: "input_audio_buffer.append"},
		Audio:       base64.StdEncoding.EncodeToString(pcm),
	})
}

// CreateMessage adds a text message item to the conversation.
func (c *Channel) CreateMessage(ctx context.Context, role, text string) error {
	return c.send(ctx, ConversationItemCreateEvent{
		ClientEvent: ClientEvent{EventID: c.nextEventID(), Type: "conversation.item.create"},
		Item: ConversationItem{
			Type:    "message",
			Role:    role,
			Content: []ConversationContent{{Type: "input_text", Text: text}},
		},
	})
}

// CreateResponse asks the model to respond.
func (c *Channel) CreateResponse(ctx context.Context) error {
	return c.send(ctx, ResponseCreateEvent{
		ClientEvent: ClientEvent{EventID: c.nextEventID(), Type: "response.create"},
	})
}

// SendFunctionOutput replies to a function call.
func (c *Channel) SendFunctionOutput(ctx context.Context, callID, output string) error {
	return c.send(ctx, ConversationItemCreateEvent{
		ClientEvent: ClientEvent{EventID: c.nextEventID(), Type: "conversation.item.create"},
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
}

// Events yields translated server events until the stream ends.
func (c *Channel) Events() <-chan session.Event { return c.events }

// Err reports why the event stream ended. It is nil after Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the session.
func (c *Channel) Close() error {
	c.cancel()
	return c.conn.Close()
}

func (c *Channel) readLoop(buffer int) {
	defer close(c.events)

	msgCh := make(chan []byte, buffer)
	errCh := make(chan error, 1)
	go func() { errCh <- c.conn.ReceiveLoop(c.ctx, msgCh) }()

	for {
		select {
		case data := <-msgCh:
			if !c.deliver(data) {
				return
			}
		case err := <-errCh:
			// Deliver what was read before the stream ended.
		drain:
			for {
				select {
				case data := <-msgCh:
					if !c.deliver(data) {
						return
					}
				default:
					break drain
				}
			}
			c.finish(err)
			return
		}
	}
}

func (c *Channel) finish(err error) {
	if c.conn.IsClosed() || errors.Is(err, context.Canceled) {
		return
	}
	if err == nil {
		err = errServerClosed
	}
	logger.Warn("OpenAI Realtime: receive loop ended", "error", err)
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Channel) deliver(data []byte) bool {
	ev, ok := translate(data)
	if !ok {
		return true
	}
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// translate converts a raw server message to a session event. Unparseable
// messages are logged and skipped.
func translate(data []byte) (session.Event, bool) {
	parsed, err := ParseServerEvent(data)
	if err != nil {
		logger.Warn("OpenAI Realtime: failed to parse event", "error", err)
		return session.Event{}, false
	}

	switch e := parsed.(type) {
	case *ErrorEvent:
		return session.Event{
			Kind: session.EventError, EventID: e.EventID, Type: e.Type,
			Error: &session.ProviderError{Type: e.Error.Type, Code: e.Error.Code, Message: e.Error.Message},
		}, true
	case *SessionCreatedEvent:
		logger.Info("OpenAI Realtime: session created", "session_id", e.Session.ID, "model", e.Session.Model)
		return session.Event{Kind: session.EventSessionCreated, EventID: e.EventID, Type: e.Type}, true
	case *SpeechEvent:
		kind := session.EventSpeechStarted
		if e.Type == "input_audio_buffer.speech_stopped" {
			kind = session.EventSpeechStopped
		}
		return session.Event{Kind: kind, EventID: e.EventID, Type: e.Type}, true
	case *ConversationItemCreatedEvent:
		parts := make([]session.ContentPart, 0, len(e.Item.Content))
		for _, c := range e.Item.Content {
			text := c.Text
			if text == "" {
				text = c.Transcript
			}
			parts = append(parts, session.ContentPart{Type: c.Type, Text: text})
		}
		return session.Event{
			Kind: session.EventItemCreated, EventID: e.EventID, Type: e.Type,
			Role: e.Item.Role, Parts: parts,
		}, true
	case *InputTranscriptionCompletedEvent:
		return session.Event{
			Kind: session.EventInputTranscription, EventID: e.EventID, Type: e.Type,
			Transcript: e.Transcript,
		}, true
	case *DeltaEvent:
		kind := session.EventTextDelta
		switch e.Type {
		case "response.audio.delta":
			kind = session.EventAudioDelta
		case "response.audio_transcript.delta":
			kind = session.EventAudioTranscriptDelta
		}
		return session.Event{Kind: kind, EventID: e.EventID, Type: e.Type, Delta: e.Delta}, true
	case *FunctionCallArgumentsDoneEvent:
		args := json.RawMessage(e.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return session.Event{
			Kind: session.EventFunctionCall, EventID: e.EventID, Type: e.Type,
			Call: &session.ToolCallRequest{
				CallID:     e.CallID,
				Name:       e.Name,
				Arguments:  args,
				ReceivedAt: time.Now(),
			},
		}, true
	case *ResponseDoneEvent:
		if u := e.Response.Usage; u != nil {
			logger.Debug("OpenAI Realtime: response done",
				"status", e.Response.Status, "input_tokens", u.InputTokens, "output_tokens", u.OutputTokens)
		}
		return session.Event{Kind: session.EventResponseDone, EventID: e.EventID, Type: e.Type}, true
	case *ServerEvent:
		return session.Event{Kind: session.EventOther, EventID: e.EventID, Type: e.Type}, true
	}
	return session.Event{}, false
}
