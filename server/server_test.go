package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonaustin10/arnoldaibackend/session"
	"github.com/wilsonaustin10/arnoldaibackend/statestore"
	"github.com/wilsonaustin10/arnoldaibackend/storage/memory"
	"github.com/wilsonaustin10/arnoldaibackend/tools"
	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

const waitFor = 2 * time.Second

// scriptedChannel is a provider stand-in. Audio is echoed back as audio
// deltas; a text message "log:<json>" becomes a log_workout call and any
// other text is answered with "You said: <text>".
type scriptedChannel struct {
	mu      sync.Mutex
	events  chan session.Event
	closed  bool
	pending string
	outputs []string
}

func newScriptedChannel() *scriptedChannel {
	return &scriptedChannel{events: make(chan session.Event, 64)}
}

func (c *scriptedChannel) emit(ev session.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.events <- ev
	}
}

func (c *scriptedChannel) Configure(context.Context, session.Config) error { return nil }

func (c *scriptedChannel) AppendAudio(_ context.Context, pcm []byte) error {
	c.emit(session.Event{Kind: session.EventAudioDelta, Delta: base64.StdEncoding.EncodeToString(pcm)})
	return nil
}

func (c *scriptedChannel) CreateMessage(_ context.Context, _, text string) error {
	c.mu.Lock()
	c.pending = text
	c.mu.Unlock()
	c.emit(session.Event{Kind: session.EventItemCreated, Role: "user",
		Parts: []session.ContentPart{{Type: "input_text", Text: text}}})
	return nil
}

func (c *scriptedChannel) CreateResponse(context.Context) error {
	c.mu.Lock()
	text := c.pending
	c.pending = ""
	c.mu.Unlock()

	switch {
	case text == "":
	case strings.HasPrefix(text, "log:"):
		c.emit(session.Event{Kind: session.EventFunctionCall, Call: &session.ToolCallRequest{
			CallID:     "call_1",
			Name:       tools.ToolLogWorkout,
			Arguments:  json.RawMessage(strings.TrimPrefix(text, "log:")),
			ReceivedAt: time.Now(),
		}})
	default:
		c.emit(session.Event{Kind: session.EventTextDelta, Delta: "You said: " + text})
	}
	return nil
}

func (c *scriptedChannel) SendFunctionOutput(_ context.Context, _, output string) error {
	c.mu.Lock()
	c.outputs = append(c.outputs, output)
	c.mu.Unlock()
	return nil
}

func (c *scriptedChannel) Events() <-chan session.Event { return c.events }
func (c *scriptedChannel) Err() error                   { return nil }

func (c *scriptedChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	service  *workout.Service
	mu       sync.Mutex
	managers []*session.Manager
	failDial atomic.Bool
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{service: workout.NewService(memory.New())}
	dispatcher := tools.NewDispatcher(env.service)

	factory := func(cb session.Callbacks) Session {
		dial := func(context.Context) (session.Channel, error) {
			if env.failDial.Load() {
				return nil, errors.New("dial refused")
			}
			return newScriptedChannel(), nil
		}
		m := session.NewManager(dial, dispatcher,
			session.WithCallbacks(cb),
			session.WithHeartbeatInterval(0),
			session.WithPolicy(session.Policy{
				MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
			}),
		)
		env.mu.Lock()
		env.managers = append(env.managers, m)
		env.mu.Unlock()
		return m
	}

	env.srv = New(factory, env.service, opts...)
	env.ts = httptest.NewServer(env.srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = env.srv.Shutdown(ctx)
		env.ts.Close()
	})
	return env
}

func (e *testEnv) manager(t *testing.T) *session.Manager {
	t.Helper()
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.managers) > 0
	}, waitFor, 5*time.Millisecond)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.managers[len(e.managers)-1]
}

func (e *testEnv) dialStream(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/realtime/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) do(t *testing.T, method, path string, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// readFrame reads frames until one satisfies match.
func readFrame(t *testing.T, conn *websocket.Conn, match func(mt int, data []byte) bool) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if match(mt, data) {
			return data
		}
	}
}

func jsonOfType(typ string) func(int, []byte) bool {
	return func(mt int, data []byte) bool {
		if mt != websocket.TextMessage {
			return false
		}
		var msg serverMessage
		return json.Unmarshal(data, &msg) == nil && msg.Type == typ
	}
}

func binaryFrame(mt int, _ []byte) bool { return mt == websocket.BinaryMessage }

func decodeMessage(t *testing.T, data []byte) serverMessage {
	t.Helper()
	var msg serverMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/realtime/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy","service":"realtime_audio"}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Welcome to Arnold.ai")

	resp, _ = env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/health", "")
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "req-123")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(requestIDHeader))
}

func TestSessionStart(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/realtime/session/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{
		"status": "ready",
		"websocket_url": "/realtime/stream",
		"audio_format": {"encoding": "pcm16", "sample_rate": 24000, "channels": 1},
		"instructions": "Connect to the WebSocket endpoint to start streaming audio"
	}`, string(body))
}

func TestMetricsHandlerMounted(t *testing.T) {
	env := newTestEnv(t, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("arnold_sessions_active 0\n"))
	})))

	resp, body := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "arnold_sessions_active")
}

func TestSessionSnapshotEndpoints(t *testing.T) {
	store := statestore.NewMemoryStore()
	env := newTestEnv(t, WithSnapshotStore(store))
	require.NoError(t, store.Save(context.Background(), &statestore.Snapshot{
		SessionID: "sess-1", MessagesSent: 4, FunctionCalls: 1,
	}))

	resp, body := env.do(t, http.MethodGet, "/realtime/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"sessions":["sess-1"]}`, string(body))

	resp, body = env.do(t, http.MethodGet, "/realtime/sessions/sess-1/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap statestore.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, int64(4), snap.MessagesSent)

	resp, _ = env.do(t, http.MethodGet, "/realtime/sessions/missing/metrics", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionSnapshotEndpointsDisabledWithoutStore(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/realtime/sessions", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStream_TextRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dialStream(t)

	status := decodeMessage(t, readFrame(t, conn, jsonOfType(msgStatus)))
	require.NotNil(t, status.Connected)
	assert.True(t, *status.Connected)

	sendJSON(t, conn, clientMessage{Type: msgTextInput, Text: "hello"})

	transcript := decodeMessage(t, readFrame(t, conn, jsonOfType(msgTranscript)))
	assert.Equal(t, "hello", transcript.Text)
	reply := decodeMessage(t, readFrame(t, conn, jsonOfType(msgResponseText)))
	assert.Equal(t, "You said: hello", reply.Text)

	assert.Eventually(t, func() bool {
		return env.manager(t).Metrics().MessagesSent == 2
	}, waitFor, 5*time.Millisecond)
}

func TestStream_AudioIsFlushedAtThreshold(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dialStream(t)
	readFrame(t, conn, jsonOfType(msgStatus))

	chunk := bytes.Repeat([]byte{7}, 2400)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, chunk))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, chunk))

	frame := readFrame(t, conn, binaryFrame)
	assert.Len(t, frame, session.DefaultFlushThreshold)
}

func TestStream_StopDeliversFinalFlushThenCloses(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dialStream(t)
	readFrame(t, conn, jsonOfType(msgStatus))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 100)))
	require.Eventually(t, func() bool {
		return env.manager(t).Metrics().MessagesReceived >= 1
	}, waitFor, 5*time.Millisecond)

	sendJSON(t, conn, clientMessage{Type: msgStop})

	frame := readFrame(t, conn, binaryFrame)
	assert.Len(t, frame, 100)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
	}
	assert.False(t, env.manager(t).IsConnected())
	assert.Eventually(t, func() bool { return env.srv.ActiveStreams() == 0 }, waitFor, 5*time.Millisecond)
}

func TestStream_FunctionCallLogsWorkout(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dialStream(t)
	readFrame(t, conn, jsonOfType(msgStatus))

	sendJSON(t, conn, clientMessage{
		Type: msgTextInput,
		Text: `log:{"exercise":"Push-Ups","reps":10,"weight_lbs":0,"workout_date":"2025-03-14"}`,
	})

	require.Eventually(t, func() bool {
		return env.manager(t).Metrics().FunctionCalls == 1
	}, waitFor, 5*time.Millisecond)

	resp, body := env.do(t, http.MethodGet, "/workouts?exercise=push-ups", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ws []workout.Workout
	require.NoError(t, json.Unmarshal(body, &ws))
	require.Len(t, ws, 1)
	assert.Equal(t, 10, ws[0].Reps)
	assert.Equal(t, "2025-03-14", ws[0].WorkoutDate.String())
}

func TestStream_InvalidControlMessages(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dialStream(t)
	readFrame(t, conn, jsonOfType(msgStatus))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "invalid control message",
		decodeMessage(t, readFrame(t, conn, jsonOfType(msgError))).Message)

	sendJSON(t, conn, clientMessage{Type: "dance"})
	assert.Equal(t, "unknown message type: dance",
		decodeMessage(t, readFrame(t, conn, jsonOfType(msgError))).Message)

	sendJSON(t, conn, clientMessage{Type: msgTextInput})
	assert.Equal(t, "text_input requires text",
		decodeMessage(t, readFrame(t, conn, jsonOfType(msgError))).Message)

	// The session survives bad input.
	assert.True(t, env.manager(t).IsConnected())
}

func TestStream_ConnectFailureReportsErrorAndCloses(t *testing.T) {
	env := newTestEnv(t)
	env.failDial.Store(true)
	conn := env.dialStream(t)

	msg := decodeMessage(t, readFrame(t, conn, jsonOfType(msgError)))
	assert.Contains(t, msg.Message, "dial refused")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 0, env.srv.ActiveStreams())
}

func TestStream_ClientCloseDisconnectsSession(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dialStream(t)
	readFrame(t, conn, jsonOfType(msgStatus))
	m := env.manager(t)
	require.True(t, m.IsConnected())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	assert.Eventually(t, func() bool { return !m.IsConnected() }, waitFor, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return env.srv.ActiveStreams() == 0 }, waitFor, 5*time.Millisecond)
}

func TestStream_RejectsDisallowedOrigin(t *testing.T) {
	env := newTestEnv(t, WithAllowedOrigins("https://app.arnold.ai"))
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/realtime/stream"

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://app.arnold.ai")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestShutdownEndsLiveStreams(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dialStream(t)
	readFrame(t, conn, jsonOfType(msgStatus))
	require.Equal(t, 1, env.srv.ActiveStreams())

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, env.srv.Shutdown(ctx))

	assert.False(t, env.manager(t).IsConnected())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestNewLimiter(t *testing.T) {
	unlimited := New(nil, nil, WithInboundRate(0, 0)).newLimiter()
	assert.True(t, unlimited.Allow())

	limited := New(nil, nil, WithInboundRate(1, 1)).newLimiter()
	assert.True(t, limited.Allow())
	assert.False(t, limited.Allow())
}
