package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsUpgrader is the test WebSocket upgrader.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// echoServer returns a test server that echoes WebSocket messages back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// wsURL converts an HTTP test server URL to a WebSocket URL.
func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialEcho(t *testing.T) *Conn {
	t.Helper()
	c, err := Dial(context.Background(), ConnConfig{URL: wsURL(echoServer(t))})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func receiveOne(t *testing.T, msgCh <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-msgCh:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestConn_SendAndReceiveInOrder(t *testing.T) {
	c := dialEcho(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgCh := make(chan []byte, 10)
	go func() { _ = c.ReceiveLoop(ctx, msgCh) }()

	for i := range 3 {
		require.NoError(t, c.Send(map[string]int{"seq": i}))
	}
	for i := range 3 {
		var got map[string]int
		require.NoError(t, json.Unmarshal(receiveOne(t, msgCh), &got))
		assert.Equal(t, i, got["seq"])
	}

	require.NoError(t, c.SendRaw([]byte(`{"raw":true}`)))
	assert.JSONEq(t, `{"raw":true}`, string(receiveOne(t, msgCh)))
}

func TestConn_HeadersAreSent(t *testing.T) {
	var auth, beta atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		beta.Store(r.Header.Get("OpenAI-Beta"))
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer sk-test")
	headers.Set("OpenAI-Beta", "realtime=v1")

	c, err := Dial(context.Background(), ConnConfig{URL: wsURL(srv), Headers: headers})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "Bearer sk-test", auth.Load())
	assert.Equal(t, "realtime=v1", beta.Load())
}

func TestConn_DialFailureReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), ConnConfig{URL: wsURL(srv)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	c := dialEcho(t)
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.True(t, c.IsClosed())

	assert.ErrorIs(t, c.Send(map[string]string{"a": "b"}), ErrNotConnected)
	assert.ErrorIs(t, c.SendRaw([]byte("x")), ErrNotConnected)
}

func TestConn_CloseStopsReceiveLoop(t *testing.T) {
	c := dialEcho(t)
	done := make(chan error, 1)
	go func() { done <- c.ReceiveLoop(context.Background(), make(chan []byte)) }()

	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not stop")
	}
}

func TestConn_ContextCancelStopsReceiveLoop(t *testing.T) {
	c := dialEcho(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.ReceiveLoop(ctx, make(chan []byte)) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not stop")
	}
}

func TestConn_PeerCloseEndsLoopCleanly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":1}`))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.Close()
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer c.Close()

	msgCh := make(chan []byte, 1)
	require.NoError(t, c.ReceiveLoop(context.Background(), msgCh))
	assert.JSONEq(t, `{"hello":1}`, string(<-msgCh))
}

func TestConn_AbruptPeerDropIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.UnderlyingConn().Close()
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer c.Close()

	assert.Error(t, c.ReceiveLoop(context.Background(), make(chan []byte, 1)))
}

func TestConn_Heartbeat(t *testing.T) {
	var pings atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPingHandler(func(string) error {
			pings.Add(1)
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartHeartbeat(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return pings.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestConnConfig_Defaults(t *testing.T) {
	cfg := ConnConfig{URL: "ws://example"}
	cfg.defaults()
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultWriteWait, cfg.WriteWait)
	assert.Equal(t, int64(DefaultMaxMessageSize), cfg.MaxMessageSize)
	assert.Equal(t, DefaultCloseGracePeriod, cfg.CloseGracePeriod)

	custom := ConnConfig{WriteWait: time.Second}
	custom.defaults()
	assert.Equal(t, time.Second, custom.WriteWait)
}
