package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonaustin10/arnoldaibackend/logger"
	"github.com/wilsonaustin10/arnoldaibackend/session"
)

const (
	defaultPingInterval = 25 * time.Second
	clientWriteWait     = 10 * time.Second
	outboundBuffer      = 256
	disconnectTimeout   = 10 * time.Second
)

// Client control and notification message types.
const (
	msgTextInput    = "text_input"
	msgStop         = "stop"
	msgTranscript   = "transcript"
	msgResponseText = "response_text"
	msgError        = "error"
	msgStatus       = "status"
)

// clientMessage is a JSON control frame sent by the client.
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverMessage is a JSON notification frame sent to the client.
type serverMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Message   string `json:"message,omitempty"`
	Connected *bool  `json:"connected,omitempty"`
}

type outFrame struct {
	messageType int
	data        []byte
}

// clientConn bridges one client websocket and its voice session. The writer
// goroutine is the only one that writes to the socket.
type clientConn struct {
	conn         *websocket.Conn
	sess         Session
	pingInterval time.Duration

	out        chan outFrame
	finish     chan struct{}
	finishOnce sync.Once
	stopped    chan struct{} // closed when the writer exits
}

func newClientConn(conn *websocket.Conn, pingInterval time.Duration) *clientConn {
	return &clientConn{
		conn:         conn,
		pingInterval: pingInterval,
		out:          make(chan outFrame, outboundBuffer),
		finish:       make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// handleStream upgrades to a websocket and runs a voice session for the
// client. Binary frames are PCM16 audio; text frames are JSON control
// messages.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "Websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(s.maxFrameSize)

	c := newClientConn(conn, s.pingInterval)
	c.sess = s.factory(c.callbacks())
	ctx := logger.WithSessionID(r.Context(), c.sess.SessionID())

	s.track(c)
	defer s.untrack(c)

	logger.InfoContext(ctx, "Client stream connected")
	go c.writeLoop(ctx)
	c.serve(ctx, s.newLimiter())
	logger.InfoContext(ctx, "Client stream closed")
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.framesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.framesPerSecond), max(s.frameBurst, 1))
}

func (c *clientConn) callbacks() session.Callbacks {
	return session.Callbacks{
		OnAudio: func(pcm []byte) {
			c.enqueue(websocket.BinaryMessage, pcm)
		},
		OnTranscript: func(text string) {
			c.sendJSON(serverMessage{Type: msgTranscript, Text: text})
		},
		OnResponseText: func(text string) {
			c.sendJSON(serverMessage{Type: msgResponseText, Text: text})
		},
		OnError: func(err error) {
			c.sendError(err.Error())
		},
		OnConnectionStatus: func(connected bool) {
			c.sendJSON(serverMessage{Type: msgStatus, Connected: &connected})
		},
	}
}

func (c *clientConn) serve(ctx context.Context, limiter *rate.Limiter) {
	defer c.close(ctx)

	if err := c.sess.Connect(ctx); err != nil {
		logger.ErrorContext(ctx, "Realtime session failed to connect", "error", err)
		c.sendError(err.Error())
		return
	}
	c.readLoop(ctx, limiter)
}

func (c *clientConn) readLoop(ctx context.Context, limiter *rate.Limiter) {
	var readWait time.Duration
	if c.pingInterval > 0 {
		readWait = 2*c.pingInterval + clientWriteWait
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(readWait))
		})
	}

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!c.finishing() {
				logger.WarnContext(ctx, "Client stream read failed", "error", err)
			}
			return
		}
		if readWait > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			// Failures reach the client through OnError.
			_ = c.sess.SendAudio(ctx, data)
		case websocket.TextMessage:
			if stop := c.handleControl(ctx, data); stop {
				return
			}
		}
	}
}

// handleControl applies one control message and reports whether the client
// asked to stop.
func (c *clientConn) handleControl(ctx context.Context, data []byte) bool {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid control message")
		return false
	}

	switch msg.Type {
	case msgTextInput:
		if msg.Text == "" {
			c.sendError("text_input requires text")
			return false
		}
		if err := c.sess.SendText(ctx, msg.Text); errors.Is(err, session.ErrNotConnected) {
			c.sendError("session is not connected")
		}
	case msgStop:
		logger.InfoContext(ctx, "Client requested stop")
		return true
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
	return false
}

func (c *clientConn) sendError(message string) {
	c.sendJSON(serverMessage{Type: msgError, Message: logger.RedactSensitiveData(message)})
}

func (c *clientConn) sendJSON(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(websocket.TextMessage, data)
}

// enqueue hands a frame to the writer. Frames are dropped once the writer
// has exited.
func (c *clientConn) enqueue(messageType int, data []byte) {
	select {
	case c.out <- outFrame{messageType: messageType, data: data}:
	case <-c.stopped:
	}
}

func (c *clientConn) writeLoop(ctx context.Context) {
	defer close(c.stopped)

	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case f := <-c.out:
			if err := c.write(f.messageType, f.data); err != nil {
				logger.DebugContext(ctx, "Client stream write failed", "error", err)
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.finish:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, then the close frame.
func (c *clientConn) flush() {
	for {
		select {
		case f := <-c.out:
			if err := c.write(f.messageType, f.data); err != nil {
				return
			}
		default:
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *clientConn) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(clientWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *clientConn) finishing() bool {
	select {
	case <-c.finish:
		return true
	default:
		return false
	}
}

// close ends the session, lets the writer deliver everything queued
// (including the final audio flush) and closes the socket.
func (c *clientConn) close(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()

	if err := c.sess.Disconnect(dctx); err != nil {
		logger.WarnContext(ctx, "Realtime session disconnect failed", "error", err)
	}
	c.finishOnce.Do(func() { close(c.finish) })
	<-c.stopped
	_ = c.conn.Close()
}

// shutdown is close driven by server shutdown; it also unblocks the reader.
func (c *clientConn) shutdown(ctx context.Context) error {
	err := c.sess.Disconnect(ctx)
	c.finishOnce.Do(func() { close(c.finish) })
	select {
	case <-c.stopped:
	case <-ctx.Done():
	}
	_ = c.conn.Close()
	return err
}
