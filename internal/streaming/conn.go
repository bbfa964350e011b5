// Package streaming provides the websocket transport used by realtime
// providers: dial with auth headers, serialized writes, an ordered receive
// loop, ping heartbeats and graceful close. Message encoding is left to the
// caller.
package streaming

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonaustin10/arnoldaibackend/logger"
)

// Default connection constants.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024 // 16MB
	DefaultCloseGracePeriod = 5 * time.Second
)

// ErrNotConnected is returned by operations on a Conn that is not open.
var ErrNotConnected = errors.New("websocket is not connected")

// ConnConfig configures the WebSocket connection behavior.
type ConnConfig struct {
	// URL is the WebSocket endpoint URL.
	URL string

	// Headers are sent during the WebSocket handshake.
	Headers http.Header

	// DialTimeout is the handshake timeout. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// WriteWait is the write deadline for each message. Defaults to DefaultWriteWait.
	WriteWait time.Duration

	// MaxMessageSize is the read limit. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	// CloseGracePeriod is the deadline for writing the close frame.
	CloseGracePeriod time.Duration
}

func (c *ConnConfig) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
}

// Conn is one client websocket connection. It is not reusable: reconnecting
// means dialing a new Conn.
type Conn struct {
	cfg ConnConfig

	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla allows one concurrent writer

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Dial opens a connection to cfg.URL.
func Dial(ctx context.Context, cfg ConnConfig) (*Conn, error) {
	cfg.defaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
		Proxy:            http.ProxyFromEnvironment,
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k := range cfg.Headers {
		headers[k] = cfg.Headers.Get(k)
	}
	logger.Dial(cfg.URL, headers)

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetReadLimit(cfg.MaxMessageSize)
	return &Conn{
		cfg:     cfg,
		conn:    conn,
		closeCh: make(chan struct{}),
	}, nil
}

// Send JSON-encodes msg and writes it as a text frame.
func (c *Conn) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

// SendRaw writes pre-encoded data as a text frame.
func (c *Conn) SendRaw(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	if c.IsClosed() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReceiveLoop reads messages in order and delivers them to msgCh until the
// peer closes, a read fails, ctx is canceled, or Close is called. A normal
// close by either side returns nil. It must be called at most once.
func (c *Conn) ReceiveLoop(ctx context.Context, msgCh chan<- []byte) error {
	// Unblock the read when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case c.IsClosed():
				return nil
			case ctx.Err() != nil:
				return ctx.Err()
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		select {
		case msgCh <- data:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeCh:
			return nil
		}
	}
}

// StartHeartbeat sends ping frames at interval until ctx ends or the
// connection closes.
func (c *Conn) StartHeartbeat(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closeCh:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					logger.Warn("WebSocket ping failed", "error", err)
					return
				}
			}
		}
	}()
}

// Close sends a close frame and closes the connection. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.CloseGracePeriod))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}
