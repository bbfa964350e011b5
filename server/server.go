// Package server exposes Arnold over HTTP: the client audio websocket, the
// workouts REST API, health and session discovery endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilsonaustin10/arnoldaibackend/logger"
	"github.com/wilsonaustin10/arnoldaibackend/session"
	"github.com/wilsonaustin10/arnoldaibackend/statestore"
	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

const (
	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultIdleTimeout is the keep-alive idle limit for REST clients.
	defaultIdleTimeout = 120 * time.Second

	// defaultMaxBodySize caps REST request bodies (1 MB).
	defaultMaxBodySize int64 = 1 << 20

	// defaultMaxFrameSize caps inbound websocket frames (1 MB).
	defaultMaxFrameSize int64 = 1 << 20

	// defaultFramesPerSecond and defaultFrameBurst throttle inbound client frames.
	defaultFramesPerSecond = 100
	defaultFrameBurst      = 50

	requestIDHeader = "X-Request-ID"
)

// Session is the per-client voice session driven by the stream handler.
// *session.Manager implements it.
type Session interface {
	SessionID() string
	Connect(ctx context.Context) error
	SendAudio(ctx context.Context, pcm []byte) error
	SendText(ctx context.Context, text string) error
	Disconnect(ctx context.Context) error
}

// SessionFactory creates a session whose output goes to cb.
type SessionFactory func(cb session.Callbacks) Session

// WorkoutStore is the workout capability behind the REST API.
type WorkoutStore interface {
	Create(ctx context.Context, in workout.Input) (*workout.Workout, error)
	Recent(ctx context.Context, limit int) ([]workout.Workout, error)
	ByExercise(ctx context.Context, exercise string, date *workout.Date) ([]workout.Workout, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithSnapshotStore serves persisted session metrics under /realtime/sessions.
func WithSnapshotStore(store statestore.Store) Option {
	return func(s *Server) { s.snapshots = store }
}

// WithAllowedOrigins restricts browser origins for /realtime/stream. Empty or
// "*" allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithInboundRate throttles client frames per connection. A non-positive rate
// disables throttling.
func WithInboundRate(framesPerSecond float64, burst int) Option {
	return func(s *Server) {
		s.framesPerSecond = framesPerSecond
		s.frameBurst = burst
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithReadHeaderTimeout sets the header read timeout. Default: 10s.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) { s.readHeaderTimeout = d }
}

// WithMaxBodySize sets the maximum allowed REST request body size in bytes.
// Default: 1 MB.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) { s.maxBodySize = n }
}

// WithMaxFrameSize sets the largest accepted client websocket frame.
func WithMaxFrameSize(n int64) Option {
	return func(s *Server) { s.maxFrameSize = n }
}

// WithPingInterval sets how often idle client sockets are pinged. Default: 25s.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// Server is the Arnold HTTP server.
type Server struct {
	factory   SessionFactory
	workouts  WorkoutStore
	snapshots statestore.Store

	allowedOrigins    []string
	framesPerSecond   float64
	frameBurst        int
	metricsHandler    http.Handler
	readHeaderTimeout time.Duration
	maxBodySize       int64
	maxFrameSize      int64
	pingInterval      time.Duration

	upgrader websocket.Upgrader

	httpSrvMu sync.Mutex
	httpSrv   *http.Server

	clientsMu sync.Mutex
	clients   map[*clientConn]struct{}
}

// New creates a Server. factory opens a voice session per websocket client.
func New(factory SessionFactory, workouts WorkoutStore, opts ...Option) *Server {
	s := &Server{
		factory:           factory,
		workouts:          workouts,
		framesPerSecond:   defaultFramesPerSecond,
		frameBurst:        defaultFrameBurst,
		readHeaderTimeout: defaultReadHeaderTimeout,
		maxBodySize:       defaultMaxBodySize,
		maxFrameSize:      defaultMaxFrameSize,
		pingInterval:      defaultPingInterval,
		clients:           make(map[*clientConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /realtime/health", s.handleRealtimeHealth)
	mux.HandleFunc("POST /realtime/session/start", s.handleSessionStart)
	mux.HandleFunc("GET /realtime/stream", s.handleStream)
	if s.snapshots != nil {
		mux.HandleFunc("GET /realtime/sessions", s.handleListSessions)
		mux.HandleFunc("GET /realtime/sessions/{id}/metrics", s.handleSessionMetrics)
	}

	mux.HandleFunc("POST /workouts", s.handleCreateWorkout)
	mux.HandleFunc("GET /workouts", s.handleQueryWorkouts)
	mux.HandleFunc("GET /workouts/recent", s.handleRecentWorkouts)

	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return otelhttp.NewHandler(withRequestID(mux), "arnold-server")
}

// withRequestID tags every request with an ID for logs and the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logger.WithRequestID(r.Context(), id)
		ctx = logger.WithClientAddr(ctx, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) newHTTPServer() *http.Server {
	// No read or write timeout: /realtime/stream connections are long-lived.
	return &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := s.newHTTPServer()

	s.httpSrvMu.Lock()
	s.httpSrv = srv
	s.httpSrvMu.Unlock()

	logger.Info("Server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then ends every live voice session.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	s.httpSrvMu.Lock()
	srv := s.httpSrv
	s.httpSrvMu.Unlock()
	if srv != nil {
		firstErr = srv.Shutdown(ctx)
	}

	// Hijacked websocket connections are not tracked by http.Server.
	s.clientsMu.Lock()
	clients := make([]*clientConn, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		if err := c.shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ActiveStreams reports the number of connected websocket clients.
func (s *Server) ActiveStreams() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *Server) track(c *clientConn) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) untrack(c *clientConn) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logger.Warn("Rejected websocket origin", "origin", origin)
	return false
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes an error body in the {"detail": ...} shape.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
