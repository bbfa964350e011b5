package server

import (
	"errors"
	"net/http"

	"github.com/wilsonaustin10/arnoldaibackend/logger"
	"github.com/wilsonaustin10/arnoldaibackend/session"
	"github.com/wilsonaustin10/arnoldaibackend/statestore"
	"github.com/wilsonaustin10/arnoldaibackend/version"
)

const streamPath = "/realtime/stream"

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to Arnold.ai Workout Tracker API",
		"version": version.GetVersion(),
		"stream":  streamPath,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleRealtimeHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "realtime_audio"})
}

type audioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type sessionStartResponse struct {
	Status       string      `json:"status"`
	WebsocketURL string      `json:"websocket_url"`
	AudioFormat  audioFormat `json:"audio_format"`
	Instructions string      `json:"instructions"`
}

// handleSessionStart tells clients how to open the audio stream.
func (s *Server) handleSessionStart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sessionStartResponse{
		Status:       "ready",
		WebsocketURL: streamPath,
		AudioFormat: audioFormat{
			Encoding:   session.AudioFormatPCM16,
			SampleRate: session.SampleRate,
			Channels:   session.Channels,
		},
		Instructions: "Connect to the WebSocket endpoint to start streaming audio",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.snapshots.List(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "List session snapshots failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.Load(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, statestore.ErrNotFound), errors.Is(err, statestore.ErrInvalidID):
		writeDetail(w, http.StatusNotFound, "session not found")
	case err != nil:
		logger.ErrorContext(r.Context(), "Load session snapshot failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "failed to load session metrics")
	default:
		writeJSON(w, http.StatusOK, snap)
	}
}
