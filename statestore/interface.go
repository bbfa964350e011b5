// Package statestore persists session metrics snapshots so they outlive the
// process that produced them.
package statestore

import (
	"context"
	"errors"
	"time"
)

// Store defines the interface for session snapshot storage.
type Store interface {
	// Load retrieves the latest snapshot for a session.
	Load(ctx context.Context, sessionID string) (*Snapshot, error)

	// Save persists a snapshot, replacing any previous one for the session.
	Save(ctx context.Context, snapshot *Snapshot) error

	// Delete removes a session's snapshot. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of sessions with a stored snapshot, sorted.
	List(ctx context.Context) ([]string, error)
}

// Snapshot is the persisted form of a session's metrics.
type Snapshot struct {
	SessionID        string    `json:"session_id"`
	ConnectionID     string    `json:"connection_id,omitempty"`
	Connected        bool      `json:"connected"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	Errors           int64     `json:"errors"`
	Reconnects       int64     `json:"reconnects"`
	FunctionCalls    int64     `json:"function_calls"`
	AverageLatency   float64   `json:"average_latency"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
	ConnectionStart  time.Time `json:"connection_start"`
	SavedAt          time.Time `json:"saved_at"`
}

// ErrNotFound is returned when a session has no stored snapshot.
var ErrNotFound = errors.New("session snapshot not found")

// ErrInvalidID is returned when an empty session ID is provided.
var ErrInvalidID = errors.New("invalid session ID")

// ErrInvalidSnapshot is returned when saving a nil snapshot.
var ErrInvalidSnapshot = errors.New("invalid session snapshot")
