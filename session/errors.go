package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by send operations while no channel is live.
	ErrNotConnected = errors.New("session not connected")

	// ErrConnectionFailed is matched by every *ConnectionError.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrStreamClosed is reported when the provider stream ends without an error.
	ErrStreamClosed = errors.New("provider stream closed")

	// ErrSessionClosed is returned by Connect after Disconnect.
	ErrSessionClosed = errors.New("session is closed")
)

// ConnectionError is returned by Connect once every attempt has failed.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Err)
}

// Is matches ErrConnectionFailed.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
