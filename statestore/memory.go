package statestore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation of the Store interface.
// It is safe for concurrent use and suited to tests and single-instance deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	now       func() time.Time
}

// NewMemoryStore creates a new in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
		now:       time.Now,
	}
}

// Load returns a copy of the stored snapshot.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (*Snapshot, error) {
	if sessionID == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &snap, nil
}

// Save stores a copy of snapshot and stamps SavedAt.
func (s *MemoryStore) Save(_ context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return ErrInvalidSnapshot
	}
	if snapshot.SessionID == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot.SavedAt = s.now()
	s.snapshots[snapshot.SessionID] = *snapshot
	return nil
}

// Delete removes a session's snapshot.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	return nil
}

// List returns the stored session IDs in sorted order.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
