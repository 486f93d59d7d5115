// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements Store with in-memory storage.
// Suitable for development, testing, and single-instance deployments.
// Data is lost on restart.
type InMemoryStore struct {
	mu        sync.RWMutex
	turns     map[string][]Turn
	positions map[string]Position
}

// NewInMemoryStore creates a new in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns:     make(map[string][]Turn),
		positions: make(map[string]Position),
	}
}

// AppendTurn adds a turn to the session history.
func (s *InMemoryStore) AppendTurn(_ context.Context, sessionID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.SessionID == "" {
		turn.SessionID = sessionID
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

// Turns retrieves all turns for a session.
func (s *InMemoryStore) Turns(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := make([]Turn, len(s.turns[sessionID]))
	copy(turns, s.turns[sessionID])
	return turns, nil
}

// Position returns the session's current journey position.
func (s *InMemoryStore) Position(_ context.Context, sessionID string) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[sessionID], nil
}

// SetPosition updates the session's journey position.
func (s *InMemoryStore) SetPosition(_ context.Context, sessionID string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[sessionID] = pos
	return nil
}

// Clear removes all state for a session.
func (s *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, sessionID)
	delete(s.positions, sessionID)
	return nil
}

var _ Store = (*InMemoryStore)(nil)
