// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

// Package session provides conversation history and journey position storage.
package session

import (
	"context"
	"strings"
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn represents a single entry in a conversation history: a user message,
// an agent reply, or a structured tool result.
type Turn struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	ToolID    string            `json:"tool_id,omitempty"`
	ToolData  map[string]any    `json:"tool_data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Position marks where a session currently is inside a journey.
// A zero Position means no journey is active.
type Position struct {
	JourneyID string `json:"journey_id"`
	StateID   string `json:"state_id"`
}

// Active reports whether a journey is in progress.
func (p Position) Active() bool { return p.JourneyID != "" }

// Conversation is a snapshot of a session's ordered history, taken at turn
// start. Condition and guideline evaluation for a turn observe this snapshot
// only; it is never mutated by concurrent work.
type Conversation struct {
	SessionID string
	Turns     []Turn
}

// LastUserMessage returns the content of the most recent user turn.
func (c Conversation) LastUserMessage() string {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleUser {
			return c.Turns[i].Content
		}
	}
	return ""
}

// LastToolData returns the payload of the most recent tool turn, or nil.
func (c Conversation) LastToolData() map[string]any {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleTool {
			return c.Turns[i].ToolData
		}
	}
	return nil
}

// Transcript renders the conversation as prompt-ready text.
func (c Conversation) Transcript() string {
	var b strings.Builder
	for _, turn := range c.Turns {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// WithNote returns a copy of the conversation with an extra turn appended.
// The receiver is left untouched; the engine uses this to surface transient
// facts (e.g. a tool failure) to condition evaluation without committing
// them to the session history.
func (c Conversation) WithNote(role, content string) Conversation {
	turns := make([]Turn, len(c.Turns), len(c.Turns)+1)
	copy(turns, c.Turns)
	turns = append(turns, Turn{
		SessionID: c.SessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return Conversation{SessionID: c.SessionID, Turns: turns}
}

// Store persists conversation history and journey positions per session.
// Implementations must be safe for concurrent use across sessions.
type Store interface {
	// AppendTurn adds a turn to the session history.
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error

	// Turns retrieves all turns for a session, ordered by creation time.
	Turns(ctx context.Context, sessionID string) ([]Turn, error)

	// Position returns the session's current journey position.
	Position(ctx context.Context, sessionID string) (Position, error)

	// SetPosition updates the session's journey position.
	SetPosition(ctx context.Context, sessionID string, pos Position) error

	// Clear removes all state for a session.
	Clear(ctx context.Context, sessionID string) error
}

// Load builds a conversation snapshot plus current position for a session.
func Load(ctx context.Context, store Store, sessionID string) (Conversation, Position, error) {
	turns, err := store.Turns(ctx, sessionID)
	if err != nil {
		return Conversation{}, Position{}, err
	}
	pos, err := store.Position(ctx, sessionID)
	if err != nil {
		return Conversation{}, Position{}, err
	}
	return Conversation{SessionID: sessionID, Turns: turns}, pos, nil
}
