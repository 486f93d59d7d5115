// Package core holds types shared across the Rumbo runtime.
package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted during turn processing.
type EventType string

const (
	EventJourneySelected EventType = "journey.selected"
	EventJourneyEnded    EventType = "journey.ended"
	EventStateEntered    EventType = "state.entered"
	EventToolInvoked     EventType = "tool.invoked"
	EventTurnCompleted   EventType = "turn.completed"
	EventTurnFailed      EventType = "turn.failed"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	Agent     string
	SessionID string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds a default event with timestamp.
func NewEvent(eventType EventType, agent string, sessionID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Agent:     agent,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
