// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

package agenttest

import (
	"context"
	"sync"

	"github.com/rumbo-ai/rumbo/pkg/core"
)

// EventCollector records semantic events for later assertions. Safe for
// concurrent use.
type EventCollector struct {
	mu     sync.Mutex
	events []core.Event
}

// NewEventCollector creates an empty collector.
func NewEventCollector() *EventCollector {
	return &EventCollector{}
}

// Emit implements core.EventEmitter.
func (c *EventCollector) Emit(_ context.Context, event core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns a copy of the recorded events in order.
func (c *EventCollector) Events() []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Event(nil), c.events...)
}

// Types returns the recorded event types in order.
func (c *EventCollector) Types() []core.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]core.EventType, 0, len(c.events))
	for _, e := range c.events {
		types = append(types, e.Type)
	}
	return types
}

// Count returns how many events of the given type were recorded.
func (c *EventCollector) Count(eventType core.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

var _ core.EventEmitter = (*EventCollector)(nil)
