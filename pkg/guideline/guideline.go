// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

// Package guideline provides standing (condition, action) rules that shape
// response generation without being wired into the journey graph.
//
// Guidelines run as a side table consulted on every turn: global guidelines
// are always candidates, journey-local guidelines only while their journey is
// active. Matching guidelines surface their action text as behavioral
// directives to the next chat-state rendering; they never mutate graph
// position.
package guideline

import (
	"context"
	"sync"

	"github.com/rumbo-ai/rumbo/pkg/condition"
	"github.com/rumbo-ai/rumbo/pkg/session"
)

// Scope determines when a guideline is a candidate.
type Scope struct {
	// JourneyID restricts the guideline to one journey. Empty means global.
	JourneyID string
}

// Global is the agent-wide scope.
var Global = Scope{}

// Journey returns a journey-local scope.
func Journey(journeyID string) Scope {
	return Scope{JourneyID: journeyID}
}

// Guideline is a standing rule: when Condition holds, Action is injected as
// a directive into response generation. Guidelines are data, not code.
type Guideline struct {
	Condition string
	Action    string
	Scope     Scope
}

// Engine evaluates guideline applicability per turn.
type Engine struct {
	mu         sync.RWMutex
	guidelines []Guideline
	evaluator  condition.Evaluator
}

// NewEngine creates a guideline engine using the given evaluator.
func NewEngine(evaluator condition.Evaluator) *Engine {
	return &Engine{evaluator: evaluator}
}

// Add appends guidelines in declaration order.
func (e *Engine) Add(guidelines ...Guideline) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guidelines = append(e.guidelines, guidelines...)
}

// Applicable evaluates each candidate guideline's condition against the
// conversation snapshot and returns the satisfied ones in declaration order.
// Duplicate actions from different guidelines are all surfaced; downstream
// rendering may merge them. activeJourney is empty when no journey is active.
func (e *Engine) Applicable(ctx context.Context, convo session.Conversation, activeJourney string) ([]Guideline, error) {
	e.mu.RLock()
	candidates := make([]Guideline, 0, len(e.guidelines))
	for _, g := range e.guidelines {
		if g.Scope.JourneyID == "" || g.Scope.JourneyID == activeJourney {
			candidates = append(candidates, g)
		}
	}
	e.mu.RUnlock()

	var matched []Guideline
	for _, g := range candidates {
		ok, err := e.evaluator.Evaluate(ctx, g.Condition, convo)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, g)
		}
	}
	return matched, nil
}

// Directives returns the action texts of applicable guidelines.
func Directives(guidelines []Guideline) []string {
	actions := make([]string, 0, len(guidelines))
	for _, g := range guidelines {
		actions = append(actions, g.Action)
	}
	return actions
}
