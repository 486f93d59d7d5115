// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

// Package journey models bounded conversational workflows as directed state
// graphs with natural-language transition conditions.
package journey

import (
	"github.com/rumbo-ai/rumbo/pkg/guideline"
)

// StateKind classifies a journey state.
type StateKind string

const (
	// KindInitial is the single entry state of a journey.
	KindInitial StateKind = "initial"

	// KindChat renders a response guided by an instruction template.
	KindChat StateKind = "chat"

	// KindTool invokes a registered tool before the turn's visible output.
	KindTool StateKind = "tool"

	// KindTerminal ends the journey.
	KindTerminal StateKind = "terminal"
)

// State is a node in a journey graph. Immutable once the journey is built.
type State struct {
	ID   string
	Kind StateKind

	// Instruction guides response generation for chat states.
	Instruction string

	// ToolID references a registered tool for tool states.
	ToolID string
}

// Transition is a directed, optionally conditioned edge. An empty Condition
// is the unconditional fallback, always evaluated last.
type Transition struct {
	From      string
	To        string
	Condition string
}

// Journey is a finalized, validated state graph. It exclusively owns its
// states and transitions; after Finalize it is immutable and safely shared
// read-only across sessions.
type Journey struct {
	id         string
	title      string
	conditions []string
	states     map[string]State
	order      []string
	outgoing   map[string][]Transition
	initial    string
	guidelines []guideline.Guideline
}

// ID returns the journey identifier.
func (j *Journey) ID() string { return j.id }

// Title returns the journey title.
func (j *Journey) Title() string { return j.title }

// Conditions returns the applicability conditions. The journey applies when
// any of them holds.
func (j *Journey) Conditions() []string {
	return append([]string(nil), j.conditions...)
}

// Initial returns the entry state.
func (j *Journey) Initial() State { return j.states[j.initial] }

// State returns a state by id.
func (j *Journey) State(id string) (State, bool) {
	s, ok := j.states[id]
	return s, ok
}

// States returns all states in declaration order.
func (j *Journey) States() []State {
	states := make([]State, 0, len(j.order))
	for _, id := range j.order {
		states = append(states, j.states[id])
	}
	return states
}

// Outgoing returns the transitions leaving a state, in declaration order.
func (j *Journey) Outgoing(id string) []Transition {
	return append([]Transition(nil), j.outgoing[id]...)
}

// Guidelines returns the journey-local guidelines.
func (j *Journey) Guidelines() []guideline.Guideline {
	return append([]guideline.Guideline(nil), j.guidelines...)
}
