// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

package journey

import (
	"fmt"
	"strings"

	"github.com/rumbo-ai/rumbo/pkg/errors"
	"github.com/rumbo-ai/rumbo/pkg/guideline"
	"github.com/rumbo-ai/rumbo/pkg/tool"
)

// Builder assembles a journey graph declaratively. Construction is
// append-only; validation is deferred to Finalize so no partially-valid live
// graph ever escapes.
type Builder struct {
	id          string
	title       string
	conditions  []string
	states      []State
	transitions []Transition
	guidelines  []guideline.Guideline
}

// NewBuilder starts a journey definition. conditions decide whether the
// journey applies to a conversation (any-of semantics).
func NewBuilder(id, title string, conditions ...string) *Builder {
	return &Builder{
		id:         id,
		title:      title,
		conditions: conditions,
	}
}

// AddInitialState declares the journey entry state.
func (b *Builder) AddInitialState(id string) string {
	b.states = append(b.states, State{ID: id, Kind: KindInitial})
	return id
}

// AddChatState declares a chat state with its instruction template.
func (b *Builder) AddChatState(id, instruction string) string {
	b.states = append(b.states, State{ID: id, Kind: KindChat, Instruction: instruction})
	return id
}

// AddToolState declares a tool-invocation state referencing a registered tool.
func (b *Builder) AddToolState(id, toolID string) string {
	b.states = append(b.states, State{ID: id, Kind: KindTool, ToolID: toolID})
	return id
}

// AddTerminalState declares a journey exit state.
func (b *Builder) AddTerminalState(id string) string {
	b.states = append(b.states, State{ID: id, Kind: KindTerminal})
	return id
}

// AddTransition declares an edge. An empty condition makes it the
// unconditional fallback for its source state.
func (b *Builder) AddTransition(from, to, condition string) {
	b.transitions = append(b.transitions, Transition{From: from, To: to, Condition: condition})
}

// AddGuideline declares a journey-local guideline.
func (b *Builder) AddGuideline(condition, action string) {
	b.guidelines = append(b.guidelines, guideline.Guideline{
		Condition: condition,
		Action:    action,
		Scope:     guideline.Journey(b.id),
	})
}

// Finalize validates the accumulated definition and returns an immutable
// Journey. All violations are reported together so a journey definition can
// be fixed in one pass. Tool references are checked against reg.
func (b *Builder) Finalize(reg *tool.Registry) (*Journey, error) {
	var violations []string

	if b.id == "" {
		violations = append(violations, "journey id is required")
	}

	states := make(map[string]State, len(b.states))
	var order []string
	var initial string
	initialCount := 0
	for _, s := range b.states {
		if s.ID == "" {
			violations = append(violations, "state id is required")
			continue
		}
		if _, dup := states[s.ID]; dup {
			violations = append(violations, fmt.Sprintf("duplicate state id %q", s.ID))
			continue
		}
		states[s.ID] = s
		order = append(order, s.ID)
		if s.Kind == KindInitial {
			initial = s.ID
			initialCount++
		}
	}

	switch {
	case initialCount == 0:
		violations = append(violations, "journey has no initial state")
	case initialCount > 1:
		violations = append(violations, fmt.Sprintf("journey has %d initial states, want exactly 1", initialCount))
	}

	outgoing := make(map[string][]Transition, len(states))
	for _, t := range b.transitions {
		if _, ok := states[t.From]; !ok {
			violations = append(violations, fmt.Sprintf("transition from unknown state %q", t.From))
			continue
		}
		if _, ok := states[t.To]; !ok {
			violations = append(violations, fmt.Sprintf("transition to unknown state %q", t.To))
			continue
		}
		outgoing[t.From] = append(outgoing[t.From], t)
	}

	for id, ts := range outgoing {
		if states[id].Kind == KindTerminal {
			violations = append(violations, fmt.Sprintf("terminal state %q has outgoing transitions", id))
		}
		for i, t := range ts {
			if t.Condition == "" && i != len(ts)-1 {
				violations = append(violations, fmt.Sprintf("state %q: unconditional transition must be declared last", id))
				break
			}
		}
	}

	for _, s := range b.states {
		if s.Kind != KindTool {
			continue
		}
		if s.ToolID == "" {
			violations = append(violations, fmt.Sprintf("tool state %q has no tool reference", s.ID))
			continue
		}
		if reg == nil || !reg.Has(s.ToolID) {
			violations = append(violations, fmt.Sprintf("tool state %q references unregistered tool %q", s.ID, s.ToolID))
		}
	}

	if initialCount == 1 {
		reached := reachableFrom(initial, outgoing)
		for _, id := range order {
			if !reached[id] {
				violations = append(violations, fmt.Sprintf("state %q is unreachable from the initial state", id))
			}
		}
	}

	if len(violations) > 0 {
		return nil, errors.New(errors.CodeGraphValidation,
			fmt.Sprintf("journey %q failed validation: %s", b.id, strings.Join(violations, "; ")), nil).
			WithContext("violations", violations).
			WithAttribute("journey.id", b.id)
	}

	return &Journey{
		id:         b.id,
		title:      b.title,
		conditions: append([]string(nil), b.conditions...),
		states:     states,
		order:      order,
		outgoing:   outgoing,
		initial:    initial,
		guidelines: append([]guideline.Guideline(nil), b.guidelines...),
	}, nil
}

func reachableFrom(start string, outgoing map[string][]Transition) map[string]bool {
	reached := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, t := range outgoing[id] {
			if !reached[t.To] {
				reached[t.To] = true
				stack = append(stack, t.To)
			}
		}
	}
	return reached
}

// ValidationViolations extracts the violation list from a graph validation
// error, or nil if err is not one.
func ValidationViolations(err error) []string {
	re := errors.AsRumboError(err)
	if re == nil || re.Code != errors.CodeGraphValidation {
		return nil
	}
	if v, ok := re.Context["violations"].([]string); ok {
		return v
	}
	return nil
}
