// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

// Package agenttest provides utilities for testing agents end to end.
//
// Scenarios script multi-turn conversations declaratively:
//
//	agenttest.NewScenario("direct lookup").
//	    Turn("北京天气怎么样",
//	        agenttest.ExpectState("report"),
//	        agenttest.ExpectToolData("location", "北京"),
//	    ).
//	    Run(t, a)
package agenttest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rumbo-ai/rumbo/pkg/agent"
)

// Expectation verifies one aspect of a turn result.
type Expectation interface {
	Check(result *agent.TurnResult) error
	Description() string
}

type expectation struct {
	desc  string
	check func(result *agent.TurnResult) error
}

func (e expectation) Check(result *agent.TurnResult) error { return e.check(result) }
func (e expectation) Description() string                  { return e.desc }

// ExpectResponseContains asserts the reply contains a substring.
func ExpectResponseContains(substr string) Expectation {
	return expectation{
		desc: fmt.Sprintf("response contains %q", substr),
		check: func(r *agent.TurnResult) error {
			if !strings.Contains(r.Response, substr) {
				return fmt.Errorf("response %q does not contain %q", r.Response, substr)
			}
			return nil
		},
	}
}

// ExpectJourney asserts the active journey after the turn.
func ExpectJourney(journeyID string) Expectation {
	return expectation{
		desc: fmt.Sprintf("journey is %q", journeyID),
		check: func(r *agent.TurnResult) error {
			if r.JourneyID != journeyID {
				return fmt.Errorf("journey %q, want %q", r.JourneyID, journeyID)
			}
			return nil
		},
	}
}

// ExpectState asserts the journey position after the turn.
func ExpectState(stateID string) Expectation {
	return expectation{
		desc: fmt.Sprintf("state is %q", stateID),
		check: func(r *agent.TurnResult) error {
			if r.StateID != stateID {
				return fmt.Errorf("state %q, want %q", r.StateID, stateID)
			}
			return nil
		},
	}
}

// ExpectToolData asserts a key/value pair in the turn's tool payload.
func ExpectToolData(key string, want any) Expectation {
	return expectation{
		desc: fmt.Sprintf("tool data %s=%v", key, want),
		check: func(r *agent.TurnResult) error {
			if r.ToolData == nil {
				return fmt.Errorf("no tool data, want %s=%v", key, want)
			}
			if got := r.ToolData[key]; got != want {
				return fmt.Errorf("tool data %s=%v, want %v", key, got, want)
			}
			return nil
		},
	}
}

// ExpectNoToolData asserts the turn invoked no tool.
func ExpectNoToolData() Expectation {
	return expectation{
		desc: "no tool data",
		check: func(r *agent.TurnResult) error {
			if r.ToolData != nil {
				return fmt.Errorf("unexpected tool data %v", r.ToolData)
			}
			return nil
		},
	}
}

// ExpectEnded asserts the journey reached a terminal state this turn.
func ExpectEnded() Expectation {
	return expectation{
		desc: "journey ended",
		check: func(r *agent.TurnResult) error {
			if !r.Ended {
				return fmt.Errorf("journey did not end (position %s/%s)", r.JourneyID, r.StateID)
			}
			return nil
		},
	}
}

type step struct {
	message      string
	expectations []Expectation
}

// Scenario scripts a multi-turn conversation against one session.
type Scenario struct {
	name      string
	sessionID string
	ctx       context.Context
	steps     []step
}

// NewScenario creates a scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:      name,
		sessionID: "scenario-session",
		ctx:       context.Background(),
	}
}

// WithSessionID sets the session the scenario runs against.
func (s *Scenario) WithSessionID(id string) *Scenario {
	s.sessionID = id
	return s
}

// WithContext sets the context for all turns.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.ctx = ctx
	return s
}

// Turn appends a user message with its expectations.
func (s *Scenario) Turn(message string, expectations ...Expectation) *Scenario {
	s.steps = append(s.steps, step{message: message, expectations: expectations})
	return s
}

// Run plays the scenario's turns in order, checking each step's
// expectations. It fails the test on the first turn error.
func (s *Scenario) Run(t *testing.T, a *agent.Agent) {
	t.Helper()
	t.Run(s.name, func(t *testing.T) {
		for i, st := range s.steps {
			result, err := a.HandleTurn(s.ctx, s.sessionID, st.message)
			if err != nil {
				t.Fatalf("turn %d (%q) failed: %v", i+1, st.message, err)
			}
			for _, exp := range st.expectations {
				if cerr := exp.Check(result); cerr != nil {
					t.Errorf("turn %d (%q): %s: %v", i+1, st.message, exp.Description(), cerr)
				}
			}
		}
	})
}
