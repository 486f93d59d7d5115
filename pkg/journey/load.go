// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

package journey

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rumbo-ai/rumbo/pkg/tool"
)

// Definition is the YAML-authorable form of a journey.
type Definition struct {
	ID          string                 `yaml:"id"`
	Title       string                 `yaml:"title"`
	Conditions  []string               `yaml:"conditions"`
	States      []StateDefinition      `yaml:"states"`
	Transitions []TransitionDefinition `yaml:"transitions"`
	Guidelines  []GuidelineDefinition  `yaml:"guidelines"`
}

// StateDefinition declares one state.
type StateDefinition struct {
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind"`
	Instruction string `yaml:"instruction,omitempty"`
	Tool        string `yaml:"tool,omitempty"`
}

// TransitionDefinition declares one edge.
type TransitionDefinition struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Condition string `yaml:"condition,omitempty"`
}

// GuidelineDefinition declares one journey-local guideline.
type GuidelineDefinition struct {
	Condition string `yaml:"condition"`
	Action    string `yaml:"action"`
}

// ParseYAML parses a journey definition from YAML.
func ParseYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid journey definition: %w", err)
	}
	return &def, nil
}

// Load reads a YAML journey definition from disk and compiles it against reg.
// Validation happens at Finalize, so a malformed definition reports all
// violations at once.
func Load(path string, reg *tool.Registry) (*Journey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journey path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	def, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	return def.Build(reg)
}

// Build compiles the definition through the Builder.
func (d *Definition) Build(reg *tool.Registry) (*Journey, error) {
	b := NewBuilder(d.ID, d.Title, d.Conditions...)
	for _, s := range d.States {
		switch StateKind(s.Kind) {
		case KindInitial:
			b.AddInitialState(s.ID)
		case KindChat:
			b.AddChatState(s.ID, s.Instruction)
		case KindTool:
			b.AddToolState(s.ID, s.Tool)
		case KindTerminal:
			b.AddTerminalState(s.ID)
		default:
			return nil, fmt.Errorf("state %q: unknown kind %q", s.ID, s.Kind)
		}
	}
	for _, t := range d.Transitions {
		b.AddTransition(t.From, t.To, t.Condition)
	}
	for _, g := range d.Guidelines {
		b.AddGuideline(g.Condition, g.Action)
	}
	return b.Finalize(reg)
}
