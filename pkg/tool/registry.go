// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/rumbo-ai/rumbo/pkg/errors"
)

type registeredTool struct {
	def     Definition
	handler Handler
}

// Registry maps tool identifiers to handlers. Registration is append-only;
// after construction the registry is safely shared read-only across sessions.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.ID == "" {
		return fmt.Errorf("tool id is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler is required", def.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.ID]; exists {
		return fmt.Errorf("tool %q already registered", def.ID)
	}
	r.tools[def.ID] = registeredTool{def: def, handler: handler}
	r.order = append(r.order, def.ID)
	return nil
}

// Has reports whether a tool id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// Definition returns the definition for a registered tool.
func (r *Registry) Definition(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t.def, ok
}

// IDs returns registered tool ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Invoke validates args against the tool's parameter schema and executes its
// handler. Validation failures never reach the handler.
func (r *Registry) Invoke(ctx context.Context, id string, args map[string]any) (*Result, error) {
	r.mu.RLock()
	t, ok := r.tools[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("tool %q is not registered", id), nil).
			WithAttribute("tool.id", id)
	}

	if err := validateArgs(t.def.Parameters, args); err != nil {
		return nil, errors.New(errors.CodeInvalidToolArguments, fmt.Sprintf("tool %q: invalid arguments", id), err).
			WithAttribute("tool.id", id)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CodeTimeout, fmt.Sprintf("tool %q: context done before invocation", id), err).
			WithAttribute("tool.id", id).
			WithRecoverable(true)
	}

	result, err := t.handler(ctx, args)
	if err != nil {
		if re, ok := err.(*errors.RumboError); ok && re.Code == errors.CodeTimeout {
			return nil, re
		}
		if ctx.Err() != nil {
			return nil, errors.New(errors.CodeTimeout, fmt.Sprintf("tool %q: cancelled during execution", id), err).
				WithAttribute("tool.id", id).
				WithRecoverable(true)
		}
		return nil, errors.New(errors.CodeToolFailure, fmt.Sprintf("tool %q: execution failed", id), err).
			WithAttribute("tool.id", id)
	}
	if result == nil {
		result = &Result{Success: true}
	}
	return result, nil
}
