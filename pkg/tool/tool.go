// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

// Package tool provides the registry for external side-effecting capabilities
// invoked from journey tool states.
package tool

import "context"

// Definition describes a registered tool: its identifier and the JSON-Schema
// shape of its arguments.
type Definition struct {
	ID          string         `json:"id"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Result is the structured outcome of a tool invocation.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Handler executes a tool with validated arguments. Handlers are the only
// place side effects occur; they must honor ctx cancellation.
type Handler func(ctx context.Context, args map[string]any) (*Result, error)
