// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

// Package condition judges natural-language conditions against live
// conversation context.
package condition

import (
	"context"

	"github.com/rumbo-ai/rumbo/pkg/session"
)

// Evaluator returns satisfaction judgments for natural-language conditions.
// Implementations delegate to a language-model backend; tests substitute
// deterministic evaluators.
type Evaluator interface {
	// Evaluate reports whether the condition holds for the conversation.
	// A verdict that cannot be obtained is an error, never a false.
	Evaluate(ctx context.Context, condition string, convo session.Conversation) (bool, error)

	// FirstMatch returns the index of the first satisfied condition in
	// declaration order, or -1 if none match.
	FirstMatch(ctx context.Context, conditions []string, convo session.Conversation) (int, error)
}

// firstMatchByEvaluate is the fallback FirstMatch strategy: evaluate each
// condition in order and stop at the first hit.
func firstMatchByEvaluate(ctx context.Context, ev Evaluator, conditions []string, convo session.Conversation) (int, error) {
	for i, cond := range conditions {
		ok, err := ev.Evaluate(ctx, cond, convo)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}
