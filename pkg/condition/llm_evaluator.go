// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

package condition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rumbo-ai/rumbo/pkg/errors"
	"github.com/rumbo-ai/rumbo/pkg/llm"
	"github.com/rumbo-ai/rumbo/pkg/resilience"
	"github.com/rumbo-ai/rumbo/pkg/session"
)

const evaluateSystemPrompt = `You judge whether a condition holds for a conversation.
Respond with a single JSON object of the form {"satisfied": true} or {"satisfied": false}.
Respond with JSON only, no other text.`

const firstMatchSystemPrompt = `You judge which of several numbered conditions best describes a conversation.
Respond with a single JSON object of the form {"match": N} where N is the number of the
first condition that holds, or {"match": 0} if none hold.
Respond with JSON only, no other text.`

// LLMEvaluator implements Evaluator on top of an llm.Provider. It requests a
// machine-parseable JSON verdict and applies a bounded retry when the
// response cannot be parsed before surfacing CodeEvaluationParse.
type LLMEvaluator struct {
	provider llm.Provider
	model    string
	retry    resilience.RetryConfig
}

// Option configures an LLMEvaluator.
type Option func(*LLMEvaluator)

// WithRetryAttempts sets the total number of attempts for unparseable
// verdicts (default 2: one retry).
func WithRetryAttempts(attempts int) Option {
	return func(e *LLMEvaluator) {
		e.retry = e.retry.WithMaxAttempts(attempts)
	}
}

// NewLLMEvaluator creates an evaluator backed by the given provider and model.
func NewLLMEvaluator(provider llm.Provider, model string, opts ...Option) *LLMEvaluator {
	e := &LLMEvaluator{
		provider: provider,
		model:    model,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(2).
			WithIsRecoverable(func(err error) bool {
				return errors.HasCode(err, errors.CodeEvaluationParse)
			}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate implements Evaluator.
func (e *LLMEvaluator) Evaluate(ctx context.Context, cond string, convo session.Conversation) (bool, error) {
	prompt := fmt.Sprintf("Conversation:\n%s\nCondition: %s", convo.Transcript(), cond)

	var satisfied bool
	err := e.retry.Do(ctx, func() error {
		resp, err := e.provider.Chat(ctx, llm.ChatRequest{
			Model:  e.model,
			Format: llm.FormatJSON,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: evaluateSystemPrompt},
				{Role: llm.RoleUser, Content: prompt},
			},
		})
		if err != nil {
			return backendError(ctx, "condition evaluation backend call failed", err).
				WithContext("condition", cond)
		}
		verdict, err := parseSatisfiedVerdict(resp.Content)
		if err != nil {
			return errors.New(errors.CodeEvaluationParse, "unparseable condition verdict", err).
				WithContext("condition", cond).
				WithContext("response", resp.Content)
		}
		satisfied = verdict
		return nil
	})
	if err != nil {
		return false, err
	}
	return satisfied, nil
}

// FirstMatch implements Evaluator with a single ranked-choice judgment.
func (e *LLMEvaluator) FirstMatch(ctx context.Context, conditions []string, convo session.Conversation) (int, error) {
	if len(conditions) == 0 {
		return -1, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation:\n%s\nConditions:\n", convo.Transcript())
	for i, cond := range conditions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, cond)
	}

	var match int
	err := e.retry.Do(ctx, func() error {
		resp, err := e.provider.Chat(ctx, llm.ChatRequest{
			Model:  e.model,
			Format: llm.FormatJSON,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: firstMatchSystemPrompt},
				{Role: llm.RoleUser, Content: b.String()},
			},
		})
		if err != nil {
			return backendError(ctx, "condition ranking backend call failed", err)
		}
		idx, err := parseMatchVerdict(resp.Content, len(conditions))
		if err != nil {
			return errors.New(errors.CodeEvaluationParse, "unparseable ranking verdict", err).
				WithContext("response", resp.Content)
		}
		match = idx
		return nil
	})
	if err != nil {
		return -1, err
	}
	return match, nil
}

// backendError classifies a failed provider call. A call that died with the
// context is a timeout, which callers may degrade; anything else is an
// LLM backend error.
func backendError(ctx context.Context, msg string, err error) *errors.RumboError {
	if ctx.Err() != nil {
		return errors.New(errors.CodeTimeout, msg+": context done", err).
			WithRecoverable(true)
	}
	return errors.New(errors.CodeLLMError, msg, err)
}

// parseSatisfiedVerdict extracts the boolean verdict. A missing or
// non-boolean "satisfied" key is a parse error, not a false.
func parseSatisfiedVerdict(content string) (bool, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(strip(content)), &payload); err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}
	raw, ok := payload["satisfied"]
	if !ok {
		return false, fmt.Errorf(`missing "satisfied" key`)
	}
	verdict, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf(`"satisfied" is not a boolean: %v`, raw)
	}
	return verdict, nil
}

// parseMatchVerdict extracts a 1-based match index, returning -1 for the
// explicit "no match" verdict (0).
func parseMatchVerdict(content string, n int) (int, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(strip(content)), &payload); err != nil {
		return -1, fmt.Errorf("invalid JSON: %w", err)
	}
	raw, ok := payload["match"]
	if !ok {
		return -1, fmt.Errorf(`missing "match" key`)
	}
	num, ok := raw.(float64)
	if !ok || num != float64(int(num)) {
		return -1, fmt.Errorf(`"match" is not an integer: %v`, raw)
	}
	idx := int(num)
	if idx < 0 || idx > n {
		return -1, fmt.Errorf(`"match" out of range: %d`, idx)
	}
	return idx - 1, nil
}

// strip removes markdown code fences some backends wrap around JSON output.
func strip(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}

var _ Evaluator = (*LLMEvaluator)(nil)
