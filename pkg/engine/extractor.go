// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rumbo-ai/rumbo/pkg/errors"
	"github.com/rumbo-ai/rumbo/pkg/llm"
	"github.com/rumbo-ai/rumbo/pkg/resilience"
	"github.com/rumbo-ai/rumbo/pkg/session"
	"github.com/rumbo-ai/rumbo/pkg/tool"
)

// ArgumentExtractor derives a tool's call arguments from the conversation.
// Tests substitute deterministic implementations.
type ArgumentExtractor interface {
	Extract(ctx context.Context, def tool.Definition, convo session.Conversation) (map[string]any, error)
}

// ExtractorFunc adapts a function to the ArgumentExtractor interface.
type ExtractorFunc func(ctx context.Context, def tool.Definition, convo session.Conversation) (map[string]any, error)

// Extract implements ArgumentExtractor.
func (f ExtractorFunc) Extract(ctx context.Context, def tool.Definition, convo session.Conversation) (map[string]any, error) {
	return f(ctx, def, convo)
}

const extractSystemPrompt = `You extract tool call arguments from a conversation.
Given the tool's parameter schema, respond with a single JSON object containing the
argument values, e.g. {"city": "london"}. Use only information present in the
conversation. Respond with JSON only, no other text.`

// LLMArgumentExtractor asks the backing model for a JSON argument object
// matching the tool's parameter schema. Unparseable responses get one
// bounded retry before surfacing CodeEvaluationParse.
type LLMArgumentExtractor struct {
	provider llm.Provider
	model    string
	retry    resilience.RetryConfig
}

// NewLLMArgumentExtractor creates an extractor backed by the given provider.
func NewLLMArgumentExtractor(provider llm.Provider, model string) *LLMArgumentExtractor {
	return &LLMArgumentExtractor{
		provider: provider,
		model:    model,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(2).
			WithIsRecoverable(func(err error) bool {
				return errors.HasCode(err, errors.CodeEvaluationParse)
			}),
	}
}

// Extract implements ArgumentExtractor.
func (x *LLMArgumentExtractor) Extract(ctx context.Context, def tool.Definition, convo session.Conversation) (map[string]any, error) {
	schema, err := json.Marshal(def.Parameters)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "unmarshalable tool schema", err).
			WithContext("tool_id", def.ID)
	}
	prompt := fmt.Sprintf("Conversation:\n%s\nTool: %s (%s)\nParameter schema: %s",
		convo.Transcript(), def.ID, def.Description, schema)

	var args map[string]any
	err = x.retry.Do(ctx, func() error {
		resp, err := x.provider.Chat(ctx, llm.ChatRequest{
			Model:  x.model,
			Format: llm.FormatJSON,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: extractSystemPrompt},
				{Role: llm.RoleUser, Content: prompt},
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return errors.New(errors.CodeTimeout, "argument extraction cancelled", err).
					WithContext("tool_id", def.ID).
					WithRecoverable(true)
			}
			return errors.New(errors.CodeLLMError, "argument extraction backend call failed", err).
				WithContext("tool_id", def.ID)
		}
		parsed, perr := parseArguments(resp.Content)
		if perr != nil {
			return errors.New(errors.CodeEvaluationParse, "unparseable tool arguments", perr).
				WithContext("tool_id", def.ID).
				WithContext("response", resp.Content)
		}
		args = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return args, nil
}

func parseArguments(content string) (map[string]any, error) {
	trimmed := strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(trimmed, "```json"); ok {
		trimmed = after
	} else if after, ok := strings.CutPrefix(trimmed, "```"); ok {
		trimmed = after
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")

	var args map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), &args); err != nil {
		return nil, err
	}
	return args, nil
}
