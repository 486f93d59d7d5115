// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for journey and agent observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Rumbo telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Agent attributes
	AttrAgentName  = "rumbo.agent.name"
	AttrAgentModel = "rumbo.agent.model"
	AttrTurnID     = "rumbo.turn.id"
	AttrTurnHops   = "rumbo.turn.hops"

	// Session attributes
	AttrSessionID        = "rumbo.session.id"
	AttrSessionTurnCount = "rumbo.session.turn_count"

	// Journey attributes
	AttrJourneyID    = "rumbo.journey.id"
	AttrJourneyTitle = "rumbo.journey.title"

	// State attributes
	AttrStateID   = "rumbo.state.id"
	AttrStateKind = "rumbo.state.kind"

	// Transition attributes
	AttrTransitionFrom      = "rumbo.transition.from"
	AttrTransitionTo        = "rumbo.transition.to"
	AttrTransitionCondition = "rumbo.transition.condition"
	AttrTransitionFallback  = "rumbo.transition.fallback"

	// Guideline attributes
	AttrGuidelineCount = "rumbo.guidelines.matched"
	AttrGuidelineScope = "rumbo.guideline.scope"

	// Condition evaluation attributes
	AttrConditionText    = "rumbo.condition.text"
	AttrConditionVerdict = "rumbo.condition.verdict"

	// Tool attributes
	AttrToolID         = "rumbo.tool.id"
	AttrToolArgs       = "rumbo.tool.arguments"
	AttrToolSuccess    = "rumbo.tool.success"
	AttrToolDurationMs = "rumbo.tool.duration_ms"

	// LLM attributes (extending standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"

	// Event attributes
	AttrEventType = "rumbo.event.type"
)

// TurnAttributes returns common attributes for a turn span.
func TurnAttributes(agentName, sessionID, turnID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentName, agentName),
		attribute.String(AttrSessionID, sessionID),
	}
	if turnID != "" {
		attrs = append(attrs, attribute.String(AttrTurnID, turnID))
	}
	return attrs
}

// StateAttributes returns attributes for a state execution span.
func StateAttributes(journeyID, stateID, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrJourneyID, journeyID),
		attribute.String(AttrStateID, stateID),
		attribute.String(AttrStateKind, kind),
	}
}

// TransitionAttributes returns attributes for a transition decision.
func TransitionAttributes(from, to, condition string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTransitionFrom, from),
		attribute.String(AttrTransitionTo, to),
	}
	if condition != "" {
		attrs = append(attrs, attribute.String(AttrTransitionCondition, truncate(condition, 200)))
	} else {
		attrs = append(attrs, attribute.Bool(AttrTransitionFallback, true))
	}
	return attrs
}

// ConditionAttributes returns attributes for a condition evaluation span.
func ConditionAttributes(condition string, verdict bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrConditionText, truncate(condition, 200)),
		attribute.Bool(AttrConditionVerdict, verdict),
	}
}

// ToolCallAttributes returns attributes for a tool invocation span.
func ToolCallAttributes(toolID string, durationMs float64, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolID, toolID),
		attribute.Float64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrToolSuccess, success),
	}
}

// ToolCallArgs returns the tool arguments attribute (truncated for safety).
func ToolCallArgs(args string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	if args == "" {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrToolArgs, truncate(args, maxLen)),
	}
}

// LLMAttributes returns attributes for LLM call spans.
func LLMAttributes(model, provider string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	return attrs
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
