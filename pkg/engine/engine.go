// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine orchestrates single turns of dialogue over a journey graph:
// transition selection, synchronous tool execution and guideline-annotated
// response rendering.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rumbo-ai/rumbo/pkg/condition"
	"github.com/rumbo-ai/rumbo/pkg/core"
	"github.com/rumbo-ai/rumbo/pkg/errors"
	"github.com/rumbo-ai/rumbo/pkg/guideline"
	"github.com/rumbo-ai/rumbo/pkg/journey"
	"github.com/rumbo-ai/rumbo/pkg/llm"
	"github.com/rumbo-ai/rumbo/pkg/session"
	"github.com/rumbo-ai/rumbo/pkg/telemetry"
	"github.com/rumbo-ai/rumbo/pkg/tool"
)

// DefaultHopLimit bounds state advances within a single turn so authored
// cycles cannot spin forever on a condition that never resolves.
const DefaultHopLimit = 8

// Outcome is the result of running one turn against a journey.
type Outcome struct {
	// Response is the rendered assistant text. Empty when the journey
	// ended without reaching a chat state this turn.
	Response string

	// ToolData is the payload of the last tool invoked this turn, if any.
	ToolData map[string]any

	// ToolTurns are the tool-result turns produced this turn, in order.
	// The caller commits them to the session history.
	ToolTurns []session.Turn

	// Position is the journey position after the turn. Zero when the
	// journey ended.
	Position session.Position

	// Ended reports whether a terminal state was reached.
	Ended bool
}

// Engine advances a journey by one turn. It is stateless with respect to
// sessions; callers load the conversation snapshot and position, run the
// turn, and commit the outcome.
type Engine struct {
	evaluator  condition.Evaluator
	registry   *tool.Registry
	provider   llm.Provider
	guidelines *guideline.Engine
	extractor  ArgumentExtractor
	model      string
	persona    string
	hopLimit   int
	logger     *slog.Logger
	emitter    core.EventEmitter
	metrics    *telemetry.EngineMetrics
	tracer     trace.Tracer
}

// Option configures an Engine instance.
type Option func(*Engine) error

// WithGuidelines attaches a guideline engine consulted at chat rendering.
func WithGuidelines(g *guideline.Engine) Option {
	return func(e *Engine) error {
		e.guidelines = g
		return nil
	}
}

// WithModel sets the model used for rendering and argument extraction.
func WithModel(model string) Option {
	return func(e *Engine) error {
		e.model = model
		return nil
	}
}

// WithPersona sets a standing description prepended to chat prompts.
func WithPersona(persona string) Option {
	return func(e *Engine) error {
		e.persona = persona
		return nil
	}
}

// WithHopLimit overrides the per-turn state advance bound.
func WithHopLimit(limit int) Option {
	return func(e *Engine) error {
		if limit <= 0 {
			return errors.New(errors.CodeInternal, "hop limit must be positive", nil)
		}
		e.hopLimit = limit
		return nil
	}
}

// WithArgumentExtractor overrides tool argument extraction.
func WithArgumentExtractor(extractor ArgumentExtractor) Option {
	return func(e *Engine) error {
		e.extractor = extractor
		return nil
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithEmitter sets the semantic event emitter.
func WithEmitter(emitter core.EventEmitter) Option {
	return func(e *Engine) error {
		e.emitter = emitter
		return nil
	}
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// New creates a journey engine. The evaluator and provider are required;
// the registry may be nil for journeys without tool states.
func New(evaluator condition.Evaluator, registry *tool.Registry, provider llm.Provider, opts ...Option) (*Engine, error) {
	e := &Engine{
		evaluator: evaluator,
		registry:  registry,
		provider:  provider,
		hopLimit:  DefaultHopLimit,
		logger:    slog.Default(),
		emitter:   core.NoopEventEmitter{},
		tracer:    otel.Tracer("rumbo/engine"),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.evaluator == nil {
		return nil, errors.New(errors.CodeInternal, "condition evaluator is required", nil)
	}
	if e.provider == nil {
		return nil, errors.New(errors.CodeInternal, "llm provider is required", nil)
	}
	if e.extractor == nil {
		e.extractor = NewLLMArgumentExtractor(e.provider, e.model)
	}
	return e, nil
}

// SelectJourney returns the first journey, in declaration order, whose
// applicability conditions hold for the conversation (any-of semantics).
// It returns nil when no journey applies.
func (e *Engine) SelectJourney(ctx context.Context, journeys []*journey.Journey, convo session.Conversation) (*journey.Journey, error) {
	for _, j := range journeys {
		conds := j.Conditions()
		if len(conds) == 0 {
			continue
		}
		idx, err := e.evaluator.FirstMatch(ctx, conds, convo)
		if err != nil {
			if evaluationDegraded(err) {
				e.logger.Warn("engine.journey.applicability_degraded",
					slog.String("journey_id", j.ID()),
					slog.String("error", err.Error()),
				)
				continue
			}
			return nil, err
		}
		if idx >= 0 {
			return j, nil
		}
	}
	return nil, nil
}

// RunTurn advances the journey from the given state until a chat state
// renders visible output or a terminal state ends the journey. Tool states
// execute synchronously along the way; their results are appended to the
// working snapshot so later conditions observe them. The session position
// is only reflected in the returned Outcome; a failed or cancelled turn
// leaves the stored position untouched.
func (e *Engine) RunTurn(ctx context.Context, j *journey.Journey, stateID string, convo session.Conversation) (*Outcome, error) {
	current, ok := j.State(stateID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "journey state not found", nil).
			WithContext("journey_id", j.ID()).
			WithContext("state_id", stateID)
	}

	outcome := &Outcome{
		Position: session.Position{JourneyID: j.ID(), StateID: current.ID},
	}
	working := convo

	for hops := 0; ; hops++ {
		if hops >= e.hopLimit {
			return nil, errors.New(errors.CodeUnhandledTurn, "hop limit exceeded", nil).
				WithContext("journey_id", j.ID()).
				WithContext("state_id", current.ID).
				WithContext("hop_limit", e.hopLimit)
		}

		next, err := e.nextTransition(ctx, j, current, working)
		if err != nil {
			return nil, err
		}

		target, ok := j.State(next.To)
		if !ok {
			return nil, errors.New(errors.CodeInternal, "transition target missing", nil).
				WithContext("journey_id", j.ID()).
				WithContext("state_id", next.To)
		}
		current = target
		outcome.Position.StateID = current.ID
		e.emit(ctx, working.SessionID, core.EventStateEntered, map[string]any{
			"journey_id": j.ID(),
			"state_id":   current.ID,
			"state_kind": string(current.Kind),
		})

		stateCtx, span := e.tracer.Start(ctx, "Engine.State",
			trace.WithAttributes(telemetry.StateAttributes(j.ID(), current.ID, string(current.Kind))...),
		)

		switch current.Kind {
		case journey.KindTerminal:
			span.End()
			outcome.Ended = true
			outcome.Position = session.Position{}
			e.emit(ctx, working.SessionID, core.EventJourneyEnded, map[string]any{
				"journey_id": j.ID(),
			})
			return outcome, nil

		case journey.KindTool:
			toolTurn, err := e.executeTool(stateCtx, current, working)
			span.End()
			if err != nil {
				routed, rerr := e.routeToolFailure(ctx, j, current, working, err)
				if rerr != nil {
					return nil, rerr
				}
				working = routed
				continue
			}
			working = appendTurn(working, toolTurn)
			outcome.ToolTurns = append(outcome.ToolTurns, toolTurn)
			outcome.ToolData = toolTurn.ToolData

		case journey.KindChat:
			response, err := e.renderChat(stateCtx, j, current, working)
			span.End()
			if err != nil {
				return nil, err
			}
			outcome.Response = response
			return outcome, nil

		default:
			// Initial states carry no effect.
			span.End()
		}
	}
}

// nextTransition picks the transition leaving a state for this hop: first
// satisfied condition in declaration order, else the unconditional fallback.
// A parse or timeout failure from the evaluator degrades to "no match" with
// a warning rather than failing the turn.
func (e *Engine) nextTransition(ctx context.Context, j *journey.Journey, from journey.State, convo session.Conversation) (journey.Transition, error) {
	transitions := j.Outgoing(from.ID)
	if len(transitions) == 0 {
		return journey.Transition{}, errors.New(errors.CodeUnhandledTurn, "state has no outgoing transitions", nil).
			WithContext("journey_id", j.ID()).
			WithContext("state_id", from.ID)
	}

	var conds []string
	var condIdx []int
	fallback := -1
	for i, t := range transitions {
		if t.Condition == "" {
			fallback = i
			continue
		}
		conds = append(conds, t.Condition)
		condIdx = append(condIdx, i)
	}

	if len(conds) > 0 {
		idx, err := e.evaluator.FirstMatch(ctx, conds, convo)
		if err != nil {
			if !evaluationDegraded(err) {
				return journey.Transition{}, err
			}
			e.logger.Warn("engine.transition.evaluation_degraded",
				slog.String("journey_id", j.ID()),
				slog.String("state_id", from.ID),
				slog.String("error", err.Error()),
			)
			idx = -1
		}
		if idx >= 0 {
			return transitions[condIdx[idx]], nil
		}
	}

	if fallback >= 0 {
		return transitions[fallback], nil
	}
	return journey.Transition{}, errors.New(errors.CodeUnhandledTurn, "no transition matched and no fallback exists", nil).
		WithContext("journey_id", j.ID()).
		WithContext("state_id", from.ID)
}

// executeTool extracts arguments from the conversation, invokes the tool and
// returns the structured result as a tool turn. The turn records the success
// flag alongside the payload so authored failure conditions can observe it.
func (e *Engine) executeTool(ctx context.Context, s journey.State, convo session.Conversation) (session.Turn, error) {
	if e.registry == nil {
		return session.Turn{}, errors.New(errors.CodeNotFound, "no tool registry configured", nil).
			WithContext("tool_id", s.ToolID)
	}
	def, ok := e.registry.Definition(s.ToolID)
	if !ok {
		return session.Turn{}, errors.New(errors.CodeNotFound, "tool not registered", nil).
			WithContext("tool_id", s.ToolID)
	}

	args, err := e.extractor.Extract(ctx, def, convo)
	if err != nil {
		return session.Turn{}, err
	}

	start := time.Now()
	result, err := e.registry.Invoke(ctx, s.ToolID, args)
	durationMs := float64(time.Since(start)) / float64(time.Millisecond)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(telemetry.ToolCallAttributes(s.ToolID, durationMs, err == nil && result != nil && result.Success)...)
	e.metrics.RecordToolInvocation(ctx, s.ToolID, err == nil)
	e.emit(ctx, convo.SessionID, core.EventToolInvoked, map[string]any{
		"tool_id": s.ToolID,
		"success": err == nil,
	})
	if err != nil {
		return session.Turn{}, err
	}

	data := make(map[string]any, len(result.Data)+1)
	for k, v := range result.Data {
		data[k] = v
	}
	data["success"] = result.Success

	content := result.Message
	if content == "" {
		payload, merr := json.Marshal(data)
		if merr != nil {
			payload = []byte(fmt.Sprintf("%v", data))
		}
		content = fmt.Sprintf("%s returned: %s", s.ToolID, payload)
	}

	return session.Turn{
		SessionID: convo.SessionID,
		Role:      session.RoleTool,
		Content:   content,
		ToolID:    s.ToolID,
		ToolData:  data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// routeToolFailure handles a tool execution error. The failure is surfaced
// to condition evaluation as a transient tool note on the snapshot; if an
// authored transition (e.g. "the query failed") matches, the turn continues
// from the noted snapshot. Otherwise the tool error is surfaced and the
// stored position stays where it was before the turn.
func (e *Engine) routeToolFailure(ctx context.Context, j *journey.Journey, s journey.State, convo session.Conversation, toolErr error) (session.Conversation, error) {
	e.logger.Warn("engine.tool.execution_failed",
		slog.String("journey_id", j.ID()),
		slog.String("state_id", s.ID),
		slog.String("tool_id", s.ToolID),
		slog.String("error", toolErr.Error()),
	)
	e.metrics.RecordError(ctx, toolErr, "engine.tool")

	noted := convo.WithNote(session.RoleTool, fmt.Sprintf("tool call failed: %v", toolErr))
	if _, err := e.nextTransition(ctx, j, s, noted); err == nil {
		return noted, nil
	}

	if errors.HasCode(toolErr, errors.CodeTimeout) {
		return session.Conversation{}, toolErr
	}
	return session.Conversation{}, errors.New(errors.CodeToolFailure, "tool execution failed", toolErr).
		WithContext("journey_id", j.ID()).
		WithContext("state_id", s.ID).
		WithContext("tool_id", s.ToolID)
}

// renderChat produces the assistant response for a chat state: the state
// instruction plus any applicable guideline directives, grounded on the
// conversation so far.
func (e *Engine) renderChat(ctx context.Context, j *journey.Journey, s journey.State, convo session.Conversation) (string, error) {
	directives, err := e.applicableDirectives(ctx, j, convo)
	if err != nil {
		return "", err
	}

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Model:    e.model,
		Messages: e.chatMessages(s, convo, directives),
	})
	if err != nil {
		return "", errors.New(errors.CodeLLMError, "chat rendering failed", err).
			WithContext("journey_id", j.ID()).
			WithContext("state_id", s.ID)
	}
	return resp.Content, nil
}

func (e *Engine) applicableDirectives(ctx context.Context, j *journey.Journey, convo session.Conversation) ([]string, error) {
	if e.guidelines == nil {
		return nil, nil
	}
	matched, err := e.guidelines.Applicable(ctx, convo, j.ID())
	if err != nil {
		if !evaluationDegraded(err) {
			return nil, err
		}
		e.logger.Warn("engine.guidelines.evaluation_degraded",
			slog.String("journey_id", j.ID()),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return guideline.Directives(matched), nil
}

func (e *Engine) chatMessages(s journey.State, convo session.Conversation, directives []string) []llm.Message {
	var system strings.Builder
	if e.persona != "" {
		system.WriteString(e.persona)
		system.WriteString("\n\n")
	}
	system.WriteString("Instruction for this reply: ")
	system.WriteString(s.Instruction)
	if len(directives) > 0 {
		system.WriteString("\n\nFollow these directives:")
		for _, d := range directives {
			system.WriteString("\n- ")
			system.WriteString(d)
		}
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system.String()}}
	for _, turn := range convo.Turns {
		role := llm.Role(turn.Role)
		switch turn.Role {
		case session.RoleUser:
			role = llm.RoleUser
		case session.RoleAssistant:
			role = llm.RoleAssistant
		case session.RoleTool:
			role = llm.RoleTool
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Content})
	}
	return messages
}

func (e *Engine) emit(ctx context.Context, sessionID string, eventType core.EventType, payload map[string]any) {
	e.emitter.Emit(ctx, core.NewEvent(eventType, "", sessionID, payload))
}

// evaluationDegraded reports whether a condition evaluation error should
// degrade to "no match" instead of failing the turn: unparseable verdicts
// after bounded retry, and timeouts.
func evaluationDegraded(err error) bool {
	return errors.HasCode(err, errors.CodeEvaluationParse) ||
		errors.HasCode(err, errors.CodeTimeout)
}

func appendTurn(convo session.Conversation, turn session.Turn) session.Conversation {
	turns := make([]session.Turn, len(convo.Turns), len(convo.Turns)+1)
	copy(turns, convo.Turns)
	turns = append(turns, turn)
	return session.Conversation{SessionID: convo.SessionID, Turns: turns}
}
