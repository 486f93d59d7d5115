// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent aggregates journeys and global guidelines behind a single
// turn-handling entrypoint.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rumbo-ai/rumbo/pkg/condition"
	"github.com/rumbo-ai/rumbo/pkg/core"
	"github.com/rumbo-ai/rumbo/pkg/engine"
	"github.com/rumbo-ai/rumbo/pkg/errors"
	"github.com/rumbo-ai/rumbo/pkg/guideline"
	"github.com/rumbo-ai/rumbo/pkg/journey"
	"github.com/rumbo-ai/rumbo/pkg/llm"
	"github.com/rumbo-ai/rumbo/pkg/session"
	"github.com/rumbo-ai/rumbo/pkg/telemetry"
	"github.com/rumbo-ai/rumbo/pkg/tool"
)

// apologyFallback is the reply of last resort when rendering itself fails.
const apologyFallback = "I'm sorry, something went wrong while handling that. Could you try again?"

// TurnResult is the outward-facing outcome of one handled turn.
type TurnResult struct {
	// Response is the rendered assistant text.
	Response string

	// ToolData is the structured payload of the last tool invoked this
	// turn, nil when no tool ran.
	ToolData map[string]any

	// JourneyID and StateID describe the journey position after the turn.
	// Both are empty when no journey is active.
	JourneyID string
	StateID   string

	// Ended reports that the active journey reached a terminal state.
	Ended bool
}

// Agent owns a set of journeys plus global guidelines and processes turns.
// Turns within one session are strictly sequential; distinct sessions run
// concurrently.
type Agent struct {
	name        string
	description string

	journeys  []*journey.Journey
	guidance  *guideline.Engine
	globals   []guideline.Guideline
	registry  *tool.Registry
	store     session.Store
	provider  llm.Provider
	evaluator condition.Evaluator
	engine    *engine.Engine

	model       string
	hopLimit    int
	turnTimeout time.Duration
	extractor   engine.ArgumentExtractor

	logger  *slog.Logger
	emitter core.EventEmitter
	metrics *telemetry.EngineMetrics
	tracer  trace.Tracer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an Agent instance.
type Option func(*Agent) error

// WithDescription sets the agent persona used in rendering prompts.
func WithDescription(description string) Option {
	return func(a *Agent) error {
		a.description = description
		return nil
	}
}

// WithProvider sets the LLM backend.
func WithProvider(provider llm.Provider) Option {
	return func(a *Agent) error {
		a.provider = provider
		return nil
	}
}

// WithModel sets the model used for rendering and evaluation.
func WithModel(model string) Option {
	return func(a *Agent) error {
		a.model = model
		return nil
	}
}

// WithEvaluator overrides the condition evaluator (default: LLM-backed).
func WithEvaluator(evaluator condition.Evaluator) Option {
	return func(a *Agent) error {
		a.evaluator = evaluator
		return nil
	}
}

// WithJourneys assigns the agent's journeys in declaration order. Journey
// selection follows first-match-wins over this order.
func WithJourneys(journeys ...*journey.Journey) Option {
	return func(a *Agent) error {
		a.journeys = append(a.journeys, journeys...)
		return nil
	}
}

// WithGuidelines adds agent-wide guidelines.
func WithGuidelines(guidelines ...guideline.Guideline) Option {
	return func(a *Agent) error {
		a.globals = append(a.globals, guidelines...)
		return nil
	}
}

// WithRegistry sets the tool registry shared by all journeys.
func WithRegistry(registry *tool.Registry) Option {
	return func(a *Agent) error {
		a.registry = registry
		return nil
	}
}

// WithStore sets the session store (default: in-memory).
func WithStore(store session.Store) Option {
	return func(a *Agent) error {
		a.store = store
		return nil
	}
}

// WithTurnTimeout bounds the wall time of one turn. Zero disables it.
func WithTurnTimeout(d time.Duration) Option {
	return func(a *Agent) error {
		a.turnTimeout = d
		return nil
	}
}

// WithExtractor overrides the tool argument extractor (default: LLM-backed).
func WithExtractor(extractor engine.ArgumentExtractor) Option {
	return func(a *Agent) error {
		a.extractor = extractor
		return nil
	}
}

// WithHopLimit overrides the engine's per-turn hop limit.
func WithHopLimit(limit int) Option {
	return func(a *Agent) error {
		a.hopLimit = limit
		return nil
	}
}

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) error {
		a.logger = logger
		return nil
	}
}

// WithEmitter sets the semantic event emitter.
func WithEmitter(emitter core.EventEmitter) Option {
	return func(a *Agent) error {
		a.emitter = emitter
		return nil
	}
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(a *Agent) error {
		a.metrics = m
		return nil
	}
}

// New creates an agent with a required name and options. A provider is
// required; every other collaborator has a default.
func New(name string, opts ...Option) (*Agent, error) {
	a := &Agent{
		name:    name,
		logger:  slog.Default(),
		emitter: core.NoopEventEmitter{},
		tracer:  otel.Tracer("rumbo/agent"),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.name == "" {
		return nil, errors.New(errors.CodeInternal, "agent name is required", nil)
	}
	if a.provider == nil {
		return nil, errors.New(errors.CodeInternal, "llm provider is required", nil)
	}
	if a.evaluator == nil {
		a.evaluator = condition.NewLLMEvaluator(a.provider, a.model)
	}
	if a.store == nil {
		a.store = session.NewInMemoryStore()
	}

	a.guidance = guideline.NewEngine(a.evaluator)
	a.guidance.Add(a.globals...)
	for _, j := range a.journeys {
		a.guidance.Add(j.Guidelines()...)
	}

	engineOpts := []engine.Option{
		engine.WithGuidelines(a.guidance),
		engine.WithModel(a.model),
		engine.WithPersona(a.description),
		engine.WithLogger(a.logger),
		engine.WithEmitter(a.emitter),
		engine.WithMetrics(a.metrics),
	}
	if a.hopLimit > 0 {
		engineOpts = append(engineOpts, engine.WithHopLimit(a.hopLimit))
	}
	if a.extractor != nil {
		engineOpts = append(engineOpts, engine.WithArgumentExtractor(a.extractor))
	}
	eng, err := engine.New(a.evaluator, a.registry, a.provider, engineOpts...)
	if err != nil {
		return nil, err
	}
	a.engine = eng
	return a, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Journeys returns the agent's journeys in declaration order.
func (a *Agent) Journeys() []*journey.Journey {
	return append([]*journey.Journey(nil), a.journeys...)
}

// HandleTurn processes one user message for a session and returns the
// rendered reply plus any structured tool data produced. Turns for the same
// session serialize on a per-session lock; a timed-out or cancelled turn
// leaves the stored journey position unchanged.
func (a *Agent) HandleTurn(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if a.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.turnTimeout)
		defer cancel()
	}
	ctx = core.WithSessionID(ctx, sessionID)
	ctx, turnID := core.EnsureTurnID(ctx)

	ctx, span := a.tracer.Start(ctx, "Agent.HandleTurn",
		trace.WithAttributes(telemetry.TurnAttributes(a.name, sessionID, turnID)...),
	)
	defer span.End()

	start := time.Now()
	result, err := a.handleTurn(ctx, sessionID, message)
	durationMs := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		span.RecordError(err)
		a.metrics.RecordTurn(ctx, a.name, "failed", durationMs)
		a.metrics.RecordError(ctx, err, "agent")
		a.emitter.Emit(ctx, core.NewEvent(core.EventTurnFailed, a.name, sessionID, map[string]any{
			"turn_id": turnID,
			"error":   err.Error(),
		}))
		a.logger.ErrorContext(ctx, "agent.turn.failed",
			slog.String("agent", a.name),
			slog.String("session_id", sessionID),
			slog.String("turn_id", turnID),
			slog.String("error_code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	a.metrics.RecordTurn(ctx, a.name, "completed", durationMs)
	a.emitter.Emit(ctx, core.NewEvent(core.EventTurnCompleted, a.name, sessionID, map[string]any{
		"turn_id":    turnID,
		"journey_id": result.JourneyID,
		"state_id":   result.StateID,
	}))
	a.logger.InfoContext(ctx, "agent.turn.completed",
		slog.String("agent", a.name),
		slog.String("session_id", sessionID),
		slog.String("turn_id", turnID),
		slog.String("journey_id", result.JourneyID),
		slog.String("state_id", result.StateID),
		slog.Float64("duration_ms", durationMs),
	)
	return result, nil
}

func (a *Agent) handleTurn(ctx context.Context, sessionID, message string) (*TurnResult, error) {
	userTurn := session.Turn{
		SessionID: sessionID,
		Role:      session.RoleUser,
		Content:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendTurn(ctx, sessionID, userTurn); err != nil {
		return nil, err
	}

	convo, pos, err := session.Load(ctx, a.store, sessionID)
	if err != nil {
		return nil, err
	}

	j := a.activeJourney(pos)
	if j == nil {
		selected, err := a.engine.SelectJourney(ctx, a.journeys, convo)
		if err != nil {
			return nil, err
		}
		if selected == nil {
			return a.freeForm(ctx, sessionID, convo, session.Position{})
		}
		j = selected
		pos = session.Position{JourneyID: j.ID(), StateID: j.Initial().ID}
		a.emitter.Emit(ctx, core.NewEvent(core.EventJourneySelected, a.name, sessionID, map[string]any{
			"journey_id": j.ID(),
		}))
		a.logger.InfoContext(ctx, "agent.journey.selected",
			slog.String("agent", a.name),
			slog.String("session_id", sessionID),
			slog.String("journey_id", j.ID()),
		)
	}

	outcome, err := a.engine.RunTurn(ctx, j, pos.StateID, convo)
	if err != nil {
		switch {
		case errors.HasCode(err, errors.CodeUnhandledTurn):
			// The graph offers no route for this turn. Leave the
			// journey and answer ungoverned.
			a.logger.WarnContext(ctx, "agent.turn.unhandled",
				slog.String("agent", a.name),
				slog.String("session_id", sessionID),
				slog.String("journey_id", j.ID()),
				slog.String("error", err.Error()),
			)
			return a.freeForm(ctx, sessionID, convo, session.Position{})
		case errors.HasCode(err, errors.CodeToolFailure),
			errors.HasCode(err, errors.CodeInvalidToolArguments):
			// Tool problems degrade to an apologetic reply; the
			// journey position stays where it was.
			a.logger.WarnContext(ctx, "agent.turn.tool_degraded",
				slog.String("agent", a.name),
				slog.String("session_id", sessionID),
				slog.String("journey_id", j.ID()),
				slog.String("error", err.Error()),
			)
			return a.apologize(ctx, sessionID, pos)
		default:
			return nil, err
		}
	}

	for _, toolTurn := range outcome.ToolTurns {
		if err := a.store.AppendTurn(ctx, sessionID, toolTurn); err != nil {
			return nil, err
		}
	}
	if outcome.Response != "" {
		assistantTurn := session.Turn{
			SessionID: sessionID,
			Role:      session.RoleAssistant,
			Content:   outcome.Response,
			CreatedAt: time.Now().UTC(),
		}
		if err := a.store.AppendTurn(ctx, sessionID, assistantTurn); err != nil {
			return nil, err
		}
	}
	if err := a.store.SetPosition(ctx, sessionID, outcome.Position); err != nil {
		return nil, err
	}

	return &TurnResult{
		Response:  outcome.Response,
		ToolData:  outcome.ToolData,
		JourneyID: outcome.Position.JourneyID,
		StateID:   outcome.Position.StateID,
		Ended:     outcome.Ended,
	}, nil
}

// freeForm renders an ungoverned reply: no journey instruction, just the
// persona and any applicable global guidelines. The stored position is set
// to pos (cleared when the journey was abandoned).
func (a *Agent) freeForm(ctx context.Context, sessionID string, convo session.Conversation, pos session.Position) (*TurnResult, error) {
	matched, err := a.guidance.Applicable(ctx, convo, "")
	if err != nil {
		a.logger.WarnContext(ctx, "agent.guidelines.evaluation_degraded",
			slog.String("agent", a.name),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		matched = nil
	}

	var system strings.Builder
	if a.description != "" {
		system.WriteString(a.description)
		system.WriteString("\n\n")
	}
	system.WriteString("Reply helpfully to the user.")
	for _, d := range guideline.Directives(matched) {
		system.WriteString("\n- ")
		system.WriteString(d)
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system.String()}}
	for _, turn := range convo.Turns {
		messages = append(messages, llm.Message{Role: llm.Role(turn.Role), Content: turn.Content})
	}

	response := apologyFallback
	resp, err := a.provider.Chat(ctx, llm.ChatRequest{Model: a.model, Messages: messages})
	if err != nil {
		a.logger.WarnContext(ctx, "agent.freeform.render_failed",
			slog.String("agent", a.name),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	} else {
		response = resp.Content
	}

	return a.commitReply(ctx, sessionID, response, pos)
}

// apologize degrades a failed tool turn to an apologetic reply without
// moving the journey position.
func (a *Agent) apologize(ctx context.Context, sessionID string, pos session.Position) (*TurnResult, error) {
	return a.commitReply(ctx, sessionID, apologyFallback, pos)
}

func (a *Agent) commitReply(ctx context.Context, sessionID, response string, pos session.Position) (*TurnResult, error) {
	turn := session.Turn{
		SessionID: sessionID,
		Role:      session.RoleAssistant,
		Content:   response,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendTurn(ctx, sessionID, turn); err != nil {
		return nil, err
	}
	if err := a.store.SetPosition(ctx, sessionID, pos); err != nil {
		return nil, err
	}
	return &TurnResult{
		Response:  response,
		JourneyID: pos.JourneyID,
		StateID:   pos.StateID,
	}, nil
}

func (a *Agent) activeJourney(pos session.Position) *journey.Journey {
	if !pos.Active() {
		return nil
	}
	for _, j := range a.journeys {
		if j.ID() == pos.JourneyID {
			return j
		}
	}
	return nil
}

func (a *Agent) sessionLock(sessionID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[sessionID] = lock
	}
	return lock
}
