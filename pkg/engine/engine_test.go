// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rumbo-ai/rumbo/pkg/condition"
	"github.com/rumbo-ai/rumbo/pkg/errors"
	"github.com/rumbo-ai/rumbo/pkg/guideline"
	"github.com/rumbo-ai/rumbo/pkg/journey"
	"github.com/rumbo-ai/rumbo/pkg/llm"
	"github.com/rumbo-ai/rumbo/pkg/session"
	"github.com/rumbo-ai/rumbo/pkg/tool"
)

const (
	condCityMentioned  = "the user mentioned a city"
	condQuerySucceeded = "the weather query succeeded"
	condQueryFailed    = "the tool call failed"
)

func staticArgs(args map[string]any) ArgumentExtractor {
	return ExtractorFunc(func(context.Context, tool.Definition, session.Conversation) (map[string]any, error) {
		return args, nil
	})
}

func weatherRegistry(t *testing.T, handler tool.Handler) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	def := tool.Definition{
		ID:          "get_weather",
		Description: "look up current weather for a city",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"required": []string{"city"},
		},
	}
	if err := reg.Register(def, handler); err != nil {
		t.Fatalf("register tool: %v", err)
	}
	return reg
}

// weatherJourney: initial branches to the tool state when a city is
// mentioned, else falls back to a clarifying chat state. The tool state
// routes to a success or failure chat state.
func weatherJourney(t *testing.T, reg *tool.Registry) *journey.Journey {
	t.Helper()
	b := journey.NewBuilder("weather", "Weather lookup", "the user asked about the weather")
	initial := b.AddInitialState("initial")
	lookup := b.AddToolState("lookup", "get_weather")
	report := b.AddChatState("report", "Report the weather data to the user.")
	askCity := b.AddChatState("ask_city", "Ask the user which city they mean.")
	apologize := b.AddChatState("apologize", "Apologize and list the available cities.")

	b.AddTransition(initial, lookup, condCityMentioned)
	b.AddTransition(initial, askCity, "")
	b.AddTransition(askCity, lookup, condCityMentioned)
	b.AddTransition(lookup, report, condQuerySucceeded)
	b.AddTransition(lookup, apologize, condQueryFailed)

	j, err := b.Finalize(reg)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}
	return j
}

func weatherEvaluator() *condition.KeywordEvaluator {
	return &condition.KeywordEvaluator{
		Rules: map[string][]string{
			condCityMentioned:  {"北京", "london", "paris"},
			condQuerySucceeded: {`"success":true`},
			condQueryFailed:    {`"success":false`, "tool call failed"},
		},
	}
}

func userConvo(message string) session.Conversation {
	return session.Conversation{
		SessionID: "s1",
		Turns: []session.Turn{
			{SessionID: "s1", Role: session.RoleUser, Content: message},
		},
	}
}

func TestRunTurnDirectToolPath(t *testing.T) {
	calls := 0
	reg := weatherRegistry(t, func(_ context.Context, args map[string]any) (*tool.Result, error) {
		calls++
		return &tool.Result{
			Success: true,
			Data:    map[string]any{"location": args["city"], "temperature": 15},
		}, nil
	})
	j := weatherJourney(t, reg)

	eng, err := New(weatherEvaluator(), reg, &llm.MockProvider{Response: "北京 is sunny, 15 degrees"},
		WithArgumentExtractor(staticArgs(map[string]any{"city": "北京"})),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcome, err := eng.RunTurn(context.Background(), j, "initial", userConvo("北京天气怎么样"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected one tool call, got %d", calls)
	}
	if outcome.Response != "北京 is sunny, 15 degrees" {
		t.Errorf("unexpected response %q", outcome.Response)
	}
	if outcome.Position.StateID != "report" {
		t.Errorf("expected position report, got %q", outcome.Position.StateID)
	}
	if len(outcome.ToolTurns) != 1 {
		t.Fatalf("expected one tool turn, got %d", len(outcome.ToolTurns))
	}
	if outcome.ToolData["location"] != "北京" {
		t.Errorf("expected tool data location 北京, got %v", outcome.ToolData["location"])
	}
	if outcome.ToolData["success"] != true {
		t.Errorf("expected tool data success=true, got %v", outcome.ToolData["success"])
	}
	if outcome.Ended {
		t.Error("journey should not have ended")
	}
}

func TestRunTurnFallsBackToClarify(t *testing.T) {
	reg := weatherRegistry(t, func(context.Context, map[string]any) (*tool.Result, error) {
		t.Error("tool must not run without a city")
		return nil, nil
	})
	j := weatherJourney(t, reg)

	eng, err := New(weatherEvaluator(), reg, &llm.MockProvider{Response: "Which city?"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcome, err := eng.RunTurn(context.Background(), j, "initial", userConvo("天气怎么样"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if outcome.Position.StateID != "ask_city" {
		t.Errorf("expected position ask_city, got %q", outcome.Position.StateID)
	}
	if outcome.Response != "Which city?" {
		t.Errorf("unexpected response %q", outcome.Response)
	}
}

func TestRunTurnContinuesFromStoredPosition(t *testing.T) {
	reg := weatherRegistry(t, func(_ context.Context, args map[string]any) (*tool.Result, error) {
		return &tool.Result{Success: true, Data: map[string]any{"location": args["city"]}}, nil
	})
	j := weatherJourney(t, reg)

	eng, err := New(weatherEvaluator(), reg, &llm.MockProvider{Response: "london is rainy"},
		WithArgumentExtractor(staticArgs(map[string]any{"city": "london"})),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Previous turn stopped at ask_city; the user now supplies a city.
	convo := session.Conversation{
		SessionID: "s1",
		Turns: []session.Turn{
			{Role: session.RoleUser, Content: "what's the weather"},
			{Role: session.RoleAssistant, Content: "Which city?"},
			{Role: session.RoleUser, Content: "london please"},
		},
	}

	outcome, err := eng.RunTurn(context.Background(), j, "ask_city", convo)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if outcome.Position.StateID != "report" {
		t.Errorf("expected position report, got %q", outcome.Position.StateID)
	}
}

func TestRunTurnUnknownCityRoutesToFailureChat(t *testing.T) {
	reg := weatherRegistry(t, func(context.Context, map[string]any) (*tool.Result, error) {
		return &tool.Result{Success: false, Data: map[string]any{"error": "unknown city"}}, nil
	})
	j := weatherJourney(t, reg)

	eng, err := New(weatherEvaluator(), reg, &llm.MockProvider{Response: "Sorry, I only know these cities: ..."},
		WithArgumentExtractor(staticArgs(map[string]any{"city": "paris"})),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcome, err := eng.RunTurn(context.Background(), j, "initial", userConvo("how is paris"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if outcome.Position.StateID != "apologize" {
		t.Errorf("expected position apologize, got %q", outcome.Position.StateID)
	}
	if len(outcome.ToolTurns) != 1 {
		t.Errorf("expected the failed lookup recorded as a tool turn, got %d", len(outcome.ToolTurns))
	}
}

func TestRunTurnToolErrorRoutesToAuthoredTransition(t *testing.T) {
	reg := weatherRegistry(t, func(context.Context, map[string]any) (*tool.Result, error) {
		return nil, fmt.Errorf("upstream unavailable")
	})
	j := weatherJourney(t, reg)

	eng, err := New(weatherEvaluator(), reg, &llm.MockProvider{Response: "Sorry, something went wrong"},
		WithArgumentExtractor(staticArgs(map[string]any{"city": "北京"})),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcome, err := eng.RunTurn(context.Background(), j, "initial", userConvo("北京天气"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if outcome.Position.StateID != "apologize" {
		t.Errorf("expected position apologize, got %q", outcome.Position.StateID)
	}
	if len(outcome.ToolTurns) != 0 {
		t.Errorf("failed invocation must not commit a tool turn, got %d", len(outcome.ToolTurns))
	}
}

func TestRunTurnToolErrorSurfacesWithoutRoute(t *testing.T) {
	reg := weatherRegistry(t, func(context.Context, map[string]any) (*tool.Result, error) {
		return nil, fmt.Errorf("upstream unavailable")
	})

	// No authored failure transition out of the tool state.
	b := journey.NewBuilder("weather", "Weather lookup", "the user asked about the weather")
	initial := b.AddInitialState("initial")
	lookup := b.AddToolState("lookup", "get_weather")
	report := b.AddChatState("report", "Report the weather.")
	b.AddTransition(initial, lookup, condCityMentioned)
	b.AddTransition(lookup, report, condQuerySucceeded)
	j, err := b.Finalize(reg)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}

	eng, err := New(weatherEvaluator(), reg, &llm.MockProvider{Response: "unused"},
		WithArgumentExtractor(staticArgs(map[string]any{"city": "北京"})),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = eng.RunTurn(context.Background(), j, "initial", userConvo("北京天气"))
	if err == nil {
		t.Fatal("expected a tool failure error")
	}
	if !errors.HasCode(err, errors.CodeToolFailure) {
		t.Errorf("expected CodeToolFailure, got %v", err)
	}
}

func TestRunTurnUnhandledWithoutFallback(t *testing.T) {
	b := journey.NewBuilder("quiz", "Quiz", "the user wants a quiz")
	initial := b.AddInitialState("initial")
	answer := b.AddChatState("answer", "Answer the question.")
	b.AddTransition(initial, answer, "the user asked a question")
	j, err := b.Finalize(nil)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}

	eng, err := New(&condition.StaticEvaluator{}, nil, &llm.MockProvider{Response: "unused"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = eng.RunTurn(context.Background(), j, "initial", userConvo("hello"))
	if err == nil {
		t.Fatal("expected an unhandled turn error")
	}
	if !errors.HasCode(err, errors.CodeUnhandledTurn) {
		t.Errorf("expected CodeUnhandledTurn, got %v", err)
	}
}

func TestRunTurnHopLimitBoundsAuthoredCycles(t *testing.T) {
	reg := weatherRegistry(t, func(context.Context, map[string]any) (*tool.Result, error) {
		return &tool.Result{Success: true}, nil
	})

	b := journey.NewBuilder("loop", "Loop", "always")
	initial := b.AddInitialState("initial")
	lookup := b.AddToolState("lookup", "get_weather")
	b.AddTransition(initial, lookup, "go")
	b.AddTransition(lookup, lookup, "go")
	j, err := b.Finalize(reg)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}

	ev := &condition.StaticEvaluator{Verdicts: map[string]bool{"go": true}}
	eng, err := New(ev, reg, &llm.MockProvider{Response: "unused"},
		WithArgumentExtractor(staticArgs(nil)),
		WithHopLimit(3),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = eng.RunTurn(context.Background(), j, "initial", userConvo("go"))
	if err == nil {
		t.Fatal("expected hop limit to trip")
	}
	if !errors.HasCode(err, errors.CodeUnhandledTurn) {
		t.Errorf("expected CodeUnhandledTurn, got %v", err)
	}
}

func TestRunTurnTerminalEndsJourney(t *testing.T) {
	b := journey.NewBuilder("farewell", "Farewell", "the user is leaving")
	initial := b.AddInitialState("initial")
	goodbye := b.AddChatState("goodbye", "Say goodbye.")
	end := b.AddTerminalState("end")
	b.AddTransition(initial, goodbye, "")
	b.AddTransition(goodbye, end, "the user said goodbye")
	j, err := b.Finalize(nil)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}

	ev := &condition.StaticEvaluator{Verdicts: map[string]bool{"the user said goodbye": true}}
	eng, err := New(ev, nil, &llm.MockProvider{Response: "bye"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcome, err := eng.RunTurn(context.Background(), j, "goodbye", userConvo("bye!"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if !outcome.Ended {
		t.Error("expected journey to end")
	}
	if outcome.Position.Active() {
		t.Errorf("expected cleared position, got %+v", outcome.Position)
	}
}

func TestRunTurnEvaluationParseDegradesToFallback(t *testing.T) {
	b := journey.NewBuilder("weather", "Weather", "the user asked about the weather")
	initial := b.AddInitialState("initial")
	direct := b.AddChatState("direct", "Answer directly.")
	clarify := b.AddChatState("clarify", "Ask a clarifying question.")
	b.AddTransition(initial, direct, condCityMentioned)
	b.AddTransition(initial, clarify, "")
	j, err := b.Finalize(nil)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}

	ev := &condition.StaticEvaluator{
		Err: errors.New(errors.CodeEvaluationParse, "unparseable condition verdict", nil),
	}
	eng, err := New(ev, nil, &llm.MockProvider{Response: "Could you clarify?"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcome, err := eng.RunTurn(context.Background(), j, "initial", userConvo("hmm"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if outcome.Position.StateID != "clarify" {
		t.Errorf("expected degraded fallback to clarify, got %q", outcome.Position.StateID)
	}
}

func TestRunTurnEvaluationTimeoutDegradesToFallback(t *testing.T) {
	b := journey.NewBuilder("weather", "Weather", "the user asked about the weather")
	initial := b.AddInitialState("initial")
	direct := b.AddChatState("direct", "Answer directly.")
	clarify := b.AddChatState("clarify", "Ask a clarifying question.")
	b.AddTransition(initial, direct, condCityMentioned)
	b.AddTransition(initial, clarify, "")
	j, err := b.Finalize(nil)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}

	ev := &condition.StaticEvaluator{
		Err: errors.New(errors.CodeTimeout, "condition evaluation backend call failed: context done", nil),
	}
	eng, err := New(ev, nil, &llm.MockProvider{Response: "Could you clarify?"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcome, err := eng.RunTurn(context.Background(), j, "initial", userConvo("hmm"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if outcome.Position.StateID != "clarify" {
		t.Errorf("expected degraded fallback to clarify, got %q", outcome.Position.StateID)
	}
}

func TestSelectJourneyFirstMatchWins(t *testing.T) {
	weather := weatherJourney(t, weatherRegistry(t, func(context.Context, map[string]any) (*tool.Result, error) {
		return &tool.Result{Success: true}, nil
	}))

	b := journey.NewBuilder("farewell", "Farewell", "the user is leaving")
	initial := b.AddInitialState("initial")
	goodbye := b.AddChatState("goodbye", "Say goodbye.")
	b.AddTransition(initial, goodbye, "")
	farewell, err := b.Finalize(nil)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}

	ev := &condition.StaticEvaluator{Verdicts: map[string]bool{"the user is leaving": true}}
	eng, err := New(ev, nil, &llm.MockProvider{Response: "unused"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	selected, err := eng.SelectJourney(context.Background(), []*journey.Journey{weather, farewell}, userConvo("bye"))
	if err != nil {
		t.Fatalf("SelectJourney failed: %v", err)
	}
	if selected == nil || selected.ID() != "farewell" {
		t.Errorf("expected farewell journey, got %v", selected)
	}

	none, err := eng.SelectJourney(context.Background(), []*journey.Journey{weather}, userConvo("tell me a joke"))
	if err != nil {
		t.Fatalf("SelectJourney failed: %v", err)
	}
	if none != nil {
		t.Errorf("expected no journey, got %s", none.ID())
	}
}

func TestRenderChatInjectsGuidelineDirectives(t *testing.T) {
	gl := guideline.NewEngine(&condition.KeywordEvaluator{
		Rules: map[string][]string{
			"the user asked for fahrenheit": {"fahrenheit"},
		},
	})
	gl.Add(guideline.Guideline{
		Condition: "the user asked for fahrenheit",
		Action:    "Convert temperatures to fahrenheit.",
		Scope:     guideline.Global,
	})

	var captured llm.ChatRequest
	provider := &llm.MockProvider{
		ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			captured = req
			return &llm.ChatResponse{Content: "59F and sunny"}, nil
		},
	}

	b := journey.NewBuilder("weather", "Weather", "the user asked about the weather")
	initial := b.AddInitialState("initial")
	report := b.AddChatState("report", "Report the weather.")
	b.AddTransition(initial, report, "")
	j, err := b.Finalize(nil)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}

	eng, err := New(&condition.StaticEvaluator{}, nil, provider, WithGuidelines(gl))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcome, err := eng.RunTurn(context.Background(), j, "initial", userConvo("weather in fahrenheit please"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if outcome.Response != "59F and sunny" {
		t.Errorf("unexpected response %q", outcome.Response)
	}

	if len(captured.Messages) == 0 || captured.Messages[0].Role != llm.RoleSystem {
		t.Fatal("expected a system message")
	}
	if !strings.Contains(captured.Messages[0].Content, "Convert temperatures to fahrenheit.") {
		t.Errorf("system message missing directive: %q", captured.Messages[0].Content)
	}
	if !strings.Contains(captured.Messages[0].Content, "Report the weather.") {
		t.Errorf("system message missing instruction: %q", captured.Messages[0].Content)
	}
}

func TestRunTurnUnknownStateFails(t *testing.T) {
	j := weatherJourney(t, weatherRegistry(t, func(context.Context, map[string]any) (*tool.Result, error) {
		return &tool.Result{Success: true}, nil
	}))

	eng, err := New(&condition.StaticEvaluator{}, nil, &llm.MockProvider{Response: "unused"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = eng.RunTurn(context.Background(), j, "nope", userConvo("hi"))
	if err == nil {
		t.Fatal("expected an error for unknown state")
	}
	if !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("expected CodeNotFound, got %v", err)
	}
}
