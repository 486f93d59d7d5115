// Copyright 2026 © The Rumbo Authors
// SPDX-License-Identifier: Apache-2.0

package agent_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rumbo-ai/rumbo/pkg/agent"
	"github.com/rumbo-ai/rumbo/pkg/agenttest"
	"github.com/rumbo-ai/rumbo/pkg/condition"
	"github.com/rumbo-ai/rumbo/pkg/core"
	"github.com/rumbo-ai/rumbo/pkg/engine"
	"github.com/rumbo-ai/rumbo/pkg/errors"
	"github.com/rumbo-ai/rumbo/pkg/guideline"
	"github.com/rumbo-ai/rumbo/pkg/journey"
	"github.com/rumbo-ai/rumbo/pkg/llm"
	"github.com/rumbo-ai/rumbo/pkg/session"
	"github.com/rumbo-ai/rumbo/pkg/tool"
)

const (
	condCityMentioned = "the user mentioned a city"
	condSucceeded     = "the weather query succeeded"
	condFailed        = "the weather query failed"
	condAnotherCity   = "the user asked about another city"
	condGoodbye       = "the user said goodbye"
)

var knownCities = map[string]map[string]any{
	"北京":     {"location": "北京", "temperature": 15, "condition": "sunny"},
	"上海":     {"location": "上海", "temperature": 18, "condition": "cloudy"},
	"london": {"location": "london", "temperature": 11, "condition": "rain"},
	"tokyo":  {"location": "tokyo", "temperature": 20, "condition": "clear"},
}

func weatherRegistry(t *testing.T) *tool.Registry {
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
	err := reg.Register(def, func(_ context.Context, args map[string]any) (*tool.Result, error) {
		city, _ := args["city"].(string)
		if data, ok := knownCities[city]; ok {
			return &tool.Result{Success: true, Data: data}, nil
		}
		return &tool.Result{Success: false, Data: map[string]any{"error": "unknown city: " + city}}, nil
	})
	if err != nil {
		t.Fatalf("register tool: %v", err)
	}
	return reg
}

// cityExtractor scans the latest user message for a known city instead of
// asking a model.
func cityExtractor() engine.ArgumentExtractor {
	return engine.ExtractorFunc(func(_ context.Context, _ tool.Definition, convo session.Conversation) (map[string]any, error) {
		message := strings.ToLower(convo.LastUserMessage())
		for city := range knownCities {
			if strings.Contains(message, city) {
				return map[string]any{"city": city}, nil
			}
		}
		// Fall back to the last word so unknown cities reach the tool.
		fields := strings.Fields(message)
		if len(fields) > 0 {
			return map[string]any{"city": fields[len(fields)-1]}, nil
		}
		return map[string]any{"city": ""}, nil
	})
}

func weatherEvaluator() condition.Evaluator {
	return &condition.KeywordEvaluator{
		Rules: map[string][]string{
			"the user asked about the weather": {"天气", "weather"},
			condCityMentioned:                  {"北京", "上海", "london", "tokyo", "paris"},
			condSucceeded:                      {`"success":true`},
			condFailed:                         {`"success":false`, "tool call failed"},
			condAnotherCity:                    {"what about", "还有"},
			condGoodbye:                        {"bye", "再见"},
		},
	}
}

func weatherJourney(t *testing.T, reg *tool.Registry) *journey.Journey {
	t.Helper()
	b := journey.NewBuilder("weather", "Weather lookup", "the user asked about the weather")
	initial := b.AddInitialState("initial")
	lookup := b.AddToolState("lookup", "get_weather")
	report := b.AddChatState("report", "Report the weather data to the user.")
	askCity := b.AddChatState("ask_city", "Ask the user which city they mean.")
	apologize := b.AddChatState("apologize", "Apologize and list the available cities.")
	end := b.AddTerminalState("end")

	b.AddTransition(initial, lookup, condCityMentioned)
	b.AddTransition(initial, askCity, "")
	b.AddTransition(askCity, lookup, condCityMentioned)
	b.AddTransition(lookup, report, condSucceeded)
	b.AddTransition(lookup, apologize, condFailed)
	b.AddTransition(report, end, condGoodbye)
	b.AddTransition(report, lookup, condAnotherCity)
	b.AddTransition(apologize, lookup, condAnotherCity)
	b.AddTransition(apologize, end, "")

	j, err := b.Finalize(reg)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}
	return j
}

// scriptedProvider answers chat renders based on the active instruction.
func scriptedProvider() *llm.MockProvider {
	return &llm.MockProvider{
		ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			system := ""
			if len(req.Messages) > 0 && req.Messages[0].Role == llm.RoleSystem {
				system = req.Messages[0].Content
			}
			switch {
			case strings.Contains(system, "Ask the user which city"):
				return &llm.ChatResponse{Content: "Which city would you like the weather for?"}, nil
			case strings.Contains(system, "Report the weather"):
				return &llm.ChatResponse{Content: "Here is the weather you asked for."}, nil
			case strings.Contains(system, "Apologize"):
				return &llm.ChatResponse{Content: "Sorry, I can only look up a few cities."}, nil
			default:
				return &llm.ChatResponse{Content: "Happy to help!"}, nil
			}
		},
	}
}

func newWeatherAgent(t *testing.T, opts ...agent.Option) *agent.Agent {
	t.Helper()
	reg := weatherRegistry(t)
	base := []agent.Option{
		agent.WithProvider(scriptedProvider()),
		agent.WithEvaluator(weatherEvaluator()),
		agent.WithExtractor(cityExtractor()),
		agent.WithRegistry(reg),
		agent.WithJourneys(weatherJourney(t, reg)),
	}
	a, err := agent.New("weather-agent", append(base, opts...)...)
	if err != nil {
		t.Fatalf("agent.New failed: %v", err)
	}
	return a
}

func TestDirectCityQuery(t *testing.T) {
	a := newWeatherAgent(t)

	agenttest.NewScenario("direct lookup").
		Turn("北京天气怎么样",
			agenttest.ExpectJourney("weather"),
			agenttest.ExpectState("report"),
			agenttest.ExpectToolData("location", "北京"),
			agenttest.ExpectToolData("success", true),
			agenttest.ExpectResponseContains("weather"),
		).
		Run(t, a)
}

func TestClarifyThenLookup(t *testing.T) {
	a := newWeatherAgent(t)

	agenttest.NewScenario("clarify first").
		Turn("weather please",
			agenttest.ExpectState("ask_city"),
			agenttest.ExpectNoToolData(),
			agenttest.ExpectResponseContains("Which city"),
		).
		Turn("london",
			agenttest.ExpectState("report"),
			agenttest.ExpectToolData("location", "london"),
		).
		Run(t, a)
}

func TestUnknownCityApologizes(t *testing.T) {
	a := newWeatherAgent(t)

	agenttest.NewScenario("unknown city").
		Turn("what is the weather in paris",
			agenttest.ExpectState("apologize"),
			agenttest.ExpectToolData("success", false),
			agenttest.ExpectResponseContains("Sorry"),
		).
		Run(t, a)
}

func TestAnotherCityLoopAndGoodbye(t *testing.T) {
	a := newWeatherAgent(t)

	agenttest.NewScenario("loop then end").
		Turn("天气 北京",
			agenttest.ExpectState("report"),
		).
		Turn("what about tokyo",
			agenttest.ExpectState("report"),
			agenttest.ExpectToolData("location", "tokyo"),
		).
		Turn("ok bye",
			agenttest.ExpectEnded(),
			agenttest.ExpectJourney(""),
		).
		Run(t, a)
}

func TestFreeFormWhenNoJourneyApplies(t *testing.T) {
	a := newWeatherAgent(t)

	result, err := a.HandleTurn(context.Background(), "s-freeform", "tell me a joke")
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if result.JourneyID != "" {
		t.Errorf("expected no journey, got %q", result.JourneyID)
	}
	if result.Response != "Happy to help!" {
		t.Errorf("unexpected free-form response %q", result.Response)
	}
}

func TestGlobalGuidelineInjected(t *testing.T) {
	var sawDirective bool
	provider := &llm.MockProvider{
		ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			if len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "fahrenheit") {
				sawDirective = true
			}
			return &llm.ChatResponse{Content: "59F and sunny"}, nil
		},
	}

	reg := weatherRegistry(t)
	evaluator := &condition.KeywordEvaluator{
		Rules: map[string][]string{
			"the user asked about the weather": {"weather"},
			condCityMentioned:                  {"london"},
			condSucceeded:                      {`"success":true`},
			condFailed:                         {`"success":false`},
			"the user asked for fahrenheit":    {"fahrenheit"},
		},
	}
	a, err := agent.New("weather-agent",
		agent.WithProvider(provider),
		agent.WithEvaluator(evaluator),
		agent.WithExtractor(cityExtractor()),
		agent.WithRegistry(reg),
		agent.WithJourneys(weatherJourney(t, reg)),
		agent.WithGuidelines(guideline.Guideline{
			Condition: "the user asked for fahrenheit",
			Action:    "Convert temperatures to fahrenheit.",
			Scope:     guideline.Global,
		}),
	)
	if err != nil {
		t.Fatalf("agent.New failed: %v", err)
	}

	if _, err := a.HandleTurn(context.Background(), "s-guideline", "weather in london, fahrenheit please"); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if !sawDirective {
		t.Error("expected the fahrenheit directive in the rendering prompt")
	}
}

func TestSessionIsolationOnToolFailure(t *testing.T) {
	store := session.NewInMemoryStore()

	reg := tool.NewRegistry()
	def := tool.Definition{ID: "get_weather", Parameters: map[string]any{"type": "object"}}
	failNext := false
	err := reg.Register(def, func(context.Context, map[string]any) (*tool.Result, error) {
		if failNext {
			return nil, errors.New(errors.CodeInternal, "upstream unavailable", nil)
		}
		return &tool.Result{Success: true, Data: map[string]any{"location": "北京"}}, nil
	})
	if err != nil {
		t.Fatalf("register tool: %v", err)
	}

	// No failure transition out of lookup so handler errors surface.
	b := journey.NewBuilder("weather", "Weather lookup", "the user asked about the weather")
	initial := b.AddInitialState("initial")
	lookup := b.AddToolState("lookup", "get_weather")
	report := b.AddChatState("report", "Report the weather data to the user.")
	b.AddTransition(initial, lookup, condCityMentioned)
	b.AddTransition(lookup, report, condSucceeded)
	b.AddTransition(report, lookup, condAnotherCity)
	j, err := b.Finalize(reg)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}

	a, err := agent.New("weather-agent",
		agent.WithProvider(scriptedProvider()),
		agent.WithEvaluator(weatherEvaluator()),
		agent.WithExtractor(cityExtractor()),
		agent.WithRegistry(reg),
		agent.WithJourneys(j),
		agent.WithStore(store),
	)
	if err != nil {
		t.Fatalf("agent.New failed: %v", err)
	}

	ctx := context.Background()
	if _, err := a.HandleTurn(ctx, "session-a", "北京天气"); err != nil {
		t.Fatalf("session A turn failed: %v", err)
	}
	posA, err := store.Position(ctx, "session-a")
	if err != nil {
		t.Fatalf("position A: %v", err)
	}
	if posA.StateID != "report" {
		t.Fatalf("session A position %q, want report", posA.StateID)
	}

	// Session B's tool invocation fails; it degrades to an apology and
	// must not disturb session A.
	failNext = true
	resultB, err := a.HandleTurn(ctx, "session-b", "上海天气")
	if err != nil {
		t.Fatalf("session B turn failed: %v", err)
	}
	if !strings.Contains(resultB.Response, "sorry") && !strings.Contains(resultB.Response, "Sorry") {
		t.Errorf("expected apologetic reply, got %q", resultB.Response)
	}

	posA2, err := store.Position(ctx, "session-a")
	if err != nil {
		t.Fatalf("position A after B: %v", err)
	}
	if posA2 != posA {
		t.Errorf("session A position changed: %+v -> %+v", posA, posA2)
	}
}

func TestTurnTimeoutLeavesPositionUnchanged(t *testing.T) {
	store := session.NewInMemoryStore()

	reg := tool.NewRegistry()
	def := tool.Definition{ID: "get_weather", Parameters: map[string]any{"type": "object"}}
	err := reg.Register(def, func(ctx context.Context, _ map[string]any) (*tool.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("register tool: %v", err)
	}

	b := journey.NewBuilder("weather", "Weather lookup", "the user asked about the weather")
	initial := b.AddInitialState("initial")
	lookup := b.AddToolState("lookup", "get_weather")
	report := b.AddChatState("report", "Report the weather data to the user.")
	b.AddTransition(initial, lookup, condCityMentioned)
	b.AddTransition(lookup, report, condSucceeded)
	j, err := b.Finalize(reg)
	if err != nil {
		t.Fatalf("finalize journey: %v", err)
	}

	a, err := agent.New("weather-agent",
		agent.WithProvider(scriptedProvider()),
		agent.WithEvaluator(weatherEvaluator()),
		agent.WithExtractor(cityExtractor()),
		agent.WithRegistry(reg),
		agent.WithJourneys(j),
		agent.WithStore(store),
		agent.WithTurnTimeout(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("agent.New failed: %v", err)
	}

	ctx := context.Background()
	_, err = a.HandleTurn(ctx, "s-timeout", "北京天气")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !errors.HasCode(err, errors.CodeTimeout) {
		t.Errorf("expected CodeTimeout, got %v", err)
	}

	pos, err := store.Position(ctx, "s-timeout")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Active() {
		t.Errorf("timed-out turn must not commit a position, got %+v", pos)
	}
}

func TestTurnEventsEmitted(t *testing.T) {
	collector := agenttest.NewEventCollector()
	a := newWeatherAgent(t, agent.WithEmitter(collector))

	if _, err := a.HandleTurn(context.Background(), "s-events", "北京天气怎么样"); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	for _, want := range []core.EventType{
		core.EventJourneySelected,
		core.EventStateEntered,
		core.EventToolInvoked,
		core.EventTurnCompleted,
	} {
		if collector.Count(want) == 0 {
			t.Errorf("expected at least one %s event, got types %v", want, collector.Types())
		}
	}
}

func TestConcurrentSessions(t *testing.T) {
	a := newWeatherAgent(t)

	done := make(chan error, 2)
	run := func(sessionID string) {
		_, err := a.HandleTurn(context.Background(), sessionID, "北京天气怎么样")
		done <- err
	}
	go run("concurrent-a")
	go run("concurrent-b")

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent turn failed: %v", err)
		}
	}
}
