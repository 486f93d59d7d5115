package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rumbo-ai/rumbo/pkg/agent"
	"github.com/rumbo-ai/rumbo/pkg/condition"
	"github.com/rumbo-ai/rumbo/pkg/config"
	"github.com/rumbo-ai/rumbo/pkg/journey"
	"github.com/rumbo-ai/rumbo/pkg/llm"
	"github.com/rumbo-ai/rumbo/pkg/session"
	"github.com/rumbo-ai/rumbo/pkg/telemetry"
	"github.com/rumbo-ai/rumbo/pkg/tool"
)

const version = "v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "", "Path to a YAML config file")
	profile := flag.String("profile", "", "Config profile to load (dev, prod)")
	sessionID := flag.String("session", "", "Session ID (default: a fresh UUID)")
	prompt := flag.String("prompt", "", "Single message to run (non-interactive)")
	journeyPath := flag.String("journey", "", "YAML journey definition replacing the built-in weather journey")
	noTelemetry := flag.Bool("no-telemetry", false, "Disable trace and metric export")
	watch := flag.Bool("watch", false, "Watch the config file for changes and hot-reload")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *profile)
	if err != nil {
		fatal(fmt.Errorf("failed to load config: %w", err))
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	reloadable := config.NewReloadableConfig(cfg)
	if *watch {
		if *configPath == "" {
			fmt.Fprintln(os.Stderr, "Warning: -watch needs -config, nothing to watch")
		} else {
			watcher, _, err := config.WatchConfig(ctx, *configPath,
				config.WithWatchInterval(1*time.Second),
				config.WithWatchLogger(logger),
			)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not watch config: %v\n", err)
			} else {
				watcher.OnChange(func(newCfg *config.Config) {
					reloadable.Update(newCfg)
					fmt.Println("\n[config reloaded]")
				})
				defer watcher.Stop()
				fmt.Printf("Watching config: %s\n", *configPath)
			}
		}
	}

	opts := []agent.Option{
		agent.WithDescription("You are a friendly weather assistant. You answer questions about the current weather in supported cities."),
		agent.WithModel(cfg.LLM.Model),
		agent.WithGuidelines(globalGuidelines()...),
		agent.WithLogger(logger),
	}

	if !*noTelemetry {
		shutdown, err := telemetry.InitWithConfig("weather-agent", version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		})
		if err != nil {
			fatal(fmt.Errorf("failed to init telemetry: %w", err))
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
			}
		}()

		metrics, err := telemetry.NewEngineMetrics()
		if err != nil {
			fatal(fmt.Errorf("failed to init metrics: %w", err))
		}
		opts = append(opts, agent.WithMetrics(metrics))
	}

	provider, err := newProvider(cfg)
	if err != nil {
		fatal(err)
	}
	opts = append(opts,
		agent.WithProvider(provider),
		agent.WithEvaluator(condition.NewLLMEvaluator(provider, cfg.LLM.Model,
			condition.WithRetryAttempts(cfg.Engine.EvaluatorRetries),
		)),
	)

	store, closeStore, err := newStore(cfg)
	if err != nil {
		fatal(err)
	}
	defer closeStore()
	opts = append(opts, agent.WithStore(store))

	reg := tool.NewRegistry()
	if err := registerWeatherTool(reg); err != nil {
		fatal(err)
	}
	opts = append(opts, agent.WithRegistry(reg))

	j, err := loadJourney(*journeyPath, reg)
	if err != nil {
		fatal(fmt.Errorf("failed to load journey: %w", err))
	}
	opts = append(opts, agent.WithJourneys(j))

	if cfg.Engine.HopLimit > 0 {
		opts = append(opts, agent.WithHopLimit(cfg.Engine.HopLimit))
	}
	if cfg.Engine.TurnTimeout > 0 {
		opts = append(opts, agent.WithTurnTimeout(cfg.Engine.TurnTimeout))
	}

	a, err := agent.New("weather-agent", opts...)
	if err != nil {
		fatal(fmt.Errorf("failed to create agent: %w", err))
	}

	sid := *sessionID
	if sid == "" {
		sid = uuid.NewString()
	}

	if *prompt != "" {
		runSingleTurn(ctx, a, sid, *prompt)
		return
	}
	runREPL(ctx, a, sid, reloadable)
}

func loadConfig(path, profile string) (*config.Config, error) {
	if profile != "" {
		return config.LoadWithProfile(path, profile)
	}
	return config.Load(path)
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "ollama", "":
		baseURL := cfg.LLM.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return llm.NewOllama(baseURL), nil
	case "zhipu":
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("zhipu provider requires llm.api_key (or RUMBO_LLM_API_KEY)")
		}
		return llm.NewZhipu(cfg.LLM.BaseURL, cfg.LLM.APIKey), nil
	case "mock":
		return &llm.MockProvider{Response: "This is a mock response."}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.LLM.Provider)
	}
}

func newStore(cfg *config.Config) (session.Store, func(), error) {
	switch strings.ToLower(cfg.Session.Backend) {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Session.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session db: %w", err)
		}
		store, err := session.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to init session store: %w", err)
		}
		return store, func() { store.Close() }, nil
	case "inmemory", "":
		return session.NewInMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend: %s", cfg.Session.Backend)
	}
}

func loadJourney(path string, reg *tool.Registry) (*journey.Journey, error) {
	if path != "" {
		return journey.Load(path, reg)
	}
	return weatherJourney(reg)
}

func runSingleTurn(ctx context.Context, a *agent.Agent, sessionID, message string) {
	result, err := a.HandleTurn(ctx, sessionID, message)
	if err != nil {
		fatal(err)
	}
	fmt.Println(result.Response)
}

func runREPL(ctx context.Context, a *agent.Agent, sessionID string, cfg *config.ReloadableConfig) {
	llmCfg := cfg.LLM()
	fmt.Println("Rumbo weather agent. Type 'exit' or Ctrl+C to quit.")
	fmt.Printf("LLM: %s (%s)  Session: %s\n", llmCfg.Provider, llmCfg.Model, sessionID)
	fmt.Println("---")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")

		select {
		case <-ctx.Done():
			fmt.Println("\nGoodbye!")
			return
		default:
		}

		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			fmt.Println("Goodbye!")
			return
		}

		result, err := a.HandleTurn(ctx, sessionID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Println(result.Response)
		if result.Ended {
			fmt.Println("[journey complete]")
		}
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
