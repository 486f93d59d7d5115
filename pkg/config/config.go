package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Engine    EngineConfig    `koanf:"engine"`
	Session   SessionConfig   `koanf:"session"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama, zhipu, mock
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type EngineConfig struct {
	HopLimit         int           `koanf:"hop_limit"`
	EvaluatorRetries int           `koanf:"evaluator_retries"`
	TurnTimeout      time.Duration `koanf:"turn_timeout"`
}

type SessionConfig struct {
	Backend    string `koanf:"backend"` // inmemory, sqlite
	SQLitePath string `koanf:"sqlite_path"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5:latest")
	k.Set("llm.base_url", "http://localhost:11434")

	k.Set("engine.hop_limit", 8)
	k.Set("engine.evaluator_retries", 2)
	k.Set("engine.turn_timeout", "60s")

	k.Set("session.backend", "inmemory")
	k.Set("session.sqlite_path", "rumbo.db")

	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (RUMBO_LLM_PROVIDER -> llm.provider)
	if err := k.Load(env.Provider("RUMBO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "RUMBO_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadWithProfile loads the base config and overlays a profile-specific
// file when one exists next to it (config.yaml + config.dev.yaml).
func LoadWithProfile(path, profile string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	overlay := profileConfigPath(path, profile)
	if overlay == "" {
		return cfg, nil
	}

	if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
		return nil, err
	}

	var merged Config
	if err := k.Unmarshal("", &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// profileConfigPath returns the path of the profile overlay next to the
// base config, or "" when there is nothing to overlay.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	name := filepath.Base(base)
	name = name[:len(name)-len(ext)]

	candidate := filepath.Join(dir, name+"."+profile+ext)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}
