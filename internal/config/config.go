// Package config loads process configuration from environment variables.
// There is no config file layer: every tunable is an environment variable
// with a documented default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string
	Port int
}

// LLMConfig selects and configures the LLM provider backing the
// conversation agent.
type LLMConfig struct {
	Provider string // "openai", "anthropic", or "bedrock"

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicModel   string

	BedrockRegion string
	BedrockModel  string
}

// ToolsConfig configures the built-in tool implementations.
type ToolsConfig struct {
	WebSearchEndpoint string
}

// AgentConfig surfaces the conversation agent's iteration-budget and
// history-window tunables as configuration instead of hardcoded literals.
type AgentConfig struct {
	MaxHistoryMessages int
	MaxIterations      int
	ExtraIterations    int
}

// ObservabilityConfig controls structured logging verbosity.
type ObservabilityConfig struct {
	LogLevel string
}

// Config is the fully resolved process configuration, loaded once at
// startup and passed explicitly to every collaborator that needs it —
// no package-level global.
type Config struct {
	APIV1         string
	Server        ServerConfig
	LLM           LLMConfig
	Tools         ToolsConfig
	Agent         AgentConfig
	Observability ObservabilityConfig
}

// Load builds a Config from the process environment, applying defaults
// and validating the result.
func Load() (*Config, error) {
	cfg := &Config{
		APIV1: os.Getenv("API_V1"),
		Server: ServerConfig{
			Host: getenvOr("HOST", "0.0.0.0"),
			Port: getenvIntOr("PORT", 8000),
		},
		LLM: LLMConfig{
			Provider:         strings.ToLower(getenvOr("LLM_PROVIDER", "openai")),
			OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL:    os.Getenv("OPENAI_API_BASE"),
			OpenAIModel:      getenvOr("OPENAI_MODEL", "gpt-4o"),
			AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicBaseURL: os.Getenv("ANTHROPIC_API_BASE"),
			AnthropicModel:   getenvOr("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
			BedrockRegion:    os.Getenv("BEDROCK_REGION"),
			BedrockModel:     os.Getenv("BEDROCK_MODEL"),
		},
		Tools: ToolsConfig{
			WebSearchEndpoint: os.Getenv("WEB_SEARCH_ENDPOINT"),
		},
		Agent: AgentConfig{
			MaxHistoryMessages: getenvIntOr("MAX_HISTORY_MESSAGES", 10),
			MaxIterations:      getenvIntOr("MAX_ITERATIONS", 3),
			ExtraIterations:    getenvIntOr("EXTRA_ITERATIONS", 1),
		},
		Observability: ObservabilityConfig{
			LogLevel: getenvOr("LOG_LEVEL", "info"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenvOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvIntOr(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// ValidationError reports one or more configuration problems discovered
// at startup.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.OpenAIAPIKey == "" {
			issues = append(issues, "OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case "anthropic":
		if cfg.LLM.AnthropicAPIKey == "" {
			issues = append(issues, "ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
	case "bedrock":
		// Bedrock uses the AWS default credential chain; no key required here.
	default:
		issues = append(issues, fmt.Sprintf("LLM_PROVIDER %q is not one of openai, anthropic, bedrock", cfg.LLM.Provider))
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("PORT %d is not a valid TCP port", cfg.Server.Port))
	}
	if cfg.Agent.MaxHistoryMessages <= 0 {
		issues = append(issues, "MAX_HISTORY_MESSAGES must be positive")
	}
	if cfg.Agent.MaxIterations <= 0 {
		issues = append(issues, "MAX_ITERATIONS must be positive")
	}
	if cfg.Agent.ExtraIterations < 0 {
		issues = append(issues, "EXTRA_ITERATIONS must not be negative")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
