// Package main provides the CLI entry point for chatd, a tag-driven
// conversational agent backend exposed over HTTP/SSE.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatd-agent/chatd/internal/agent"
	"github.com/chatd-agent/chatd/internal/config"
	"github.com/chatd-agent/chatd/internal/httpapi"
	"github.com/chatd-agent/chatd/internal/llm"
	"github.com/chatd-agent/chatd/internal/observability"
	"github.com/chatd-agent/chatd/internal/tools/calculator"
	"github.com/chatd-agent/chatd/internal/tools/clock"
	"github.com/chatd-agent/chatd/internal/tools/websearch"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chatd",
		Short:        "chatd - tag-driven conversational agent backend",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/SSE chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe loads configuration, wires the LLM client and tool registry into
// a ConversationAgent factory, and serves until interrupted.
func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := observability.MustNewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: "json",
	})
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := buildLLMClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build llm client: %w", err)
	}

	registry := buildRegistry(cfg)

	conversationConfig := agent.DefaultConversationConfig()
	conversationConfig.DefaultMaxIterations = cfg.Agent.MaxIterations
	conversationConfig.DefaultExtraIterations = cfg.Agent.ExtraIterations
	conversationConfig.PreparerConfig.MaxHistoryMessages = cfg.Agent.MaxHistoryMessages
	conversationConfig.ToolExecConfig = agent.NetworkToolExecConfig()

	newAgent := func() *agent.ConversationAgent {
		a := agent.NewConversationAgent(client, registry, conversationConfig)
		a.SetMetrics(metrics)
		return a
	}

	server := httpapi.New(httpapi.Config{
		NewAgent: newAgent,
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info(ctx, "chatd starting", "addr", addr, "llm_provider", cfg.LLM.Provider)
	return server.Serve(ctx, addr)
}

func buildLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(cfg.LLM.AnthropicAPIKey, cfg.LLM.AnthropicBaseURL, cfg.LLM.AnthropicModel)
	case "bedrock":
		return llm.NewBedrockClient(ctx, cfg.LLM.BedrockRegion, cfg.LLM.BedrockModel)
	default:
		return llm.NewOpenAIClient(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.OpenAIModel)
	}
}

// buildRegistry wires every tool advertised in the agent's format
// instructions: web_search and web_fetch (network-backed) plus calculator
// and current_time (pure, in-process).
func buildRegistry(cfg *config.Config) *agent.ToolRegistry {
	registry := agent.NewToolRegistry()

	registry.Register(websearch.NewWebSearchTool(&websearch.Config{
		SearchEndpoint: cfg.Tools.WebSearchEndpoint,
	}))
	registry.Register(websearch.NewWebFetchTool(nil))
	registry.Register(calculator.New())
	registry.Register(clock.New())

	return registry
}
