package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chatd-agent/chatd/internal/agent"
	"github.com/chatd-agent/chatd/internal/backoff"
)

// FetchConfig controls web_fetch defaults.
type FetchConfig struct {
	// MaxChars bounds the extracted content returned to the model.
	// Default: 10000.
	MaxChars int

	// MaxAttempts bounds the retry-with-backoff loop around the
	// underlying fetch, mirroring web_search's retry policy. Default: 3.
	MaxAttempts int

	// AllowLocalhost disables the SSRF guard that otherwise rejects
	// loopback/private targets. Set only by tests driving an
	// httptest.Server; never set from process configuration.
	AllowLocalhost bool
}

// FetchParams is the web_fetch tool's argument shape.
type FetchParams struct {
	URL         string `json:"url"`
	ExtractMode string `json:"extract_mode,omitempty"`
	MaxChars    int    `json:"max_chars,omitempty"`
}

// WebFetchTool implements agent.Tool as "web_fetch": it retrieves a URL and
// reduces it to readable text via ContentExtractor, retrying transient
// failures with jittered exponential backoff like WebSearchTool.
type WebFetchTool struct {
	config    FetchConfig
	extractor *ContentExtractor
}

// NewWebFetchTool builds a web_fetch tool, applying defaults for any
// zero-valued fields.
func NewWebFetchTool(config *FetchConfig) *WebFetchTool {
	cfg := FetchConfig{MaxChars: 10000, MaxAttempts: 3}
	if config != nil {
		if config.MaxChars > 0 {
			cfg.MaxChars = config.MaxChars
		}
		if config.MaxAttempts > 0 {
			cfg.MaxAttempts = config.MaxAttempts
		}
		cfg.AllowLocalhost = config.AllowLocalhost
	}

	extractor := NewContentExtractor()
	if cfg.AllowLocalhost {
		extractor = NewContentExtractorForTesting()
	}
	return &WebFetchTool{config: cfg, extractor: extractor}
}

// Name returns the tool name for registration with the agent registry.
func (t *WebFetchTool) Name() string {
	return "web_fetch"
}

// Description returns the tool description shown in the format instructions.
func (t *WebFetchTool) Description() string {
	return "Fetch and extract readable content from a URL without full browser automation."
}

// Schema returns the JSON schema for the tool's arguments.
func (t *WebFetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to fetch (http/https only)"},
			"extract_mode": {"type": "string", "enum": ["markdown", "text"], "description": "Extraction mode. Default: markdown"},
			"max_chars": {"type": "integer", "description": "Maximum characters to return (default: 10000)", "minimum": 0}
		},
		"required": ["url"]
	}`)
}

// Execute fetches params.URL and returns its extracted content, retrying
// the underlying fetch up to config.MaxAttempts times with jittered
// exponential backoff before surfacing a failure, same as WebSearchTool.
func (t *WebFetchTool) Execute(ctx context.Context, raw json.RawMessage) (*agent.ToolResult, error) {
	var p FetchParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	p.URL = strings.TrimSpace(p.URL)
	if p.URL == "" {
		return &agent.ToolResult{Content: "Missing required parameter: url", IsError: true}, nil
	}

	extractMode := normalizeExtractMode(p.ExtractMode)
	limit := t.config.MaxChars
	if p.MaxChars > 0 && (limit == 0 || p.MaxChars < limit) {
		limit = p.MaxChars
	}

	content, err := backoff.RetryFunc(ctx, t.config.MaxAttempts, func(attempt int) (string, error) {
		return t.extractor.Extract(ctx, p.URL)
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Fetch failed: %v", err), IsError: true}, nil
	}

	truncated := false
	if limit > 0 && len(content) > limit {
		content = content[:limit] + "..."
		truncated = true
	}

	result := map[string]interface{}{
		"url":          p.URL,
		"extract_mode": extractMode,
		"content":      content,
	}
	if truncated {
		result["truncated"] = true
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Failed to format response: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

func normalizeExtractMode(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "text" {
		return "text"
	}
	return "markdown"
}
