package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatd-agent/chatd/internal/agent"
	"github.com/chatd-agent/chatd/internal/backoff"
)

// Config holds the web_search tool's configuration: the base URL of a
// SearXNG-compatible JSON search endpoint (its "/search?format=json"
// route) and the defaults applied when a call omits them.
type Config struct {
	// SearchEndpoint is the base URL of a SearXNG-compatible search
	// instance. Required; Execute returns an error result when empty.
	SearchEndpoint string

	// DefaultResultCount is used when a call omits result_count.
	DefaultResultCount int

	// MaxAttempts bounds the retry-with-backoff loop around the HTTP
	// call. Default: 3.
	MaxAttempts int
}

const maxResultCount = 20

// SearchParams is the web_search tool's argument shape.
type SearchParams struct {
	Query       string `json:"query"`
	ResultCount int    `json:"result_count,omitempty"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResponse is the full web_search result payload.
type SearchResponse struct {
	Query       string         `json:"query"`
	Results     []SearchResult `json:"results"`
	ResultCount int            `json:"result_count"`
}

// WebSearchTool implements agent.Tool as "web_search": it issues a query
// against a single configurable SearXNG-compatible endpoint, retrying the
// HTTP call with jittered exponential backoff.
type WebSearchTool struct {
	config     Config
	httpClient *http.Client
}

// NewWebSearchTool builds a web_search tool, applying defaults for any
// zero-valued fields.
func NewWebSearchTool(config *Config) *WebSearchTool {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	if cfg.DefaultResultCount <= 0 {
		cfg.DefaultResultCount = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	return &WebSearchTool{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the tool name for registration with the agent registry.
func (t *WebSearchTool) Name() string {
	return "web_search"
}

// Description returns the tool description shown in the format instructions.
func (t *WebSearchTool) Description() string {
	return "Search the web for information and return ranked results with titles, URLs, and snippets."
}

// Schema returns the JSON schema for the tool's arguments.
func (t *WebSearchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query",
			},
			"result_count": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Number of results to return (default: %d, max: %d)", t.config.DefaultResultCount, maxResultCount),
				"minimum":     1,
				"maximum":     maxResultCount,
			},
		},
		"required": []string{"query"},
	}

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return schemaBytes
}

// Execute runs the search, retrying the underlying HTTP call up to
// config.MaxAttempts times with jittered exponential backoff before
// surfacing a failure.
func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var searchParams SearchParams
	if err := json.Unmarshal(params, &searchParams); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	searchParams.Query = strings.TrimSpace(searchParams.Query)
	if searchParams.Query == "" {
		return &agent.ToolResult{Content: "Query parameter is required", IsError: true}, nil
	}
	if searchParams.ResultCount <= 0 {
		searchParams.ResultCount = t.config.DefaultResultCount
	} else if searchParams.ResultCount > maxResultCount {
		searchParams.ResultCount = maxResultCount
	}

	if t.config.SearchEndpoint == "" {
		return &agent.ToolResult{Content: "web_search is not configured: WEB_SEARCH_ENDPOINT is empty", IsError: true}, nil
	}

	result, err := backoff.RetryFunc(ctx, t.config.MaxAttempts, func(attempt int) (*SearchResponse, error) {
		return t.doSearch(ctx, &searchParams)
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Search failed: %v", err), IsError: true}, nil
	}

	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Failed to format response: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(output)}, nil
}

// doSearch issues one HTTP round trip against the configured endpoint.
func (t *WebSearchTool) doSearch(ctx context.Context, params *SearchParams) (*SearchResponse, error) {
	endpoint, err := url.Parse(t.config.SearchEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}

	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("format", "json")
	query.Set("pageno", "1")
	query.Set("categories", "general")

	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + "/search"
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	count := params.ResultCount
	if count > len(decoded.Results) {
		count = len(decoded.Results)
	}
	results := make([]SearchResult, 0, count)
	for i := 0; i < count; i++ {
		r := decoded.Results[i]
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}

	return &SearchResponse{
		Query:       params.Query,
		Results:     results,
		ResultCount: len(results),
	}, nil
}
