package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatd-agent/chatd/internal/agent"
)

func TestWebSearchTool_Name(t *testing.T) {
	tool := NewWebSearchTool(&Config{})
	if tool.Name() != "web_search" {
		t.Errorf("expected name 'web_search', got '%s'", tool.Name())
	}
}

func TestWebSearchTool_Description(t *testing.T) {
	tool := NewWebSearchTool(&Config{})
	if tool.Description() == "" {
		t.Error("description should not be empty")
	}
}

func TestWebSearchTool_Schema(t *testing.T) {
	tool := NewWebSearchTool(&Config{})
	schema := tool.Schema()

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		t.Fatalf("failed to unmarshal schema: %v", err)
	}

	props, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("schema should have properties")
	}
	if _, ok := props["query"]; !ok {
		t.Error("schema should have query property")
	}

	required, ok := schemaMap["required"].([]interface{})
	if !ok || len(required) == 0 {
		t.Error("schema should have required fields")
	}
}

func TestWebSearchTool_InterfaceCompliance(t *testing.T) {
	var _ agent.Tool = (*WebSearchTool)(nil)
}

func TestWebSearchTool_Execute_InvalidParams(t *testing.T) {
	tool := NewWebSearchTool(&Config{SearchEndpoint: "http://example.invalid"})

	tests := []struct {
		name   string
		params string
	}{
		{name: "invalid JSON", params: `{invalid}`},
		{name: "missing query", params: `{}`},
		{name: "blank query", params: `{"query":"   "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}
			if !result.IsError {
				t.Error("expected error result")
			}
		})
	}
}

func TestWebSearchTool_Execute_NotConfigured(t *testing.T) {
	tool := NewWebSearchTool(&Config{})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"weather"}`))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result when SearchEndpoint is unset")
	}
}

func TestWebSearchTool_Execute_Success(t *testing.T) {
	var gotQuery, gotFormat, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")

		response := map[string]interface{}{
			"results": []map[string]interface{}{
				{"title": "Result 1", "url": "https://example.com/1", "content": "First result"},
				{"title": "Result 2", "url": "https://example.com/2", "content": "Second result"},
				{"title": "Result 3", "url": "https://example.com/3", "content": "Third result"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	tool := NewWebSearchTool(&Config{SearchEndpoint: server.URL})

	params := SearchParams{Query: "test query", ResultCount: 2}
	paramsJSON, _ := json.Marshal(params)

	result, err := tool.Execute(context.Background(), paramsJSON)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}

	if gotPath != "/search" {
		t.Errorf("expected path /search, got %s", gotPath)
	}
	if gotQuery != "test query" {
		t.Errorf("expected query 'test query', got %q", gotQuery)
	}
	if gotFormat != "json" {
		t.Errorf("expected format=json, got %q", gotFormat)
	}

	var response SearchResponse
	if err := json.Unmarshal([]byte(result.Content), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Query != "test query" {
		t.Errorf("expected query 'test query', got '%s'", response.Query)
	}
	if len(response.Results) != 2 {
		t.Errorf("expected 2 results (capped by result_count), got %d", len(response.Results))
	}
	if response.Results[0].Title != "Result 1" {
		t.Errorf("expected title 'Result 1', got '%s'", response.Results[0].Title)
	}
}

func TestWebSearchTool_Execute_ResultCountDefaultsAndCaps(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := make([]map[string]interface{}, maxResultCount)
		for i := range results {
			results[i] = map[string]interface{}{
				"title":   "Result",
				"url":     "https://example.com",
				"content": "content",
			}
		}
		response := map[string]interface{}{"results": results}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	tests := []struct {
		name          string
		requestCount  int
		expectedCount int
	}{
		{"default count", 0, 5},
		{"custom count", 3, 3},
		{"over limit", 25, maxResultCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewWebSearchTool(&Config{SearchEndpoint: server.URL, DefaultResultCount: 5})

			paramsJSON, _ := json.Marshal(SearchParams{Query: "test", ResultCount: tt.requestCount})
			result, err := tool.Execute(context.Background(), paramsJSON)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if result.IsError {
				t.Fatalf("unexpected error: %s", result.Content)
			}

			var response SearchResponse
			if err := json.Unmarshal([]byte(result.Content), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if len(response.Results) != tt.expectedCount {
				t.Errorf("expected %d results, got %d", tt.expectedCount, len(response.Results))
			}
		})
	}
}

func TestWebSearchTool_Execute_RetriesOnFailure(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		response := map[string]interface{}{
			"results": []map[string]interface{}{
				{"title": "Result", "url": "https://example.com", "content": "content"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	tool := NewWebSearchTool(&Config{SearchEndpoint: server.URL, MaxAttempts: 3})

	paramsJSON, _ := json.Marshal(SearchParams{Query: "retry me"})
	result, err := tool.Execute(context.Background(), paramsJSON)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected eventual success after retry, got error: %s", result.Content)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts (1 failure + 1 success), got %d", calls)
	}
}

func TestWebSearchTool_Execute_FailsAfterMaxAttempts(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tool := NewWebSearchTool(&Config{SearchEndpoint: server.URL, MaxAttempts: 2})

	paramsJSON, _ := json.Marshal(SearchParams{Query: "always fails"})
	result, err := tool.Execute(context.Background(), paramsJSON)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result after exhausting retries")
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls)
	}
}
