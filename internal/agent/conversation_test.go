package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/chatd-agent/chatd/internal/llm"
)

// scriptedClient replays one scripted response string per call to Stream,
// advancing through the script in order; each response is split into
// one-rune chunks to exercise the same chunk-boundary handling a real
// network stream would produce.
type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Chunk, error) {
	if c.calls >= len(c.responses) {
		return nil, errors.New("scripted client: no more responses")
	}
	resp := c.responses[c.calls]
	c.calls++

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, r := range resp {
			select {
			case ch <- llm.Chunk{Text: string(r)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// recordingSink captures every emitted event in order.
type recordingSink struct {
	events []OutboundEvent
}

func (s *recordingSink) Emit(_ context.Context, e OutboundEvent) {
	s.events = append(s.events, e)
}

func (s *recordingSink) textJoined() string {
	var out string
	for _, e := range s.events {
		if e.Type == EventText {
			out += e.Text
		}
	}
	return out
}

func planTag(step, total int, status StepStatus) string {
	p := Plan{
		Steps:       []Step{{Description: "step", Status: status}},
		CurrentStep: step,
		TotalSteps:  total,
	}
	raw, _ := json.Marshal(p)
	return "[PLAN]" + string(raw) + "[/PLAN]"
}

func reasoningTag(thought, notif string) string {
	r := Reasoning{Thought: thought, UserNotification: notif}
	raw, _ := json.Marshal(r)
	return "[REASONING]" + string(raw) + "[/REASONING]"
}

func statusTag(status string) string {
	raw, _ := json.Marshal(Status{Status: status})
	return "[STATUS]" + string(raw) + "[/STATUS]"
}

func toolTag(name string, args map[string]any) string {
	raw, _ := json.Marshal(args)
	tu := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{Name: name, Arguments: raw}
	out, _ := json.Marshal(tu)
	return "[TOOL]" + string(out) + "[/TOOL]"
}

func TestProcessMessageImmediateComplete(t *testing.T) {
	response := planTag(1, 1, StepCompleted) +
		reasoningTag("thinking it through", "Thinking") +
		"[TEXT]hello[/TEXT]" +
		statusTag(StatusComplete) +
		"[SUMMARY]greeted the user[/SUMMARY]"

	client := &scriptedClient{responses: []string{response}}
	agent := NewConversationAgent(client, NewToolRegistry(), DefaultConversationConfig())
	sink := &recordingSink{}

	outCtx, err := agent.ProcessMessage(context.Background(), "hi", "", ConversationContext{}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.textJoined() != "hello" {
		t.Fatalf("streamed text = %q, want %q", sink.textJoined(), "hello")
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != EventUpdatedContext {
		t.Fatalf("last event type = %q, want updated_context", last.Type)
	}
	if len(outCtx.History) != 2 || outCtx.History[0].Role != RoleHuman || outCtx.History[0].Content != "hi" {
		t.Fatalf("unexpected history: %+v", outCtx.History)
	}
	if outCtx.History[1].Role != RoleAI || outCtx.History[1].Content != "hello" {
		t.Fatalf("unexpected ai turn: %+v", outCtx.History[1])
	}
	for _, e := range outCtx.History {
		if e.Role == RoleSystem {
			t.Fatalf("outgoing history must not contain system entries: %+v", outCtx.History)
		}
	}
}

func TestProcessMessageSingleToolThenComplete(t *testing.T) {
	iter1 := planTag(1, 2, StepInProgress) +
		reasoningTag("need to search", "Searching") +
		toolTag("web_search", map[string]any{"query": "go modules"}) +
		statusTag(StatusContinue)
	iter2 := planTag(2, 2, StepCompleted) +
		reasoningTag("answering now", "Answering") +
		"[TEXT]here is your answer[/TEXT]" +
		statusTag(StatusComplete)

	client := &scriptedClient{responses: []string{iter1, iter2}}
	registry := NewToolRegistry()
	registry.Register(&staticTool{name: "web_search", result: "found it"})
	agent := NewConversationAgent(client, registry, DefaultConversationConfig())
	sink := &recordingSink{}

	_, err := agent.ProcessMessage(context.Background(), "find something", "", ConversationContext{}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var startID, endID string
	for _, e := range sink.events {
		if e.Type == EventToolStart {
			startID = e.ToolUse.ID
		}
		if e.Type == EventToolEnd {
			endID = e.ToolUse.ID
			if e.ToolResult.Result != "found it" {
				t.Fatalf("tool result = %+v, want content %q", e.ToolResult, "found it")
			}
		}
	}
	if startID == "" || startID != endID {
		t.Fatalf("tool_start id %q does not match tool_end id %q", startID, endID)
	}
}

func TestProcessMessageToolNotAvailable(t *testing.T) {
	iter1 := reasoningTag("trying a tool", "Working") +
		toolTag("nonexistent", map[string]any{}) +
		statusTag(StatusContinue)
	iter2 := reasoningTag("giving up on that tool", "Finishing") +
		"[TEXT]done[/TEXT]" +
		statusTag(StatusComplete)

	client := &scriptedClient{responses: []string{iter1, iter2}}
	agent := NewConversationAgent(client, NewToolRegistry(), DefaultConversationConfig())
	sink := &recordingSink{}

	_, err := agent.ProcessMessage(context.Background(), "use a bad tool", "", ConversationContext{}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, e := range sink.events {
		if e.Type == EventToolEnd && e.ToolResult.IsError() {
			if e.ToolResult.Error == "" {
				t.Fatal("expected a non-empty error message")
			}
			if want := "Tool 'nonexistent' is not available."; e.ToolResult.Error != want {
				t.Fatalf("error = %q, want %q", e.ToolResult.Error, want)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("expected a tool_end event with an error")
	}
}

func TestProcessMessageIterationOverrun(t *testing.T) {
	response := reasoningTag("still working", "Working") +
		toolTag("noop", map[string]any{}) +
		statusTag(StatusContinue)

	client := &scriptedClient{responses: []string{response, response, response}}
	registry := NewToolRegistry()
	registry.Register(&staticTool{name: "noop", result: "ok"})
	agent := NewConversationAgent(client, registry, DefaultConversationConfig())
	sink := &recordingSink{}

	_, err := agent.ProcessMessage(context.Background(), "keep going", "", ConversationContext{}, sink)
	if err == nil {
		t.Fatal("expected an iteration overrun error")
	}
	var overrun *IterationOverrun
	if !errors.As(err, &overrun) {
		t.Fatalf("got error of type %T, want *IterationOverrun", err)
	}
	if overrun.MaxIterations != DefaultMaxIterations {
		t.Fatalf("max iterations = %d, want %d", overrun.MaxIterations, DefaultMaxIterations)
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != EventError {
		t.Fatalf("last event type = %q, want error", last.Type)
	}
}

func TestProcessMessageMissingStatus(t *testing.T) {
	response := reasoningTag("no status this time", "Working")

	client := &scriptedClient{responses: []string{response}}
	agent := NewConversationAgent(client, NewToolRegistry(), DefaultConversationConfig())
	sink := &recordingSink{}

	_, err := agent.ProcessMessage(context.Background(), "hi", "", ConversationContext{}, sink)
	if err == nil {
		t.Fatal("expected a missing-status error")
	}
	var missing *MissingStatusError
	if !errors.As(err, &missing) {
		t.Fatalf("got error of type %T, want *MissingStatusError", err)
	}
	if got, want := missing.Error(), "No STATUS set after processing LLM response."; got != want {
		t.Fatalf("error message = %q, want %q", got, want)
	}
	if len(sink.events) != 2 {
		t.Fatalf("got %d events, want 2 (reasoning, error)", len(sink.events))
	}
	if sink.events[len(sink.events)-1].Type != EventError {
		t.Fatalf("last event type = %q, want error", sink.events[len(sink.events)-1].Type)
	}
}

func TestProcessMessageGrowsIterationBudgetForPlan(t *testing.T) {
	// total_steps (4) + extra_iterations (1) = 5, exceeding the default
	// max_iterations of 3, so the budget must grow to 5 and the loop must
	// not overrun across four continuing iterations plus a final complete.
	continuing := func(step int) string {
		return planTag(step, 4, StepInProgress) +
			reasoningTag("working", "Working") +
			toolTag("noop", map[string]any{}) +
			statusTag(StatusContinue)
	}
	final := planTag(4, 4, StepCompleted) +
		reasoningTag("done", "Done") +
		"[TEXT]all set[/TEXT]" +
		statusTag(StatusComplete)

	client := &scriptedClient{responses: []string{continuing(1), continuing(2), continuing(3), final}}
	registry := NewToolRegistry()
	registry.Register(&staticTool{name: "noop", result: "ok"})
	agent := NewConversationAgent(client, registry, DefaultConversationConfig())
	sink := &recordingSink{}

	_, err := agent.ProcessMessage(context.Background(), "multi-step task", "", ConversationContext{}, sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != EventUpdatedContext {
		t.Fatalf("last event type = %q, want updated_context", last.Type)
	}
}

// staticTool is a minimal Tool that always succeeds with a fixed result,
// used to exercise tool dispatch without a real external dependency.
type staticTool struct {
	name   string
	result string
}

func (t *staticTool) Name() string              { return t.name }
func (t *staticTool) Description() string       { return "test tool" }
func (t *staticTool) Schema() json.RawMessage    { return json.RawMessage(`{"type":"object"}`) }
func (t *staticTool) Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: t.result}, nil
}
