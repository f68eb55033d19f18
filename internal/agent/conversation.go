package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chatd-agent/chatd/internal/llm"
	"github.com/chatd-agent/chatd/internal/observability"
	"github.com/chatd-agent/chatd/internal/tags"
)

// ConversationConfig bundles the tunables for a ConversationAgent:
// iteration budget defaults and the Message Preparer/tool dispatcher
// configuration they delegate to.
type ConversationConfig struct {
	DefaultMaxIterations   int
	DefaultExtraIterations int
	PreparerConfig         PreparerConfig
	ToolExecConfig         ToolExecConfig
}

// DefaultConversationConfig returns the baseline tunables: 3 starting
// iterations, 1 extra iteration once a plan is known, 10-message history
// window, 4-way tool concurrency.
func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		DefaultMaxIterations:   DefaultMaxIterations,
		DefaultExtraIterations: DefaultExtraIterations,
		PreparerConfig:         DefaultPreparerConfig(),
		ToolExecConfig:         DefaultToolExecConfig(),
	}
}

// ConversationAgent runs process_message: the bounded iteration state
// machine that drives an LLM token stream through the Tag Stream
// Processor, folds plan/reasoning/status/summary tags into
// ConversationState, dispatches queued tool calls, and feeds their results
// back as a continuation message until a terminal status is reached or the
// iteration budget is exhausted.
type ConversationAgent struct {
	client   llm.Client
	registry *ToolRegistry
	executor *ToolExecutor
	preparer *Preparer
	config   ConversationConfig
	metrics  *observability.Metrics
}

// SetMetrics attaches a metrics sink shared by the agent's own LLM-request
// recording and its tool executor's per-call recording. Passing nil
// disables recording.
func (a *ConversationAgent) SetMetrics(m *observability.Metrics) {
	a.metrics = m
	a.executor.SetMetrics(m)
}

// NewConversationAgent wires an LLM client and tool registry into a
// conversation agent, filling in zero-valued config fields with defaults.
func NewConversationAgent(client llm.Client, registry *ToolRegistry, config ConversationConfig) *ConversationAgent {
	if config.DefaultMaxIterations <= 0 {
		config.DefaultMaxIterations = DefaultMaxIterations
	}
	if config.DefaultExtraIterations <= 0 {
		config.DefaultExtraIterations = DefaultExtraIterations
	}
	return &ConversationAgent{
		client:   client,
		registry: registry,
		executor: NewToolExecutor(registry, config.ToolExecConfig),
		preparer: NewPreparer(config.PreparerConfig),
		config:   config,
	}
}

// ProcessMessage runs the loop for a single user turn, emitting outbound
// events to sink as they are produced. On normal termination (clarify or
// complete) it returns the outgoing ConversationContext, having already
// emitted the terminal updated_context event. On a fatal error it has
// already emitted a single error event and returns that same error; the
// caller must not emit anything further for this request.
func (a *ConversationAgent) ProcessMessage(ctx context.Context, message, systemPrompt string, convCtx ConversationContext, sink EventSink) (*ConversationContext, error) {
	state := NewConversationState(message, systemPrompt, convCtx)
	state.MaxIterations = a.config.DefaultMaxIterations
	state.ExtraIterations = a.config.DefaultExtraIterations

	for iteration := 0; iteration < state.MaxIterations; iteration++ {
		if err := a.runIteration(ctx, state, iteration, sink); err != nil {
			sink.Emit(ctx, OutboundEvent{Type: EventError, Iteration: iteration, Err: err})
			return nil, err
		}

		if state.Status == nil {
			err := &MissingStatusError{Iteration: iteration}
			if a.metrics != nil {
				a.metrics.RecordError("agent", "missing_status")
			}
			sink.Emit(ctx, OutboundEvent{Type: EventError, Iteration: iteration, Err: err})
			return nil, err
		}

		state.GrowIterationBudgetForPlan()

		if state.Status.Status == StatusComplete && len(state.ToolQueue) > 0 {
			state.ToolQueue = nil
		}

		if state.Status.Status == StatusClarify || state.Status.Status == StatusComplete {
			outCtx := state.ToContext()
			sink.Emit(ctx, OutboundEvent{Type: EventUpdatedContext, Iteration: iteration, Context: &outCtx})
			return &outCtx, nil
		}

		if len(state.ToolQueue) > 0 {
			a.dispatchTools(ctx, state, iteration, sink)
		}
		a.appendContinuationMessage(state)
	}

	err := &IterationOverrun{MaxIterations: state.MaxIterations}
	if a.metrics != nil {
		a.metrics.RecordError("agent", "iteration_overrun")
	}
	sink.Emit(ctx, OutboundEvent{Type: EventError, Iteration: state.MaxIterations, Err: err})
	return nil, err
}

// runIteration builds the prompt for the current state, opens one LLM
// stream, and folds every tag event it produces into state. It returns on
// the first fatal parsing/transport error; a nil return means the stream
// ended cleanly (state.Status may or may not be set, checked by the
// caller).
func (a *ConversationAgent) runIteration(ctx context.Context, state *ConversationState, iteration int, sink EventSink) error {
	messages := toLLMMessages(a.preparer.BuildMessages(state, a.registry.AsLLMTools()))
	start := time.Now()

	tokenCh, err := a.client.Stream(ctx, messages)
	if err != nil {
		a.recordLLMRequest(start, "error")
		return &TransportError{Provider: a.client.Name(), Cause: err}
	}

	iterCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan string)
	streamErr := make(chan error, 1)
	go func() {
		defer close(chunks)
		for chunk := range tokenCh {
			if chunk.Err != nil {
				streamErr <- &TransportError{Provider: a.client.Name(), Cause: chunk.Err}
				cancel()
				return
			}
			if chunk.Text == "" {
				continue
			}
			select {
			case chunks <- chunk.Text:
			case <-iterCtx.Done():
				return
			}
		}
	}()

	for event := range tags.Process(iterCtx, chunks, tags.DefaultTagSet()) {
		if err := a.handleTagEvent(ctx, state, iteration, event, sink); err != nil {
			cancel()
			drainChunks(chunks)
			a.recordLLMRequest(start, "error")
			return err
		}
	}

	select {
	case err := <-streamErr:
		a.recordLLMRequest(start, "error")
		return err
	default:
		a.recordLLMRequest(start, "success")
		return nil
	}
}

// recordLLMRequest records one completed LLM stream attempt, identified by
// the provider name reported by the configured client.
func (a *ConversationAgent) recordLLMRequest(start time.Time, status string) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordLLMRequest(a.client.Name(), "", status, time.Since(start).Seconds(), 0, 0)
}

// drainChunks consumes and discards any remaining input after an early
// exit, so the producer goroutine feeding chunks is never left blocked on
// a send no one will receive.
func drainChunks(chunks <-chan string) {
	for range chunks {
	}
}

func (a *ConversationAgent) handleTagEvent(ctx context.Context, state *ConversationState, iteration int, event tags.Event, sink EventSink) error {
	switch event.Tag {
	case tags.TagPlan:
		plan, err := ParsePlan(event.Content)
		if err != nil {
			return err
		}
		state.CurrentPlan = plan

	case tags.TagReasoning:
		reasoning, err := ParseReasoning(event.Content)
		if err != nil {
			return err
		}
		state.ReasoningHistory = append(state.ReasoningHistory, reasoning.Thought)
		sink.Emit(ctx, OutboundEvent{Type: EventReasoning, Iteration: iteration, Text: reasoning.UserNotification})

	case tags.TagText:
		sink.Emit(ctx, OutboundEvent{Type: EventText, Iteration: iteration, Text: event.Content})

	case tags.TagFullText:
		state.History = append(state.History, MessageEntry{Role: RoleAI, Content: event.Content})

	case tags.TagTool:
		tu, err := ParseToolUse(event.Content)
		if err != nil {
			return err
		}
		state.ToolQueue = append(state.ToolQueue, *tu)

	case tags.TagStatus:
		status, err := ParseStatus(event.Content)
		if err != nil {
			return err
		}
		state.Status = status

	case tags.TagSummary:
		combined := event.Content
		if state.Summary != "" {
			combined = state.Summary + " " + event.Content
		}
		state.Summary = combined
		latest := event.Content
		state.LatestSummary = &latest

	case tags.TagDebug:
		// Recorded for observability only; never surfaced to the client.
	}
	return nil
}

// dispatchTools runs every queued ToolUse concurrently through the tool
// executor, emitting tool_start/tool_end lifecycle events as each call
// begins and ends, and folds the results into state.ToolResults in the
// same order as ToolQueue.
func (a *ConversationAgent) dispatchTools(ctx context.Context, state *ConversationState, iteration int, sink EventSink) {
	emit := func(ev LifecycleEvent) {
		switch ev.Kind {
		case "tool_start":
			tu := ev.ToolUse
			sink.Emit(ctx, OutboundEvent{Type: EventToolStart, Iteration: iteration, ToolUse: &tu})
		case "tool_end":
			tu := ev.ToolUse
			sink.Emit(ctx, OutboundEvent{Type: EventToolEnd, Iteration: iteration, ToolUse: &tu, ToolResult: ev.Result})
		}
	}

	results := a.executor.ExecuteConcurrently(ctx, state.ToolQueue, emit)
	state.ToolResults = make([]ToolResultEntry, len(results))
	for i, r := range results {
		state.ToolResults[i] = r.Result
	}
}

// appendContinuationMessage folds the current plan step, reasoning
// history, and tool results into a single system-role message per the
// deterministic continuation template, then clears the per-iteration
// fields so the next iteration starts fresh.
func (a *ConversationAgent) appendContinuationMessage(state *ConversationState) {
	var b strings.Builder

	if state.CurrentPlan != nil {
		fmt.Fprintf(&b, "Current progress: Step %d of %d. ", state.CurrentPlan.CurrentStep, state.CurrentPlan.TotalSteps)
		if planJSON, err := json.Marshal(state.CurrentPlan); err == nil {
			fmt.Fprintf(&b, "Current plan: %s. ", planJSON)
		}
	}

	fmt.Fprintf(&b, "Previous reasoning: %s. ", strings.Join(state.ReasoningHistory, " "))
	b.WriteString("Recent tool results: ")
	b.WriteString(joinToolResults(state.ToolResults))
	b.WriteString(".")

	state.History = append(state.History, MessageEntry{Role: RoleSystem, Content: b.String()})
	state.ToolQueue = nil
	state.ToolResults = nil
	state.Status = nil
}

// joinToolResults renders each tool result as "name: result" or, for
// failures, "name: error: <message>" with an advisory not to retry the
// same call verbatim, since this text is what the model sees next
// iteration when deciding how to proceed.
func joinToolResults(results []ToolResultEntry) string {
	if len(results) == 0 {
		return "(none)"
	}
	parts := make([]string, len(results))
	for i, r := range results {
		if r.IsError() {
			parts[i] = fmt.Sprintf("%s: error: %s Do not retry this exact call; try a different tool or approach.", r.Name, r.Error)
		} else {
			parts[i] = fmt.Sprintf("%s: %s", r.Name, r.Result)
		}
	}
	return strings.Join(parts, "; ")
}

func toLLMMessages(entries []MessageEntry) []llm.Message {
	out := make([]llm.Message, len(entries))
	for i, e := range entries {
		out[i] = llm.Message{Role: toLLMRole(e.Role), Content: e.Content}
	}
	return out
}

func toLLMRole(r Role) string {
	switch r {
	case RoleHuman:
		return llm.RoleUser
	case RoleAI:
		return llm.RoleAssistant
	default:
		return llm.RoleSystem
	}
}
