package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatd-agent/chatd/internal/observability"
)

// ToolExecConfig configures concurrency, timeout, and retry behavior for
// dispatching a batch of tool calls.
type ToolExecConfig struct {
	// Concurrency is the maximum number of tool calls executed in
	// parallel. Default: 4.
	Concurrency int

	// PerToolTimeout bounds a single call's execution. Default: 10s.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per call, including the
	// first. Default: 1 (no retry).
	MaxAttempts int

	// RetryBackoff is the wait between attempts. Used directly when
	// non-zero; callers wanting jittered exponential backoff should use
	// internal/backoff and pass the computed delay via RetryBackoffFunc.
	RetryBackoff time.Duration

	// RetryBackoffFunc, if set, computes the delay before attempt N+1
	// (1-indexed: called with the attempt number just completed).
	// Takes precedence over RetryBackoff when non-nil.
	RetryBackoffFunc func(attempt int) time.Duration
}

// DefaultToolExecConfig returns the dispatcher defaults: 4-way concurrency,
// 10s per-tool timeout, single attempt.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 10 * time.Second,
		MaxAttempts:    1,
	}
}

// NetworkToolExecConfig returns the dispatcher defaults for tools that make
// outbound network calls: 10s timeout, up to 3 attempts.
func NetworkToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 10 * time.Second,
		MaxAttempts:    3,
	}
}

func (c ToolExecConfig) sanitized() ToolExecConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PerToolTimeout <= 0 {
		c.PerToolTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	return c
}

// ToolExecutor dispatches tool calls against a ToolRegistry.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
	metrics  *observability.Metrics
}

// NewToolExecutor creates a dispatcher over the given registry, filling in
// zero-valued config fields with defaults.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	return &ToolExecutor{registry: registry, config: config.sanitized()}
}

// SetMetrics attaches a metrics sink; every call dispatched afterward
// records its outcome and latency. Passing nil disables recording.
func (e *ToolExecutor) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// ToolExecResult is the outcome of dispatching one ToolUse.
type ToolExecResult struct {
	ToolUse   ToolUse
	Result    ToolResultEntry
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// LifecycleEvent is emitted around each tool call for the HTTP layer to
// surface as tool_start/tool_end SSE events. Emit is never blocking and
// never mutates execution outcome.
type LifecycleEvent struct {
	Kind     string // "tool_start" or "tool_end"
	ToolUse  ToolUse
	Result   *ToolResultEntry // set only for tool_end
	Attempt  int
	Duration time.Duration
}

// LifecycleCallback receives LifecycleEvents; implementations must not
// block the dispatcher.
type LifecycleCallback func(LifecycleEvent)

// ExecuteConcurrently dispatches every ToolUse in calls against the
// registry, bounded by the configured concurrency, retrying transient
// failures up to MaxAttempts times with backoff. Results are returned in
// the same order as calls regardless of completion order, so the caller
// can correlate a result back to its originating call trivially.
func (e *ToolExecutor) ExecuteConcurrently(ctx context.Context, calls []ToolUse, emit LifecycleCallback) []ToolExecResult {
	results := make([]ToolExecResult, len(calls))
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tu ToolUse) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = ToolExecResult{
					ToolUse: tu,
					Result: ToolResultEntry{
						ID:    tu.ID,
						Name:  tu.Name,
						Error: "context canceled",
					},
				}
				return
			}

			results[idx] = e.executeOne(ctx, tu, emit)
		}(i, call)
	}

	wg.Wait()
	return results
}

func (e *ToolExecutor) executeOne(ctx context.Context, tu ToolUse, emit LifecycleCallback) ToolExecResult {
	start := time.Now()
	var entry ToolResultEntry
	var timedOut bool

	if emit != nil {
		emit(LifecycleEvent{Kind: "tool_start", ToolUse: tu, Attempt: 1})
	}

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		entry, timedOut = e.attempt(ctx, tu)

		if !entry.IsError() {
			break
		}
		if attempt < e.config.MaxAttempts {
			delay := e.retryDelay(attempt)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					entry = ToolResultEntry{ID: tu.ID, Name: tu.Name, Error: "context canceled"}
					goto done
				}
			}
		}
	}

done:
	end := time.Now()
	if emit != nil {
		emit(LifecycleEvent{Kind: "tool_end", ToolUse: tu, Result: &entry, Duration: end.Sub(start)})
	}
	if e.metrics != nil {
		status := "success"
		if entry.IsError() {
			status = "error"
			e.metrics.RecordError("tool", tu.Name)
		}
		e.metrics.RecordToolExecution(tu.Name, status, end.Sub(start).Seconds())
	}
	return ToolExecResult{ToolUse: tu, Result: entry, StartTime: start, EndTime: end, TimedOut: timedOut}
}

func (e *ToolExecutor) retryDelay(attempt int) time.Duration {
	if e.config.RetryBackoffFunc != nil {
		return e.config.RetryBackoffFunc(attempt)
	}
	return e.config.RetryBackoff
}

func (e *ToolExecutor) attempt(ctx context.Context, tu ToolUse) (ToolResultEntry, bool) {
	toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()

	type execOutcome struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execOutcome, 1)

	go func() {
		result, err := e.registry.Execute(toolCtx, tu.Name, tu.Arguments)
		select {
		case resultCh <- execOutcome{result: result, err: err}:
		default:
		}
	}()

	select {
	case <-toolCtx.Done():
		var msg string
		timedOut := errors.Is(toolCtx.Err(), context.DeadlineExceeded)
		if timedOut {
			msg = fmt.Sprintf("tool execution timed out after %v", e.config.PerToolTimeout)
		} else {
			msg = "tool execution canceled"
		}
		return ToolResultEntry{ID: tu.ID, Name: tu.Name, Error: msg}, timedOut
	case out := <-resultCh:
		if out.err != nil {
			return ToolResultEntry{ID: tu.ID, Name: tu.Name, Error: out.err.Error()}, false
		}
		if out.result.IsError {
			return ToolResultEntry{ID: tu.ID, Name: tu.Name, Error: out.result.Content}, false
		}
		return ToolResultEntry{ID: tu.ID, Name: tu.Name, Result: out.result.Content}, false
	}
}
