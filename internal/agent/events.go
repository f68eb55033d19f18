package agent

import "context"

// OutboundEventType enumerates the SSE frame kinds the conversation agent
// emits.
type OutboundEventType string

const (
	EventReasoning      OutboundEventType = "reasoning"
	EventText           OutboundEventType = "text"
	EventToolStart      OutboundEventType = "tool_start"
	EventToolEnd        OutboundEventType = "tool_end"
	EventUpdatedContext OutboundEventType = "updated_context"
	EventError          OutboundEventType = "error"
)

// OutboundEvent is one frame the conversation agent hands to its producer
// channel; the HTTP layer renders each as an SSE `data: ...` line.
type OutboundEvent struct {
	Type      OutboundEventType
	Iteration int

	// Text carries streamed/buffered text for Reasoning and Text events.
	Text string

	// ToolUse is set for ToolStart events.
	ToolUse *ToolUse

	// ToolResult is set for ToolEnd events.
	ToolResult *ToolResultEntry

	// Context is set for UpdatedContext events: the trimmed history sent
	// for the next iteration.
	Context *ConversationContext

	// Err is set for Error events.
	Err error
}

// EventSink receives OutboundEvents as the agent produces them.
// Implementations must be safe for concurrent use and must not block
// indefinitely, since a slow sink would stall the agent loop.
type EventSink interface {
	Emit(ctx context.Context, e OutboundEvent)
}

// ChanSink sends events to a channel. The agent is the single producer and
// the SSE handler the single consumer; consumer cancellation (client
// disconnect) is expected to cancel ctx, at which point Emit stops
// blocking.
type ChanSink struct {
	ch chan<- OutboundEvent
}

// NewChanSink creates a sink that sends to ch. The channel should be
// buffered to absorb bursts (e.g. parallel tool_start events) without
// forcing the agent to block on the consumer for ordinary delivery.
func NewChanSink(ch chan<- OutboundEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit blocks until the event is delivered or ctx is done. Error events are
// always worth this wait: dropping the terminal error would leave the
// client's stream silently truncated.
func (s *ChanSink) Emit(ctx context.Context, e OutboundEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	}
}

// MultiSink fans an event out to every non-nil sink it wraps.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink creates a sink that dispatches to multiple sinks, filtering
// out nils so callers can pass optional sinks unconditionally.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (s *MultiSink) Emit(ctx context.Context, e OutboundEvent) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// CallbackSink wraps a function as an EventSink, useful in tests that want
// to assert on the exact event sequence without standing up a channel.
type CallbackSink struct {
	fn func(ctx context.Context, e OutboundEvent)
}

// NewCallbackSink creates a sink that invokes fn for every event.
func NewCallbackSink(fn func(ctx context.Context, e OutboundEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

func (s *CallbackSink) Emit(ctx context.Context, e OutboundEvent) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// NopSink discards every event. Used when a caller has no interest in the
// stream (e.g. a health check that drives the agent without an SSE client).
type NopSink struct{}

func (NopSink) Emit(context.Context, OutboundEvent) {}
