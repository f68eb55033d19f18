// Package llm abstracts the streaming text-completion providers backing the
// conversation agent. There is no native tool-calling here: the agent
// dispatches tools via the [TOOL] tag embedded in the streamed text, so a
// Client only needs to stream plain text deltas from a prompt.
package llm

import "context"

// Provider-native message roles. These are distinct from agent.Role
// (human/ai/system): callers translate conversation history into this wire
// shape before calling Stream.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the prompt sent to a provider.
type Message struct {
	Role    string
	Content string
}

// Chunk is one unit of a streamed completion: either a text delta or a
// terminal error. The channel returned by Client.Stream is closed after the
// final chunk (success or error).
type Chunk struct {
	Text string
	Err  error
}

// Client streams a chat completion from a single LLM provider.
type Client interface {
	// Name identifies the provider, e.g. "openai", "anthropic", "bedrock".
	Name() string

	// Stream opens a token stream for the given prompt. The returned
	// channel is closed once the stream ends, whether by completion or
	// error; at most one Chunk carries a non-nil Err, and it is always
	// the last value sent before the channel closes.
	Stream(ctx context.Context, messages []Message) (<-chan Chunk, error)
}
