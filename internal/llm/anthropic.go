package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicClient streams chat completions from Anthropic's Messages API.
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	maxAttempts int
}

// NewAnthropicClient creates a client for the given model. baseURL may be
// empty to use Anthropic's default endpoint.
func NewAnthropicClient(apiKey, baseURL, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: ANTHROPIC_API_KEY not configured")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   defaultAnthropicMaxTokens,
		maxAttempts: 3,
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

// Stream opens a streaming Messages request and forwards text_delta content
// as Chunks. System-role messages are lifted into the request's top-level
// System field, per Anthropic's API shape; all other roles map to a single
// user or assistant message with a text content block.
func (c *AnthropicClient) Stream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  toAnthropicMessages(messages),
	}
	if system := systemText(messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream, err := openWithRetry(ctx, c.maxAttempts, func() (*anthropic.Stream[anthropic.MessageStreamEventUnion], error) {
		return c.client.Messages.NewStreaming(ctx, params), nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go c.pump(stream, out)
	return out, nil
}

func (c *AnthropicClient) pump(stream *anthropic.Stream[anthropic.MessageStreamEventUnion], out chan<- Chunk) {
	defer close(out)

	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}
		delta := event.AsContentBlockDelta().Delta
		if delta.Type == "text_delta" && delta.Text != "" {
			out <- Chunk{Text: delta.Text}
		}
	}
	if err := stream.Err(); err != nil {
		out <- Chunk{Err: NewProviderError(c.Name(), c.model, err)}
	}
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// systemText concatenates every system-role message, since Anthropic's API
// takes a single top-level System field rather than interleaved system
// turns the way OpenAI does.
func systemText(messages []Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role == RoleSystem && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return joinLines(parts)
}

func joinLines(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}
