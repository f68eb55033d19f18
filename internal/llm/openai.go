package llm

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient streams chat completions from the OpenAI API (or any
// OpenAI-compatible endpoint, via OPENAI_API_BASE).
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxAttempts int
}

// NewOpenAIClient creates a client for the given model. baseURL may be
// empty to use OpenAI's default endpoint.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: OPENAI_API_KEY not configured")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxAttempts: 3,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

// Stream opens a streaming chat completion and forwards content deltas as
// Chunks. Tool-calling fields on the response are ignored: this agent's
// tools are dispatched via the [TOOL] tag in the text stream, not via
// OpenAI's function-calling.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}

	stream, err := openWithRetry(ctx, c.maxAttempts, func() (*openai.ChatCompletionStream, error) {
		s, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return nil, NewProviderError(c.Name(), c.model, err)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go c.pump(stream, out)
	return out, nil
}

func (c *OpenAIClient) pump(stream *openai.ChatCompletionStream, out chan<- Chunk) {
	defer close(out)
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return
			}
			out <- Chunk{Err: NewProviderError(c.Name(), c.model, err)}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			out <- Chunk{Text: delta}
		}
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
