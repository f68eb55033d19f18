package llm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockClient streams chat completions through AWS Bedrock's Converse
// API, which fronts several model families (Anthropic, Titan, Llama,
// Mistral, Cohere) behind one request/response shape.
type BedrockClient struct {
	client      *bedrockruntime.Client
	model       string
	maxAttempts int
}

// NewBedrockClient creates a client for the given model ID, loading AWS
// credentials from the default provider chain (env vars, shared config,
// IAM role) scoped to region.
func NewBedrockClient(ctx context.Context, region, model string) (*BedrockClient, error) {
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("llm: bedrock: failed to load AWS config: %w", err)
	}
	return &BedrockClient{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		model:       model,
		maxAttempts: 3,
	}, nil
}

func (c *BedrockClient) Name() string { return "bedrock" }

// Stream opens a Converse stream and forwards text deltas as Chunks.
func (c *BedrockClient) Stream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	req := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(c.model),
		Messages: toBedrockMessages(messages),
	}
	if system := systemText(messages); system != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	out, err := openWithRetry(ctx, c.maxAttempts, func() (*bedrockruntime.ConverseStreamOutput, error) {
		resp, err := c.client.ConverseStream(ctx, req)
		if err != nil {
			return nil, NewProviderError(c.Name(), c.model, err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)
	go c.pump(ctx, out, ch)
	return ch, nil
}

func (c *BedrockClient) pump(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- Chunk) {
	defer close(out)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- Chunk{Err: ctx.Err()}
			return
		case event, ok := <-events:
			if !ok {
				if err := eventStream.Err(); err != nil {
					out <- Chunk{Err: NewProviderError(c.Name(), c.model, err)}
				}
				return
			}
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if textDelta, ok := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && textDelta.Value != "" {
					out <- Chunk{Text: textDelta.Value}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				return
			}
		}
	}
}

func toBedrockMessages(messages []Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}
