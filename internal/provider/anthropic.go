package provider

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/marbleworks/scenepilot/internal/agent"
)

const anthropicDefaultMaxTokens = 4096

type anthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

func newAnthropicClient(s Settings) *anthropicClient {
	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(s.APIKey))}
	if strings.TrimSpace(s.BaseURL) != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(s.BaseURL)))
	}
	return &anthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     strings.TrimSpace(s.Model),
		maxTokens: s.MaxOutputTokens,
	}
}

func (c *anthropicClient) params(turn agent.ModelTurn) anthropic.MessageNewParams {
	maxTokens := int64(anthropicDefaultMaxTokens)
	if c.maxTokens > 0 {
		maxTokens = int64(c.maxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
	}
	if system := strings.TrimSpace(turn.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	var messages []anthropic.MessageParam
	for _, msg := range turn.History {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		if msg.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Input)))
	params.Messages = messages
	return params
}

func (c *anthropicClient) Complete(ctx context.Context, turn agent.ModelTurn) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.params(turn))
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(text.Text)
		}
	}
	return out.String(), nil
}

func (c *anthropicClient) Stream(ctx context.Context, turn agent.ModelTurn, onDelta func(string)) (string, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.params(turn))
	msg := anthropic.Message{}
	var textBuf strings.Builder

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return "", err
		}
		if variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				textBuf.WriteString(delta.Text)
				if onDelta != nil {
					onDelta(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	return textBuf.String(), nil
}
