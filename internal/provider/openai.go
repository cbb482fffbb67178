package provider

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"

	"github.com/marbleworks/scenepilot/internal/agent"
)

const openAIDefaultMaxOutputTokens = 4096

type openAIClient struct {
	client          openai.Client
	model           string
	maxOutputTokens int
}

func newOpenAIClient(s Settings) *openAIClient {
	opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(s.APIKey))}
	if strings.TrimSpace(s.BaseURL) != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(s.BaseURL)))
	}
	return &openAIClient{
		client:          openai.NewClient(opts...),
		model:           strings.TrimSpace(s.Model),
		maxOutputTokens: s.MaxOutputTokens,
	}
}

func (c *openAIClient) params(turn agent.ModelTurn) oresponses.ResponseNewParams {
	maxTokens := int64(openAIDefaultMaxOutputTokens)
	if c.maxOutputTokens > 0 {
		maxTokens = int64(c.maxOutputTokens)
	}
	params := oresponses.ResponseNewParams{
		Model:           oshared.ResponsesModel(c.model),
		MaxOutputTokens: openai.Int(maxTokens),
	}
	if system := strings.TrimSpace(turn.System); system != "" {
		params.Instructions = openai.String(system)
	}
	var items []oresponses.ResponseInputItemUnionParam
	for _, msg := range turn.History {
		role := oresponses.EasyInputMessageRoleUser
		if msg.Role == "assistant" {
			role = oresponses.EasyInputMessageRoleAssistant
		}
		items = append(items, oresponses.ResponseInputItemParamOfMessage(msg.Text, role))
	}
	items = append(items, oresponses.ResponseInputItemParamOfMessage(turn.Input, oresponses.EasyInputMessageRoleUser))
	params.Input = oresponses.ResponseNewParamsInputUnion{OfInputItemList: items}
	return params
}

func (c *openAIClient) Complete(ctx context.Context, turn agent.ModelTurn) (string, error) {
	resp, err := c.client.Responses.New(ctx, c.params(turn))
	if err != nil {
		return "", err
	}
	return resp.OutputText(), nil
}

func (c *openAIClient) Stream(ctx context.Context, turn agent.ModelTurn, onDelta func(string)) (string, error) {
	stream := c.client.Responses.NewStreaming(ctx, c.params(turn))
	var textBuf strings.Builder
	gotCompleted := false

	for stream.Next() {
		event := stream.Current()
		switch strings.TrimSpace(event.Type) {
		case "response.output_text.delta":
			delta := event.Delta.OfString
			if delta == "" {
				continue
			}
			textBuf.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		case "response.completed":
			gotCompleted = true
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	if !gotCompleted {
		return "", errors.New("missing response.completed event")
	}
	return textBuf.String(), nil
}
