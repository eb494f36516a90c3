package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dgallion1/textjson/internal/engine"
)

// anthropicDecisionMaker speaks the engine's tool protocol over the
// Anthropic Messages API. anthropic.Client is a value type; the SDK's
// NewClient returns it by value.
type anthropicDecisionMaker struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
	tools       []anthropic.ToolUnionParam
}

func newAnthropicDecisionMaker(cfg Config) *anthropicDecisionMaker {
	return &anthropicDecisionMaker{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		tools:       anthropicTools(),
	}
}

func anthropicTools() []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(toolDefs))
	for _, d := range toolDefs {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.name,
				Description: anthropic.String(d.description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: d.properties,
				},
			},
		})
	}
	return out
}

func (p *anthropicDecisionMaker) Propose(ctx context.Context, conv *engine.Conversation) (*engine.Proposal, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(p.maxTokens),
		Temperature: anthropic.Float(p.temperature),
		System: []anthropic.TextBlockParam{
			{Text: conv.System},
		},
		Messages: anthropicMessages(conv),
		Tools:    p.tools,
	})
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	prop := &engine.Proposal{
		Usage: engine.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
			TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
			Calls:        1,
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			prop.Text += variant.Text
		case anthropic.ToolUseBlock:
			prop.Calls = append(prop.Calls, engine.ToolCall{
				ID:   variant.ID,
				Name: variant.Name,
				Args: json.RawMessage(variant.JSON.Input.Raw()),
			})
		}
	}
	return prop, nil
}

// anthropicMessages renders the neutral conversation. A round becomes one
// assistant message carrying its tool_use blocks followed by one user
// message holding the tool_result blocks.
func anthropicMessages(conv *engine.Conversation) []anthropic.MessageParam {
	user := conv.User
	if conv.TrimNotice != "" {
		user += "\n\n" + conv.TrimNotice
	}
	msgs := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
	}
	for _, round := range conv.Rounds {
		var blocks []anthropic.ContentBlockParamUnion
		if round.Proposal.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(round.Proposal.Text))
		}
		for _, call := range round.Proposal.Calls {
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, json.RawMessage(call.Args), call.Name))
		}
		msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))

		var results []anthropic.ContentBlockParamUnion
		for _, result := range round.Results {
			results = append(results, anthropic.NewToolResultBlock(result.CallID, result.Content, result.IsError))
		}
		msgs = append(msgs, anthropic.NewUserMessage(results...))
	}
	return msgs
}

func classifyAnthropicError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500 {
			return &RetryableError{StatusCode: apierr.StatusCode, Message: apierr.Error()}
		}
	}
	return fmt.Errorf("anthropic: messages.new: %w", err)
}
