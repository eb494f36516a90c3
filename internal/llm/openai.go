package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/dgallion1/textjson/internal/engine"
)

// openaiDecisionMaker speaks the engine's tool protocol over the OpenAI
// chat completions API.
type openaiDecisionMaker struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
	tools       []openai.ChatCompletionToolUnionParam
}

func newOpenAIDecisionMaker(cfg Config) *openaiDecisionMaker {
	return &openaiDecisionMaker{
		client:      openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		tools:       openaiTools(),
	}
}

func openaiTools() []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(toolDefs))
	for _, d := range toolDefs {
		params := shared.FunctionParameters{
			"type":       "object",
			"properties": d.properties,
		}
		if len(d.required) > 0 {
			params["required"] = d.required
		}
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        d.name,
			Description: openai.String(d.description),
			Parameters:  params,
		}))
	}
	return out
}

func (p *openaiDecisionMaker) Propose(ctx context.Context, conv *engine.Conversation) (*engine.Proposal, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		MaxTokens:   openai.Int(int64(p.maxTokens)),
		Temperature: openai.Float(p.temperature),
		Messages:    openaiMessages(conv),
		Tools:       p.tools,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	msg := resp.Choices[0].Message
	prop := &engine.Proposal{
		Text: msg.Content,
		Usage: engine.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
			Calls:        1,
		},
	}
	for _, tc := range msg.ToolCalls {
		prop.Calls = append(prop.Calls, engine.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return prop, nil
}

// openaiMessages renders the neutral conversation into chat messages. A
// round becomes one assistant message carrying its tool calls followed by
// one tool message per result.
func openaiMessages(conv *engine.Conversation) []openai.ChatCompletionMessageParamUnion {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(conv.System),
		openai.UserMessage(conv.User),
	}
	if conv.TrimNotice != "" {
		msgs = append(msgs, openai.UserMessage(conv.TrimNotice))
	}
	for _, round := range conv.Rounds {
		assistant := openai.ChatCompletionAssistantMessageParam{}
		if round.Proposal.Text != "" {
			assistant.Content.OfString = openai.String(round.Proposal.Text)
		}
		for _, call := range round.Proposal.Calls {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(call.Args),
					},
				},
			})
		}
		msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		for _, result := range round.Results {
			msgs = append(msgs, openai.ToolMessage(result.Content, result.CallID))
		}
	}
	return msgs
}

func classifyOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500 {
			return &RetryableError{StatusCode: apierr.StatusCode, Message: apierr.Error()}
		}
	}
	return fmt.Errorf("openai: chat.completions.new: %w", err)
}
