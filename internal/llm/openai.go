package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider over the Chat Completions API. It also
// serves OpenAI-compatible gateways when given a base URL. Chat Completions
// does not surface reasoning.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	name   string
}

func NewOpenAIProvider(apiKey, model, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("openai: %w (set OPENAI_API_KEY)", ErrNoCredentials)
	}
	if model == "" {
		model = "gpt-4.1"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	name := "OpenAI"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		name = "OpenAI-compatible"
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model, name: name}, nil
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.name, p.model)
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, ReasoningMode: ReasoningNone}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		params := openai.ChatCompletionNewParams{
			Model:       shared.ChatModel(chooseModel(req.Model, p.model)),
			Messages:    buildOpenAIMessages(req.Messages),
			Temperature: openai.Float(float64(req.Temperature)),
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		}
		if req.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
		}
		if len(req.Tools) > 0 {
			params.Tools = buildOpenAITools(req.Tools)
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if err := send(ctx, events, Event{Type: EventTextDelta, Text: chunk.Choices[0].Delta.Content}); err != nil {
					return err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai streaming error: %w", err)
		}

		if len(acc.Choices) > 0 {
			for _, tc := range acc.Choices[0].Message.ToolCalls {
				call := ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: rawOrEmptyObject([]byte(tc.Function.Arguments)),
				}
				if err := send(ctx, events, Event{Type: EventToolCall, Tool: &call}); err != nil {
					return err
				}
			}
		}
		if acc.Usage.TotalTokens > 0 {
			if err := send(ctx, events, Event{Type: EventUsage, Use: &Usage{
				InputTokens:  int(acc.Usage.PromptTokens),
				OutputTokens: int(acc.Usage.CompletionTokens),
			}}); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(messageText(msg)))
		case RoleUser:
			out = append(out, openai.UserMessage(messageText(msg)))
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					out = append(out, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.ID))
				}
			}
		case RoleAssistant:
			text := messageText(msg)
			var calls []openai.ChatCompletionMessageToolCallParam
			for _, part := range msg.Parts {
				if part.Type != PartToolCall || part.ToolCall == nil {
					continue
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: part.ToolCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      part.ToolCall.Name,
						Arguments: string(rawOrEmptyObject(part.ToolCall.Arguments)),
					},
				})
			}
			if len(calls) == 0 {
				if text != "" {
					out = append(out, openai.AssistantMessage(text))
				}
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if strings.TrimSpace(text) != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return out
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := shared.FunctionDefinitionParam{
			Name:        spec.Name,
			Description: openai.String(spec.Description),
		}
		if len(spec.Schema) > 0 {
			fn.Parameters = shared.FunctionParameters(spec.Schema)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}
