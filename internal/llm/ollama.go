package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaProvider implements Provider against a local Ollama server. Thinking
// models stream their reasoning token by token. Ollama tool calls usually
// carry no ID.
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider connects to baseURL, or to OLLAMA_HOST when baseURL is
// empty.
func NewOllamaProvider(model, baseURL string) (*OllamaProvider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model is required")
	}
	var client *api.Client
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama base URL: %w", err)
		}
		client = api.NewClient(u, http.DefaultClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}
	return &OllamaProvider{client: client, model: model}, nil
}

func (p *OllamaProvider) Name() string {
	return fmt.Sprintf("Ollama (%s)", p.model)
}

func (p *OllamaProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, ReasoningMode: ReasoningTokenStream}
}

func (p *OllamaProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		stream := true
		chatReq := &api.ChatRequest{
			Model:    chooseModel(req.Model, p.model),
			Messages: buildOllamaMessages(req.Messages),
			Stream:   &stream,
			Options:  map[string]any{"temperature": req.Temperature},
		}
		if req.MaxOutputTokens > 0 {
			chatReq.Options["num_predict"] = req.MaxOutputTokens
		}
		if req.IncludeReasoning {
			chatReq.Think = &api.ThinkValue{Value: true}
		}
		if len(req.Tools) > 0 {
			tools, err := buildOllamaTools(req.Tools)
			if err != nil {
				return err
			}
			chatReq.Tools = tools
		}

		var usage *Usage
		err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Thinking != "" {
				if err := send(ctx, events, Event{Type: EventReasoningDelta, Text: resp.Message.Thinking}); err != nil {
					return err
				}
			}
			if resp.Message.Content != "" {
				if err := send(ctx, events, Event{Type: EventTextDelta, Text: resp.Message.Content}); err != nil {
					return err
				}
			}
			for _, tc := range resp.Message.ToolCalls {
				args, err := json.Marshal(tc.Function.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				call := ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: rawOrEmptyObject(args)}
				if err := send(ctx, events, Event{Type: EventToolCall, Tool: &call}); err != nil {
					return err
				}
			}
			if resp.Done {
				usage = &Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("ollama chat error: %w", err)
		}
		if usage != nil {
			if err := send(ctx, events, Event{Type: EventUsage, Use: usage}); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

func buildOllamaMessages(messages []Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					out = append(out, api.Message{
						Role:       "tool",
						Content:    part.ToolResult.Content,
						ToolName:   part.ToolResult.Name,
						ToolCallID: part.ToolResult.ID,
					})
				}
			}
		default:
			m := api.Message{Role: string(msg.Role), Content: messageText(msg)}
			for _, part := range msg.Parts {
				if part.Type != PartToolCall || part.ToolCall == nil {
					continue
				}
				var args api.ToolCallFunctionArguments
				_ = json.Unmarshal(rawOrEmptyObject(part.ToolCall.Arguments), &args)
				m.ToolCalls = append(m.ToolCalls, api.ToolCall{
					ID: part.ToolCall.ID,
					Function: api.ToolCallFunction{
						Name:      part.ToolCall.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, m)
		}
	}
	return out
}

// buildOllamaTools goes through JSON so the api.Tool schema types are filled
// by their own decoders.
func buildOllamaTools(specs []ToolSpec) (api.Tools, error) {
	raw := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        spec.Name,
				"description": spec.Description,
				"parameters":  spec.Schema,
			},
		})
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode ollama tools: %w", err)
	}
	var tools api.Tools
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("decode ollama tools: %w", err)
	}
	return tools, nil
}
