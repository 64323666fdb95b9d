package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Google Gemini API. Thought
// summaries come back as whole parts, one block per part.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
}

func NewGeminiProvider(apiKey, model, baseURL string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w (set GEMINI_API_KEY)", ErrNoCredentials)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{apiKey: apiKey, model: model, baseURL: baseURL}, nil
}

func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("Gemini (%s)", p.model)
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, ReasoningMode: ReasoningWholeBlock}
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	cfg := &genai.ClientConfig{APIKey: p.apiKey, Backend: genai.BackendGeminiAPI}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	return genai.NewClient(ctx, cfg)
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		client, err := p.newClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}

		system, contents := buildGeminiContents(req.Messages)
		if len(contents) == 0 {
			return fmt.Errorf("no user content provided")
		}

		config := &genai.GenerateContentConfig{
			Temperature: genai.Ptr(req.Temperature),
		}
		if req.MaxOutputTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxOutputTokens)
		}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if req.IncludeReasoning {
			config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
		}
		if len(req.Tools) > 0 {
			config.Tools = buildGeminiTools(req.Tools)
			config.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
			}
		}

		resp, err := client.Models.GenerateContent(ctx, chooseModel(req.Model, p.model), contents, config)
		if err != nil {
			return fmt.Errorf("gemini API error: %w", err)
		}
		for _, ev := range geminiResponseEvents(resp) {
			if err := send(ctx, events, ev); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone})
	}), nil
}

// geminiResponseEvents flattens one response into stream events. Thought
// signatures are carried on the function call they belong to, or on the
// next one when the thought part stands alone.
func geminiResponseEvents(resp *genai.GenerateContentResponse) []Event {
	if resp == nil {
		return nil
	}
	var out []Event
	var pendingSig []byte
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil {
				continue
			}
			if part.Thought {
				if len(part.ThoughtSignature) > 0 {
					pendingSig = part.ThoughtSignature
				}
				if part.Text != "" {
					out = append(out, Event{Type: EventReasoningDelta, Text: part.Text})
				}
				continue
			}
			if part.Text != "" {
				out = append(out, Event{Type: EventTextDelta, Text: part.Text})
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				sig := part.ThoughtSignature
				if sig == nil {
					sig = pendingSig
				}
				pendingSig = nil
				out = append(out, Event{Type: EventToolCall, Tool: &ToolCall{
					ID:         part.FunctionCall.ID,
					Name:       part.FunctionCall.Name,
					Arguments:  rawOrEmptyObject(args),
					ThoughtSig: sig,
				}})
			}
		}
	}
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		out = append(out, Event{Type: EventUsage, Use: &Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}})
	}
	return out
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schemaToGenai(spec.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		var content *genai.Content
		switch msg.Role {
		case RoleSystem:
			if text := messageText(msg); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser, RoleTool:
			content = buildGeminiContent(genai.RoleUser, msg.Parts)
		case RoleAssistant:
			content = buildGeminiContent(genai.RoleModel, msg.Parts)
		}
		if content != nil {
			contents = append(contents, content)
		}
	}

	return strings.Join(systemParts, "\n\n"), contents
}

func buildGeminiContent(role string, parts []Part) *genai.Content {
	content := &genai.Content{Role: role}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   part.ToolCall.ID,
					Name: part.ToolCall.Name,
					Args: argsToMap(part.ToolCall.Arguments),
				},
				ThoughtSignature: part.ToolCall.ThoughtSig,
			})
		case PartToolResult:
			if part.ToolResult == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       part.ToolResult.ID,
					Name:     part.ToolResult.Name,
					Response: map[string]any{"output": part.ToolResult.Content},
				},
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}
