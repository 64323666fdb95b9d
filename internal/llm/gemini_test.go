package llm

import (
	"testing"

	"google.golang.org/genai"
)

func TestGeminiResponseEvents(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Thought: true, Text: "The job id looks valid.", ThoughtSignature: []byte("sig-1")},
				{Text: "Let me look."},
				{FunctionCall: &genai.FunctionCall{Name: "get_prow_job_summary", Args: map[string]any{"prow_job_run_id": "1934795512955801600"}}},
				{FunctionCall: &genai.FunctionCall{Name: "analyze_job_logs", Args: map[string]any{}}},
			}},
		}},
	}

	events := geminiResponseEvents(resp)
	if len(events) != 4 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != EventReasoningDelta || events[0].Text != "The job id looks valid." {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[1].Type != EventTextDelta {
		t.Fatalf("second event = %+v", events[1])
	}
	first := events[2].Tool
	if first == nil || first.ID != "" || string(first.ThoughtSig) != "sig-1" {
		t.Fatalf("first call = %+v, want no ID and the pending thought signature", first)
	}
	if string(first.Arguments) != `{"prow_job_run_id":"1934795512955801600"}` {
		t.Fatalf("args = %s", first.Arguments)
	}
	if second := events[3].Tool; second.ThoughtSig != nil {
		t.Fatalf("signature should attach to one call only, got %q", second.ThoughtSig)
	}
}

func TestBuildGeminiContents(t *testing.T) {
	messages := []Message{
		SystemText("sys"),
		UserText("question"),
		{Role: RoleAssistant, Parts: []Part{{Type: PartToolCall, ToolCall: &ToolCall{
			ID: "toolcall-1-1", Name: "check_known_incidents", ThoughtSig: []byte("sig"),
		}}}},
		ToolResultMessage("toolcall-1-1", "check_known_incidents", `{"incidents":[]}`, nil),
	}
	system, contents := buildGeminiContents(messages)
	if system != "sys" {
		t.Fatalf("system = %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(contents))
	}
	call := contents[1].Parts[0]
	if contents[1].Role != genai.RoleModel || call.FunctionCall == nil || string(call.ThoughtSignature) != "sig" {
		t.Fatalf("model content = %+v", contents[1])
	}
	if len(call.FunctionCall.Args) != 0 {
		t.Fatalf("empty arguments should become an empty map, got %v", call.FunctionCall.Args)
	}
	resp := contents[2].Parts[0].FunctionResponse
	if resp == nil || resp.Name != "check_known_incidents" || resp.Response["output"] != `{"incidents":[]}` {
		t.Fatalf("function response = %+v", contents[2].Parts[0])
	}
}

func TestSchemaToGenai(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"stream_type": map[string]interface{}{"type": "string", "enum": []interface{}{"nightly", "ci"}, "default": "nightly"},
			"limit":       map[string]interface{}{"type": "integer", "minimum": 1},
		},
		"required": []interface{}{"stream_type"},
	}
	out := schemaToGenai(schema)
	if out.Type != genai.TypeObject {
		t.Fatalf("type = %v", out.Type)
	}
	if len(out.Required) != 1 || out.Required[0] != "stream_type" {
		t.Fatalf("required = %v, want the declared list only", out.Required)
	}
	if st := out.Properties["stream_type"]; st == nil || len(st.Enum) != 2 {
		t.Fatalf("stream_type = %+v", st)
	}
	if out.Properties["limit"].Type != genai.TypeInteger {
		t.Fatalf("limit type = %v", out.Properties["limit"].Type)
	}
}
