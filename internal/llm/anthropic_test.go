package llm

import (
	"encoding/json"
	"testing"
)

func TestToolCallAccumulatorInputJSONDelta(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(0, ToolCall{ID: "toolu_1", Name: "analyze_job_logs"})

	acc.Append(0, `{"prow_job_run_id":"1934795512955801600",`)
	acc.Append(0, `"path_glob":"*build-log*"}`)

	final, ok := acc.Finish(0)
	if !ok {
		t.Fatalf("expected tool call")
	}

	var payload map[string]string
	if err := json.Unmarshal(final.Arguments, &payload); err != nil {
		t.Fatalf("failed to unmarshal args: %v", err)
	}
	if payload["prow_job_run_id"] != "1934795512955801600" {
		t.Fatalf("prow_job_run_id=%q", payload["prow_job_run_id"])
	}
	if payload["path_glob"] != "*build-log*" {
		t.Fatalf("path_glob=%q", payload["path_glob"])
	}
	if _, ok := acc.Finish(0); ok {
		t.Fatal("finished block should be forgotten")
	}
}

func TestToolCallAccumulatorFallbackArgs(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Start(1, ToolCall{
		ID:        "toolu_2",
		Name:      "get_jira_issue_analysis",
		Arguments: json.RawMessage(`{"issue_key":"OCPBUGS-1234"}`),
	})

	final, ok := acc.Finish(1)
	if !ok {
		t.Fatalf("expected tool call")
	}
	var payload map[string]string
	if err := json.Unmarshal(final.Arguments, &payload); err != nil {
		t.Fatalf("failed to unmarshal args: %v", err)
	}
	if payload["issue_key"] != "OCPBUGS-1234" {
		t.Fatalf("issue_key=%q", payload["issue_key"])
	}
}

func TestBuildAnthropicMessages_ThinkingLeadsToolUse(t *testing.T) {
	messages := []Message{
		SystemText("You are a CI assistant."),
		UserText("why did it fail?"),
		{Role: RoleAssistant, Parts: []Part{
			{Type: PartText, Text: "Looking."},
			{Type: PartToolCall, ToolCall: &ToolCall{
				ID:       "toolu_1",
				Name:     "get_prow_job_summary",
				Thinking: &ThinkingTrace{Text: "need the summary", Signature: "sig"},
			}},
		}},
		ToolResultMessage("toolu_1", "get_prow_job_summary", `{"name":"job"}`, nil),
	}

	system, out := buildAnthropicMessages(messages)
	if system != "You are a CI assistant." {
		t.Fatalf("system = %q", system)
	}
	if len(out) != 3 {
		t.Fatalf("messages = %d, want 3", len(out))
	}
	blocks := out[1].Content
	if len(blocks) != 3 {
		t.Fatalf("assistant blocks = %d, want 3", len(blocks))
	}
	if blocks[0].OfThinking == nil || blocks[0].OfThinking.Signature != "sig" {
		t.Fatalf("first block should be the signed thinking block: %+v", blocks[0])
	}
	if blocks[2].OfToolUse == nil || blocks[2].OfToolUse.ID != "toolu_1" {
		t.Fatalf("tool use block = %+v", blocks[2])
	}
	result := out[2].Content[0].OfToolResult
	if result == nil || result.ToolUseID != "toolu_1" {
		t.Fatalf("tool result block = %+v", out[2].Content[0])
	}
}

func TestSchemaRequired(t *testing.T) {
	if got := schemaRequired(map[string]interface{}{"required": []interface{}{"a", 1, "b"}}); len(got) != 2 || got[1] != "b" {
		t.Fatalf("schemaRequired = %v", got)
	}
	if got := schemaRequired(map[string]interface{}{}); got != nil {
		t.Fatalf("schemaRequired(empty) = %v", got)
	}
	if got := string(rawOrEmptyObject(nil)); got != "{}" {
		t.Fatalf("rawOrEmptyObject(nil) = %q", got)
	}
}
