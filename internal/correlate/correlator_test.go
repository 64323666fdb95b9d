package correlate

import (
	"encoding/json"
	"testing"

	"github.com/openshift/sippy-chat/internal/llm"
)

func turn(iteration int, text string, calls ...llm.ToolCall) llm.Event {
	return llm.Event{Type: llm.EventTurnFinished, Iteration: iteration, Text: text, Calls: calls}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func toolEnd(id, name, output string) llm.Event {
	return llm.Event{Type: llm.EventToolExecEnd, ToolCallID: id, ToolName: name, ToolOutput: output, ToolSuccess: true}
}

func TestParallelCallsKeepEmissionNumbers(t *testing.T) {
	c := New(true)

	started := c.Consume(turn(1, "",
		call("a", "get_prow_job_summary", `{"prow_job_run_id":"1"}`),
		call("b", "analyze_job_logs", `{"prow_job_run_id":"1"}`),
	))
	if len(started) != 2 {
		t.Fatalf("started = %+v", started)
	}
	if started[0].Number != 1 || started[0].Action != "get_prow_job_summary" || started[0].Complete {
		t.Fatalf("first start = %+v", started[0])
	}
	if started[1].Number != 2 || started[1].Thought != "Using tool: analyze_job_logs" {
		t.Fatalf("second start = %+v", started[1])
	}
	if started[0].ActionInput != `{"prow_job_run_id":"1"}` || started[0].Observation != "" {
		t.Fatalf("first start = %+v", started[0])
	}

	// B finishes first.
	doneB := c.Consume(toolEnd("b", "analyze_job_logs", "logs"))
	doneA := c.Consume(toolEnd("a", "get_prow_job_summary", "summary"))
	if len(doneB) != 1 || doneB[0].Number != 2 || !doneB[0].Complete || doneB[0].Observation != "logs" {
		t.Fatalf("B completion = %+v", doneB)
	}
	if len(doneA) != 1 || doneA[0].Number != 1 || doneA[0].Observation != "summary" {
		t.Fatalf("A completion = %+v", doneA)
	}

	c.Consume(turn(2, "The install failed."))
	steps, answer := c.Finalize()
	if answer != "The install failed." {
		t.Fatalf("answer = %q", answer)
	}
	if len(steps) != 2 || steps[0].Number != 2 || steps[1].Number != 1 {
		t.Fatalf("finalized steps should follow completion order: %+v", steps)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d", c.Pending())
	}
}

func TestFallbackMatchesByNameInOrder(t *testing.T) {
	c := New(true)
	c.Consume(turn(1, "",
		call("", "get_release_payloads", `{"release_version":"4.19"}`),
		call("", "get_release_payloads", `{"release_version":"4.20"}`),
		call("", "check_known_incidents", `{}`),
	))

	first := c.Consume(toolEnd("", "get_release_payloads", "r1"))
	second := c.Consume(toolEnd("", "get_release_payloads", "r2"))
	extra := c.Consume(toolEnd("", "get_release_payloads", "r3"))

	if len(first) != 1 || first[0].Number != 1 {
		t.Fatalf("first = %+v", first)
	}
	if len(second) != 1 || second[0].Number != 2 {
		t.Fatalf("second = %+v", second)
	}
	if extra != nil {
		t.Fatalf("no call should be matched twice, got %+v", extra)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}
}

func TestNameFallbackReleasesIdentifier(t *testing.T) {
	c := New(true)
	c.Consume(turn(1, "", call("id-1", "get_jira_issue_analysis", `{"issue_key":"OCPBUGS-1"}`)))

	if got := c.Consume(toolEnd("", "get_jira_issue_analysis", "issue")); len(got) != 1 || got[0].Number != 1 {
		t.Fatalf("name match = %+v", got)
	}
	if got := c.Consume(toolEnd("id-1", "get_jira_issue_analysis", "again")); got != nil {
		t.Fatalf("identifier should be released after a name match, got %+v", got)
	}
}

func TestDuplicateIdentifierAcrossTurns(t *testing.T) {
	c := New(true)
	c.Consume(turn(1, "", call("x", "check_known_incidents", `{}`)))
	c.Consume(turn(2, "", call("x", "check_known_incidents", `{}`)))

	first := c.Consume(toolEnd("x", "check_known_incidents", "one"))
	second := c.Consume(toolEnd("x", "check_known_incidents", "two"))
	if len(first) != 1 || first[0].Number != 1 || len(second) != 1 || second[0].Number != 2 {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
}

func TestReasoningSteps(t *testing.T) {
	c := New(true)
	got := c.Consume(llm.Event{Type: llm.EventReasoning, Text: "  I should read the build log.  "})
	if len(got) != 1 || got[0].Action != ActionThinking || got[0].Number != 1 || !got[0].Complete {
		t.Fatalf("reasoning step = %+v", got)
	}
	if got[0].Thought != "I should read the build log." || got[0].ActionInput != "" || got[0].Observation != "" {
		t.Fatalf("reasoning step = %+v", got[0])
	}
	if got := c.Consume(llm.Event{Type: llm.EventReasoning, Text: " \n"}); got != nil {
		t.Fatalf("blank reasoning = %+v", got)
	}

	started := c.Consume(turn(1, "", call("a", "analyze_job_logs", `{}`)))
	if started[0].Number != 2 {
		t.Fatalf("tool step after reasoning = %+v", started)
	}
}

func TestHiddenReasoning(t *testing.T) {
	c := New(false)
	if got := c.Consume(llm.Event{Type: llm.EventReasoning, Text: "private"}); got != nil {
		t.Fatalf("hidden reasoning produced steps: %+v", got)
	}
	started := c.Consume(turn(1, "", call("a", "analyze_job_logs", `{}`)))
	if started[0].Number != 1 {
		t.Fatalf("numbering should skip hidden reasoning: %+v", started)
	}
	if thoughts := c.Thoughts(); len(thoughts) != 1 || thoughts[0] != "private" {
		t.Fatalf("thoughts = %v", thoughts)
	}
}

func TestToolFaultCompletesStep(t *testing.T) {
	c := New(true)
	c.Consume(turn(1, "", call("a", "parse_junit_xml", `{"junit_xml_url":"x"}`)))
	ev := toolEnd("a", "parse_junit_xml", `{"error":"tool panicked: boom"}`)
	ev.ToolSuccess = false
	got := c.Consume(ev)
	if len(got) != 1 || !got[0].Complete || got[0].Observation != `{"error":"tool panicked: boom"}` {
		t.Fatalf("fault step = %+v", got)
	}
}

func TestFinalAnswerSelection(t *testing.T) {
	tests := []struct {
		name   string
		events []llm.Event
		want   string
	}{
		{
			name:   "tool-free text wins over commentary",
			events: []llm.Event{turn(1, "Let me check.", call("a", "t", `{}`)), toolEnd("a", "t", "ok"), turn(2, "Final.")},
			want:   "Final.",
		},
		{
			name:   "commentary when no tool-free text",
			events: []llm.Event{turn(1, "Checking the logs.", call("a", "t", `{}`)), toolEnd("a", "t", "ok"), turn(2, "  ")},
			want:   "Checking the logs.",
		},
		{
			name:   "latest commentary",
			events: []llm.Event{turn(1, "one", call("a", "t", `{}`)), turn(2, "two", call("b", "t", `{}`))},
			want:   "two",
		},
		{
			name:   "fallback",
			events: []llm.Event{turn(1, "")},
			want:   FallbackAnswer,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(true)
			for _, ev := range tt.events {
				c.Consume(ev)
			}
			if _, got := c.Finalize(); got != tt.want {
				t.Fatalf("answer = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncationAndToolsUsed(t *testing.T) {
	c := New(true)
	c.Consume(turn(1, "", call("a", "get_prow_job_summary", `{}`), call("b", "analyze_job_logs", `{}`)))
	c.Consume(toolEnd("a", "get_prow_job_summary", "s"))
	c.Consume(toolEnd("b", "analyze_job_logs", "l"))
	c.Consume(turn(2, "", call("c", "get_prow_job_summary", `{}`)))
	c.Consume(toolEnd("c", "get_prow_job_summary", "s"))
	// The engine strips the calls of the turn that hit the ceiling.
	c.Consume(turn(3, "Partial findings."))
	c.Consume(llm.Event{Type: llm.EventDone, StopReason: llm.StopReasonMaxIterations})

	if !c.Truncated() {
		t.Fatal("expected truncated")
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d", c.Pending())
	}
	used := c.ToolsUsed()
	if len(used) != 2 || used[0] != "get_prow_job_summary" || used[1] != "analyze_job_logs" {
		t.Fatalf("tools used = %v", used)
	}
	if _, answer := c.Finalize(); answer != "Partial findings." {
		t.Fatalf("answer = %q", answer)
	}
}

func TestEmptyArgumentsRenderAsObject(t *testing.T) {
	c := New(true)
	got := c.Consume(turn(1, "", llm.ToolCall{ID: "a", Name: "check_known_incidents"}))
	if got[0].ActionInput != "{}" {
		t.Fatalf("action input = %q", got[0].ActionInput)
	}
}
