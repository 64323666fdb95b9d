package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockProvider_ScriptedTurns(t *testing.T) {
	p := NewMockProvider("mock").
		AddToolCall("c1", "get_prow_job_summary", map[string]string{"prow_job_run_id": "1"}).
		AddTextResponse("done")

	s, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatal(err)
	}
	calls := eventsOfType(collectEvents(t, s), EventToolCall)
	if len(calls) != 1 || calls[0].Tool.Name != "get_prow_job_summary" || string(calls[0].Tool.Arguments) != `{"prow_job_run_id":"1"}` {
		t.Fatalf("calls = %+v", calls)
	}

	s, _ = p.Stream(context.Background(), Request{})
	if last := lastEvent(t, collectEvents(t, s)); last.Type != EventDone {
		t.Fatalf("last = %+v", last)
	}

	s, _ = p.Stream(context.Background(), Request{})
	if last := lastEvent(t, collectEvents(t, s)); last.Type != EventError || !errors.Is(last.Err, ErrMockExhausted) {
		t.Fatalf("exhausted turn = %+v", last)
	}
	if p.RequestCount() != 3 || p.Requests[0].Messages[0].Parts[0].Text != "hi" {
		t.Fatalf("requests = %+v", p.Requests)
	}

	p.Reset()
	if p.RequestCount() != 0 {
		t.Fatal("Reset should clear recorded requests")
	}
}

func TestMockProvider_CancelDuringDelay(t *testing.T) {
	p := NewMockProvider("mock").AddTurn(MockTurn{Text: "late", Delay: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := p.Stream(ctx, Request{})
	cancel()
	if last := lastEvent(t, collectEvents(t, s)); last.Type != EventError || !errors.Is(last.Err, context.Canceled) {
		t.Fatalf("last = %+v", last)
	}
}

func TestToolErrorMessage(t *testing.T) {
	msg := ToolErrorMessage("c1", "analyze_job_logs", `{"error":"boom"}`, []byte("sig"))
	if msg.Role != RoleTool {
		t.Fatalf("role = %s", msg.Role)
	}
	res := msg.Parts[0].ToolResult
	if !res.IsError || res.Name != "analyze_job_logs" || string(res.ThoughtSig) != "sig" {
		t.Fatalf("result = %+v", res)
	}
	if got := messageText(AssistantText("answer")); got != "answer" {
		t.Fatalf("messageText = %q", got)
	}
}
