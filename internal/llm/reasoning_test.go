package llm

import (
	"context"
	"errors"
	"testing"
)

func normalizedEvents(t *testing.T, mode ReasoningMode, turn MockTurn) []Event {
	t.Helper()
	p := NewMockProvider("mock").WithCapabilities(Capabilities{ToolCalls: true, ReasoningMode: mode})
	p.AddTurn(turn)
	s, err := NormalizeReasoning(p).Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	return collectEvents(t, s)
}

func TestNormalizeReasoning_WholeBlock(t *testing.T) {
	events := normalizedEvents(t, ReasoningWholeBlock, MockTurn{
		Reasoning: []string{"first block", "  ", "second block"},
		ToolCalls: []ToolCall{call("1", "a", `{}`)},
	})

	blocks := eventsOfType(events, EventReasoning)
	if len(blocks) != 2 || blocks[0].Text != "first block" || blocks[1].Text != "second block" {
		t.Fatalf("blocks = %+v", blocks)
	}
	if len(eventsOfType(events, EventReasoningDelta)) != 0 {
		t.Fatal("raw deltas must not leak through")
	}
}

func TestNormalizeReasoning_TokenStreamFlushesAtTurnEnd(t *testing.T) {
	events := normalizedEvents(t, ReasoningTokenStream, MockTurn{
		Reasoning: []string{"Let", " me", " check", " the", " logs"},
		Text:      "Checking.",
		ToolCalls: []ToolCall{call("1", "a", `{}`), call("2", "b", `{}`)},
	})

	var kinds []EventType
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
	}
	want := []EventType{EventTextDelta, EventUsage, EventReasoning, EventToolCall, EventToolCall, EventDone}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
	if got := eventsOfType(events, EventReasoning)[0].Text; got != "Let me check the logs" {
		t.Fatalf("flushed block = %q", got)
	}
}

func TestNormalizeReasoning_TokenStreamWithoutDone(t *testing.T) {
	events := normalizedEvents(t, ReasoningTokenStream, MockTurn{
		Reasoning: []string{"partial", " thought"},
		ToolCalls: []ToolCall{call("1", "a", `{}`)},
		NoDone:    true,
	})
	blocks := eventsOfType(events, EventReasoning)
	if len(blocks) != 1 || blocks[0].Text != "partial thought" {
		t.Fatalf("blocks = %+v", blocks)
	}
	if len(eventsOfType(events, EventToolCall)) != 1 {
		t.Fatal("held tool call was lost")
	}
}

func TestNormalizeReasoning_WhitespaceOnlyDropped(t *testing.T) {
	events := normalizedEvents(t, ReasoningTokenStream, MockTurn{Reasoning: []string{" ", "\n"}, Text: "answer"})
	if n := len(eventsOfType(events, EventReasoning)); n != 0 {
		t.Fatalf("reasoning blocks = %d, want 0", n)
	}
}

func TestReasoningNormalizer_RetryResetsBuffer(t *testing.T) {
	n := &reasoningNormalizer{mode: ReasoningTokenStream}
	n.push(Event{Type: EventReasoningDelta, Text: "stale"})
	n.push(Event{Type: EventToolCall, Tool: &ToolCall{Name: "stale"}})
	out := n.push(Event{Type: EventRetry, Err: errors.New("overloaded")})
	if len(out) != 1 || out[0].Type != EventRetry {
		t.Fatalf("retry output = %+v", out)
	}
	n.push(Event{Type: EventReasoningDelta, Text: "fresh"})
	out = n.push(Event{Type: EventDone})
	if len(out) != 2 || out[0].Text != "fresh" || out[1].Type != EventDone {
		t.Fatalf("after retry = %+v", out)
	}
	if extra := n.finish(); extra != nil {
		t.Fatalf("finish after done = %+v", extra)
	}
}

func TestNormalizeReasoning_Idempotent(t *testing.T) {
	p := NewMockProvider("mock")
	once := NormalizeReasoning(p)
	if twice := NormalizeReasoning(once); twice != once {
		t.Fatal("wrapping twice should return the same provider")
	}
}
