package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// MockTurn is one scripted model turn.
type MockTurn struct {
	// Reasoning deltas, emitted before any text.
	Reasoning []string
	// Text deltas. Text is emitted as a single delta after them.
	TextChunks []string
	Text       string
	ToolCalls  []ToolCall
	// Delay before the first event. Cancellation cuts it short.
	Delay time.Duration
	// Block, when non-nil, is waited on before the first event.
	Block <-chan struct{}
	Err   error
	// NoDone omits the final EventDone.
	NoDone bool
}

// ErrMockExhausted is reported when the mock has no scripted turn left.
var ErrMockExhausted = errors.New("mock provider: no scripted turn left")

// MockProvider replays scripted turns, one per Stream call, and records the
// requests it receives. It is safe for concurrent use.
type MockProvider struct {
	name string
	caps Capabilities

	mu       sync.Mutex
	turns    []MockTurn
	Requests []Request
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name, caps: Capabilities{ToolCalls: true}}
}

// WithCapabilities sets the reported capabilities.
func (p *MockProvider) WithCapabilities(caps Capabilities) *MockProvider {
	p.caps = caps
	return p
}

func (p *MockProvider) Name() string               { return p.name }
func (p *MockProvider) Capabilities() Capabilities { return p.caps }

// AddTurn appends a scripted turn.
func (p *MockProvider) AddTurn(turn MockTurn) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
	return p
}

// AddTextResponse appends a turn that answers with text only.
func (p *MockProvider) AddTextResponse(text string) *MockProvider {
	return p.AddTurn(MockTurn{Text: text})
}

// AddToolCall appends a turn requesting a single tool call.
func (p *MockProvider) AddToolCall(id, name string, args any) *MockProvider {
	data, _ := json.Marshal(args)
	return p.AddTurn(MockTurn{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: data}}})
}

// AddError appends a turn that fails with err.
func (p *MockProvider) AddError(err error) *MockProvider {
	return p.AddTurn(MockTurn{Err: err})
}

// RequestCount returns the number of Stream calls so far.
func (p *MockProvider) RequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// Reset clears scripted turns and recorded requests.
func (p *MockProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = nil
	p.Requests = nil
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, cloneRequest(req))
	var turn MockTurn
	ok := len(p.turns) > 0
	if ok {
		turn = p.turns[0]
		p.turns = p.turns[1:]
	}
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if !ok {
			return ErrMockExhausted
		}
		if turn.Delay > 0 {
			select {
			case <-time.After(turn.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if turn.Block != nil {
			select {
			case <-turn.Block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if turn.Err != nil {
			return turn.Err
		}
		var out []Event
		for _, r := range turn.Reasoning {
			out = append(out, Event{Type: EventReasoningDelta, Text: r})
		}
		for _, c := range turn.TextChunks {
			out = append(out, Event{Type: EventTextDelta, Text: c})
		}
		if turn.Text != "" {
			out = append(out, Event{Type: EventTextDelta, Text: turn.Text})
		}
		for i := range turn.ToolCalls {
			call := turn.ToolCalls[i]
			out = append(out, Event{Type: EventToolCall, Tool: &call})
		}
		out = append(out, Event{Type: EventUsage, Use: &Usage{InputTokens: 10, OutputTokens: 5}})
		if !turn.NoDone {
			out = append(out, Event{Type: EventDone})
		}
		for _, ev := range out {
			if err := send(ctx, events, ev); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

// cloneRequest copies the message slice so later appends by the caller do
// not show up in recorded requests.
func cloneRequest(req Request) Request {
	req.Messages = append([]Message(nil), req.Messages...)
	req.Tools = append([]ToolSpec(nil), req.Tools...)
	return req
}
