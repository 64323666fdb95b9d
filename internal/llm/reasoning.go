package llm

import (
	"context"
	"io"
	"strings"
)

// reasoningProvider turns raw reasoning deltas into complete reasoning blocks
// according to the wrapped provider's ReasoningMode.
type reasoningProvider struct {
	inner Provider
}

// NormalizeReasoning wraps p so that its stream carries EventReasoning blocks
// instead of EventReasoningDelta fragments.
//
// Whole-block providers have each delta passed through as a block. For
// token-streamed providers, deltas are buffered and flushed as one block when
// the provider's turn ends, ahead of that turn's tool calls. Tool calls are
// held back until then so a flush never lands between them.
func NormalizeReasoning(p Provider) Provider {
	if _, ok := p.(*reasoningProvider); ok {
		return p
	}
	return &reasoningProvider{inner: p}
}

func (r *reasoningProvider) Name() string               { return r.inner.Name() }
func (r *reasoningProvider) Capabilities() Capabilities { return r.inner.Capabilities() }

func (r *reasoningProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	inner, err := r.inner.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	mode := r.inner.Capabilities().ReasoningMode
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		defer inner.Close()
		n := &reasoningNormalizer{mode: mode}
		for {
			ev, err := inner.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			for _, out := range n.push(ev) {
				if err := send(ctx, events, out); err != nil {
					return err
				}
			}
		}
		for _, out := range n.finish() {
			if err := send(ctx, events, out); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

// reasoningNormalizer is the per-turn state of NormalizeReasoning.
type reasoningNormalizer struct {
	mode     ReasoningMode
	buf      strings.Builder
	held     []Event
	finished bool
}

// push consumes one provider event and returns what should be emitted now.
func (n *reasoningNormalizer) push(ev Event) []Event {
	switch ev.Type {
	case EventReasoningDelta:
		if n.mode == ReasoningTokenStream {
			n.buf.WriteString(ev.Text)
			return nil
		}
		if strings.TrimSpace(ev.Text) == "" {
			return nil
		}
		return []Event{{Type: EventReasoning, Text: ev.Text}}
	case EventToolCall:
		if n.mode == ReasoningTokenStream {
			n.held = append(n.held, ev)
			return nil
		}
		return []Event{ev}
	case EventRetry:
		// A retried attempt starts the turn over.
		n.buf.Reset()
		n.held = nil
		return []Event{ev}
	case EventError:
		n.buf.Reset()
		n.held = nil
		return []Event{ev}
	case EventDone:
		out := n.flush()
		n.finished = true
		return append(out, ev)
	default:
		return []Event{ev}
	}
}

// finish flushes a turn whose provider stream ended without EventDone.
func (n *reasoningNormalizer) finish() []Event {
	if n.finished {
		return nil
	}
	return n.flush()
}

func (n *reasoningNormalizer) flush() []Event {
	var out []Event
	if text := n.buf.String(); strings.TrimSpace(text) != "" {
		out = append(out, Event{Type: EventReasoning, Text: text})
	}
	n.buf.Reset()
	out = append(out, n.held...)
	n.held = nil
	return out
}
