package llm

import (
	"context"
	"io"
	"sync"
)

const streamBufferSize = 64

// eventStream is a channel-backed Stream driven by a producer goroutine.
type eventStream struct {
	events    chan Event
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// newEventStream runs produce in a goroutine and exposes what it sends as a
// Stream. A non-nil error returned by produce is delivered as EventError
// before the stream ends.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, streamBufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		if err := produce(ctx, s.events); err != nil {
			select {
			case s.events <- Event{Type: EventError, Err: err}:
			case <-ctx.Done():
				// Nobody is listening for the error any more, but a cancelled
				// reader still wants to see it when it drains the buffer.
				select {
				case s.events <- Event{Type: EventError, Err: err}:
				default:
				}
			}
		}
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if !ok {
		return Event{}, io.EOF
	}
	return ev, nil
}

// Close cancels the producer and drains anything still buffered so the
// goroutine can exit.
func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}

// send delivers an event unless ctx is cancelled first.
func send(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
