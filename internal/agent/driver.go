// Package agent runs one user turn end to end: it builds the prompt, drives
// the engine, correlates its events into thinking steps and reports the
// outcome.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/openshift/sippy-chat/internal/correlate"
	"github.com/openshift/sippy-chat/internal/llm"
	"github.com/openshift/sippy-chat/internal/metrics"
)

// Status tells an answered turn apart from the other ways a turn can end.
type Status string

const (
	StatusAnswered  Status = "answered"
	StatusTruncated Status = "truncated"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

var (
	// ErrCancelled is returned when the caller cancelled the turn.
	ErrCancelled = errors.New("turn cancelled")
	// ErrTimeout is returned when the turn ran past MaxExecutionTime.
	ErrTimeout = errors.New("turn exceeded the maximum execution time")
)

// ChatMessage is one earlier message of the conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnInput carries everything that may vary per request.
type TurnInput struct {
	Message      string
	History      []ChatMessage
	ShowThinking bool
	Persona      string
	PageContext  map[string]any
}

// Result is the outcome of one turn.
type Result struct {
	TurnID         string
	Status         Status
	FinalText      string
	Steps          []correlate.Step
	ToolsUsed      []string
	Visualizations []Visualization
}

// Options configure a Driver.
type Options struct {
	Model            string
	Temperature      float32
	MaxIterations    int
	MaxExecutionTime time.Duration
	// DebugLogDir enables a JSONL debug log per turn.
	DebugLogDir string
	Metrics     *metrics.Metrics
}

// Driver handles turns. It is safe for concurrent use; nothing is shared
// between turns except the engine.
type Driver struct {
	engine *llm.Engine
	opts   Options
	log    *log.Entry
}

func NewDriver(engine *llm.Engine, opts Options) *Driver {
	return &Driver{
		engine: engine,
		opts:   opts,
		log:    log.WithField("component", "agent"),
	}
}

// Handle runs one turn. onStep, when non-nil, receives every step update as
// it is produced, in delivery order; it is never called after the turn was
// cancelled. The returned error is nil for answered and truncated turns,
// wraps ErrCancelled for cancelled turns and describes the failure
// otherwise.
func (d *Driver) Handle(ctx context.Context, in TurnInput, onStep func(correlate.Step)) (Result, error) {
	res := Result{TurnID: uuid.NewString()}
	logger := d.log.WithField("turn", res.TurnID)
	started := time.Now()

	turnCtx := ctx
	if d.opts.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, d.opts.MaxExecutionTime)
		defer cancel()
	}

	var dlog *llm.DebugLogger
	if d.opts.DebugLogDir != "" {
		var err error
		if dlog, err = llm.NewDebugLogger(d.opts.DebugLogDir, res.TurnID); err != nil {
			logger.WithError(err).Warn("debug log disabled for this turn")
		}
		defer dlog.Close()
	}

	req := llm.Request{
		Model:            d.opts.Model,
		Messages:         d.buildMessages(in),
		Temperature:      d.opts.Temperature,
		IncludeReasoning: in.ShowThinking,
	}

	stream := d.engine.Stream(turnCtx, req, llm.RunOptions{MaxIterations: d.opts.MaxIterations, DebugLogger: dlog})
	defer stream.Close()

	corr := correlate.New(in.ShowThinking)
	var turnErr error
	finished := false
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			turnErr = err
			break
		}
		if ev.Type == llm.EventError {
			turnErr = ev.Err
			break
		}
		if ev.Type == llm.EventDone {
			finished = true
		}
		if ev.Type == llm.EventToolExecEnd {
			d.opts.Metrics.ToolCall(ev.ToolName, ev.ToolSuccess)
		}
		for _, step := range corr.Consume(ev) {
			dlog.LogRecord("step", step)
			if onStep != nil && turnCtx.Err() == nil {
				onStep(step)
			}
		}
	}

	// Only an explicit cancel of the caller's context is a cancellation. An
	// expired deadline, the caller's or MaxExecutionTime's, fails the turn
	// unless the feed had already finished.
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		res.Status = StatusCancelled
		logger.WithField("pending_tools", corr.Pending()).Info("turn cancelled")
		return res, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case !finished && errors.Is(turnCtx.Err(), context.DeadlineExceeded):
		res.Status = StatusError
		logger.WithField("limit", d.opts.MaxExecutionTime).Warn("turn timed out")
		return res, ErrTimeout
	case turnErr != nil:
		res.Status = StatusError
		logger.WithError(turnErr).Error("turn failed")
		return res, turnErr
	}

	steps, text := corr.Finalize()
	res.Steps = steps
	res.ToolsUsed = corr.ToolsUsed()
	res.Visualizations, res.FinalText = ExtractVisualizations(text)
	res.Status = StatusAnswered
	if corr.Truncated() {
		res.Status = StatusTruncated
		d.opts.Metrics.TruncatedTurn()
	}

	logger.WithFields(log.Fields{
		"status":   res.Status,
		"steps":    len(res.Steps),
		"tools":    res.ToolsUsed,
		"duration": time.Since(started).Round(time.Millisecond),
	}).Info("turn finished")
	return res, nil
}

func (d *Driver) buildMessages(in TurnInput) []llm.Message {
	messages := make([]llm.Message, 0, len(in.History)+2)
	messages = append(messages, llm.SystemText(SystemPrompt(in.Persona)))
	for _, msg := range in.History {
		switch msg.Role {
		case "user":
			messages = append(messages, llm.UserText(msg.Content))
		case "assistant":
			messages = append(messages, llm.AssistantText(msg.Content))
		}
	}
	return append(messages, llm.UserText(UserMessage(in.Message, in.PageContext)))
}
