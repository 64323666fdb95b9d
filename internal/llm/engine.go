package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
)

const defaultMaxIterations = 15

// Engine orchestrates provider calls and external tool execution.
//
// One Engine may serve many concurrent turns: it holds no per-turn state.
type Engine struct {
	provider Provider
	tools    *ToolRegistry
}

func NewEngine(provider Provider, tools *ToolRegistry) *Engine {
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Engine{
		provider: NormalizeReasoning(provider),
		tools:    tools,
	}
}

// RunOptions are per-turn loop settings.
type RunOptions struct {
	// MaxIterations caps the number of model turns. Zero means the default.
	MaxIterations int
	// DebugLogger receives requests and events of this turn. May be nil.
	DebugLogger *DebugLogger
}

// Stream runs the agentic loop for req and returns its event feed.
//
// Each model turn is followed by EventTurnFinished carrying the requested
// tool calls in emission order. Those calls then run in parallel, each
// bracketed by EventToolExecStart/EventToolExecEnd, and the loop only
// advances once every call has finished. The feed ends with EventDone whose
// StopReason is StopReasonComplete, or StopReasonMaxIterations when the
// ceiling cut the loop short, or with EventError.
func (e *Engine) Stream(ctx context.Context, req Request, opts RunOptions) Stream {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		return e.runLoop(ctx, req, opts, events)
	})
}

func (e *Engine) runLoop(ctx context.Context, req Request, opts RunOptions, events chan<- Event) error {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	if len(req.Tools) == 0 {
		req.Tools = e.tools.AllSpecs()
	}

	for iteration := 1; ; iteration++ {
		opts.DebugLogger.LogTurnRequest(iteration, e.provider.Name(), req)

		text, calls, err := e.decide(ctx, req, opts.DebugLogger, events)
		if err != nil {
			return err
		}

		calls = dedupeToolCalls(calls)
		truncated := len(calls) > 0 && iteration >= maxIterations

		finished := Event{Type: EventTurnFinished, Iteration: iteration, Text: text}
		if !truncated {
			finished.Calls = calls
		}
		if err := send(ctx, events, finished); err != nil {
			return err
		}

		if len(calls) == 0 {
			return send(ctx, events, Event{Type: EventDone, StopReason: StopReasonComplete})
		}
		if truncated {
			return send(ctx, events, Event{Type: EventDone, StopReason: StopReasonMaxIterations})
		}

		// Providers need an ID on every call to pair results with requests;
		// events keep whatever ID the backend supplied.
		withIDs := ensureToolCallIDs(calls, iteration)
		results, err := e.executeToolCalls(ctx, calls, withIDs, opts.DebugLogger, events)
		if err != nil {
			return err
		}

		req.Messages = append(req.Messages, buildAssistantMessage(text, withIDs))
		req.Messages = append(req.Messages, results...)
	}
}

// decide runs one Deciding phase: it streams a single model turn, forwards
// partial content and returns the turn's text and tool calls.
func (e *Engine) decide(ctx context.Context, req Request, dlog *DebugLogger, events chan<- Event) (string, []ToolCall, error) {
	stream, err := e.provider.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var text strings.Builder
	var calls []ToolCall
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, err
		}
		dlog.LogEvent(event)
		switch event.Type {
		case EventError:
			if event.Err != nil {
				return "", nil, event.Err
			}
			continue
		case EventToolCall:
			if event.Tool != nil {
				calls = append(calls, *event.Tool)
			}
			continue
		case EventDone:
			continue
		case EventTextDelta:
			text.WriteString(event.Text)
		case EventRetry:
			text.Reset()
			calls = nil
		}
		if err := send(ctx, events, event); err != nil {
			return "", nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return text.String(), calls, nil
}

// buildAssistantMessage creates an assistant message with text and tool calls.
func buildAssistantMessage(text string, toolCalls []ToolCall) Message {
	var parts []Part
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for i := range toolCalls {
		call := toolCalls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

// executeToolCalls runs every call of one turn concurrently and waits for all
// of them. calls carry the backend's IDs (used on events); withIDs is the same
// list with IDs filled in (used on result messages). End events follow
// completion order; result messages keep request order.
//
// Tool goroutines never touch events. If ctx is cancelled the wait is
// abandoned; calls still running finish in the background and their results
// are dropped.
func (e *Engine) executeToolCalls(ctx context.Context, calls, withIDs []ToolCall, dlog *DebugLogger, events chan<- Event) ([]Message, error) {
	for i, call := range calls {
		start := Event{
			Type:       EventToolExecStart,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			ToolArgs:   call.Arguments,
			Text:       e.getToolPreview(withIDs[i]),
		}
		if err := send(ctx, events, start); err != nil {
			return nil, err
		}
	}

	type toolOutcome struct {
		index  int
		output string
		err    error
	}

	outcomes := make(chan toolOutcome, len(calls))
	for i := range calls {
		go func(idx int) {
			output, err := e.invokeTool(ctx, withIDs[idx])
			outcomes <- toolOutcome{index: idx, output: output, err: err}
		}(i)
	}

	results := make([]Message, len(calls))
	for pending := len(calls); pending > 0; pending-- {
		select {
		case r := <-outcomes:
			msg, err := e.finishToolCall(ctx, calls[r.index].ID, withIDs[r.index], r.output, r.err, dlog, events)
			if err != nil {
				return nil, err
			}
			results[r.index] = msg
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// finishToolCall reports one tool outcome as an event and a result message.
// Tool errors and panics become an error observation.
func (e *Engine) finishToolCall(ctx context.Context, hintID string, call ToolCall, output string, toolErr error, dlog *DebugLogger, events chan<- Event) (Message, error) {
	end := Event{
		Type:        EventToolExecEnd,
		ToolCallID:  hintID,
		ToolName:    call.Name,
		ToolArgs:    call.Arguments,
		ToolSuccess: toolErr == nil,
		ToolOutput:  output,
	}
	if toolErr != nil {
		end.ToolOutput = ErrorObservation(toolErr)
	}
	dlog.LogEvent(end)
	if err := send(ctx, events, end); err != nil {
		return Message{}, err
	}

	if toolErr != nil {
		return ToolErrorMessage(call.ID, call.Name, end.ToolOutput, call.ThoughtSig), nil
	}
	return ToolResultMessage(call.ID, call.Name, output, call.ThoughtSig), nil
}

func (e *Engine) invokeTool(ctx context.Context, call ToolCall) (output string, err error) {
	tool, ok := e.tools.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v\n%s", r, firstStackLines(debug.Stack(), 8))
		}
	}()
	return tool.Execute(ctx, call.Arguments)
}

// ErrorObservation renders err as the JSON observation the model sees.
func ErrorObservation(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}

func firstStackLines(stack []byte, n int) string {
	lines := strings.SplitN(string(stack), "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// ensureToolCallIDs returns a copy of calls with a unique ID on every call.
func ensureToolCallIDs(calls []ToolCall, iteration int) []ToolCall {
	out := make([]ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if strings.TrimSpace(out[i].ID) == "" {
			out[i].ID = fmt.Sprintf("toolcall-%d-%d", iteration, i+1)
		}
	}
	return out
}

// dedupeToolCalls drops repeated call IDs within one turn.
func dedupeToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]struct{}, len(calls))
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		id := strings.TrimSpace(call.ID)
		if id == "" {
			out = append(out, call)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, call)
	}
	return out
}

// getToolPreview returns a preview string for a tool call.
func (e *Engine) getToolPreview(call ToolCall) string {
	if tool, ok := e.tools.Get(call.Name); ok {
		if preview := tool.Preview(call.Arguments); preview != "" {
			return preview
		}
	}
	var args map[string]any
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	return formatToolArgs(args, 60, 3)
}

// formatToolArgs renders up to maxParams arguments as key=value pairs sorted
// by key, truncating long values.
func formatToolArgs(args map[string]any, maxLen, maxParams int) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if len(parts) == maxParams {
			parts = append(parts, "...")
			break
		}
		var v string
		switch val := args[k].(type) {
		case string:
			v = val
		default:
			b, _ := json.Marshal(val)
			v = string(b)
		}
		if len(v) > maxLen {
			v = v[:maxLen] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, ", ")
}
