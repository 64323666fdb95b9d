package llm

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger logs turn requests and events to JSONL files for debugging.
// Each turn gets its own file named after the turn ID. A nil *DebugLogger
// is valid and logs nothing.
type DebugLogger struct {
	turnID    string
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	closeOnce sync.Once
	closed    bool
}

// debugLogEntry is the common structure for all log entries
type debugLogEntry struct {
	Timestamp string `json:"timestamp"`
	TurnID    string `json:"turn_id"`
	Type      string `json:"type"`
}

// debugTurnRequestEntry logs the request for one iteration of the loop
type debugTurnRequestEntry struct {
	debugLogEntry
	Iteration int              `json:"iteration"`
	Provider  string           `json:"provider"`
	Request   debugRequestData `json:"request"`
}

type debugRequestData struct {
	Model            string         `json:"model,omitempty"`
	Messages         []debugMessage `json:"messages"`
	Tools            []string       `json:"tools,omitempty"`
	Temperature      float32        `json:"temperature,omitempty"`
	MaxOutputTokens  int            `json:"max_output_tokens,omitempty"`
	IncludeReasoning bool           `json:"include_reasoning,omitempty"`
}

// debugMessage is a simplified message for logging
type debugMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []debugPart
}

type debugPart struct {
	Type       string           `json:"type"`
	Text       string           `json:"text,omitempty"`
	ToolCall   *debugToolCall   `json:"tool_call,omitempty"`
	ToolResult *debugToolResult `json:"tool_result,omitempty"`
}

type debugToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type debugToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// debugEventEntry logs an engine event
type debugEventEntry struct {
	debugLogEntry
	EventType string `json:"event_type"`
	Data      any    `json:"data,omitempty"`
}

// debugRecordEntry logs caller-defined data, such as step updates
type debugRecordEntry struct {
	debugLogEntry
	Data any `json:"data,omitempty"`
}

// NewDebugLogger creates a DebugLogger writing to baseDir/<turnID>.jsonl.
// Old log files (>7 days) are cleaned up.
func NewDebugLogger(baseDir, turnID string) (*DebugLogger, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}

	_ = CleanupOldLogs(baseDir, 7*24*time.Hour)

	filename := filepath.Join(baseDir, turnID+".jsonl")
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	return &DebugLogger{
		turnID: turnID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (l *DebugLogger) header(kind string) debugLogEntry {
	return debugLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TurnID:    l.turnID,
		Type:      kind,
	}
}

// LogTurnRequest logs the request sent for one loop iteration. This captures
// the history after tool results have been appended.
func (l *DebugLogger) LogTurnRequest(iteration int, provider string, req Request) {
	if l == nil {
		return
	}
	tools := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, t.Name)
	}
	l.writeEntry(debugTurnRequestEntry{
		debugLogEntry: l.header("turn_request"),
		Iteration:     iteration,
		Provider:      provider,
		Request: debugRequestData{
			Model:            req.Model,
			Messages:         convertMessages(req.Messages),
			Tools:            tools,
			Temperature:      req.Temperature,
			MaxOutputTokens:  req.MaxOutputTokens,
			IncludeReasoning: req.IncludeReasoning,
		},
	})
	l.Flush()
}

// LogEvent logs an engine event.
func (l *DebugLogger) LogEvent(event Event) {
	if l == nil {
		return
	}

	entry := debugEventEntry{
		debugLogEntry: l.header("event"),
		EventType:     string(event.Type),
	}

	switch event.Type {
	case EventTextDelta:
		entry.Data = map[string]string{"text": event.Text}
	case EventReasoningDelta, EventReasoning:
		entry.Data = map[string]any{"text": truncateForLog(event.Text), "text_len": len(event.Text)}
	case EventToolCall:
		if event.Tool != nil {
			entry.Data = map[string]any{
				"id":        event.Tool.ID,
				"name":      event.Tool.Name,
				"arguments": event.Tool.Arguments,
			}
		}
	case EventTurnFinished:
		calls := make([]map[string]any, 0, len(event.Calls))
		for _, c := range event.Calls {
			calls = append(calls, map[string]any{"id": c.ID, "name": c.Name})
		}
		entry.Data = map[string]any{"iteration": event.Iteration, "text_len": len(event.Text), "calls": calls}
	case EventToolExecStart, EventToolExecEnd:
		data := map[string]any{
			"tool_call_id": event.ToolCallID,
			"tool_name":    event.ToolName,
		}
		if event.Type == EventToolExecEnd {
			data["success"] = event.ToolSuccess
			if event.ToolOutput != "" {
				data["output"] = truncateForLog(event.ToolOutput)
			}
		}
		entry.Data = data
	case EventUsage:
		if event.Use != nil {
			entry.Data = map[string]int{
				"input_tokens":  event.Use.InputTokens,
				"output_tokens": event.Use.OutputTokens,
			}
		}
	case EventDone:
		if event.StopReason != "" {
			entry.Data = map[string]string{"stop_reason": event.StopReason}
		}
	case EventError:
		if event.Err != nil {
			entry.Data = map[string]string{"error": event.Err.Error()}
		}
	case EventRetry:
		data := map[string]any{
			"attempt":      event.RetryAttempt,
			"max_attempts": event.RetryMaxAttempts,
			"wait_secs":    event.RetryWaitSecs,
		}
		if event.Err != nil {
			data["error"] = event.Err.Error()
		}
		entry.Data = data
	}

	l.writeEntry(entry)

	// Flush on EventDone without flushing on every text delta
	if event.Type == EventDone {
		l.Flush()
	}
}

// LogRecord logs arbitrary data under the given entry type.
func (l *DebugLogger) LogRecord(kind string, data any) {
	if l == nil {
		return
	}
	l.writeEntry(debugRecordEntry{debugLogEntry: l.header(kind), Data: data})
}

// Close flushes and closes the log file. Close is idempotent.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}

	var closeErr error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if err := l.writer.Flush(); err != nil {
			closeErr = err
		}
		if err := l.file.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		l.closed = true
	})
	return closeErr
}

// writeEntry writes a single log entry as a JSON line without flushing.
func (l *DebugLogger) writeEntry(entry any) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.writer.Write(data)
	l.writer.WriteString("\n")
}

// Flush flushes the buffered writer to disk.
func (l *DebugLogger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.writer.Flush()
	}
}

func convertMessages(messages []Message) []debugMessage {
	result := make([]debugMessage, len(messages))
	for i, msg := range messages {
		result[i] = debugMessage{Role: string(msg.Role), Content: convertParts(msg.Parts)}
	}
	return result
}

// convertParts returns a bare string for a single text part, otherwise the
// full part list.
func convertParts(parts []Part) any {
	if len(parts) == 1 && parts[0].Type == PartText {
		return parts[0].Text
	}
	result := make([]debugPart, len(parts))
	for i, part := range parts {
		dp := debugPart{Type: string(part.Type), Text: part.Text}
		if part.ToolCall != nil {
			dp.ToolCall = &debugToolCall{
				ID:        part.ToolCall.ID,
				Name:      part.ToolCall.Name,
				Arguments: part.ToolCall.Arguments,
			}
		}
		if part.ToolResult != nil {
			dp.ToolResult = &debugToolResult{
				ID:      part.ToolResult.ID,
				Name:    part.ToolResult.Name,
				Content: truncateForLog(part.ToolResult.Content),
				IsError: part.ToolResult.IsError,
			}
		}
		result[i] = dp
	}
	return result
}

func truncateForLog(s string) string {
	if len(s) > 500 {
		return s[:500] + "...[truncated]"
	}
	return s
}

// CleanupOldLogs removes JSONL log files older than maxAge from baseDir.
func CleanupOldLogs(baseDir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(baseDir, entry.Name()))
		}
	}
	return nil
}
