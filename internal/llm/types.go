package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ReasoningMode describes how a backend delivers interim reasoning text.
type ReasoningMode int

const (
	// ReasoningNone means the backend never emits reasoning.
	ReasoningNone ReasoningMode = iota
	// ReasoningWholeBlock means each reasoning delta is one complete block.
	ReasoningWholeBlock
	// ReasoningTokenStream means reasoning arrives token by token and is
	// only complete when the model turn ends.
	ReasoningTokenStream
)

func (m ReasoningMode) String() string {
	switch m {
	case ReasoningWholeBlock:
		return "whole_block"
	case ReasoningTokenStream:
		return "token_stream"
	default:
		return "none"
	}
}

// Capabilities describe optional provider features.
type Capabilities struct {
	ToolCalls     bool
	ReasoningMode ReasoningMode
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	Temperature     float32
	MaxOutputTokens int
	// IncludeReasoning asks the backend to surface its reasoning, when it can.
	IncludeReasoning bool
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	// ThoughtSig is an opaque gemini thought signature that must be echoed back.
	ThoughtSig []byte
	// Thinking is the signed anthropic thinking block that preceded this call.
	Thinking *ThinkingTrace
}

// ThinkingTrace is a reasoning block a backend needs replayed verbatim.
type ThinkingTrace struct {
	Text      string
	Signature string
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID         string
	Name       string
	Content    string
	IsError    bool
	ThoughtSig []byte
}

// EventType describes streaming events.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	// EventReasoningDelta is raw reasoning text as the backend produced it.
	EventReasoningDelta EventType = "reasoning_delta"
	// EventReasoning is one complete reasoning block.
	EventReasoning EventType = "reasoning"
	EventToolCall  EventType = "tool_call"
	// EventTurnFinished closes one Deciding phase of the engine loop.
	EventTurnFinished  EventType = "turn_finished"
	EventToolExecStart EventType = "tool_exec_start"
	EventToolExecEnd   EventType = "tool_exec_end"
	EventUsage         EventType = "usage"
	EventDone          EventType = "done"
	EventError         EventType = "error"
	EventRetry         EventType = "retry"
)

// Stop reasons carried by EventDone from the engine.
const (
	StopReasonComplete      = "stop"
	StopReasonMaxIterations = "max_iterations"
)

// Event represents a streamed output update.
type Event struct {
	Type EventType
	Text string
	Tool *ToolCall

	// EventTurnFinished: the calls requested in this turn, in emission order.
	Calls     []ToolCall
	Iteration int

	// EventToolExecStart/End
	ToolCallID  string
	ToolName    string
	ToolArgs    json.RawMessage
	ToolSuccess bool
	ToolOutput  string

	// EventDone
	StopReason string

	Use *Usage
	Err error

	// EventRetry
	RetryAttempt     int
	RetryMaxAttempts int
	RetryWaitSecs    float64
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ErrNoCredentials is returned by provider constructors missing an API key.
var ErrNoCredentials = errors.New("missing credentials")

// SystemText builds a system message.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: text}}}
}

// UserText builds a user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Type: PartText, Text: text}}}
}

// AssistantText builds an assistant message with text only.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{{Type: PartText, Text: text}}}
}

// ToolResultMessage builds a tool result message.
func ToolResultMessage(id, name, content string, thoughtSig []byte) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type:       PartToolResult,
			ToolResult: &ToolResult{ID: id, Name: name, Content: content, ThoughtSig: thoughtSig},
		}},
	}
}

// ToolErrorMessage builds a tool result message flagged as an error.
func ToolErrorMessage(id, name, content string, thoughtSig []byte) Message {
	msg := ToolResultMessage(id, name, content, thoughtSig)
	msg.Parts[0].ToolResult.IsError = true
	return msg
}

// messageText concatenates the text parts of a message.
func messageText(msg Message) string {
	var text string
	for _, p := range msg.Parts {
		if p.Type == PartText {
			text += p.Text
		}
	}
	return text
}
