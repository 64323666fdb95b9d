package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/openshift/sippy-chat/internal/llm"
)

// MockTool is a configurable tool for testing. It is safe for concurrent
// use, as the engine runs the calls of one turn in parallel.
type MockTool struct {
	SpecData  llm.ToolSpec
	ExecuteFn func(ctx context.Context, args json.RawMessage) (string, error)
	PreviewFn func(args json.RawMessage) string

	mu          sync.Mutex
	invocations []MockToolInvocation
}

// MockToolInvocation records a single tool invocation.
type MockToolInvocation struct {
	Args   json.RawMessage
	Result string
	Error  error
}

// Spec implements llm.Tool.
func (m *MockTool) Spec() llm.ToolSpec {
	return m.SpecData
}

// Execute implements llm.Tool.
func (m *MockTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var result string
	var err error
	if m.ExecuteFn != nil {
		result, err = m.ExecuteFn(ctx, args)
	}
	m.mu.Lock()
	m.invocations = append(m.invocations, MockToolInvocation{Args: args, Result: result, Error: err})
	m.mu.Unlock()
	return result, err
}

// Preview implements llm.Tool.
func (m *MockTool) Preview(args json.RawMessage) string {
	if m.PreviewFn == nil {
		return ""
	}
	return m.PreviewFn(args)
}

// NewMockTool creates a mock tool with the given name that returns a fixed result.
func NewMockTool(name string, result string) *MockTool {
	return NewMockToolFunc(name, func(ctx context.Context, args json.RawMessage) (string, error) {
		return result, nil
	})
}

// NewMockToolFunc creates a mock tool backed by fn.
func NewMockToolFunc(name string, fn func(ctx context.Context, args json.RawMessage) (string, error)) *MockTool {
	return &MockTool{
		SpecData: llm.ToolSpec{
			Name:        name,
			Description: "Mock tool: " + name,
			Schema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		ExecuteFn: fn,
	}
}

// Invocations returns a copy of the recorded invocations.
func (m *MockTool) Invocations() []MockToolInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockToolInvocation(nil), m.invocations...)
}

// InvocationCount returns the number of times the tool was invoked.
func (m *MockTool) InvocationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invocations)
}

// LastArgs returns the arguments from the last invocation, or nil if never invoked.
func (m *MockTool) LastArgs() json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.invocations) == 0 {
		return nil
	}
	return m.invocations[len(m.invocations)-1].Args
}
