package mcp

import (
	"context"
	"encoding/json"

	"github.com/openshift/sippy-chat/internal/llm"
)

// Tool exposes one MCP server tool to the engine.
type Tool struct {
	manager  *Manager
	toolSpec ToolSpec
}

func NewTool(manager *Manager, spec ToolSpec) *Tool {
	return &Tool{
		manager:  manager,
		toolSpec: spec,
	}
}

func (t *Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.toolSpec.Name,
		Description: t.toolSpec.Description,
		Schema:      t.toolSpec.Schema,
	}
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.manager.CallTool(ctx, t.toolSpec.Name, args)
}

func (t *Tool) Preview(json.RawMessage) string {
	return ""
}

// Tools wraps every tool of every running server.
func (m *Manager) Tools() []llm.Tool {
	specs := m.AllTools()
	out := make([]llm.Tool, 0, len(specs))
	for _, spec := range specs {
		out = append(out, NewTool(m, spec))
	}
	return out
}
