package node

import (
	"context"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/tool"
)

// ToolNode invokes a tool.Tool against the first ToolCall on the incoming
// Message whose Name matches the wrapped tool (spec.md §4.2, node kind
// KindTool). A Message with no matching ToolCall is a validation error: a
// ToolNode placed by a routing mistake should fail loudly, not silently
// pass the input through.
type ToolNode struct {
	IDValue string
	Tool    tool.Tool
}

// ID implements graph.Node.
func (t *ToolNode) ID() string { return t.IDValue }

// Kind implements graph.Node.
func (t *ToolNode) Kind() graph.NodeKind { return graph.KindTool }

// Run implements graph.Node.
func (t *ToolNode) Run(ctx context.Context, m graph.Message) (graph.Message, error) {
	call, ok := t.findCall(m)
	if !ok {
		return graph.Message{}, &graph.NodeError{
			NodeID:  t.IDValue,
			Code:    graph.CodeValidationError,
			Message: "no tool call for " + t.Tool.Name() + " on incoming message",
		}
	}

	input := make(map[string]interface{}, len(call.Input))
	for k, v := range call.Input {
		input[k] = v.Any()
	}

	output, err := t.Tool.Call(ctx, input)
	if err != nil {
		return graph.Message{}, &graph.NodeError{
			NodeID:  t.IDValue,
			Code:    graph.CodeToolError,
			Message: "tool call failed",
			Cause:   err,
		}
	}

	out := m.Clone()
	out.NodeID = t.IDValue
	out.Role = graph.RoleTool
	out.Type = graph.TypeToolResult
	out.State = graph.StateRunning
	out.Data = out.Data.Merge(graph.ValueMap{
		"toolCallId": graph.StringValue(call.ID),
		"toolResult": graph.ValueOf(output),
	})
	return out, nil
}

func (t *ToolNode) findCall(m graph.Message) (graph.ToolCall, bool) {
	for _, c := range m.ToolCalls {
		if c.Name == t.Tool.Name() {
			return c, true
		}
	}
	return graph.ToolCall{}, false
}
