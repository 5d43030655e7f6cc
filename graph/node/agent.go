package node

import (
	"context"
	"fmt"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/model"
)

// estimateTokens gives a rough token count for cost tracking when a
// ChatModel doesn't report usage (graph/model.ChatOut carries no token
// counts). ~4 characters per token is the common English-text rule of
// thumb; it is an estimate, not a billed figure.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// AgentNode wraps a model.ChatModel, turning an incoming Message into a
// chat completion request and the response back into an outgoing Message
// (spec.md §4.2, node kind KindAgent).
type AgentNode struct {
	IDValue string

	Model        model.ChatModel
	SystemPrompt string
	Tools        []model.ToolSpec

	// ModelName identifies the model for cost attribution; required only
	// if CostTracker is set.
	ModelName   string
	CostTracker *graph.CostTracker
}

// ID implements graph.Node.
func (a *AgentNode) ID() string { return a.IDValue }

// Kind implements graph.Node.
func (a *AgentNode) Kind() graph.NodeKind { return graph.KindAgent }

// Run implements graph.Node.
func (a *AgentNode) Run(ctx context.Context, m graph.Message) (graph.Message, error) {
	messages := make([]model.Message, 0, 2)
	if a.SystemPrompt != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: a.SystemPrompt})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: m.Content})

	out, err := a.Model.Chat(ctx, messages, a.Tools)
	if err != nil {
		return graph.Message{}, &graph.NodeError{
			NodeID:  a.IDValue,
			Code:    graph.CodeExecutionError,
			Message: "chat completion failed",
			Cause:   err,
		}
	}

	if a.CostTracker != nil && a.ModelName != "" {
		inTokens := estimateTokens(a.SystemPrompt) + estimateTokens(m.Content)
		outTokens := estimateTokens(out.Text)
		_ = a.CostTracker.RecordLLMCall(a.ModelName, inTokens, outTokens, a.IDValue)
	}

	result := m.Clone()
	result.NodeID = a.IDValue
	result.Role = graph.RoleAssistant
	result.Content = out.Text
	result.State = graph.StateRunning

	if len(out.ToolCalls) == 0 {
		result.Type = graph.TypeText
		return result, nil
	}

	result.Type = graph.TypeToolCall
	result.ToolCalls = make([]graph.ToolCall, len(out.ToolCalls))
	for i, tc := range out.ToolCalls {
		input := graph.ValueOf(tc.Input)
		inputMap, _ := input.Map()
		result.ToolCalls[i] = graph.ToolCall{
			ID:    fmt.Sprintf("%s-tool-%d", m.ID, i),
			Name:  tc.Name,
			Input: inputMap,
			Index: i,
		}
	}
	return result, nil
}
