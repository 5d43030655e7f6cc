package node

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/agentgraph-go/graph"
)

// HumanNode suspends the run on WAITING and attaches a HITLRequest to the
// outgoing Message's Data (spec.md §4.10). It never returns an error for a
// normal suspension — recoverable failures are reserved for genuine node
// faults, not the expected pause-for-input path.
type HumanNode struct {
	IDValue string

	// Prompt is shown to the human verbatim. PromptFunc, if set, overrides
	// Prompt and can derive the text from the incoming Message.
	Prompt     string
	PromptFunc func(m graph.Message) string

	Options []string
	Timeout time.Duration
}

// ID implements graph.Node.
func (h *HumanNode) ID() string { return h.IDValue }

// Kind implements graph.Node.
func (h *HumanNode) Kind() graph.NodeKind { return graph.KindHuman }

// Run implements graph.Node.
func (h *HumanNode) Run(ctx context.Context, m graph.Message) (graph.Message, error) {
	idx := invocationIndex(m, h.IDValue)
	toolCallID := fmt.Sprintf("hitl_%s_%s_%d", m.RunID, h.IDValue, idx)

	prompt := h.Prompt
	if h.PromptFunc != nil {
		prompt = h.PromptFunc(m)
	}

	options := make([]graph.Value, len(h.Options))
	for i, o := range h.Options {
		options[i] = graph.StringValue(o)
	}

	out := m.Clone()
	out.NodeID = h.IDValue
	out.State = graph.StateWaiting
	out.Data = out.Data.Merge(graph.ValueMap{
		"hitlRequest": graph.MapValue(graph.ValueMap{
			"prompt":          graph.StringValue(prompt),
			"toolCallId":      graph.StringValue(toolCallID),
			"invocationIndex": graph.NumberValue(float64(idx)),
			"options":         graph.ListValue(options),
		}),
	})
	return out, nil
}

// invocationIndex counts how many times nodeID has already suspended this
// run, so repeated suspensions of the same node in a loop get distinct,
// stable tool-call IDs (spec.md §4.10).
func invocationIndex(m graph.Message, nodeID string) int {
	count := 0
	for _, t := range m.StateHistory {
		if t.NodeID == nodeID && t.To == graph.StateWaiting {
			count++
		}
	}
	return count
}
