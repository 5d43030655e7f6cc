package node

import (
	"context"

	"github.com/dshills/agentgraph-go/graph"
)

// ConditionalNode computes routing-relevant Data/Context on a Message and
// hands the branching decision itself to the Graph's edge resolver (spec.md
// §4.4): Decide should write whatever fields downstream Edge.Condition
// predicates read, not select the next node directly.
type ConditionalNode struct {
	IDValue string
	Decide  func(ctx context.Context, m graph.Message) (graph.Message, error)
}

// ID implements graph.Node.
func (c *ConditionalNode) ID() string { return c.IDValue }

// Kind implements graph.Node.
func (c *ConditionalNode) Kind() graph.NodeKind { return graph.KindConditional }

// Run implements graph.Node.
func (c *ConditionalNode) Run(ctx context.Context, m graph.Message) (graph.Message, error) {
	out, err := c.Decide(ctx, m)
	if err != nil {
		return graph.Message{}, &graph.NodeError{
			NodeID:  c.IDValue,
			Code:    graph.CodeExecutionError,
			Message: "condition evaluation failed",
			Cause:   err,
		}
	}
	out.NodeID = c.IDValue
	out.State = graph.StateRunning
	return out, nil
}
