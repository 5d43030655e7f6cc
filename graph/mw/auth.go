package mw

import (
	"context"

	"github.com/dshills/agentgraph-go/graph"
)

// ClaimsCheck is the predicate an Auth middleware consults: given the
// Message's Context, report whether the caller is authorized to run the
// node this middleware guards.
type ClaimsCheck func(context graph.ValueMap) bool

// Auth is a graph.Middleware that rejects a node invocation before it runs
// if ClaimsCheck fails against the Message's Context (where a deployment is
// expected to have placed tenantId/userId/scope claims). It is a
// passthrough in the literal sense: on success it returns the Message
// completely unmodified, adding no new Context keys.
type Auth struct {
	check ClaimsCheck
}

// NewAuth builds an Auth middleware using check to authorize each node
// invocation.
func NewAuth(check ClaimsCheck) *Auth {
	return &Auth{check: check}
}

// BeforeNode rejects the invocation with CodeAuthenticationError when check
// fails; otherwise passes m through unmodified.
func (a *Auth) BeforeNode(ctx context.Context, m graph.Message) (graph.Message, error) {
	if !a.check(m.Context) {
		return m, &graph.GraphError{
			Code:    graph.CodeAuthenticationError,
			Message: "unauthorized for node " + m.NodeID,
			Context: map[string]interface{}{"nodeId": m.NodeID, "runId": m.RunID},
		}
	}
	return m, nil
}

// AfterNode implements graph.Middleware as a no-op.
func (a *Auth) AfterNode(ctx context.Context, m graph.Message) (graph.Message, error) {
	return m, nil
}

// OnError implements graph.Middleware: authorization failures are the only
// thing this middleware originates, and those are surfaced from BeforeNode,
// not OnError, so it always propagates.
func (a *Auth) OnError(ctx context.Context, err error, m graph.Message) graph.ErrorAction {
	return graph.Propagate()
}
