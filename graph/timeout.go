package graph

import (
	"context"
	"time"
)

// nodeTimeout determines the timeout duration for a node by precedence:
// NodePolicy.Timeout, then the runner's DefaultNodeTimeout, then no limit.
func nodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// runNodeWithTimeout wraps a Node.Run call with timeout enforcement,
// translating a deadline exceeded into a *GraphError with Code
// TIMEOUT_ERROR so the runner's retry classification (spec.md §4.3) picks
// it up as recoverable.
func runNodeWithTimeout(ctx context.Context, n Node, nodeID string, m Message, policy *NodePolicy, defaultTimeout time.Duration) (Message, error) {
	timeout := nodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return n.Run(ctx, m)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := n.Run(timeoutCtx, m)
	if err != nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return out, &GraphError{
			Code:    CodeTimeoutError,
			Message: "node " + nodeID + " exceeded timeout",
			Cause:   err,
			Context: map[string]interface{}{"nodeId": nodeID, "timeout": timeout.String()},
		}
	}
	return out, err
}
