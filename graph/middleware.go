package graph

import "context"

// Middleware wraps every node invocation in the execution loop. Chains are
// applied in declaration order for BeforeNode/OnError and in the same order
// for AfterNode (spec.md does not mandate reversal, unlike typical HTTP
// middleware stacks — the teacher's engine does not reverse either).
type Middleware interface {
	// BeforeNode runs before Node.Run. Returning an error short-circuits
	// the run with that error (spec.md §4.3 step 7.d).
	BeforeNode(ctx context.Context, m Message) (Message, error)
	// AfterNode runs after a successful Node.Run, before guard-validation
	// and idempotency storage.
	AfterNode(ctx context.Context, m Message) (Message, error)
	// OnError is consulted when Node.Run (or a before/after hook) fails.
	// It decides the ErrorAction the runner takes next.
	OnError(ctx context.Context, err error, m Message) ErrorAction
}

// ErrorActionKind tags the disposition an OnError hook chooses for a
// failed node execution.
type ErrorActionKind string

// The four dispositions spec.md §4.3 step 7.j allows.
const (
	ActionPropagate ErrorActionKind = "propagate"
	ActionSkip      ErrorActionKind = "skip"
	ActionRetry     ErrorActionKind = "retry"
	ActionFallback  ErrorActionKind = "fallback"
)

// ErrorAction is the tagged union an error middleware chain returns.
// Replacement is only meaningful when Kind == ActionFallback.
type ErrorAction struct {
	Kind        ErrorActionKind
	Replacement Message
}

// Propagate fails the run with the originating error.
func Propagate() ErrorAction { return ErrorAction{Kind: ActionPropagate} }

// Skip advances routing using the unmodified input message, bypassing the
// failed node.
func Skip() ErrorAction { return ErrorAction{Kind: ActionSkip} }

// Retry re-invokes the same node with the same input message.
func Retry() ErrorAction { return ErrorAction{Kind: ActionRetry} }

// Fallback substitutes replacement and advances via edge routing.
func Fallback(replacement Message) ErrorAction {
	return ErrorAction{Kind: ActionFallback, Replacement: replacement}
}

// MiddlewareChain runs an ordered list of Middleware as a single Middleware,
// mirroring how the teacher threads its before/after hooks through Engine.Run.
type MiddlewareChain struct {
	chain []Middleware
}

// NewMiddlewareChain builds a MiddlewareChain from ms in declaration order.
func NewMiddlewareChain(ms ...Middleware) MiddlewareChain {
	return MiddlewareChain{chain: ms}
}

// BeforeNode runs every middleware's BeforeNode in order, threading the
// (possibly modified) Message through each, and stops at the first error.
func (c MiddlewareChain) BeforeNode(ctx context.Context, m Message) (Message, error) {
	cur := m
	for _, mw := range c.chain {
		next, err := mw.BeforeNode(ctx, cur)
		if err != nil {
			return cur, err
		}
		cur = next
	}
	return cur, nil
}

// AfterNode runs every middleware's AfterNode in order.
func (c MiddlewareChain) AfterNode(ctx context.Context, m Message) (Message, error) {
	cur := m
	for _, mw := range c.chain {
		next, err := mw.AfterNode(ctx, cur)
		if err != nil {
			return cur, err
		}
		cur = next
	}
	return cur, nil
}

// OnError consults each middleware in order and returns the first action
// that is not ActionPropagate; if every middleware propagates (or the
// chain is empty), the error propagates.
func (c MiddlewareChain) OnError(ctx context.Context, err error, m Message) ErrorAction {
	for _, mw := range c.chain {
		action := mw.OnError(ctx, err, m)
		if action.Kind != ActionPropagate {
			return action
		}
	}
	return Propagate()
}
