package graph

import (
	"context"
	"time"

	"github.com/dshills/agentgraph-go/graph/emit"
	"github.com/google/uuid"
)

// GraphRunner is the scheduler described in spec.md §2 and §4.3: it
// validates the graph, drives nodes along edges, applies middleware,
// consults the idempotency store, publishes lifecycle events, suspends at
// HITL boundaries, checkpoints suspended state, and resumes on response.
type GraphRunner struct {
	opts  RunnerOptions
	sm    *ExecutionStateMachine
	replay *replayHarness
}

// NewGraphRunner builds a GraphRunner with the given options applied over
// the package defaults.
func NewGraphRunner(opts ...Option) *GraphRunner {
	o := defaultRunnerOptions()
	for _, apply := range opts {
		apply(&o)
	}
	return &GraphRunner{
		opts:   o,
		sm:     NewExecutionStateMachine(),
		replay: newReplayHarness(),
	}
}

// Execute runs message through graph's node loop starting at its entry
// point, following spec.md §4.3 steps 1-8.
func (r *GraphRunner) Execute(ctx context.Context, g *Graph, m Message) (Message, error) {
	// Step 1: validate graph.
	if err := g.Validate(); err != nil {
		return Message{}, err
	}

	// Step 2: guard the input message.
	if err := r.guardValidate(m); err != nil {
		return Message{}, err
	}

	// Step 4: reject terminal inputs.
	if m.State.IsTerminal() {
		return Message{}, &GraphError{
			Code:    CodeExecutionError,
			Message: "cannot execute a message already in a terminal state",
			Context: map[string]interface{}{"graphId": g.ID, "state": string(m.State)},
		}
	}

	if r.opts.RunWallClockBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RunWallClockBudget)
		defer cancel()
	}

	// Step 5: transition READY -> RUNNING, bind ids.
	cur := m.Clone()
	cur.GraphID = g.ID
	if cur.RunID == "" {
		cur.RunID = uuid.NewString()
	}
	if cur.State == StateReady {
		next, err := r.sm.TransitionTo(cur, StateRunning, "Run started", g.EntryPoint)
		if err != nil {
			return Message{}, err
		}
		cur = next
	}
	cur.NodeID = g.EntryPoint

	// Step 6: publish graph.{id}.started (best-effort).
	r.publish(ctx, g, g.ID+".started", "graph."+g.ID+".started", cur, nil)

	return r.loop(ctx, g, cur.NodeID, cur, 0)
}

// Resume implements the fixed five-step resume protocol of spec.md §4.10.
func (r *GraphRunner) Resume(ctx context.Context, g *Graph, m Message, resp HumanResponse) (Message, error) {
	if err := g.Validate(); err != nil {
		return Message{}, err
	}
	// Step 1: guard-validate, reject non-WAITING.
	if err := r.guardValidate(m); err != nil {
		return Message{}, err
	}
	if m.State != StateWaiting {
		return Message{}, ErrNotWaiting
	}

	waitingNodeID := m.NodeID

	// Step 2: WAITING -> RUNNING.
	cur, err := r.sm.TransitionTo(m, StateRunning, "Resuming after human input", waitingNodeID)
	if err != nil {
		return Message{}, err
	}

	// Step 3: merge HumanResponse.Metadata into context, additive.
	cur = cur.WithContext(resp.Metadata)

	// Step 4: resolve next node via edge resolver using the WAITING node.
	edge, ok := resolveEdge(g.Edges, waitingNodeID, cur)
	if !ok {
		final, err := r.sm.TransitionTo(cur, StateCompleted, "No outgoing edge after resume", waitingNodeID)
		if err != nil {
			return Message{}, err
		}
		r.publish(ctx, g, g.ID+".completed", "graph."+g.ID+".completed", final, nil)
		return final, nil
	}
	cur.NodeID = edge.To

	// Step 5: resume the node loop at step 7.c of §4.3.
	return r.loop(ctx, g, cur.NodeID, cur, 0)
}

// loop implements step 7 of spec.md §4.3: the per-node iteration starting
// at currentNodeID with currentMessage already routed there.
func (r *GraphRunner) loop(ctx context.Context, g *Graph, currentNodeID string, currentMessage Message, step int) (Message, error) {
	chain := NewMiddlewareChain(g.Middleware...)

	for {
		if r.opts.MaxSteps > 0 && step >= r.opts.MaxSteps {
			return Message{}, ErrMaxStepsExceeded
		}
		step++

		select {
		case <-ctx.Done():
			failed, _ := r.sm.TransitionTo(currentMessage, StateFailed, "context cancelled", currentNodeID)
			return failed, ctx.Err()
		default:
		}

		// 7.a: look up node.
		n, ok := g.Nodes[currentNodeID]
		if !ok {
			return Message{}, &GraphError{
				Code:    CodeExecutionError,
				Message: "node not found: " + currentNodeID,
				Context: map[string]interface{}{"graphId": g.ID},
			}
		}

		policy := nodePolicyFor(n)

		// 7.b: idempotency lookup.
		key := IdempotencyKey{
			RunID:           currentMessage.RunID,
			NodeID:          currentNodeID,
			IntentSignature: intentSignature(currentMessage, policy.intentSignatureFunc()),
		}

		var outputMessage Message
		var cacheHit bool
		if g.IdempotencyStore != nil {
			if cached, hit, err := g.IdempotencyStore.Lookup(ctx, key); err == nil && hit {
				outputMessage = cached
				cacheHit = true
				if r.opts.Metrics != nil {
					r.opts.Metrics.IncrementIdempotencyHits(currentMessage.RunID, currentNodeID)
				}
			}
			// A lookup error degrades to "no cache" per spec.md open question
			// (iii): the runner re-executes rather than failing the run.
		}

		if cacheHit {
			// Cache hit: run after-node middleware only, skip the node.
			afterOut, err := chain.AfterNode(ctx, outputMessage)
			if err != nil {
				return r.handleError(ctx, g, chain, n, currentMessage, err, step)
			}
			outputMessage = afterOut
		} else {
			r.publish(ctx, g, "node.started", "node."+g.ID+"."+currentNodeID+".started", currentMessage, nil)

			// 7.d: before-node middleware.
			beforeOut, err := chain.BeforeNode(ctx, currentMessage)
			if err != nil {
				return r.handleError(ctx, g, chain, n, currentMessage, err, step)
			}

			// 7.e: invoke the node.
			start := time.Now()
			result, runErr := runNodeWithTimeout(ctx, n, currentNodeID, beforeOut, policy, r.opts.DefaultNodeTimeout)
			status := "success"
			if runErr != nil {
				status = "error"
			}
			if r.opts.Metrics != nil {
				r.opts.Metrics.RecordStepLatency(currentMessage.RunID, currentNodeID, time.Since(start), status)
			}
			if runErr != nil {
				return r.handleError(ctx, g, chain, n, beforeOut, runErr, step)
			}

			// A node signals suspension by returning State WAITING directly
			// on the Message it builds (graph/node.HumanNode, e.g.), without
			// going through the state machine itself. Record that as a real
			// RUNNING->WAITING transition here so StateHistory stays
			// consistent with State before guardValidate's ValidateHistory
			// check below (mirrors every other transition in this loop,
			// which all go through sm.TransitionTo).
			if result.State == StateWaiting {
				pending := result.Clone()
				pending.State = beforeOut.State
				transitioned, err := r.sm.TransitionTo(pending, StateWaiting, "Node suspended for human input", currentNodeID)
				if err != nil {
					return r.handleError(ctx, g, chain, n, beforeOut, err, step)
				}
				result = transitioned
			}

			// 7.f: after-node middleware, guard-validate, store, publish.
			afterOut, err := chain.AfterNode(ctx, result)
			if err != nil {
				return r.handleError(ctx, g, chain, n, beforeOut, err, step)
			}
			if err := r.guardValidate(afterOut); err != nil {
				return r.handleError(ctx, g, chain, n, beforeOut, err, step)
			}

			if g.IdempotencyStore != nil {
				ttl := r.opts.DefaultIdempotencyTTL
				_ = g.IdempotencyStore.Store(ctx, key, afterOut, ttl)
			}

			for _, tc := range afterOut.ToolCalls {
				r.publish(ctx, g, "tool.emitted", "tool."+tc.Name+".emitted", afterOut, map[string]Value{
					"toolCallId": StringValue(tc.ID),
					"toolName":   StringValue(tc.Name),
				})
			}
			r.publish(ctx, g, "node.completed", "node."+g.ID+"."+currentNodeID+".completed", afterOut, nil)

			outputMessage = afterOut
		}

		// 7.g: WAITING suspends the run.
		if outputMessage.State == StateWaiting {
			r.publish(ctx, g, "hitl.requested", "hitl."+g.ID+"."+currentNodeID+".requested", outputMessage, nil)
			if g.CheckpointStore != nil {
				cp, err := r.buildCheckpoint(g, currentNodeID, outputMessage)
				if err != nil {
					return Message{}, &GraphError{Code: CodeExecutionError, Message: "failed to build checkpoint", Cause: err}
				}
				if err := g.CheckpointStore.Save(ctx, cp); err != nil {
					// Checkpoint failures fail the run: losing the suspend
					// point is unrecoverable (spec.md §7).
					return Message{}, &GraphError{Code: CodeExecutionError, Message: "checkpoint save failed", Cause: err}
				}
			}
			return outputMessage, nil
		}

		// 7.h: terminal state ends the run.
		if outputMessage.State.IsTerminal() {
			r.publishTerminal(ctx, g, outputMessage)
			return outputMessage, nil
		}

		// 7.i: edge resolution.
		edge, ok := resolveEdge(g.Edges, currentNodeID, outputMessage)
		if !ok {
			// Step 8: natural end of graph.
			final, err := r.sm.TransitionTo(outputMessage, StateCompleted, "No matching edge", currentNodeID)
			if err != nil {
				return Message{}, err
			}
			r.publishTerminal(ctx, g, final)
			return final, nil
		}

		advanced, err := r.sm.TransitionTo(outputMessage, StateRunning, "Advancing to "+edge.To, edge.To)
		if err != nil {
			return Message{}, err
		}
		advanced.NodeID = edge.To
		currentNodeID = edge.To
		currentMessage = advanced
	}
}

// handleError implements step 7.j of spec.md §4.3: run the error
// middleware chain and interpret its ErrorAction.
func (r *GraphRunner) handleError(ctx context.Context, g *Graph, chain MiddlewareChain, n Node, inputMessage Message, cause error, step int) (Message, error) {
	action := chain.OnError(ctx, cause, inputMessage)
	if r.opts.Logger != nil {
		r.opts.Logger.Emit(emit.Event{
			RunID:  inputMessage.RunID,
			NodeID: n.ID(),
			Msg:    "node_error",
			Meta:   map[string]interface{}{"error": cause.Error(), "action": string(action.Kind)},
		})
	}

	switch action.Kind {
	case ActionSkip:
		edge, ok := resolveEdge(g.Edges, n.ID(), inputMessage)
		if !ok {
			final, err := r.sm.TransitionTo(inputMessage, StateCompleted, "Skipped failing node, no further edges", n.ID())
			if err != nil {
				return Message{}, err
			}
			r.publishTerminal(ctx, g, final)
			return final, nil
		}
		advanced, err := r.sm.TransitionTo(inputMessage, StateRunning, "Skipped failing node "+n.ID(), edge.To)
		if err != nil {
			return Message{}, err
		}
		advanced.NodeID = edge.To
		return r.loop(ctx, g, edge.To, advanced, step)

	case ActionRetry:
		if r.opts.Metrics != nil {
			r.opts.Metrics.IncrementRetries(inputMessage.RunID, n.ID(), "error")
		}
		return r.loop(ctx, g, n.ID(), inputMessage, step)

	case ActionFallback:
		return r.loop(ctx, g, n.ID(), action.Replacement, step)

	default: // ActionPropagate
		withReport := attachErrorReport(inputMessage, cause)
		failed, smErr := r.sm.TransitionTo(withReport, StateFailed, "Node failed: "+cause.Error(), n.ID())
		if smErr != nil {
			return Message{}, smErr
		}
		r.publishTerminal(ctx, g, failed)
		return failed, cause
	}
}

// attachErrorReport appends an ErrorReport tool call summarizing the
// failure (spec.md §7: "a FAILED message carries ... an appended
// ErrorReport tool call").
func attachErrorReport(m Message, cause error) Message {
	code := CodeUnknownError
	recoverable := false
	if ge, ok := cause.(*GraphError); ok {
		code = ge.Code
		recoverable = ge.Retryable()
	}
	out := m.Clone()
	out.ToolCalls = append(out.ToolCalls, ToolCall{
		ID:   "error_report_" + m.RunID + "_" + m.NodeID,
		Name: "ErrorReport",
		Input: ValueMap{
			"code":        StringValue(string(code)),
			"reason":      StringValue(cause.Error()),
			"recoverable": BoolValue(recoverable),
			"nodeId":      StringValue(m.NodeID),
		},
	})
	return out
}

// guardValidate runs the validation pipeline spec.md §4.3 step 2 requires:
// schema check (here, structural invariants on Message) plus stateHistory
// consistency.
func (r *GraphRunner) guardValidate(m Message) error {
	if m.ID == "" {
		return &GraphError{Code: CodeValidationError, Message: "message id is required"}
	}
	if m.RunID != "" {
		if err := r.sm.ValidateHistory(m); err != nil {
			return err
		}
	}
	return nil
}

func (r *GraphRunner) buildCheckpoint(g *Graph, nodeID string, m Message) (Checkpoint, error) {
	id, err := computeCheckpointID(m.RunID, nodeID, m)
	if err != nil {
		return Checkpoint{}, err
	}
	var hitl *HITLRequest
	if req, ok := m.Data["hitlRequest"]; ok {
		if mm, ok := req.Map(); ok {
			hitl = hitlRequestFromValueMap(mm)
		}
	}
	return Checkpoint{
		ID:             id,
		RunID:          m.RunID,
		GraphID:        g.ID,
		CurrentNodeID:  nodeID,
		Message:        m,
		ExecutionState: m.State,
		PendingHITL:    hitl,
		Timestamp:      time.Now().UTC(),
	}, nil
}

func hitlRequestFromValueMap(m ValueMap) *HITLRequest {
	req := &HITLRequest{}
	if v, ok := m["prompt"]; ok {
		req.Prompt, _ = v.String()
	}
	if v, ok := m["toolCallId"]; ok {
		req.ToolCallID, _ = v.String()
	}
	if v, ok := m["invocationIndex"]; ok {
		if n, ok := v.Number(); ok {
			req.InvocationIndex = int(n)
		}
	}
	if v, ok := m["options"]; ok {
		if list, ok := v.List(); ok {
			for _, item := range list {
				if s, ok := item.String(); ok {
					req.Options = append(req.Options, s)
				}
			}
		}
	}
	return req
}

func (r *GraphRunner) publish(ctx context.Context, g *Graph, eventType, channel string, m Message, extra map[string]Value) {
	r.logDiagnostic(eventType, m, extra)

	if g.EventBus == nil {
		return
	}
	payload := ValueMap{
		"messageId": StringValue(m.ID),
		"runId":     StringValue(m.RunID),
		"nodeId":    StringValue(m.NodeID),
		"state":     StringValue(string(m.State)),
	}
	for k, v := range extra {
		payload[k] = v
	}
	env := EventEnvelope{
		ID:            uuid.NewString(),
		ChannelName:   channel,
		EventType:     eventType,
		Payload:       payload,
		CorrelationID: correlationID(m),
		SchemaVersion: "1",
		PublishedAt:   time.Now().UTC(),
	}
	_ = g.EventBus.Publish(ctx, env)
}

// logDiagnostic forwards a lifecycle event to the runner's diagnostic
// Logger, independent of whether the graph has an EventBus configured.
// This is the ambient logging path (SPEC_FULL.md); it never blocks or
// fails the run.
func (r *GraphRunner) logDiagnostic(msg string, m Message, extra map[string]Value) {
	if r.opts.Logger == nil {
		return
	}
	meta := map[string]interface{}{
		"nodeId": m.NodeID,
		"state":  string(m.State),
	}
	for k, v := range extra {
		meta[k] = v.Any()
	}
	r.opts.Logger.Emit(emit.Event{
		RunID:  m.RunID,
		NodeID: m.NodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func (r *GraphRunner) publishTerminal(ctx context.Context, g *Graph, m Message) {
	switch m.State {
	case StateCompleted:
		r.publish(ctx, g, "graph.completed", "graph."+g.ID+".completed", m, nil)
	case StateFailed:
		r.publish(ctx, g, "graph.failed", "graph."+g.ID+".failed", m, nil)
	}
}

func correlationID(m Message) string {
	if v, ok := m.Context["correlationId"]; ok {
		if s, ok := v.String(); ok && s != "" {
			return s
		}
	}
	return m.RunID
}

// nodePolicyFor extracts a NodePolicy from n if it implements
// Policied, otherwise returns an empty policy.
func nodePolicyFor(n Node) *NodePolicy {
	if p, ok := n.(Policied); ok {
		pol := p.Policy()
		return &pol
	}
	return nil
}

// Policied is implemented by Nodes that carry a NodePolicy distinct from
// the runner's defaults.
type Policied interface {
	Policy() NodePolicy
}

func (p *NodePolicy) intentSignatureFunc() func(Message) string {
	if p == nil {
		return nil
	}
	return p.IntentSignatureFunc
}
