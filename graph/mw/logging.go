package mw

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/emit"
)

// Logging is a graph.Middleware that emits a node_started/node_finished
// pair (and a node_error on failure) through an emit.Emitter, timing each
// node's BeforeNode-to-AfterNode span. It is the ambient per-node log trail
// a deployment layers on top of the runner's own diagnostic logging
// (RunnerOptions.Logger covers graph-level events; this covers the
// middleware chain's view of a single node invocation).
type Logging struct {
	emitter emit.Emitter

	mu     sync.Mutex
	starts map[string]time.Time
}

// NewLogging builds a Logging middleware emitting through e.
func NewLogging(e emit.Emitter) *Logging {
	return &Logging{
		emitter: e,
		starts:  make(map[string]time.Time),
	}
}

func (l *Logging) recordStart(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts[key] = time.Now()
}

func (l *Logging) elapsedSince(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	start, ok := l.starts[key]
	if !ok {
		return 0
	}
	delete(l.starts, key)
	return time.Since(start)
}

// BeforeNode records the start time keyed by (RunID, NodeID) and emits
// node_started.
func (l *Logging) BeforeNode(ctx context.Context, m graph.Message) (graph.Message, error) {
	l.recordStart(m.RunID + "|" + m.NodeID)
	l.emitter.Emit(emit.Event{RunID: m.RunID, NodeID: m.NodeID, Msg: "node_started"})
	return m, nil
}

// AfterNode emits node_finished with the elapsed duration since BeforeNode.
func (l *Logging) AfterNode(ctx context.Context, m graph.Message) (graph.Message, error) {
	elapsed := l.elapsedSince(m.RunID + "|" + m.NodeID)
	l.emitter.Emit(emit.Event{
		RunID:  m.RunID,
		NodeID: m.NodeID,
		Msg:    "node_finished",
		Meta:   map[string]interface{}{"duration_ms": elapsed.Milliseconds()},
	})
	return m, nil
}

// OnError emits node_error and always propagates: Logging never changes
// failure disposition, only observes it.
func (l *Logging) OnError(ctx context.Context, err error, m graph.Message) graph.ErrorAction {
	l.emitter.Emit(emit.Event{
		RunID:  m.RunID,
		NodeID: m.NodeID,
		Msg:    "node_error",
		Meta:   map[string]interface{}{"error": err.Error()},
	})
	return graph.Propagate()
}
