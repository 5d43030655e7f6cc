package graph

// Graph is an immutable topology executed by a GraphRunner. Once built it
// is safe for concurrent reads across many runs; nothing in this package
// mutates a Graph after NewBuilder.Build returns it.
type Graph struct {
	ID          string
	EntryPoint  string
	Nodes       map[string]Node
	Edges       []Edge
	AllowCycles bool
	Middleware  []Middleware

	EventBus         EventBus
	ToolCallEventBus EventBus
	IdempotencyStore IdempotencyStore
	CheckpointStore  CheckpointStore
}

// Builder constructs a Graph programmatically, mirroring the teacher's
// Engine.Add/Connect/StartAt builder surface. Construction in spec.md's
// scope is always explicit code, never a DSL or config file.
type Builder struct {
	id          string
	entryPoint  string
	nodes       map[string]Node
	edges       []Edge
	allowCycles bool
	middleware  []Middleware

	eventBus         EventBus
	toolCallEventBus EventBus
	idempotencyStore IdempotencyStore
	checkpointStore  CheckpointStore
}

// NewBuilder starts a Graph builder identified by id.
func NewBuilder(id string) *Builder {
	return &Builder{id: id, nodes: make(map[string]Node)}
}

// AddNode registers n under its own ID. Panics on a duplicate ID, matching
// the teacher's Engine.Add fail-fast-at-construction-time discipline.
func (b *Builder) AddNode(n Node) *Builder {
	if _, exists := b.nodes[n.ID()]; exists {
		panic("graph: duplicate node id " + n.ID())
	}
	b.nodes[n.ID()] = n
	return b
}

// StartAt sets the entry point node ID.
func (b *Builder) StartAt(nodeID string) *Builder {
	b.entryPoint = nodeID
	return b
}

// Connect adds an edge. Priority defaults to insertion order when equal
// priorities tie (see edge.go's resolveEdge).
func (b *Builder) Connect(from, to string, condition Predicate, priority int) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to, Condition: condition, Priority: priority})
	return b
}

// ConnectFallback adds a fallback edge: taken unconditionally when no
// non-fallback edge matches.
func (b *Builder) ConnectFallback(from, to string, priority int) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to, IsFallback: true, Priority: priority})
	return b
}

// AllowCycles permits back-edges in the topology; validation skips the DFS
// cycle check when this is set.
func (b *Builder) AllowCycles(allow bool) *Builder {
	b.allowCycles = allow
	return b
}

// Use appends middleware to the chain applied around every node invocation.
func (b *Builder) Use(mw ...Middleware) *Builder {
	b.middleware = append(b.middleware, mw...)
	return b
}

// WithEventBus binds the bus used for lifecycle and HITL events.
func (b *Builder) WithEventBus(bus EventBus) *Builder {
	b.eventBus = bus
	return b
}

// WithToolCallEventBus binds the bus used for per-tool-call events. If
// unset, WithEventBus's bus is reused.
func (b *Builder) WithToolCallEventBus(bus EventBus) *Builder {
	b.toolCallEventBus = bus
	return b
}

// WithIdempotencyStore binds the store consulted before each node runs.
func (b *Builder) WithIdempotencyStore(store IdempotencyStore) *Builder {
	b.idempotencyStore = store
	return b
}

// WithCheckpointStore binds the store used to persist WAITING suspensions.
func (b *Builder) WithCheckpointStore(store CheckpointStore) *Builder {
	b.checkpointStore = store
	return b
}

// Build finalizes the Graph. It does not itself validate topology —
// Validate (or the first Execute) does that, so a Builder can be shared to
// construct deliberately invalid graphs in tests.
func (b *Builder) Build() *Graph {
	toolBus := b.toolCallEventBus
	if toolBus == nil {
		toolBus = b.eventBus
	}
	nodes := make(map[string]Node, len(b.nodes))
	for k, v := range b.nodes {
		nodes[k] = v
	}
	edges := make([]Edge, len(b.edges))
	copy(edges, b.edges)

	return &Graph{
		ID:               b.id,
		EntryPoint:       b.entryPoint,
		Nodes:            nodes,
		Edges:            edges,
		AllowCycles:      b.allowCycles,
		Middleware:       append([]Middleware(nil), b.middleware...),
		EventBus:         b.eventBus,
		ToolCallEventBus: toolBus,
		IdempotencyStore: b.idempotencyStore,
		CheckpointStore:  b.checkpointStore,
	}
}

// Validate checks the three invariants from spec.md §4.6. Violations
// return a *GraphError with Code VALIDATION_ERROR before any node runs.
func (g *Graph) Validate() error {
	if _, ok := g.Nodes[g.EntryPoint]; !ok {
		return &GraphError{
			Code:    CodeValidationError,
			Message: "entry point node not found: " + g.EntryPoint,
			Context: map[string]interface{}{"graphId": g.ID, "entryPoint": g.EntryPoint},
		}
	}

	for _, e := range g.Edges {
		if e.From != wildcardFrom {
			if _, ok := g.Nodes[e.From]; !ok {
				return &GraphError{
					Code:    CodeValidationError,
					Message: "edge references unknown from-node: " + e.From,
					Context: map[string]interface{}{"graphId": g.ID},
				}
			}
		}
		if _, ok := g.Nodes[e.To]; !ok {
			return &GraphError{
				Code:    CodeValidationError,
				Message: "edge references unknown to-node: " + e.To,
				Context: map[string]interface{}{"graphId": g.ID},
			}
		}
	}

	if !g.AllowCycles {
		if back, found := g.findBackEdge(); found {
			return &GraphError{
				Code:    CodeValidationError,
				Message: "cycle detected through node: " + back,
				Context: map[string]interface{}{"graphId": g.ID},
			}
		}
	}

	return nil
}

// findBackEdge runs a DFS from EntryPoint looking for a node present in the
// current recursion stack, the textbook cycle-detection signal.
func (g *Graph) findBackEdge() (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))

	adjacency := func(nodeID string) []string {
		var out []string
		for _, e := range g.Edges {
			if e.From == nodeID || e.From == wildcardFrom {
				out = append(out, e.To)
			}
		}
		return out
	}

	var visit func(nodeID string) (string, bool)
	visit = func(nodeID string) (string, bool) {
		color[nodeID] = gray
		for _, next := range adjacency(nodeID) {
			switch color[next] {
			case gray:
				return next, true
			case white:
				if back, found := visit(next); found {
					return back, true
				}
			}
		}
		color[nodeID] = black
		return "", false
	}

	return visit(g.EntryPoint)
}
