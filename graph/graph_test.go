package graph_test

import (
	"context"
	"testing"

	"github.com/dshills/agentgraph-go/graph"
)

func TestGraphValidateRejectsMissingEntryPoint(t *testing.T) {
	b := graph.NewBuilder("g")
	b.AddNode(graph.NodeFunc{IDValue: "a", Fn: passthrough})
	b.StartAt("missing")
	g := b.Build()

	err := g.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing entry point")
	}
	var gerr *graph.GraphError
	if !asGraphError(err, &gerr) || gerr.Code != graph.CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestGraphValidateRejectsDanglingEdge(t *testing.T) {
	b := graph.NewBuilder("g")
	b.AddNode(graph.NodeFunc{IDValue: "a", Fn: passthrough})
	b.StartAt("a")
	b.Connect("a", "nowhere", nil, 1)
	g := b.Build()

	if err := g.Validate(); err == nil {
		t.Fatal("expected validation error for edge to unknown node")
	}
}

func TestGraphValidateRejectsCycleByDefault(t *testing.T) {
	b := graph.NewBuilder("g")
	b.AddNode(graph.NodeFunc{IDValue: "a", Fn: passthrough})
	b.AddNode(graph.NodeFunc{IDValue: "b", Fn: passthrough})
	b.StartAt("a")
	b.Connect("a", "b", nil, 1)
	b.Connect("b", "a", nil, 1)
	g := b.Build()

	if err := g.Validate(); err == nil {
		t.Fatal("expected cycle to be rejected when AllowCycles is false")
	}
}

func TestGraphValidateAllowsCycleWhenOptedIn(t *testing.T) {
	b := graph.NewBuilder("g")
	b.AddNode(graph.NodeFunc{IDValue: "a", Fn: passthrough})
	b.AddNode(graph.NodeFunc{IDValue: "b", Fn: passthrough})
	b.StartAt("a")
	b.Connect("a", "b", nil, 1)
	b.Connect("b", "a", nil, 1)
	b.AllowCycles(true)
	g := b.Build()

	if err := g.Validate(); err != nil {
		t.Fatalf("expected cycle to be accepted with AllowCycles(true), got %v", err)
	}
}

func TestGraphValidateFailureProducesNoSideEffects(t *testing.T) {
	b := graph.NewBuilder("g")
	b.AddNode(graph.NodeFunc{IDValue: "a", Fn: func(ctx context.Context, m graph.Message) (graph.Message, error) {
		t.Fatal("node must never run against an invalid graph")
		return m, nil
	}})
	b.StartAt("missing")

	bus := newRecordingBus()
	b.WithEventBus(bus)
	g := b.Build()

	r := graph.NewGraphRunner()
	_, err := r.Execute(context.Background(), g, graph.Message{ID: "m1", State: graph.StateReady})
	if err == nil {
		t.Fatal("expected Execute to fail on an invalid graph")
	}
	if len(bus.published) != 0 {
		t.Fatalf("expected no events published for a validation failure, got %d", len(bus.published))
	}
}

func TestGraphValidateAcceptsWildcardEdgeFromEndpoint(t *testing.T) {
	b := graph.NewBuilder("g")
	b.AddNode(graph.NodeFunc{IDValue: "a", Fn: passthrough})
	b.AddNode(graph.NodeFunc{IDValue: "b", Fn: passthrough})
	b.StartAt("a")
	b.Connect("*", "b", nil, 1)
	g := b.Build()

	if err := g.Validate(); err != nil {
		t.Fatalf("expected wildcard from-edge to validate without requiring a literal '*' node, got %v", err)
	}
}
