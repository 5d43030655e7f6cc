package node_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/node"
)

func branchNode(id string, k float64) graph.Node {
	return graph.NodeFunc{
		IDValue: id,
		Fn: func(ctx context.Context, m graph.Message) (graph.Message, error) {
			out := m.Clone()
			out.NodeID = id
			out.State = graph.StateCompleted
			out.Context = graph.ValueMap{"k": graph.NumberValue(k)}
			return out, nil
		},
	}
}

// TestParallelNodeNamespacePolicy replicates spec.md Scenario F: branch "x"
// emits k=1, branch "y" emits k=2; Namespace policy prefixes each key by
// nodeId and branchId so both survive without collision.
func TestParallelNodeNamespacePolicy(t *testing.T) {
	p := &node.ParallelNode{
		IDValue: "fanout",
		Branches: []node.Branch{
			{ID: "x", Node: branchNode("x", 1)},
			{ID: "y", Node: branchNode("y", 2)},
		},
		Policy: node.MergePolicy{Kind: node.MergeNamespace},
	}

	out, err := p.Run(context.Background(), graph.Message{ID: "m-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	xk, ok := out.Context["parallel.fanout.x.k"]
	if !ok {
		t.Fatal("expected parallel.fanout.x.k in context")
	}
	if n, _ := xk.Number(); n != 1 {
		t.Fatalf("expected x.k=1, got %v", n)
	}
	yk, ok := out.Context["parallel.fanout.y.k"]
	if !ok {
		t.Fatal("expected parallel.fanout.y.k in context")
	}
	if n, _ := yk.Number(); n != 2 {
		t.Fatalf("expected y.k=2, got %v", n)
	}

	successCount, _ := out.Context["parallelSuccessCount"].Number()
	if successCount != 2 {
		t.Fatalf("expected parallelSuccessCount=2, got %v", successCount)
	}
}

// TestParallelNodeCustomFailStrategyFailsOnCollision replicates Scenario F's
// second half: Custom policy with defaultStrategy=Fail and a genuine key
// collision (no aggregator registered for "k") fails the node.
func TestParallelNodeCustomFailStrategyFailsOnCollision(t *testing.T) {
	p := &node.ParallelNode{
		IDValue: "fanout",
		Branches: []node.Branch{
			{ID: "x", Node: branchNode("x", 1)},
			{ID: "y", Node: branchNode("y", 2)},
		},
		Policy: node.MergePolicy{Kind: node.MergeCustom, Default: node.StrategyFail},
	}

	_, err := p.Run(context.Background(), graph.Message{ID: "m-1"})
	if err == nil {
		t.Fatal("expected error from colliding keys under fail strategy")
	}
}

func TestParallelNodeLastWriteIsBranchIDOrdered(t *testing.T) {
	p := &node.ParallelNode{
		IDValue: "fanout",
		Branches: []node.Branch{
			{ID: "b", Node: branchNode("b", 2)},
			{ID: "a", Node: branchNode("a", 1)},
		},
		Policy: node.MergePolicy{Kind: node.MergeLastWrite},
	}

	out, err := p.Run(context.Background(), graph.Message{ID: "m-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	k, _ := out.Context["k"].Number()
	if k != 2 {
		t.Fatalf("expected lexicographically-last branch (b) to win, got %v", k)
	}
}

func TestParallelNodeFirstWriteIsBranchIDOrdered(t *testing.T) {
	p := &node.ParallelNode{
		IDValue: "fanout",
		Branches: []node.Branch{
			{ID: "b", Node: branchNode("b", 2)},
			{ID: "a", Node: branchNode("a", 1)},
		},
		Policy: node.MergePolicy{Kind: node.MergeFirstWrite},
	}

	out, err := p.Run(context.Background(), graph.Message{ID: "m-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	k, _ := out.Context["k"].Number()
	if k != 1 {
		t.Fatalf("expected lexicographically-first branch (a) to win, got %v", k)
	}
}

func TestParallelNodeFailFastAbortsOnFirstError(t *testing.T) {
	failing := graph.NodeFunc{
		IDValue: "bad",
		Fn: func(ctx context.Context, m graph.Message) (graph.Message, error) {
			return graph.Message{}, errors.New("branch exploded")
		},
	}

	p := &node.ParallelNode{
		IDValue: "fanout",
		Branches: []node.Branch{
			{ID: "bad", Node: failing},
			{ID: "ok", Node: branchNode("ok", 1)},
		},
		Policy:   node.MergePolicy{Kind: node.MergeNamespace},
		FailFast: true,
	}

	_, err := p.Run(context.Background(), graph.Message{ID: "m-1"})
	if err == nil {
		t.Fatal("expected failure to propagate under fail-fast")
	}
	var nodeErr *graph.NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Code != graph.CodeExecutionError {
		t.Fatalf("expected CodeExecutionError, got %v", err)
	}
}

func TestParallelNodeNonFailFastDropsFailedBranches(t *testing.T) {
	failing := graph.NodeFunc{
		IDValue: "bad",
		Fn: func(ctx context.Context, m graph.Message) (graph.Message, error) {
			return graph.Message{}, errors.New("branch exploded")
		},
	}

	p := &node.ParallelNode{
		IDValue: "fanout",
		Branches: []node.Branch{
			{ID: "bad", Node: failing},
			{ID: "ok", Node: branchNode("ok", 1)},
		},
		Policy: node.MergePolicy{Kind: node.MergeNamespace},
	}

	out, err := p.Run(context.Background(), graph.Message{ID: "m-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := out.Data["ok"]; !ok {
		t.Fatal("expected surviving branch data under key 'ok'")
	}
	if _, ok := out.Data["bad"]; ok {
		t.Fatal("expected failed branch to be dropped from Data")
	}
	failureCount, _ := out.Context["parallelFailureCount"].Number()
	if failureCount != 1 {
		t.Fatalf("expected parallelFailureCount=1, got %v", failureCount)
	}
}

func TestParallelNodeRejectsBlankBranchID(t *testing.T) {
	p := &node.ParallelNode{
		IDValue:  "fanout",
		Branches: []node.Branch{{ID: "", Node: branchNode("x", 1)}},
	}
	_, err := p.Run(context.Background(), graph.Message{ID: "m-1"})
	var nodeErr *graph.NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Code != graph.CodeValidationError {
		t.Fatalf("expected validation error for blank branch id, got %v", err)
	}
}

func TestParallelNodeRejectsNoBranches(t *testing.T) {
	p := &node.ParallelNode{IDValue: "fanout"}
	_, err := p.Run(context.Background(), graph.Message{ID: "m-1"})
	var nodeErr *graph.NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Code != graph.CodeValidationError {
		t.Fatalf("expected validation error for zero branches, got %v", err)
	}
}
