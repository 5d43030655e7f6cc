package graph_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/store"
)

func TestIdempotencyKeyStringIsStable(t *testing.T) {
	k := graph.IdempotencyKey{RunID: "r1", NodeID: "n1", IntentSignature: "sig"}
	if k.String() != "r1|n1|sig" {
		t.Fatalf("unexpected key string: %q", k.String())
	}
}

func TestMemoryIdempotencyStoreRoundTrip(t *testing.T) {
	s := store.NewMemoryIdempotencyStore()
	key := graph.IdempotencyKey{RunID: "r1", NodeID: "n1", IntentSignature: "sig"}

	_, hit, err := s.Lookup(context.Background(), key)
	if err != nil || hit {
		t.Fatalf("expected no cache entry yet, hit=%v err=%v", hit, err)
	}

	m := graph.Message{ID: "m1", Content: "cached result"}
	if err := s.Store(context.Background(), key, m, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}

	cached, hit, err := s.Lookup(context.Background(), key)
	if err != nil || !hit {
		t.Fatalf("expected cache hit, hit=%v err=%v", hit, err)
	}
	if cached.Content != "cached result" {
		t.Fatalf("unexpected cached content: %q", cached.Content)
	}
}

func TestMemoryIdempotencyStoreExpiresByTTL(t *testing.T) {
	s := store.NewMemoryIdempotencyStore()
	key := graph.IdempotencyKey{RunID: "r1", NodeID: "n1", IntentSignature: "sig"}

	if err := s.Store(context.Background(), key, graph.Message{ID: "m1"}, time.Nanosecond); err != nil {
		t.Fatalf("Store: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	_, hit, err := s.Lookup(context.Background(), key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit {
		t.Fatal("expected expired entry to miss")
	}
}

// failingIdempotencyStore always errors on Lookup, used to assert the
// runner's documented fallback (spec.md §9 open question (iii)): a lookup
// failure degrades to live execution rather than failing the run.
type failingIdempotencyStore struct{}

func (failingIdempotencyStore) Lookup(ctx context.Context, key graph.IdempotencyKey) (graph.Message, bool, error) {
	return graph.Message{}, false, errors.New("store unavailable")
}

func (failingIdempotencyStore) Store(ctx context.Context, key graph.IdempotencyKey, m graph.Message, ttl time.Duration) error {
	return nil
}

func TestRunnerFallsThroughToLiveExecutionOnLookupError(t *testing.T) {
	var calls int
	b := graph.NewBuilder("g")
	b.AddNode(graph.NodeFunc{IDValue: "a", Fn: func(ctx context.Context, m graph.Message) (graph.Message, error) {
		calls++
		return m, nil
	}})
	b.StartAt("a")
	b.WithIdempotencyStore(failingIdempotencyStore{})
	g := b.Build()

	r := graph.NewGraphRunner()
	out, err := r.Execute(context.Background(), g, graph.Message{ID: "m1", State: graph.StateReady})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.State != graph.StateCompleted {
		t.Fatalf("expected run to complete despite idempotency store failure, got %v", out.State)
	}
	if calls != 1 {
		t.Fatalf("expected node to actually execute once on lookup failure, got %d", calls)
	}
}
