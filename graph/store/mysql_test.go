package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/store"
)

// MySQLStore requires a live server; these tests only run when
// AGENTGRAPH_MYSQL_DSN is set, matching how CI wires up a test instance.
func openTestMySQL(t *testing.T) *store.MySQLStore {
	t.Helper()
	dsn := os.Getenv("AGENTGRAPH_MYSQL_DSN")
	if dsn == "" {
		t.Skip("AGENTGRAPH_MYSQL_DSN not set, skipping MySQL integration test")
	}
	s, err := store.NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMySQLStoreCheckpointRoundTrip(t *testing.T) {
	s := openTestMySQL(t)
	ctx := context.Background()

	cp := graph.Checkpoint{
		RunID:          "mysql-run-1",
		GraphID:        "g-1",
		CurrentNodeID:  "waitNode",
		ExecutionState: graph.StateWaiting,
		Message:        graph.Message{ID: "msg-1", Content: "pause here"},
		Timestamp:      time.Now().UTC().Truncate(time.Second),
	}

	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load(ctx, cp.RunID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected checkpoint to be found")
	}
	if got.Message.Content != cp.Message.Content {
		t.Fatalf("message content mismatch: got %q", got.Message.Content)
	}
}

func TestMySQLStoreIdempotencyRoundTrip(t *testing.T) {
	s := openTestMySQL(t)
	ctx := context.Background()

	key := graph.IdempotencyKey{RunID: "mysql-run-1", NodeID: "node-a", IntentSignature: "sig-1"}
	msg := graph.Message{ID: "msg-1", Content: "cached output"}

	if err := s.Store(ctx, key, msg, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, ok, err := s.Lookup(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if got.Content != msg.Content {
		t.Fatalf("content mismatch: %q", got.Content)
	}
}
