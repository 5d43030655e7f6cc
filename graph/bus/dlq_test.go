package bus_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/bus"
)

func envelopeFor(channel string, i int) graph.EventEnvelope {
	return graph.EventEnvelope{
		ID:          fmt.Sprintf("%s-%d", channel, i),
		ChannelName: channel,
		EventType:   "node.failed",
		PublishedAt: time.Now().UTC(),
	}
}

// TestMemoryDLQPerChannelThenGlobalEviction replicates the spec's
// back-pressure scenario: maxSizePerChannel=10, maxSize=25, 20 failing
// envelopes land on channel A then 20 more on channel B. Each channel keeps
// its newest 10, and totalEvicted accounts for every eviction across both.
func TestMemoryDLQPerChannelThenGlobalEviction(t *testing.T) {
	d := bus.NewMemoryDLQ(10, 25, 0)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if _, err := d.Send(ctx, envelopeFor("A", i), "delivery failed after 3 attempts", errors.New("boom")); err != nil {
			t.Fatalf("Send A[%d]: %v", i, err)
		}
	}
	for i := 0; i < 20; i++ {
		if _, err := d.Send(ctx, envelopeFor("B", i), "delivery failed after 3 attempts", errors.New("boom")); err != nil {
			t.Fatalf("Send B[%d]: %v", i, err)
		}
	}

	stats, err := d.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.ByChannel["A"] != 10 {
		t.Fatalf("expected channel A to retain 10, got %d", stats.ByChannel["A"])
	}
	if stats.ByChannel["B"] != 10 {
		t.Fatalf("expected channel B to retain 10, got %d", stats.ByChannel["B"])
	}
	if stats.TotalMessages != 20 {
		t.Fatalf("expected 20 total messages retained, got %d", stats.TotalMessages)
	}
	if stats.TotalEvicted != 20 {
		t.Fatalf("expected totalEvicted=20, got %d", stats.TotalEvicted)
	}
}

func TestMemoryDLQGetMessagesNewestFirst(t *testing.T) {
	d := bus.NewMemoryDLQ(0, 0, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := d.Send(ctx, envelopeFor("A", i), "delivery failed", nil); err != nil {
			t.Fatalf("Send[%d]: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}

	msgs, err := d.GetMessages(ctx, 0, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].OriginalEnvelope.ID != "A-2" {
		t.Fatalf("expected newest-first order, got %s first", msgs[0].OriginalEnvelope.ID)
	}
}

func TestMemoryDLQRetryRepublishesAndBumpsCount(t *testing.T) {
	d := bus.NewMemoryDLQ(0, 0, 0)
	eventBus := bus.NewMemoryEventBus(nil, 1, 8)
	ctx := context.Background()

	received := make(chan graph.EventEnvelope, 1)
	if _, err := eventBus.Subscribe("A", func(ctx context.Context, env graph.EventEnvelope) error {
		received <- env
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	id, err := d.Send(ctx, envelopeFor("A", 0), "delivery failed", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := d.Retry(ctx, id, eventBus); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	select {
	case env := <-received:
		if env.ID != "A-0" {
			t.Fatalf("expected republished envelope A-0, got %s", env.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for retried envelope")
	}

	msg, ok, err := d.GetMessage(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetMessage: ok=%v err=%v", ok, err)
	}
	if msg.RetryCount != 1 {
		t.Fatalf("expected RetryCount=1 after retry, got %d", msg.RetryCount)
	}
}

func TestMemoryDLQRetryUnknownIDReturnsNotFound(t *testing.T) {
	d := bus.NewMemoryDLQ(0, 0, 0)
	eventBus := bus.NewMemoryEventBus(nil, 1, 8)

	err := d.Retry(context.Background(), "missing-id", eventBus)
	if !errors.Is(err, graph.ErrDeadLetterNotFound) {
		t.Fatalf("expected ErrDeadLetterNotFound, got %v", err)
	}
}

func TestMemoryDLQDeleteAndClear(t *testing.T) {
	d := bus.NewMemoryDLQ(0, 0, 0)
	ctx := context.Background()

	id, err := d.Send(ctx, envelopeFor("A", 0), "delivery failed", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := d.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := d.GetMessage(ctx, id); ok {
		t.Fatal("expected message to be gone after Delete")
	}

	if _, err := d.Send(ctx, envelopeFor("B", 0), "delivery failed", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := d.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	stats, err := d.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalMessages != 0 {
		t.Fatalf("expected 0 messages after Clear, got %d", stats.TotalMessages)
	}
}
