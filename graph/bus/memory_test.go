package bus_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/bus"
)

func TestMemoryEventBusDeliversToMatchingPattern(t *testing.T) {
	eb := bus.NewMemoryEventBus(nil, 1, 8)

	got := make(chan graph.EventEnvelope, 1)
	if _, err := eb.Subscribe("node.*.started", func(ctx context.Context, env graph.EventEnvelope) error {
		got <- env
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := eb.Publish(context.Background(), graph.EventEnvelope{ChannelName: "node.fetch.started", EventType: "node.started"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-got:
		if env.ChannelName != "node.fetch.started" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	if err := eb.Publish(context.Background(), graph.EventEnvelope{ChannelName: "node.fetch.completed"}); err != nil {
		t.Fatalf("Publish non-matching: %v", err)
	}
	select {
	case env := <-got:
		t.Fatalf("unexpected delivery for non-matching channel: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryEventBusRetriesThenDLQ(t *testing.T) {
	dlq := bus.NewMemoryDLQ(0, 0, 0)
	eb := bus.NewMemoryEventBus(dlq, 3, 8)

	var attempts int32
	if _, err := eb.Subscribe("jobs", func(ctx context.Context, env graph.EventEnvelope) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("handler always fails")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := eb.Publish(context.Background(), graph.EventEnvelope{ID: "env-1", ChannelName: "jobs"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		stats, err := dlq.GetStats(context.Background())
		if err != nil {
			t.Fatalf("GetStats: %v", err)
		}
		if stats.TotalMessages == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for DLQ to receive failed envelope, attempts=%d", atomic.LoadInt32(&attempts))
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 delivery attempts before DLQ, got %d", got)
	}

	msgs, err := dlq.GetMessages(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Reason != "delivery failed after 3 attempts" {
		t.Fatalf("unexpected DLQ contents: %+v", msgs)
	}
}

func TestMemoryEventBusBackPressureOverflowGoesToDLQ(t *testing.T) {
	dlq := bus.NewMemoryDLQ(0, 0, 0)
	eb := bus.NewMemoryEventBus(dlq, 1, 1)

	block := make(chan struct{})
	if _, err := eb.Subscribe("jobs", func(ctx context.Context, env graph.EventEnvelope) error {
		<-block
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer close(block)

	for i := 0; i < 5; i++ {
		if err := eb.Publish(context.Background(), graph.EventEnvelope{ID: "env", ChannelName: "jobs"}); err != nil {
			t.Fatalf("Publish[%d]: %v", i, err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		stats, err := dlq.GetStats(context.Background())
		if err != nil {
			t.Fatalf("GetStats: %v", err)
		}
		if stats.TotalMessages > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for overflow to reach DLQ")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestMemoryEventBusFIFOPerSubscriber(t *testing.T) {
	eb := bus.NewMemoryEventBus(nil, 1, 16)

	order := make(chan string, 8)
	if _, err := eb.Subscribe("jobs", func(ctx context.Context, env graph.EventEnvelope) error {
		order <- env.ID
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := eb.Publish(context.Background(), graph.EventEnvelope{ID: id, ChannelName: "jobs"}); err != nil {
			t.Fatalf("Publish %s: %v", id, err)
		}
	}

	want := []string{"a", "b", "c", "d", "e"}
	for _, w := range want {
		select {
		case got := <-order:
			if got != w {
				t.Fatalf("expected FIFO order %v, got %q instead of %q", want, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for envelope %q", w)
		}
	}
}

func TestMemoryEventBusUnsubscribeStopsDelivery(t *testing.T) {
	eb := bus.NewMemoryEventBus(nil, 1, 8)

	got := make(chan graph.EventEnvelope, 1)
	sub, err := eb.Subscribe("jobs", func(ctx context.Context, env graph.EventEnvelope) error {
		got <- env
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sub.Unsubscribe()

	if err := eb.Publish(context.Background(), graph.EventEnvelope{ChannelName: "jobs"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-got:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}
