package graph

import (
	"context"
	"time"
)

// EventEnvelope is the unit published on an EventBus. The bus is a
// publication contract only — Payload's schema beyond this envelope is not
// defined by the core (spec.md §3).
type EventEnvelope struct {
	ID            string
	ChannelName   string
	EventType     string
	Payload       ValueMap
	CorrelationID string
	SchemaVersion string
	PublishedAt   time.Time
}

// SubscriptionHandle is returned by EventBus.Subscribe and can be used to
// cancel the subscription.
type SubscriptionHandle interface {
	Unsubscribe()
}

// EventHandler receives envelopes delivered to a subscription. Handlers
// must be idempotent: delivery is at-least-once (spec.md §4.8).
type EventHandler func(ctx context.Context, env EventEnvelope) error

// EventBus is the publish/subscribe contract the runner uses for lifecycle,
// HITL, and tool-call events. Guarantees (spec.md §4.8):
//   - Ordering: FIFO per CorrelationID; no global order.
//   - Delivery: at-least-once per subscriber; repeated failure routes the
//     envelope to a DeadLetterQueue rather than dropping it silently.
//   - Back-pressure: a slow subscriber either buffers to a configured size
//     or applies a lossy policy; overflow goes to the DLQ, never silently
//     discarded.
type EventBus interface {
	Publish(ctx context.Context, env EventEnvelope) error
	Subscribe(channelOrPattern string, handler EventHandler) (SubscriptionHandle, error)
}
