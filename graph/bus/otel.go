package bus

import (
	"context"
	"fmt"

	"github.com/dshills/agentgraph-go/graph"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingEventBus wraps a graph.EventBus, adapted from the teacher's
// OTelEmitter: every Publish becomes a span named after the envelope's
// EventType, tagged with channel, correlation id, and schema version.
// Subscribe is passed through unmodified — a subscriber's own handler is
// responsible for any span it wants around message processing.
type TracingEventBus struct {
	next   graph.EventBus
	tracer trace.Tracer
}

// NewTracingEventBus wraps next so every Publish is traced under tracer.
func NewTracingEventBus(next graph.EventBus, tracer trace.Tracer) *TracingEventBus {
	return &TracingEventBus{next: next, tracer: tracer}
}

// Publish starts a span for env, delegates to the wrapped bus, and records
// the resulting error (if any) on the span before ending it.
func (t *TracingEventBus) Publish(ctx context.Context, env graph.EventEnvelope) error {
	ctx, span := t.tracer.Start(ctx, env.EventType)
	defer span.End()

	span.SetAttributes(
		attribute.String("agentgraph.channel", env.ChannelName),
		attribute.String("agentgraph.correlation_id", env.CorrelationID),
		attribute.String("agentgraph.schema_version", env.SchemaVersion),
	)

	err := t.next.Publish(ctx, env)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(fmt.Errorf("publish %s: %w", env.ChannelName, err))
	}
	return err
}

// Subscribe delegates to the wrapped bus unchanged.
func (t *TracingEventBus) Subscribe(channelOrPattern string, handler graph.EventHandler) (graph.SubscriptionHandle, error) {
	return t.next.Subscribe(channelOrPattern, handler)
}
