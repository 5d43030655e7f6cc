package bus

import (
	"context"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/emit"
)

// LoggingHandler returns a graph.EventHandler that forwards every envelope
// it receives to e as an emit.Event, letting a deployment observe bus
// traffic through the same sinks (stdout, OTel, buffered) used for runner
// diagnostics. Intended for Subscribe("*", bus.LoggingHandler(e)) — wildcard
// patterns only match single-segment channels (see matchChannel), so a
// caller wanting every multi-segment channel should subscribe per prefix.
func LoggingHandler(e emit.Emitter) graph.EventHandler {
	return func(ctx context.Context, env graph.EventEnvelope) error {
		meta := make(map[string]interface{}, len(env.Payload)+2)
		for k, v := range env.Payload {
			meta[k] = v.Any()
		}
		meta["channel"] = env.ChannelName
		meta["schemaVersion"] = env.SchemaVersion

		e.Emit(emit.Event{
			RunID: env.CorrelationID,
			Msg:   env.EventType,
			Meta:  meta,
		})
		return nil
	}
}
