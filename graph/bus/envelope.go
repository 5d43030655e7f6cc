package bus

import (
	"encoding/json"
	"fmt"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PayloadField reads path out of env's Payload without requiring the
// caller to know ValueMap's shape — useful for DLQ triage tooling that
// only cares about one or two fields of an opaque envelope (e.g. a CLI
// inspecting "toolName" on dead-lettered tool.emitted events).
func PayloadField(env graph.EventEnvelope, path string) (gjson.Result, error) {
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal payload: %w", err)
	}
	return gjson.GetBytes(raw, path), nil
}

// WithPayloadField returns a copy of env with path set to value inside its
// Payload, used by retry tooling that patches a field (e.g. bumping a
// "priority" hint) before republishing a dead-lettered envelope.
func WithPayloadField(env graph.EventEnvelope, path string, value interface{}) (graph.EventEnvelope, error) {
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return graph.EventEnvelope{}, fmt.Errorf("marshal payload: %w", err)
	}

	patched, err := sjson.SetBytes(raw, path, value)
	if err != nil {
		return graph.EventEnvelope{}, fmt.Errorf("set payload field %q: %w", path, err)
	}

	var payload graph.ValueMap
	if err := json.Unmarshal(patched, &payload); err != nil {
		return graph.EventEnvelope{}, fmt.Errorf("unmarshal patched payload: %w", err)
	}

	out := env
	out.Payload = payload
	return out, nil
}
