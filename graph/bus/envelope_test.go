package bus_test

import (
	"testing"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/dshills/agentgraph-go/graph/bus"
)

func TestPayloadFieldReadsNestedValue(t *testing.T) {
	env := graph.EventEnvelope{
		ChannelName: "tool.emitted",
		Payload: graph.ValueMap{
			"toolName": graph.StringValue("http_fetch"),
			"priority": graph.NumberValue(2),
		},
	}

	result, err := bus.PayloadField(env, "toolName")
	if err != nil {
		t.Fatalf("PayloadField: %v", err)
	}
	if result.String() != "http_fetch" {
		t.Fatalf("expected toolName=http_fetch, got %q", result.String())
	}
}

func TestWithPayloadFieldPatchesWithoutMutatingOriginal(t *testing.T) {
	env := graph.EventEnvelope{
		ChannelName: "tool.emitted",
		Payload: graph.ValueMap{
			"priority": graph.NumberValue(2),
		},
	}

	patched, err := bus.WithPayloadField(env, "priority", 9)
	if err != nil {
		t.Fatalf("WithPayloadField: %v", err)
	}

	got, err := bus.PayloadField(patched, "priority")
	if err != nil {
		t.Fatalf("PayloadField patched: %v", err)
	}
	if got.Num != 9 {
		t.Fatalf("expected patched priority=9, got %v", got.Num)
	}

	original, err := bus.PayloadField(env, "priority")
	if err != nil {
		t.Fatalf("PayloadField original: %v", err)
	}
	if original.Num != 2 {
		t.Fatalf("expected original envelope untouched, got %v", original.Num)
	}
}
