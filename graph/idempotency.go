package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// IdempotencyKey identifies a single node execution for exactly-once
// semantics: the same (RunID, NodeID, IntentSignature) tuple must always
// produce an equivalent output Message.
type IdempotencyKey struct {
	RunID           string
	NodeID          string
	IntentSignature string
}

// String renders the key for use as a map/store key.
func (k IdempotencyKey) String() string {
	return k.RunID + "|" + k.NodeID + "|" + k.IntentSignature
}

// IdempotencyStore caches the output Message of a node execution, keyed by
// IdempotencyKey, so a retried run of the same step is served from cache
// instead of re-invoking the node (spec.md §4.7).
//
// Implementations must be safe for concurrent use by multiple runs.
// Last-write-wins under concurrent Store calls for the same key is
// acceptable: a deterministic node produces equivalent outputs for a given
// signature.
type IdempotencyStore interface {
	// Lookup returns the cached Message for key, if present and unexpired.
	Lookup(ctx context.Context, key IdempotencyKey) (Message, bool, error)
	// Store caches m under key for ttl (zero means no expiry). Only called
	// by the runner after a successful node execution — failures are never
	// cached.
	Store(ctx context.Context, key IdempotencyKey, m Message, ttl time.Duration) error
}

// intentSignature derives the node's intent signature per spec.md §3: an
// explicit "intentSignature" or "intent" field in the Message's Context,
// falling back to a hash of the first 100 bytes of Content.
func intentSignature(m Message, override func(Message) string) string {
	if override != nil {
		if sig := override(m); sig != "" {
			return sig
		}
	}
	if v, ok := m.Context["intentSignature"]; ok {
		if s, ok := v.String(); ok && s != "" {
			return s
		}
	}
	if v, ok := m.Context["intent"]; ok {
		if s, ok := v.String(); ok && s != "" {
			return s
		}
	}
	content := m.Content
	if len(content) > 100 {
		content = content[:100]
	}
	sum := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(sum[:])
}
