package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// RecordedIO captures one external interaction (LLM call, tool call) so a
// later run can replay it without re-invoking the real dependency. Adapted
// from the teacher's replay.go; keyed here by (NodeID, IntentSignature)
// rather than (NodeID, Attempt), matching this package's idempotency key
// shape (supplemental feature in SPEC_FULL.md).
type RecordedIO struct {
	NodeID          string
	IntentSignature string
	Request         json.RawMessage
	Response        json.RawMessage
	Hash            string
	Timestamp       time.Time
	Duration        time.Duration
}

// replayHarness stores RecordedIO entries in memory for the supplemental
// replay/determinism harness. Production graphs would back this with the
// CheckpointStore's RecordedIOs; tests use it directly.
type replayHarness struct {
	mu      sync.RWMutex
	records map[string]RecordedIO
}

func newReplayHarness() *replayHarness {
	return &replayHarness{records: make(map[string]RecordedIO)}
}

func replayKey(nodeID, intentSignature string) string {
	return nodeID + "|" + intentSignature
}

// Record captures request/response for (nodeID, intentSignature).
func (h *replayHarness) Record(nodeID, intentSignature string, request, response interface{}) (RecordedIO, error) {
	reqJSON, err := json.Marshal(request)
	if err != nil {
		return RecordedIO{}, fmt.Errorf("marshal request: %w", err)
	}
	respJSON, err := json.Marshal(response)
	if err != nil {
		return RecordedIO{}, fmt.Errorf("marshal response: %w", err)
	}

	rec := RecordedIO{
		NodeID:          nodeID,
		IntentSignature: intentSignature,
		Request:         reqJSON,
		Response:        respJSON,
		Hash:            hashJSON(respJSON),
		Timestamp:       time.Now().UTC(),
	}

	h.mu.Lock()
	h.records[replayKey(nodeID, intentSignature)] = rec
	h.mu.Unlock()
	return rec, nil
}

// Lookup returns the RecordedIO for (nodeID, intentSignature), if any.
func (h *replayHarness) Lookup(nodeID, intentSignature string) (RecordedIO, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[replayKey(nodeID, intentSignature)]
	return rec, ok
}

// Verify compares a live response's hash against recorded, returning
// ErrReplayMismatch on divergence (non-deterministic node behavior).
func (h *replayHarness) Verify(recorded RecordedIO, actualResponse interface{}) error {
	actualJSON, err := json.Marshal(actualResponse)
	if err != nil {
		return fmt.Errorf("marshal actual response: %w", err)
	}
	actualHash := hashJSON(actualJSON)
	if actualHash != recorded.Hash {
		return fmt.Errorf("%w: expected %s, got %s", ErrReplayMismatch, recorded.Hash, actualHash)
	}
	return nil
}

func hashJSON(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
