package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// ErrReplayMismatch is returned by the replay harness when recorded I/O for
// a (nodeID, intentSignature) pair does not match what replay recomputed,
// signalling non-deterministic node behavior (spec.md §8 property 4).
var ErrReplayMismatch = errors.New("replay mismatch: recorded I/O does not match current execution")

// ErrMaxAttemptsExceeded is returned when a node's RetryPolicy.MaxAttempts
// is reached without a successful execution.
var ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")

// HITLRequest is attached to a Message's Data when a HumanNode suspends the
// run. ToolCallID is stable across retries of the same logical invocation
// (spec.md §4.10): hitl_{runId}_{nodeId}_{invocationIndex}.
type HITLRequest struct {
	Prompt          string
	Options         []string
	ToolCallID      string
	InvocationIndex int
	Timeout         time.Duration
}

// HumanResponse is what an external driver supplies to Resume after a human
// has answered a HITLRequest.
type HumanResponse struct {
	ToolCallID      string
	Value           string
	SelectedOptions []string
	Type            string
	Metadata        ValueMap
}

// Checkpoint is the durable snapshot persisted when a run suspends on
// WAITING (spec.md §3). CheckpointStore.Save/Load operate on this type.
type Checkpoint struct {
	ID             string
	RunID          string
	GraphID        string
	CurrentNodeID  string
	Message        Message
	ExecutionState ExecutionState
	PendingHITL    *HITLRequest
	Timestamp      time.Time
}

// CheckpointStatus distinguishes a pending checkpoint awaiting a human
// response from one that has been resumed or has expired.
type CheckpointStatus string

// The lifecycle a Checkpoint moves through, used by ListPending filters.
const (
	CheckpointPending CheckpointStatus = "pending"
	CheckpointResumed CheckpointStatus = "resumed"
	CheckpointExpired CheckpointStatus = "expired"
)

// CheckpointFilter narrows ListPending results. A zero value matches all
// pending checkpoints.
type CheckpointFilter struct {
	Status        CheckpointStatus
	GraphID       string
	ExpiredBefore time.Time
	Limit         int
	Offset        int
}

// CheckpointStore persists and retrieves Checkpoints (spec.md §4.10, §6).
// Save and its associated index update are atomic at the storage layer.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, runID string) (Checkpoint, bool, error)

	// ListPending returns checkpoints matching filter whose run is still
	// WAITING, for an external scheduler to sweep stale HITL suspensions.
	// This is a supplemental query beyond spec.md's core save/load
	// contract; the sweeping loop itself is an external driver concern.
	ListPending(ctx context.Context, filter CheckpointFilter) ([]Checkpoint, error)
}

// computeCheckpointID derives a stable identifier for a checkpoint from its
// run, node, and message state, following the hashing idiom the teacher
// uses for idempotency keys (sha256, hex-encoded, "sha256:" prefixed).
func computeCheckpointID(runID, nodeID string, m Message) (string, error) {
	h := sha256.New()
	h.Write([]byte(runID))
	h.Write([]byte(nodeID))
	stateJSON, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	h.Write(stateJSON)
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
