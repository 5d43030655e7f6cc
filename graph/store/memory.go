package store

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/agentgraph-go/graph"
)

// MemoryCheckpointStore is an in-memory graph.CheckpointStore, adapted from
// the teacher's MemStore. One checkpoint is retained per RunID: a new Save
// for the same run overwrites the prior checkpoint, matching the spec's
// single-pending-suspension-per-run model.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]graph.Checkpoint
}

// NewMemoryCheckpointStore returns an empty in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]graph.Checkpoint),
	}
}

// Save persists cp, replacing any prior checkpoint for the same RunID.
func (s *MemoryCheckpointStore) Save(ctx context.Context, cp graph.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.RunID] = cp
	return nil
}

// Load returns the checkpoint for runID, if any.
func (s *MemoryCheckpointStore) Load(ctx context.Context, runID string) (graph.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[runID]
	return cp, ok, nil
}

// ListPending returns checkpoints whose ExecutionState is still Waiting,
// narrowed by filter.GraphID and filter.ExpiredBefore when set, and capped
// by filter.Limit/Offset. Results are sorted by timestamp so an external
// sweeper gets a stable page order across calls.
func (s *MemoryCheckpointStore) ListPending(ctx context.Context, filter graph.CheckpointFilter) ([]graph.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []graph.Checkpoint
	for _, cp := range s.checkpoints {
		if cp.ExecutionState != graph.StateWaiting {
			continue
		}
		if filter.GraphID != "" && cp.GraphID != filter.GraphID {
			continue
		}
		if !filter.ExpiredBefore.IsZero() && !cp.Timestamp.Before(filter.ExpiredBefore) {
			continue
		}
		matches = append(matches, cp)
	}

	sortCheckpointsByTimestamp(matches)

	if filter.Offset > 0 {
		if filter.Offset >= len(matches) {
			return nil, nil
		}
		matches = matches[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matches) {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

func sortCheckpointsByTimestamp(cps []graph.Checkpoint) {
	for i := 1; i < len(cps); i++ {
		for j := i; j > 0 && cps[j].Timestamp.Before(cps[j-1].Timestamp); j-- {
			cps[j], cps[j-1] = cps[j-1], cps[j]
		}
	}
}

// MemoryIdempotencyStore is an in-memory graph.IdempotencyStore, adapted
// from the idempotency map inside the teacher's MemStore but promoted to
// its own type since this design separates checkpointing from step
// caching.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]idempotencyEntry
}

type idempotencyEntry struct {
	message   graph.Message
	expiresAt time.Time
}

// NewMemoryIdempotencyStore returns an empty in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]idempotencyEntry),
	}
}

// Lookup returns the cached Message for key if present and unexpired.
func (s *MemoryIdempotencyStore) Lookup(ctx context.Context, key graph.IdempotencyKey) (graph.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key.String()]
	if !ok {
		return graph.Message{}, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return graph.Message{}, false, nil
	}
	return entry.message, true, nil
}

// Store caches m under key for ttl (zero means no expiry).
func (s *MemoryIdempotencyStore) Store(ctx context.Context, key graph.IdempotencyKey, m graph.Message, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key.String()] = idempotencyEntry{message: m, expiresAt: expiresAt}
	return nil
}
