package graph

import (
	"context"
	"time"
)

// DeadLetterMessage is an EventEnvelope that failed delivery, retained for
// inspection, retry, or deletion (spec.md §3, §4.9).
type DeadLetterMessage struct {
	ID               string
	OriginalEnvelope EventEnvelope
	Reason           string
	ErrorMessage     string
	StackTrace       string
	ReceivedAt       time.Time
	RetryCount       int
	LastRetryAt      time.Time
}

// DLQStats is the supplemental snapshot type getStats() returns: per-channel
// and global counts plus the running eviction tally used for alerting.
type DLQStats struct {
	TotalMessages int
	ByChannel     map[string]int
	TotalEvicted  int
}

// DeadLetterQueue persists envelopes that an EventBus could not deliver
// after its configured retry budget (spec.md §4.9). Implementations must
// apply the per-channel bound before the global bound on every Send, and
// every eviction (including TTL expiry) must increment the totalEvicted
// counter atomically with the insert that caused it.
type DeadLetterQueue interface {
	// Send records a failed envelope and returns its assigned ID. May
	// trigger per-channel and/or global eviction of older entries.
	Send(ctx context.Context, env EventEnvelope, reason string, cause error) (string, error)
	// GetMessages returns dead letters newest-first by ReceivedAt, paged by
	// limit/offset.
	GetMessages(ctx context.Context, limit, offset int) ([]DeadLetterMessage, error)
	// GetMessage returns a single dead letter by ID.
	GetMessage(ctx context.Context, id string) (DeadLetterMessage, bool, error)
	// Retry republishes the envelope via bus and increments RetryCount and
	// LastRetryAt on success; the dead letter is not removed automatically.
	Retry(ctx context.Context, id string, bus EventBus) error
	// Delete removes a dead letter by ID.
	Delete(ctx context.Context, id string) error
	// GetStats returns the current DLQStats snapshot.
	GetStats(ctx context.Context) (DLQStats, error)
	// Clear removes all dead letters and resets per-channel counts (the
	// cumulative totalEvicted counter is unaffected: it is monotonic).
	Clear(ctx context.Context) error
}
