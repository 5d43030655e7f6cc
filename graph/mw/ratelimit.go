// Package mw provides sample graph.Middleware implementations: a
// per-(tenant) token-bucket rate limiter, a structured-logging wrapper, and
// an auth-claim passthrough check. None of these are wired into
// graph.NewGraphRunner by default — a deployment opts in via
// Builder.Use(...) the same way it would any other middleware.
package mw

import (
	"context"
	"sync"

	"github.com/dshills/agentgraph-go/graph"
	"golang.org/x/time/rate"
)

// KeyFunc derives the rate-limit bucket key from a Message, typically
// tenantId or userId out of Context. A nil KeyFunc buckets every Message
// together under one global limiter.
type KeyFunc func(m graph.Message) string

// RateLimit is a graph.Middleware that throttles BeforeNode using a
// golang.org/x/time/rate token bucket per key. AfterNode and OnError are
// no-ops: only node entry is throttled, matching the teacher's convention
// of keeping middleware single-purpose.
type RateLimit struct {
	limit rate.Limit
	burst int
	key   KeyFunc

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimit builds a RateLimit middleware allowing eventsPerSecond
// sustained throughput with burst headroom, bucketed by key (or globally if
// key is nil).
func NewRateLimit(eventsPerSecond float64, burst int, key KeyFunc) *RateLimit {
	return &RateLimit{
		limit:    rate.Limit(eventsPerSecond),
		burst:    burst,
		key:      key,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (r *RateLimit) limiterFor(bucket string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[bucket]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[bucket] = l
	}
	return l
}

// BeforeNode blocks until the bucket for m admits one event, or returns the
// context's cancellation error if it is cancelled first.
func (r *RateLimit) BeforeNode(ctx context.Context, m graph.Message) (graph.Message, error) {
	bucket := ""
	if r.key != nil {
		bucket = r.key(m)
	}
	if err := r.limiterFor(bucket).Wait(ctx); err != nil {
		return m, &graph.GraphError{
			Code:    graph.CodeRateLimitError,
			Message: "rate limit wait cancelled",
			Cause:   err,
			Context: map[string]interface{}{"bucket": bucket},
		}
	}
	return m, nil
}

// AfterNode implements graph.Middleware as a no-op.
func (r *RateLimit) AfterNode(ctx context.Context, m graph.Message) (graph.Message, error) {
	return m, nil
}

// OnError implements graph.Middleware: rate limiting never overrides
// another middleware's error disposition.
func (r *RateLimit) OnError(ctx context.Context, err error, m graph.Message) graph.ErrorAction {
	return graph.Propagate()
}
