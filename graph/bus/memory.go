package bus

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/google/uuid"
)

// MemoryEventBus is an in-memory graph.EventBus: subscribers register on a
// channel name or dot-segmented pattern ("node.*.started", "tool.*"), and
// each subscription is served by its own worker goroutine so delivery to a
// single subscriber is FIFO. Failed deliveries retry with backoff up to
// MaxDeliveryAttempts before landing in the configured DLQ (spec.md §4.8).
type MemoryEventBus struct {
	mu   sync.RWMutex
	subs map[string]*subscription

	dlq                 graph.DeadLetterQueue
	maxDeliveryAttempts int
	retryBaseDelay      time.Duration
	subscriptionBuffer  int
	rng                 *rand.Rand
	rngMu               sync.Mutex
}

type subscription struct {
	id      string
	pattern string
	handler graph.EventHandler
	queue   chan graph.EventEnvelope
	done    chan struct{}
}

func (s *subscription) Unsubscribe() {
	close(s.done)
}

// NewMemoryEventBus builds a MemoryEventBus. dlq receives envelopes that
// exhaust maxDeliveryAttempts; maxDeliveryAttempts <= 0 defaults to 3;
// subscriptionBuffer <= 0 defaults to 256 and bounds each subscriber's
// pending queue — publishes that would overflow it are sent directly to
// the DLQ as back-pressure overflow rather than dropped.
func NewMemoryEventBus(dlq graph.DeadLetterQueue, maxDeliveryAttempts, subscriptionBuffer int) *MemoryEventBus {
	if maxDeliveryAttempts <= 0 {
		maxDeliveryAttempts = 3
	}
	if subscriptionBuffer <= 0 {
		subscriptionBuffer = 256
	}
	return &MemoryEventBus{
		subs:                make(map[string]*subscription),
		dlq:                 dlq,
		maxDeliveryAttempts: maxDeliveryAttempts,
		retryBaseDelay:      10 * time.Millisecond,
		subscriptionBuffer:  subscriptionBuffer,
		rng:                 rand.New(rand.NewSource(1)),
	}
}

// Subscribe registers handler against channelOrPattern. A pattern segment
// of "*" matches exactly one dot-separated channel segment; an exact
// string matches only that channel.
func (b *MemoryEventBus) Subscribe(channelOrPattern string, handler graph.EventHandler) (graph.SubscriptionHandle, error) {
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: channelOrPattern,
		handler: handler,
		queue:   make(chan graph.EventEnvelope, b.subscriptionBuffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go b.runSubscriber(sub)

	return sub, nil
}

// Publish delivers env to every subscription whose pattern matches
// env.ChannelName. Delivery happens asynchronously per subscriber; a full
// subscriber queue is treated as back-pressure overflow and the envelope
// goes straight to the DLQ for that subscriber instead of blocking Publish.
func (b *MemoryEventBus) Publish(ctx context.Context, env graph.EventEnvelope) error {
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchChannel(sub.pattern, env.ChannelName) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		select {
		case sub.queue <- env:
		default:
			if b.dlq != nil {
				_, _ = b.dlq.Send(ctx, env, "subscriber queue overflow", nil)
			}
		}
	}
	return nil
}

// runSubscriber is the per-subscription worker: it drains queue in order,
// retrying each envelope with backoff before giving up and sending it to
// the DLQ, which preserves FIFO delivery to this subscriber.
func (b *MemoryEventBus) runSubscriber(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case env, ok := <-sub.queue:
			if !ok {
				return
			}
			b.deliver(sub, env)
		}
	}
}

func (b *MemoryEventBus) deliver(sub *subscription, env graph.EventEnvelope) {
	ctx := context.Background()
	var lastErr error
	for attempt := 1; attempt <= b.maxDeliveryAttempts; attempt++ {
		err := sub.handler(ctx, env)
		if err == nil {
			return
		}
		lastErr = err
		if attempt < b.maxDeliveryAttempts {
			time.Sleep(b.backoff(attempt))
		}
	}

	if b.dlq != nil {
		reason := "delivery failed after " + strconv.Itoa(b.maxDeliveryAttempts) + " attempts"
		_, _ = b.dlq.Send(ctx, env, reason, lastErr)
	}
}

func (b *MemoryEventBus) backoff(attempt int) time.Duration {
	b.rngMu.Lock()
	jitter := b.rng.Float64()
	b.rngMu.Unlock()
	base := b.retryBaseDelay * time.Duration(1<<uint(attempt-1))
	return base + time.Duration(jitter*float64(b.retryBaseDelay))
}

// matchChannel reports whether pattern matches channel. A "*" segment
// matches exactly one dot-separated segment of channel; segment counts
// must otherwise be equal.
func matchChannel(pattern, channel string) bool {
	if pattern == channel {
		return true
	}
	pSegs := strings.Split(pattern, ".")
	cSegs := strings.Split(channel, ".")
	if len(pSegs) != len(cSegs) {
		return false
	}
	for i, p := range pSegs {
		if p == "*" {
			continue
		}
		if p != cSegs[i] {
			return false
		}
	}
	return true
}
