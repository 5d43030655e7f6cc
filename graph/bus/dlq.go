// Package bus provides concrete graph.EventBus and graph.DeadLetterQueue
// implementations: an in-memory pub/sub bus with retry-then-DLQ delivery,
// a bounded in-memory dead-letter queue, and OpenTelemetry tracing and
// gjson/sjson envelope-inspection helpers layered on top.
package bus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/agentgraph-go/graph"
	"github.com/google/uuid"
)

// MemoryDLQ is an in-memory graph.DeadLetterQueue enforcing the per-channel
// then global bounds of spec.md §4.9 with FIFO eviction and a monotonic
// totalEvicted counter.
type MemoryDLQ struct {
	mu                sync.Mutex
	maxSizePerChannel int
	maxSize           int
	ttl               time.Duration

	messages   map[string]graph.DeadLetterMessage
	byChannel  map[string][]string // channel -> message IDs, oldest first
	insertion  []string            // global insertion order, oldest first
	totalEvict int
}

// NewMemoryDLQ builds a MemoryDLQ. maxSizePerChannel and maxSize of zero
// mean unbounded for that dimension. ttl of zero means messages never
// expire on their own (only by eviction pressure).
func NewMemoryDLQ(maxSizePerChannel, maxSize int, ttl time.Duration) *MemoryDLQ {
	return &MemoryDLQ{
		maxSizePerChannel: maxSizePerChannel,
		maxSize:           maxSize,
		ttl:               ttl,
		messages:          make(map[string]graph.DeadLetterMessage),
		byChannel:         make(map[string][]string),
	}
}

// Send records env as a dead letter, evicting per-channel then globally as
// needed, and returns the assigned ID.
func (d *MemoryDLQ) Send(ctx context.Context, env graph.EventEnvelope, reason string, cause error) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.expireLocked()

	id := uuid.NewString()
	msg := graph.DeadLetterMessage{
		ID:               id,
		OriginalEnvelope: env,
		Reason:           reason,
		ReceivedAt:       time.Now().UTC(),
	}
	if cause != nil {
		msg.ErrorMessage = cause.Error()
	}

	d.messages[id] = msg
	d.byChannel[env.ChannelName] = append(d.byChannel[env.ChannelName], id)
	d.insertion = append(d.insertion, id)

	d.evictChannelLocked(env.ChannelName)
	d.evictGlobalLocked()

	return id, nil
}

func (d *MemoryDLQ) expireLocked() {
	if d.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-d.ttl)
	for _, id := range append([]string(nil), d.insertion...) {
		msg, ok := d.messages[id]
		if !ok {
			continue
		}
		if msg.ReceivedAt.Before(cutoff) {
			d.removeLocked(id, msg.OriginalEnvelope.ChannelName)
			d.totalEvict++
		}
	}
}

// evictChannelLocked trims channel's backlog down to maxSizePerChannel,
// oldest first, so one noisy channel can never evict another's entries.
func (d *MemoryDLQ) evictChannelLocked(channel string) {
	if d.maxSizePerChannel <= 0 {
		return
	}
	ids := d.byChannel[channel]
	for len(ids) > d.maxSizePerChannel {
		oldest := ids[0]
		ids = ids[1:]
		delete(d.messages, oldest)
		d.removeFromInsertionLocked(oldest)
		d.totalEvict++
	}
	d.byChannel[channel] = ids
}

// evictGlobalLocked trims the overall message count down to maxSize after
// per-channel trimming, oldest first across all channels.
func (d *MemoryDLQ) evictGlobalLocked() {
	if d.maxSize <= 0 {
		return
	}
	for len(d.messages) > d.maxSize && len(d.insertion) > 0 {
		oldest := d.insertion[0]
		msg, ok := d.messages[oldest]
		if ok {
			d.removeLocked(oldest, msg.OriginalEnvelope.ChannelName)
		} else {
			d.insertion = d.insertion[1:]
		}
		d.totalEvict++
	}
}

func (d *MemoryDLQ) removeLocked(id, channel string) {
	delete(d.messages, id)
	d.removeFromInsertionLocked(id)
	ids := d.byChannel[channel]
	for i, cid := range ids {
		if cid == id {
			d.byChannel[channel] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

func (d *MemoryDLQ) removeFromInsertionLocked(id string) {
	for i, iid := range d.insertion {
		if iid == id {
			d.insertion = append(d.insertion[:i], d.insertion[i+1:]...)
			break
		}
	}
}

// GetMessages returns dead letters newest-first by ReceivedAt.
func (d *MemoryDLQ) GetMessages(ctx context.Context, limit, offset int) ([]graph.DeadLetterMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	all := make([]graph.DeadLetterMessage, 0, len(d.messages))
	for _, msg := range d.messages {
		all = append(all, msg)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ReceivedAt.After(all[j].ReceivedAt) })

	if offset > 0 {
		if offset >= len(all) {
			return nil, nil
		}
		all = all[offset:]
	}
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// GetMessage returns a single dead letter by ID.
func (d *MemoryDLQ) GetMessage(ctx context.Context, id string) (graph.DeadLetterMessage, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg, ok := d.messages[id]
	return msg, ok, nil
}

// Retry republishes the dead letter's original envelope via bus and bumps
// its RetryCount/LastRetryAt on success.
func (d *MemoryDLQ) Retry(ctx context.Context, id string, eventBus graph.EventBus) error {
	d.mu.Lock()
	msg, ok := d.messages[id]
	d.mu.Unlock()
	if !ok {
		return graph.ErrDeadLetterNotFound
	}

	if err := eventBus.Publish(ctx, msg.OriginalEnvelope); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	msg = d.messages[id]
	msg.RetryCount++
	msg.LastRetryAt = time.Now().UTC()
	d.messages[id] = msg
	return nil
}

// Delete removes a dead letter by ID.
func (d *MemoryDLQ) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg, ok := d.messages[id]
	if !ok {
		return nil
	}
	d.removeLocked(id, msg.OriginalEnvelope.ChannelName)
	return nil
}

// GetStats returns the current DLQStats snapshot.
func (d *MemoryDLQ) GetStats(ctx context.Context) (graph.DLQStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byChannel := make(map[string]int, len(d.byChannel))
	for ch, ids := range d.byChannel {
		byChannel[ch] = len(ids)
	}
	return graph.DLQStats{
		TotalMessages: len(d.messages),
		ByChannel:     byChannel,
		TotalEvicted:  d.totalEvict,
	}, nil
}

// Clear removes all dead letters. The cumulative totalEvicted counter is
// left untouched: it is monotonic for alerting purposes.
func (d *MemoryDLQ) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = make(map[string]graph.DeadLetterMessage)
	d.byChannel = make(map[string][]string)
	d.insertion = nil
	return nil
}
