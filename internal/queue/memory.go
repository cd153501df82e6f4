package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	msg         Message
	availableAt time.Time
	leasedUntil time.Time
	seq         int64
}

// MemoryBroker is an in-process Broker. Messages are lost when the process exits.
// Dedup keys stay reserved for the broker's lifetime.
type MemoryBroker struct {
	mu      sync.Mutex
	now     func() time.Time
	lease   time.Duration
	nextID  int64
	keys    map[string]bool
	pending map[int64]*memEntry
	dead    []Message
	acked   int
}

// NewMemoryBroker creates an empty in-process broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		now:     time.Now,
		lease:   DefaultLease,
		keys:    make(map[string]bool),
		pending: make(map[int64]*memEntry),
	}
}

// SetClock replaces the broker's time source
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Publish implements Broker
func (b *MemoryBroker) Publish(_ context.Context, msg *Message) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.DedupKey != "" && b.keys[msg.DedupKey] {
		return false, nil
	}
	b.nextID++
	m := *msg
	m.ID = b.nextID
	m.Attempts = 0
	m.Deliveries = 0
	if msg.DedupKey != "" {
		b.keys[msg.DedupKey] = true
	}
	b.pending[m.ID] = &memEntry{msg: m, availableAt: b.now(), seq: m.ID}
	return true, nil
}

// Receive implements Broker
func (b *MemoryBroker) Receive(_ context.Context, queue string, max int) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var ready []*memEntry
	for _, e := range b.pending {
		if e.msg.Queue != queue || e.availableAt.After(now) || e.leasedUntil.After(now) {
			continue
		}
		ready = append(ready, e)
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].availableAt.Equal(ready[j].availableAt) {
			return ready[i].availableAt.Before(ready[j].availableAt)
		}
		return ready[i].seq < ready[j].seq
	})
	if max > 0 && len(ready) > max {
		ready = ready[:max]
	}

	out := make([]Message, 0, len(ready))
	for _, e := range ready {
		e.msg.Deliveries++
		e.leasedUntil = now.Add(b.lease)
		out = append(out, e.msg)
	}
	return out, nil
}

// Extend implements Broker
func (b *MemoryBroker) Extend(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[id]
	if !ok || e.leasedUntil.IsZero() {
		return ErrUnknownMessage
	}
	e.leasedUntil = b.now().Add(b.lease)
	return nil
}

// Lease implements Broker
func (b *MemoryBroker) Lease() time.Duration { return b.lease }

// Ack implements Broker
func (b *MemoryBroker) Ack(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		return ErrUnknownMessage
	}
	delete(b.pending, id)
	b.acked++
	return nil
}

// Retry implements Broker
func (b *MemoryBroker) Retry(_ context.Context, id int64, delay time.Duration, countFailure bool, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[id]
	if !ok {
		return ErrUnknownMessage
	}
	if countFailure {
		e.msg.Attempts++
	}
	e.msg.LastError = reason
	e.availableAt = b.now().Add(delay)
	e.leasedUntil = time.Time{}
	return nil
}

// DeadLetter implements Broker
func (b *MemoryBroker) DeadLetter(_ context.Context, id int64, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[id]
	if !ok {
		return ErrUnknownMessage
	}
	delete(b.pending, id)
	e.msg.Attempts++
	e.msg.LastError = reason
	b.dead = append(b.dead, e.msg)
	return nil
}

// Pending returns the number of unsettled messages of a queue
func (b *MemoryBroker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.pending {
		if e.msg.Queue == queue {
			n++
		}
	}
	return n
}

// Dead returns a copy of the dead-lettered messages
func (b *MemoryBroker) Dead() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.dead))
	copy(out, b.dead)
	return out
}

// Acked returns how many messages were acknowledged
func (b *MemoryBroker) Acked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked
}

// NextAvailable returns when the unsettled message with the given dedup key becomes
// deliverable again. ok is false when no such message is pending.
func (b *MemoryBroker) NextAvailable(dedupKey string) (at time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.pending {
		if e.msg.DedupKey == dedupKey {
			return e.availableAt, true
		}
	}
	return time.Time{}, false
}

// LeasedUntil returns when the lease of the unsettled message with the given dedup key
// expires. ok is false when no such message is leased.
func (b *MemoryBroker) LeasedUntil(dedupKey string) (at time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.pending {
		if e.msg.DedupKey == dedupKey && !e.leasedUntil.IsZero() {
			return e.leasedUntil, true
		}
	}
	return time.Time{}, false
}
