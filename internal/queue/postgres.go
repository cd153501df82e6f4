package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/viral-agents/internal/db"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// Store is the part of the database the durable broker needs
type Store interface {
	EnqueueMessage(ctx context.Context, m *db.QueueMessage) (bool, error)
	ClaimMessages(ctx context.Context, queue string, limit int, lease time.Duration) ([]db.QueueMessage, error)
	ExtendLease(ctx context.Context, id int64, lease time.Duration) error
	AckMessage(ctx context.Context, id int64) error
	RetryMessage(ctx context.Context, id int64, delay time.Duration, countFailure bool, lastErr string) error
	DeadLetterMessage(ctx context.Context, id int64, lastErr string) error
}

// PostgresBroker stores messages in the queue_messages table. Consumers in any number of
// processes may share it; claims use SKIP LOCKED.
type PostgresBroker struct {
	store Store
	lease time.Duration
}

// NewPostgresBroker creates a durable broker. A non-positive lease uses DefaultLease.
func NewPostgresBroker(store Store, lease time.Duration) *PostgresBroker {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &PostgresBroker{store: store, lease: lease}
}

// Publish implements Broker
func (b *PostgresBroker) Publish(ctx context.Context, msg *Message) (bool, error) {
	return b.store.EnqueueMessage(ctx, &db.QueueMessage{
		Queue:    msg.Queue,
		JobID:    msg.JobID,
		Stage:    string(msg.Stage),
		DedupKey: msg.DedupKey,
		Body:     msg.Body,
	})
}

// Receive implements Broker
func (b *PostgresBroker) Receive(ctx context.Context, queue string, max int) ([]Message, error) {
	rows, err := b.store.ClaimMessages(ctx, queue, max, b.lease)
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(rows))
	for _, r := range rows {
		m := Message{
			ID:         r.ID,
			Queue:      r.Queue,
			JobID:      r.JobID,
			Stage:      workflow.Stage(r.Stage),
			DedupKey:   r.DedupKey,
			Body:       r.Body,
			Attempts:   r.Attempts,
			Deliveries: r.Deliveries,
		}
		if r.LastError != nil {
			m.LastError = *r.LastError
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Extend implements Broker
func (b *PostgresBroker) Extend(ctx context.Context, id int64) error {
	return mapNotFound(b.store.ExtendLease(ctx, id, b.lease))
}

// Lease implements Broker
func (b *PostgresBroker) Lease() time.Duration { return b.lease }

// Ack implements Broker
func (b *PostgresBroker) Ack(ctx context.Context, id int64) error {
	return mapNotFound(b.store.AckMessage(ctx, id))
}

// Retry implements Broker
func (b *PostgresBroker) Retry(ctx context.Context, id int64, delay time.Duration, countFailure bool, reason string) error {
	return mapNotFound(b.store.RetryMessage(ctx, id, delay, countFailure, reason))
}

// DeadLetter implements Broker
func (b *PostgresBroker) DeadLetter(ctx context.Context, id int64, reason string) error {
	return mapNotFound(b.store.DeadLetterMessage(ctx, id, reason))
}

func mapNotFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrUnknownMessage
	}
	return err
}
