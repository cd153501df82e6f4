// Package queue defines the broker contract the dispatcher consumes and two brokers:
// a durable one backed by the queue_messages table and an in-process one.
//
// Delivery is at-least-once. A received message is leased; it must be settled with Ack,
// Retry or DeadLetter, otherwise it becomes visible again when the lease expires. Long
// handlers keep their message by calling Extend before the lease runs out.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/viral-agents/internal/workflow"
)

// DefaultLease is how long a received message stays invisible to other consumers
const DefaultLease = 5 * time.Minute

// ErrUnknownMessage is returned when settling a message that is not leased by the broker
var ErrUnknownMessage = errors.New("unknown or already settled message")

// Message is one unit of work for a stage
type Message struct {
	ID       int64           `json:"id"`
	Queue    string          `json:"queue"`
	JobID    uuid.UUID       `json:"job_id"`
	Stage    workflow.Stage  `json:"stage"`
	DedupKey string          `json:"dedup_key"`
	Body     json.RawMessage `json:"body"`
	// Attempts counts failed deliveries. Throttled deliveries are not counted.
	Attempts int `json:"attempts"`
	// Deliveries counts every hand-out including the current one
	Deliveries int    `json:"deliveries"`
	LastError  string `json:"last_error,omitempty"`
}

// Broker moves messages between stages
type Broker interface {
	// Publish enqueues msg. Returns false when a message with the same dedup key was
	// already published.
	Publish(ctx context.Context, msg *Message) (bool, error)
	// Receive leases up to max ready messages of a queue
	Receive(ctx context.Context, queue string, max int) ([]Message, error)
	// Extend renews the lease of a received message that is still being handled
	Extend(ctx context.Context, id int64) error
	// Lease is how long a received or extended message stays invisible
	Lease() time.Duration
	// Ack settles a message for good
	Ack(ctx context.Context, id int64) error
	// Retry makes a message available again after delay. countFailure adds one attempt.
	Retry(ctx context.Context, id int64, delay time.Duration, countFailure bool, reason string) error
	// DeadLetter parks a message that will not be retried
	DeadLetter(ctx context.Context, id int64, reason string) error
}

// NewMessage builds the message for one stage of a job. body is encoded as JSON.
func NewMessage(graph *workflow.Graph, stage workflow.Stage, jobID uuid.UUID, dedupKey string, body any) (*Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Message{
		Queue:    graph.Queue(stage),
		JobID:    jobID,
		Stage:    stage,
		DedupKey: dedupKey,
		Body:     raw,
	}, nil
}
