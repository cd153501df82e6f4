package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// -----------------------------------------------------------------------------
// Queue Methods
// -----------------------------------------------------------------------------

// QueueMessage is one row of the durable pipeline queue
type QueueMessage struct {
	ID          int64           `json:"id"`
	Queue       string          `json:"queue"`
	JobID       uuid.UUID       `json:"job_id"`
	Stage       string          `json:"stage"`
	DedupKey    string          `json:"dedup_key"`
	Body        json.RawMessage `json:"body"`
	Attempts    int             `json:"attempts"`
	Deliveries  int             `json:"deliveries"`
	AvailableAt time.Time       `json:"available_at"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// QueueStat counts the messages of one queue by state
type QueueStat struct {
	Queue   string `json:"queue"`
	Ready   int    `json:"ready"`
	Delayed int    `json:"delayed"`
	Leased  int    `json:"leased"`
	Dead    int    `json:"dead"`
}

const queueColumns = `id, queue, job_id, stage, dedup_key, body, attempts, deliveries, available_at, last_error, created_at`

func scanQueueMessage(row pgx.Row) (*QueueMessage, error) {
	var m QueueMessage
	var body []byte
	if err := row.Scan(&m.ID, &m.Queue, &m.JobID, &m.Stage, &m.DedupKey, &body,
		&m.Attempts, &m.Deliveries, &m.AvailableAt, &m.LastError, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Body = json.RawMessage(body)
	return &m, nil
}

// EnqueueMessage inserts a message unless one with the same dedup key was ever enqueued.
// Returns false when the key was already taken.
func (db *DB) EnqueueMessage(ctx context.Context, m *QueueMessage) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO queue_messages (queue, job_id, stage, dedup_key, body)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (dedup_key) DO NOTHING`,
		m.Queue, m.JobID, m.Stage, m.DedupKey, []byte(m.Body),
	)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimMessages leases up to limit ready messages of a queue. Leased messages are
// invisible to other consumers until the lease expires or they are settled.
func (db *DB) ClaimMessages(ctx context.Context, queue string, limit int, lease time.Duration) ([]QueueMessage, error) {
	rows, err := db.pool.Query(ctx,
		`UPDATE queue_messages
		 SET deliveries = deliveries + 1,
		     locked_until = NOW() + make_interval(secs => $3),
		     updated_at = NOW()
		 WHERE id IN (
		     SELECT id FROM queue_messages
		     WHERE queue = $1
		       AND acked_at IS NULL AND NOT dead
		       AND available_at <= NOW()
		       AND (locked_until IS NULL OR locked_until < NOW())
		     ORDER BY available_at, id
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+queueColumns,
		queue, limit, lease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}
	defer rows.Close()

	msgs := []QueueMessage{}
	for rows.Next() {
		m, err := scanQueueMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// ExtendLease pushes the lease of a claimed, unsettled message to lease from now
func (db *DB) ExtendLease(ctx context.Context, id int64, lease time.Duration) error {
	return db.settle(ctx,
		`UPDATE queue_messages
		 SET locked_until = NOW() + make_interval(secs => $2), updated_at = NOW()
		 WHERE id = $1 AND acked_at IS NULL AND NOT dead AND locked_until IS NOT NULL`,
		id, lease.Seconds(),
	)
}

// AckMessage settles a message. The row is kept so its dedup key stays reserved.
func (db *DB) AckMessage(ctx context.Context, id int64) error {
	return db.settle(ctx,
		`UPDATE queue_messages
		 SET acked_at = NOW(), locked_until = NULL, updated_at = NOW()
		 WHERE id = $1 AND acked_at IS NULL`,
		id,
	)
}

// RetryMessage makes a message available again after delay. countFailure increments
// the attempt counter; throttled retries leave it untouched.
func (db *DB) RetryMessage(ctx context.Context, id int64, delay time.Duration, countFailure bool, lastErr string) error {
	return db.settle(ctx,
		`UPDATE queue_messages
		 SET available_at = NOW() + make_interval(secs => $2),
		     attempts = attempts + CASE WHEN $3 THEN 1 ELSE 0 END,
		     locked_until = NULL,
		     last_error = $4,
		     updated_at = NOW()
		 WHERE id = $1 AND acked_at IS NULL AND NOT dead`,
		id, delay.Seconds(), countFailure, lastErr,
	)
}

// DeadLetterMessage parks a message that exhausted its attempts
func (db *DB) DeadLetterMessage(ctx context.Context, id int64, lastErr string) error {
	return db.settle(ctx,
		`UPDATE queue_messages
		 SET dead = TRUE, attempts = attempts + 1, locked_until = NULL, last_error = $2, updated_at = NOW()
		 WHERE id = $1 AND acked_at IS NULL AND NOT dead`,
		id, lastErr,
	)
}

func (db *DB) settle(ctx context.Context, query string, args ...interface{}) error {
	tag, err := db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to settle message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %v: %w", args[0], ErrNotFound)
	}
	return nil
}

// ListDeadMessages returns dead-lettered messages, newest first
func (db *DB) ListDeadMessages(ctx context.Context, limit int) ([]QueueMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+queueColumns+` FROM queue_messages
		 WHERE dead
		 ORDER BY updated_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead messages: %w", err)
	}
	defer rows.Close()

	msgs := []QueueMessage{}
	for rows.Next() {
		m, err := scanQueueMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// QueueStats counts unsettled messages per queue
func (db *DB) QueueStats(ctx context.Context) ([]QueueStat, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT queue,
		        COUNT(*) FILTER (WHERE NOT dead AND available_at <= NOW() AND (locked_until IS NULL OR locked_until < NOW())),
		        COUNT(*) FILTER (WHERE NOT dead AND available_at > NOW()),
		        COUNT(*) FILTER (WHERE NOT dead AND locked_until >= NOW()),
		        COUNT(*) FILTER (WHERE dead)
		 FROM queue_messages
		 WHERE acked_at IS NULL
		 GROUP BY queue
		 ORDER BY queue`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := []QueueStat{}
	for rows.Next() {
		var s QueueStat
		if err := rows.Scan(&s.Queue, &s.Ready, &s.Delayed, &s.Leased, &s.Dead); err != nil {
			return nil, fmt.Errorf("failed to scan queue stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// PurgeAcked deletes acknowledged messages settled before the cutoff.
// Their dedup keys become reusable afterwards.
func (db *DB) PurgeAcked(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM queue_messages
		 WHERE acked_at IS NOT NULL AND acked_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge acked messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
