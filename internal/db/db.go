// Package db provides PostgreSQL persistence for jobs, stage runs, contents, collected
// trends, the preference slot and the pipeline's message queue.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors returned by repository methods
var (
	// ErrNotFound is returned by updates that target a missing row. Lookups return nil, nil instead.
	ErrNotFound = errors.New("not found")
	// ErrRunFinished is returned when closing an AgentRun that is no longer running
	ErrRunFinished = errors.New("agent run already finished")
	// ErrContentLocked is returned when replacing contents after one was selected or approved
	ErrContentLocked = errors.New("contents already selected or approved")
	// ErrContentNotApprovable is returned when approving content that is not the job's selected, unapproved content
	ErrContentNotApprovable = errors.New("content is not the job's selected unapproved content")
	// ErrSchemaMismatch indicates the database schema is newer than this binary
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}
