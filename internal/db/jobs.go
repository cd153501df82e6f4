package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// -----------------------------------------------------------------------------
// Job Methods
// -----------------------------------------------------------------------------

const jobColumns = `id, goal, keywords, status, created_at, updated_at`

func scanJob(row pgx.Row) (*types.Job, error) {
	var job types.Job
	var status string
	if err := row.Scan(&job.ID, &job.Goal, &job.Keywords, &status, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Status = workflow.JobStatus(status)
	if job.Keywords == nil {
		job.Keywords = []string{}
	}
	return &job, nil
}

// CreateJob inserts a pending job
func (db *DB) CreateJob(ctx context.Context, goal string, keywords []string) (*types.Job, error) {
	if keywords == nil {
		keywords = []string{}
	}
	job, err := scanJob(db.pool.QueryRow(ctx,
		`INSERT INTO jobs (goal, keywords, status)
		 VALUES ($1, $2, $3)
		 RETURNING `+jobColumns,
		goal, keywords, string(workflow.StatusPending),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a job by ID. Returns nil, nil when it does not exist.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// JobFilters holds filter options for listing jobs
type JobFilters struct {
	Status *workflow.JobStatus
	Limit  int
	Offset int
}

// ListJobs retrieves jobs, newest first
func (db *DB) ListJobs(ctx context.Context, filters JobFilters) ([]types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []interface{}{}
	argPos := 1

	if filters.Status != nil {
		query += fmt.Sprintf(" WHERE status = $%d", argPos)
		args = append(args, string(*filters.Status))
		argPos++
	}

	query += " ORDER BY created_at DESC"

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d", argPos)
	args = append(args, limit)
	argPos++

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filters.Offset)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []types.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus moves a job to status `to` along an allowed edge of the state machine.
// Setting the status a job already has is a no-op, so redelivered stages stay idempotent.
// Returns ErrNotFound for a missing job and *workflow.TransitionError for a forbidden edge.
func (db *DB) UpdateJobStatus(ctx context.Context, id uuid.UUID, to workflow.JobStatus) error {
	if !to.Valid() {
		return fmt.Errorf("invalid job status %q", to)
	}

	from := workflow.Predecessors(to)
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($3)`,
		id, string(to), allowed,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = db.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to read job status: %w", err)
	}
	if workflow.JobStatus(current) == to {
		return nil
	}
	return &workflow.TransitionError{From: workflow.JobStatus(current), To: to}
}

// SetJobKeywords replaces the job's keyword list
func (db *DB) SetJobKeywords(ctx context.Context, id uuid.UUID, keywords []string) error {
	if keywords == nil {
		keywords = []string{}
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE jobs SET keywords = $2, updated_at = NOW() WHERE id = $1`,
		id, keywords,
	)
	if err != nil {
		return fmt.Errorf("failed to set job keywords: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountJobsByStatus returns the number of jobs per status
func (db *DB) CountJobsByStatus(ctx context.Context) (map[workflow.JobStatus]int, error) {
	rows, err := db.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[workflow.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[workflow.JobStatus(status)] = n
	}
	return counts, rows.Err()
}
