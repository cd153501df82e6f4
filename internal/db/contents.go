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
// Content Methods
// -----------------------------------------------------------------------------

const contentColumns = `id, job_id, variant_num, body, viral_score, qa_feedback, is_selected, approved_at, created_at`

func scanContent(row pgx.Row) (*types.Content, error) {
	var c types.Content
	if err := row.Scan(&c.ID, &c.JobID, &c.VariantNum, &c.Body, &c.ViralScore, &c.QAFeedback,
		&c.IsSelected, &c.ApprovedAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ReplaceContents stores the drafted variants of a job, replacing earlier drafts.
// Once a content of the job is selected or approved the drafts are frozen and
// ErrContentLocked is returned.
func (db *DB) ReplaceContents(ctx context.Context, jobID uuid.UUID, variants []types.Variant) ([]types.Content, error) {
	var out []types.Content
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		// Lock the job row so concurrent drafters of the same job serialize
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
			}
			return fmt.Errorf("failed to lock job: %w", err)
		}

		var frozen bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM contents WHERE job_id = $1 AND (is_selected OR approved_at IS NOT NULL))`,
			jobID,
		).Scan(&frozen); err != nil {
			return fmt.Errorf("failed to check contents: %w", err)
		}
		if frozen {
			return ErrContentLocked
		}

		if _, err := tx.Exec(ctx, `DELETE FROM contents WHERE job_id = $1`, jobID); err != nil {
			return fmt.Errorf("failed to clear contents: %w", err)
		}

		out = make([]types.Content, 0, len(variants))
		for _, v := range variants {
			c, err := scanContent(tx.QueryRow(ctx,
				`INSERT INTO contents (job_id, variant_num, body)
				 VALUES ($1, $2, $3)
				 RETURNING `+contentColumns,
				jobID, v.VariantNum, v.Body,
			))
			if err != nil {
				return fmt.Errorf("failed to insert content variant %d: %w", v.VariantNum, err)
			}
			out = append(out, *c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListContents returns the contents of a job ordered by variant number
func (db *DB) ListContents(ctx context.Context, jobID uuid.UUID) ([]types.Content, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE job_id = $1 ORDER BY variant_num`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	defer rows.Close()

	contents := []types.Content{}
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		contents = append(contents, *c)
	}
	return contents, rows.Err()
}

// GetContent retrieves a content by ID. Returns nil, nil when it does not exist.
func (db *DB) GetContent(ctx context.Context, id uuid.UUID) (*types.Content, error) {
	c, err := scanContent(db.pool.QueryRow(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	return c, nil
}

// UpdateContentReview stores the reviewer's score and feedback. Approved content is immutable.
func (db *DB) UpdateContentReview(ctx context.Context, id uuid.UUID, score int, feedback string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE contents SET viral_score = $2, qa_feedback = $3
		 WHERE id = $1 AND approved_at IS NULL`,
		id, score, feedback,
	)
	if err != nil {
		return fmt.Errorf("failed to update content review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	return nil
}

// SelectContent marks one content as the job's selected content, clearing any earlier choice.
func (db *DB) SelectContent(ctx context.Context, jobID, contentID uuid.UUID) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE contents SET is_selected = FALSE
			 WHERE job_id = $1 AND id <> $2 AND is_selected AND approved_at IS NULL`,
			jobID, contentID,
		); err != nil {
			return fmt.Errorf("failed to clear selection: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE contents SET is_selected = TRUE
			 WHERE id = $1 AND job_id = $2 AND approved_at IS NULL`,
			contentID, jobID,
		)
		if err != nil {
			return fmt.Errorf("failed to select content: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("content %s of job %s: %w", contentID, jobID, ErrNotFound)
		}
		return nil
	})
}

// ApproveJob passes the approval gate: it stamps approved_at on the job's selected content
// and moves the job to approved in one transaction. Returns *workflow.TransitionError when
// the job is not awaiting approval and ErrContentNotApprovable when contentID is not its
// selected, unapproved content.
func (db *DB) ApproveJob(ctx context.Context, jobID, contentID uuid.UUID) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
			}
			return fmt.Errorf("failed to lock job: %w", err)
		}
		if err := workflow.CheckTransition(workflow.JobStatus(status), workflow.StatusApproved); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`UPDATE contents SET approved_at = NOW()
			 WHERE id = $1 AND job_id = $2 AND is_selected AND approved_at IS NULL`,
			contentID, jobID,
		)
		if err != nil {
			return fmt.Errorf("failed to approve content: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrContentNotApprovable
		}

		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1`,
			jobID, string(workflow.StatusApproved),
		); err != nil {
			return fmt.Errorf("failed to update job status: %w", err)
		}
		return nil
	})
}

// RecentApprovedBodies returns the bodies of the most recently approved contents
func (db *DB) RecentApprovedBodies(ctx context.Context, limit int) ([]string, error) {
	return db.queryStrings(ctx,
		`SELECT body FROM contents
		 WHERE approved_at IS NOT NULL
		 ORDER BY approved_at DESC
		 LIMIT $1`,
		limit,
	)
}

// RecentRejectedBodies returns the selected bodies of the most recently rejected jobs
func (db *DB) RecentRejectedBodies(ctx context.Context, jobLimit int) ([]string, error) {
	return db.queryStrings(ctx,
		`SELECT c.body
		 FROM (SELECT id, updated_at FROM jobs
		       WHERE status = 'rejected'
		       ORDER BY updated_at DESC
		       LIMIT $1) j
		 JOIN contents c ON c.job_id = j.id AND c.is_selected
		 ORDER BY j.updated_at DESC`,
		jobLimit,
	)
}

func (db *DB) queryStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
