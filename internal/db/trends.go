package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/viral-agents/internal/types"
)

// -----------------------------------------------------------------------------
// Trend Methods
// -----------------------------------------------------------------------------

// InsertTrend stores one collected result set and fills in its ID and timestamp
func (db *DB) InsertTrend(ctx context.Context, t *types.Trend) error {
	items := []byte(t.Items)
	if len(items) == 0 {
		items = []byte(`{}`)
	}
	round := t.Round
	if round == 0 {
		round = 1
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO trends (job_id, source, keyword, round, engagement_score, items)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, collected_at`,
		t.JobID, string(t.Source), t.Keyword, round, t.EngagementScore, items,
	).Scan(&t.ID, &t.CollectedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trend: %w", err)
	}
	t.Round = round
	return nil
}

// ListTrends returns every trend collected for a job in collection order
func (db *DB) ListTrends(ctx context.Context, jobID uuid.UUID) ([]types.Trend, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, job_id, source, keyword, round, engagement_score, items, collected_at
		 FROM trends
		 WHERE job_id = $1
		 ORDER BY collected_at, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list trends: %w", err)
	}
	defer rows.Close()

	trends := []types.Trend{}
	for rows.Next() {
		var t types.Trend
		var source string
		var round int16
		var items []byte
		if err := rows.Scan(&t.ID, &t.JobID, &source, &t.Keyword, &round, &t.EngagementScore, &items, &t.CollectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trend: %w", err)
		}
		t.Source = types.TrendSource(source)
		t.Round = int(round)
		t.Items = items
		trends = append(trends, t)
	}
	return trends, rows.Err()
}

// DeleteTrends removes everything collected for a job, so a re-run collects from scratch
func (db *DB) DeleteTrends(ctx context.Context, jobID uuid.UUID) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM trends WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete trends: %w", err)
	}
	return nil
}
