package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// -----------------------------------------------------------------------------
// Agent Run Methods
// -----------------------------------------------------------------------------

// AbandonedRunError is recorded on a running AgentRun superseded by a redelivery
const AbandonedRunError = "abandoned: superseded by redelivery"

const agentRunColumns = `id, job_id, agent, status, attempt, input, output, tokens_used, error, started_at, finished_at`

func scanAgentRun(row pgx.Row) (*types.AgentRun, error) {
	var run types.AgentRun
	var agent, status string
	var input, output []byte
	if err := row.Scan(&run.ID, &run.JobID, &agent, &status, &run.Attempt, &input, &output,
		&run.TokensUsed, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	run.Agent = workflow.Stage(agent)
	run.Status = types.RunStatus(status)
	if input != nil {
		run.Input = json.RawMessage(input)
	}
	if output != nil {
		run.Output = json.RawMessage(output)
	}
	return &run, nil
}

// OpenAgentRun records the start of a stage attempt. The attempt number continues from the
// latest run of the same job and stage. A run left open by a crashed delivery is closed as
// failed first, so the one-running-run index holds.
func (db *DB) OpenAgentRun(ctx context.Context, in *types.AgentRunInput) (*types.AgentRun, error) {
	inputJSON := []byte(`{}`)
	if in.Input != nil {
		var err error
		inputJSON, err = json.Marshal(in.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal run input: %w", err)
		}
	}

	var run *types.AgentRun
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE agent_runs
			 SET status = 'failed', error = $3, finished_at = NOW()
			 WHERE job_id = $1 AND agent = $2 AND status = 'running'`,
			in.JobID, string(in.Agent), AbandonedRunError,
		); err != nil {
			return fmt.Errorf("failed to close abandoned runs: %w", err)
		}

		var err error
		run, err = scanAgentRun(tx.QueryRow(ctx,
			`INSERT INTO agent_runs (job_id, agent, status, attempt, input)
			 SELECT $1, $2, 'running', GREATEST(COALESCE(MAX(attempt), 0) + 1, $3), $4
			 FROM agent_runs WHERE job_id = $1 AND agent = $2
			 RETURNING `+agentRunColumns,
			in.JobID, string(in.Agent), in.Attempt, inputJSON,
		))
		if err != nil {
			return fmt.Errorf("failed to create agent run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// FinishAgentRun closes a running AgentRun. Finished runs are immutable; closing one again
// returns ErrRunFinished.
func (db *DB) FinishAgentRun(ctx context.Context, runID uuid.UUID, result *types.AgentRunResult) error {
	var outputJSON []byte
	if result.Output != nil {
		var err error
		outputJSON, err = json.Marshal(result.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal run output: %w", err)
		}
	}

	var tokens *int
	if result.TokensUsed > 0 {
		tokens = &result.TokensUsed
	}
	var errText *string
	if result.Error != "" {
		errText = &result.Error
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_runs
		 SET status = $2, output = $3, tokens_used = $4, error = $5, finished_at = NOW()
		 WHERE id = $1 AND status = 'running'`,
		runID, string(result.Status()), outputJSON, tokens, errText,
	)
	if err != nil {
		return fmt.Errorf("failed to finish agent run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent run %s: %w", runID, ErrRunFinished)
	}
	return nil
}

// LatestAgentRun returns the most recent run for a job and stage. Returns nil, nil when none.
func (db *DB) LatestAgentRun(ctx context.Context, jobID uuid.UUID, agent workflow.Stage) (*types.AgentRun, error) {
	run, err := scanAgentRun(db.pool.QueryRow(ctx,
		`SELECT `+agentRunColumns+`
		 FROM agent_runs
		 WHERE job_id = $1 AND agent = $2
		 ORDER BY attempt DESC
		 LIMIT 1`,
		jobID, string(agent),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest agent run: %w", err)
	}
	return run, nil
}

// ListAgentRuns returns every run of a job in start order
func (db *DB) ListAgentRuns(ctx context.Context, jobID uuid.UUID) ([]types.AgentRun, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+agentRunColumns+`
		 FROM agent_runs
		 WHERE job_id = $1
		 ORDER BY started_at, attempt`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent runs: %w", err)
	}
	defer rows.Close()

	runs := []types.AgentRun{}
	for rows.Next() {
		run, err := scanAgentRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
