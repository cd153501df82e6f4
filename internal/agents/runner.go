package agents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/queue"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// Runner applies the shared run contract around a Worker
type Runner struct {
	store   Store
	metrics Metrics
	logger  *zap.SugaredLogger
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(store Store, metrics Metrics, logger *zap.SugaredLogger) *Runner {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Runner{store: store, metrics: metrics, logger: logging.OrNop(logger)}
}

// Hooks lets the caller take part in a run
type Hooks struct {
	// Final reports whether a failure will not be retried; only then is the job marked failed
	Final func(error) bool
	// Forward hands a successful outcome on before the run is closed done. An error fails the run.
	Forward func(ctx context.Context, out *Outcome) error
}

// Run executes one delivery of msg with w
func (r *Runner) Run(ctx context.Context, w Worker, msg *queue.Message, hooks Hooks) (*Outcome, error) {
	stage := w.Stage()
	log := r.logger.With("job_id", msg.JobID, "stage", stage, "message_id", msg.ID, "attempt", msg.Attempts+1)

	job, err := r.store.GetJob(ctx, msg.JobID)
	if err != nil {
		return nil, r.abort(ctx, log, msg.JobID, hooks, fmt.Errorf("failed to load job: %w", err))
	}
	if job == nil {
		return nil, Permanent(fmt.Errorf("%w: %s", ErrJobNotFound, msg.JobID))
	}

	run, err := r.store.OpenAgentRun(ctx, &types.AgentRunInput{
		JobID:   job.ID,
		Agent:   stage,
		Attempt: msg.Deliveries,
		Input:   msg.Body,
	})
	if err != nil {
		return nil, r.abort(ctx, log, job.ID, hooks, fmt.Errorf("failed to open agent run: %w", err))
	}
	log.Infow("stage started", "run_id", run.ID, "run_attempt", run.Attempt)

	start := time.Now()
	out, werr := w.Handle(ctx, job, msg.Body)
	if werr == nil && out != nil && hooks.Forward != nil {
		if ferr := hooks.Forward(ctx, out); ferr != nil {
			werr = fmt.Errorf("failed to forward outcome: %w", ferr)
		}
	}
	elapsed := time.Since(start)

	result := &types.AgentRunResult{}
	if out != nil {
		result.TokensUsed = out.TokensUsed
		if werr == nil {
			result.Output = out.Output
		}
	}
	if werr != nil {
		result.Error = werr.Error()
	}

	// The run is closed even when the delivery context was cancelled. Once the stage
	// succeeded its effects and successor are committed, so a failed close is only logged.
	closeCtx := context.WithoutCancel(ctx)
	if ferr := r.store.FinishAgentRun(closeCtx, run.ID, result); ferr != nil {
		log.Errorw("failed to close agent run", "run_id", run.ID, "stage_failed", werr != nil, "error", ferr)
	}
	r.metrics.ObserveStageRun(stage, result.Status(), elapsed, result.TokensUsed)

	if werr != nil {
		if hooks.Final != nil && hooks.Final(werr) {
			r.failJob(closeCtx, log, job.ID)
		}
		log.Warnw("stage failed", "elapsed", elapsed, "error", werr)
		return out, werr
	}

	log.Infow("stage finished", "elapsed", elapsed, "tokens_used", result.TokensUsed)
	return out, nil
}

// abort handles a failure that happened before the worker ran
func (r *Runner) abort(ctx context.Context, log *zap.SugaredLogger, jobID uuid.UUID, hooks Hooks, err error) error {
	if hooks.Final != nil && hooks.Final(err) {
		r.failJob(context.WithoutCancel(ctx), log, jobID)
	}
	return err
}

// FailJob marks a job failed. Jobs already in a terminal status are left alone.
func (r *Runner) FailJob(ctx context.Context, jobID uuid.UUID) {
	r.failJob(ctx, r.logger.With("job_id", jobID), jobID)
}

func (r *Runner) failJob(ctx context.Context, log *zap.SugaredLogger, jobID uuid.UUID) {
	err := r.store.UpdateJobStatus(ctx, jobID, workflow.StatusFailed)
	switch {
	case err == nil:
		log.Infow("job marked failed")
	case errors.Is(err, workflow.ErrInvalidTransition):
		log.Debugw("job already terminal", "error", err)
	default:
		log.Errorw("failed to mark job failed", "error", err)
	}
}
