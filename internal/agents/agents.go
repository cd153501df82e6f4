// Package agents implements the five pipeline stages and the run contract every stage
// shares: open an AgentRun, do the work, close the run, hand the next payload to the
// dispatcher.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// ErrJobNotFound is returned when a message references a job that does not exist
var ErrJobNotFound = errors.New("job not found")

// PermanentError marks a failure that redelivery cannot fix
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure: %v", e.Cause)
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// Permanent wraps err so the dispatcher does not retry it
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// IsPermanent reports whether err must not be retried
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) ||
		errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, workflow.ErrInvalidTransition)
}

// Store is the persistence the stages need
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, to workflow.JobStatus) error
	SetJobKeywords(ctx context.Context, id uuid.UUID, keywords []string) error

	OpenAgentRun(ctx context.Context, in *types.AgentRunInput) (*types.AgentRun, error)
	FinishAgentRun(ctx context.Context, runID uuid.UUID, result *types.AgentRunResult) error

	InsertTrend(ctx context.Context, t *types.Trend) error
	ListTrends(ctx context.Context, jobID uuid.UUID) ([]types.Trend, error)
	DeleteTrends(ctx context.Context, jobID uuid.UUID) error

	ReplaceContents(ctx context.Context, jobID uuid.UUID, variants []types.Variant) ([]types.Content, error)
	ListContents(ctx context.Context, jobID uuid.UUID) ([]types.Content, error)
	UpdateContentReview(ctx context.Context, id uuid.UUID, score int, feedback string) error
	SelectContent(ctx context.Context, jobID, contentID uuid.UUID) error

	GetPreferenceProfile(ctx context.Context) (*types.PreferenceProfile, error)
	RecentApprovedBodies(ctx context.Context, limit int) ([]string, error)
}

// Outcome is what a stage produced
type Outcome struct {
	// Next is the payload for the successor stage; nil ends the chain
	Next any
	// Output is recorded on the AgentRun
	Output     any
	TokensUsed int
}

// Worker is one pipeline stage
type Worker interface {
	Stage() workflow.Stage
	// Handle runs the stage for job. body is the raw message payload. A non-nil Outcome
	// may accompany an error to report tokens already spent.
	Handle(ctx context.Context, job *types.Job, body json.RawMessage) (*Outcome, error)
}

// Metrics receives stage observations
type Metrics interface {
	ObserveStageRun(stage workflow.Stage, status types.RunStatus, elapsed time.Duration, tokens int)
	ObserveTopScore(score int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStageRun(workflow.Stage, types.RunStatus, time.Duration, int) {}
func (nopMetrics) ObserveTopScore(int)                                                 {}

func decodeBody(body json.RawMessage, out any) error {
	if len(body) == 0 {
		return Permanent(fmt.Errorf("empty message body"))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Permanent(fmt.Errorf("failed to decode message body: %w", err))
	}
	return nil
}
