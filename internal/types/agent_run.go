package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/viral-agents/internal/workflow"
)

// RunStatus is the status of one AgentRun.
type RunStatus string

// AgentRun statuses
const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// AgentRun is the audit record of one stage execution attempt for one job.
type AgentRun struct {
	ID         uuid.UUID       `json:"id"`
	JobID      uuid.UUID       `json:"job_id"`
	Agent      workflow.Stage  `json:"agent"`
	Status     RunStatus       `json:"status"`
	Attempt    int             `json:"attempt"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	TokensUsed *int            `json:"tokens_used,omitempty"`
	Error      *string         `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Finished reports whether the run has been closed. Finished runs are immutable.
func (r *AgentRun) Finished() bool {
	return r.Status == RunStatusDone || r.Status == RunStatusFailed
}

// AgentRunInput holds the fields needed to open a run.
type AgentRunInput struct {
	JobID   uuid.UUID
	Agent   workflow.Stage
	Attempt int
	Input   any
}

// AgentRunResult closes a run. A non-empty Error closes it as failed.
type AgentRunResult struct {
	Output     any
	TokensUsed int
	Error      string
}

// Status returns the final run status implied by the result.
func (r *AgentRunResult) Status() RunStatus {
	if r.Error != "" {
		return RunStatusFailed
	}
	return RunStatusDone
}
