package types

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/viral-agents/internal/workflow"
)

// Each stage receives exactly the fields it needs. Later stages re-read anything else by job id.

// PlannerInput starts a job.
type PlannerInput struct {
	JobID    uuid.UUID `json:"job_id"`
	Accounts []string  `json:"accounts,omitempty"`
}

// CollectorInput carries the planner's search decision.
type CollectorInput struct {
	JobID        uuid.UUID `json:"job_id"`
	Keywords     []string  `json:"keywords"`
	SearchAngles []string  `json:"search_angles,omitempty"`
	Accounts     []string  `json:"accounts,omitempty"`
}

// AnalyzerInput asks for analysis of everything collected for a job.
type AnalyzerInput struct {
	JobID uuid.UUID `json:"job_id"`
}

// DrafterInput carries the analyzer's strategy.
type DrafterInput struct {
	JobID    uuid.UUID       `json:"job_id"`
	Strategy ContentStrategy `json:"strategy"`
}

// ReviewerInput asks for review of a job's drafted contents.
type ReviewerInput struct {
	JobID uuid.UUID `json:"job_id"`
}

// DefaultGeneration is the pipeline generation of a freshly created job.
const DefaultGeneration = 1

// DedupKey builds the deterministic key that identifies one stage of one job.
// Redeliveries of the same message share a key; generation increases only if a job is
// deliberately run through the pipeline again.
func DedupKey(jobID uuid.UUID, stage workflow.Stage, generation int) string {
	return fmt.Sprintf("%s:%s:%d", jobID, stage, generation)
}

// CreateJobRequest is the intake payload.
type CreateJobRequest struct {
	Goal     string   `json:"goal" validate:"required,min=1,max=2000"`
	Keywords []string `json:"keywords,omitempty" validate:"max=20,dive,required,max=100"`
	Accounts []string `json:"accounts,omitempty" validate:"max=10,dive,required,max=50"`
}

// ApproveRequest selects the content being approved.
type ApproveRequest struct {
	ContentID uuid.UUID `json:"content_id" validate:"required"`
}

// Validate validates the CreateJobRequest using the validator.
func (r *CreateJobRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Normalize trims whitespace and drops blank entries. Account handles lose a leading "@".
func (r *CreateJobRequest) Normalize() {
	r.Goal = strings.TrimSpace(r.Goal)
	r.Keywords = compact(r.Keywords, "")
	r.Accounts = compact(r.Accounts, "@")
}

// Validate validates the ApproveRequest using the validator.
func (r *ApproveRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

func compact(values []string, trimPrefix string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if trimPrefix != "" {
			v = strings.TrimPrefix(v, trimPrefix)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
