// Package types provides type definitions for structured data used throughout the viral content pipeline.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/viral-agents/internal/workflow"
)

// Job is one user-requested content-generation task and the root of its AgentRuns and Contents.
type Job struct {
	ID        uuid.UUID          `json:"id"`
	Goal      string             `json:"goal"`
	Keywords  []string           `json:"keywords"`
	Status    workflow.JobStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// HasKeywords reports whether keywords were supplied at creation time or chosen by the planner.
func (j *Job) HasKeywords() bool {
	return len(j.Keywords) > 0
}
