package types

import (
	"time"

	"github.com/google/uuid"
)

// Content is one candidate post produced by the drafter for a job.
type Content struct {
	ID         uuid.UUID  `json:"id"`
	JobID      uuid.UUID  `json:"job_id"`
	VariantNum int        `json:"variant_num"`
	Body       string     `json:"body"`
	ViralScore int        `json:"viral_score"`
	QAFeedback *string    `json:"qa_feedback,omitempty"`
	IsSelected bool       `json:"is_selected"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Approved reports whether the content passed the human approval gate.
// Approved content is never modified again.
func (c *Content) Approved() bool {
	return c.ApprovedAt != nil
}

// Review is the reviewer's verdict on one content variant.
type Review struct {
	ContentID  uuid.UUID `json:"content_id"`
	VariantNum int       `json:"variant_num"`
	Score      int       `json:"score"`
	Feedback   string    `json:"-"`
}

// ReviewSummary is the compact audit output of a reviewer run.
// Feedback text is left out to keep audit rows small.
type ReviewSummary struct {
	Reviews       []Review   `json:"reviews"`
	SelectedID    *uuid.UUID `json:"selected_id,omitempty"`
	SelectedScore *int       `json:"selected_score,omitempty"`
}
