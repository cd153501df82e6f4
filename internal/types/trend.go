package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TrendSource identifies which collection mode produced a trend record.
type TrendSource string

// Trend sources
const (
	TrendSourceSearch TrendSource = "search"
	TrendSourceSocial TrendSource = "social"
)

// Trend is one collected result set for a keyword or account.
// Items holds the source-specific item list; see the collect package for its shapes.
type Trend struct {
	ID              uuid.UUID       `json:"id"`
	JobID           uuid.UUID       `json:"job_id"`
	Source          TrendSource     `json:"source"`
	Keyword         string          `json:"keyword"`
	Round           int             `json:"round"`
	EngagementScore float64         `json:"engagement_score"`
	Items           json.RawMessage `json:"items"`
	CollectedAt     time.Time       `json:"collected_at"`
}
