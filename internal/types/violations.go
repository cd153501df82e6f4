package types

// Violation types reported by the content rule check
const (
	ViolationTooLong = "too_long"
	ViolationEmoji   = "emoji"
	ViolationHashtag = "hashtag"
)

// Violation represents a single content rule failure
type Violation struct {
	Type      string `json:"type"`
	Details   string `json:"details"`
	CharCount *int   `json:"char_count,omitempty"`
}
