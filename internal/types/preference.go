package types

import "time"

// PreferenceProfile is the learned style snapshot mined from approval history.
// It is replaced as a whole on every write.
type PreferenceProfile struct {
	PreferredHookStyles  []string  `json:"preferred_hook_styles"`
	PreferredTones       []string  `json:"preferred_tones"`
	PreferredTopicAngles []string  `json:"preferred_topic_angles"`
	AvoidStyles          []string  `json:"avoid_styles"`
	StyleGuide           string    `json:"style_guide"`
	SampleCount          int       `json:"sample_count"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// PreferenceContext is what the drafter receives about past preferences: the latest profile
// (nil when none has been learned) and a few recently approved bodies.
type PreferenceContext struct {
	Profile          *PreferenceProfile
	ApprovedExamples []string
}

// Empty reports whether there is nothing to condition drafting on.
func (p *PreferenceContext) Empty() bool {
	return p == nil || (p.Profile == nil && len(p.ApprovedExamples) == 0)
}
