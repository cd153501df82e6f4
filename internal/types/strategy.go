package types

// SearchStrategy is the planner's decision about what to collect.
type SearchStrategy struct {
	Keywords       []string `json:"keywords"`
	SearchAngles   []string `json:"search_angles"`
	TargetAudience string   `json:"target_audience"`
	ContentTone    string   `json:"content_tone"`
}

// ContentStrategy is the analyzer's output and the drafter's brief.
type ContentStrategy struct {
	TopTopics     []string `json:"top_topics"`
	ViralTriggers []string `json:"viral_triggers"`
	TargetEmotion string   `json:"target_emotion"`
	ContentAngle  string   `json:"content_angle"`
	HookStyle     string   `json:"hook_style"`
	AvoidTopics   []string `json:"avoid_topics"`
	ContentBrief  string   `json:"content_brief"`
}

// Variant is one drafted post as returned by the generation capability.
type Variant struct {
	VariantNum int    `json:"variant_num"`
	Body       string `json:"body"`
	HookType   string `json:"hook_type"`
}

// DraftSet is the drafter's generation result.
type DraftSet struct {
	Variants []Variant `json:"variants"`
}

// ViralScore is the generation capability's subjective judgement of one post.
// Score may come back fractional; it is rounded before use.
type ViralScore struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// DerivedKeywords is the collector's request for follow-up search terms.
type DerivedKeywords struct {
	Keywords []string `json:"keywords"`
}
