package mocks

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/viral-agents/internal/llm"
)

// Canned responses of ScriptedLLM
const (
	ScriptedSearchStrategy = `{"keywords": ["AI agents", "automation", "LLM tools", "startups", "productivity"], "search_angles": ["latest debate"], "target_audience": "founders", "content_tone": "informative"}`
	ScriptedDerived        = `{"keywords": []}`
	ScriptedStrategy       = `{"top_topics": ["agents"], "viral_triggers": ["surprise"], "target_emotion": "curiosity", "content_angle": "contrarian", "hook_style": "question", "avoid_topics": ["politics"], "content_brief": "Write about agents."}`
	ScriptedDrafts         = `{"variants": [{"variant_num": 1, "body": "Agents will not replace you. Someone using them will.", "hook_type": "reversal"}, {"variant_num": 2, "body": "Why do most agent demos fail in production?", "hook_type": "question"}, {"variant_num": 3, "body": "Three lessons from a year of shipping agents.", "hook_type": "declaration"}]}`
	ScriptedProfile        = `{"preferred_hook_styles": ["question"], "preferred_tones": ["practical"], "preferred_topic_angles": ["contrarian"], "avoid_styles": ["hype"], "style_guide": "Short sentences, one idea each."}`
)

// ScriptedLLM answers every prompt family of the pipeline with valid JSON. Every scored
// post gets score.
func ScriptedLLM(score int) *MockLLMClient {
	return &MockLLMClient{GenerateJSONFunc: func(_ context.Context, _ string, system string, _ llm.ModelTier) (*llm.Response, error) {
		var text string
		switch {
		case strings.Contains(system, "trend researcher"):
			text = ScriptedDerived
		case strings.Contains(system, "content marketing strategist"):
			text = ScriptedSearchStrategy
		case strings.Contains(system, "content strategist"):
			text = ScriptedStrategy
		case strings.Contains(system, "copywriter"):
			text = ScriptedDrafts
		case strings.Contains(system, "strict editor"):
			text = fmt.Sprintf(`{"score": %d, "feedback": "solid hook"}`, score)
		case strings.Contains(system, "editorial decisions"):
			text = ScriptedProfile
		default:
			return nil, fmt.Errorf("unscripted system prompt %q", system)
		}
		return &llm.Response{Text: text, TokensUsed: 10}, nil
	}}
}
