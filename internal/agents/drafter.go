package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/content"
	"github.com/jonathan/viral-agents/internal/db"
	"github.com/jonathan/viral-agents/internal/llm"
	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/prompts"
	"github.com/jonathan/viral-agents/internal/schemas"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// VariantCount is the number of drafts written per job
const VariantCount = 3

// ApprovedExampleCount is how many recently approved posts condition the drafts
const ApprovedExampleCount = 3

// DrafterConfig configures the drafter
type DrafterConfig struct {
	Language string
}

// Drafter writes the candidate posts
type Drafter struct {
	store  Store
	llm    llm.Client
	cfg    DrafterConfig
	logger *zap.SugaredLogger
}

// NewDrafter creates the drafter stage
func NewDrafter(store Store, client llm.Client, cfg DrafterConfig, logger *zap.SugaredLogger) *Drafter {
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	return &Drafter{store: store, llm: client, cfg: cfg, logger: logging.OrNop(logger)}
}

// Stage implements Worker
func (d *Drafter) Stage() workflow.Stage { return workflow.StageDrafter }

type draftSummary struct {
	VariantNum int    `json:"variant_num"`
	HookType   string `json:"hook_type,omitempty"`
	Chars      int    `json:"chars"`
	Sanitized  bool   `json:"sanitized"`
}

// Handle implements Worker
func (d *Drafter) Handle(ctx context.Context, job *types.Job, body json.RawMessage) (*Outcome, error) {
	var in types.DrafterInput
	if err := decodeBody(body, &in); err != nil {
		return nil, err
	}

	locked, err := d.contentLocked(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		return d.alreadyReviewed(job, 0), nil
	}

	prefs := d.preferenceContext(ctx, job)
	prompt, err := BuildDraftPrompt(job.Goal, &in.Strategy, prefs, d.cfg.Language)
	if err != nil {
		return nil, Permanent(err)
	}
	system, err := prompts.Get("drafter.json", "system")
	if err != nil {
		return nil, Permanent(err)
	}

	var set types.DraftSet
	tokens, err := llm.GenerateInto(ctx, d.llm, prompt, system, llm.TierAdvanced, &set,
		llm.WithValidator(schemas.Validator(schemas.DraftSet)))
	if err != nil {
		return &Outcome{TokensUsed: tokens}, fmt.Errorf("failed to draft variants: %w", err)
	}
	if len(set.Variants) < VariantCount {
		return &Outcome{TokensUsed: tokens}, &llm.ParseError{
			Raw:   fmt.Sprintf("%d variants", len(set.Variants)),
			Cause: fmt.Errorf("expected %d variants, got %d", VariantCount, len(set.Variants)),
		}
	}

	variants := make([]types.Variant, VariantCount)
	summaries := make([]draftSummary, VariantCount)
	for i := 0; i < VariantCount; i++ {
		raw := set.Variants[i]
		clean := content.Sanitize(raw.Body)
		variants[i] = types.Variant{VariantNum: i + 1, Body: clean, HookType: raw.HookType}
		summaries[i] = draftSummary{
			VariantNum: i + 1,
			HookType:   raw.HookType,
			Chars:      content.Length(clean),
			Sanitized:  clean != raw.Body,
		}
	}

	if _, err := d.store.ReplaceContents(ctx, job.ID, variants); err != nil {
		if errors.Is(err, db.ErrContentLocked) {
			return d.alreadyReviewed(job, tokens), nil
		}
		return &Outcome{TokensUsed: tokens}, err
	}

	return &Outcome{
		Output:     map[string]any{"variants": summaries},
		TokensUsed: tokens,
		Next:       types.ReviewerInput{JobID: job.ID},
	}, nil
}

// contentLocked reports whether a variant of the job was already selected or approved.
// The drafts are then past review and must not be rewritten.
func (d *Drafter) contentLocked(ctx context.Context, jobID uuid.UUID) (bool, error) {
	contents, err := d.store.ListContents(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to list contents: %w", err)
	}
	for i := range contents {
		if contents[i].IsSelected || contents[i].Approved() {
			return true, nil
		}
	}
	return false, nil
}

// alreadyReviewed is the outcome of a redelivery that arrives after review. The reviewer
// message was already published, so forwarding it again is deduplicated.
func (d *Drafter) alreadyReviewed(job *types.Job, tokens int) *Outcome {
	d.logger.Infow("contents already reviewed, drafts kept", "job_id", job.ID, "status", job.Status)
	return &Outcome{
		Output:     map[string]any{"skipped": "contents already reviewed"},
		TokensUsed: tokens,
		Next:       types.ReviewerInput{JobID: job.ID},
	}
}

// preferenceContext loads the learned profile and recent approvals. Read failures only
// cost the conditioning, so they are logged and drafting continues.
func (d *Drafter) preferenceContext(ctx context.Context, job *types.Job) *types.PreferenceContext {
	prefs := &types.PreferenceContext{}
	profile, err := d.store.GetPreferenceProfile(ctx)
	if err != nil {
		d.logger.Warnw("failed to load preference profile", "job_id", job.ID, "error", err)
	} else {
		prefs.Profile = profile
	}
	examples, err := d.store.RecentApprovedBodies(ctx, ApprovedExampleCount)
	if err != nil {
		d.logger.Warnw("failed to load approved examples", "job_id", job.ID, "error", err)
	} else {
		prefs.ApprovedExamples = examples
	}
	return prefs
}

// BuildDraftPrompt renders the drafting prompt. prefs may be nil or empty.
func BuildDraftPrompt(goal string, strategy *types.ContentStrategy, prefs *types.PreferenceContext, language string) (string, error) {
	section, err := preferenceSection(prefs)
	if err != nil {
		return "", err
	}
	return prompts.Render("drafter.json", "write-variants", map[string]string{
		"Goal":              goal,
		"TopTopics":         strings.Join(strategy.TopTopics, ", "),
		"ViralTriggers":     strings.Join(strategy.ViralTriggers, ", "),
		"TargetEmotion":     strategy.TargetEmotion,
		"ContentAngle":      strategy.ContentAngle,
		"HookStyle":         strategy.HookStyle,
		"AvoidTopics":       strings.Join(strategy.AvoidTopics, ", "),
		"ContentBrief":      strategy.ContentBrief,
		"PreferenceSection": section,
		"MaxChars":          strconv.Itoa(content.MaxChars),
		"Language":          language,
	})
}

func preferenceSection(prefs *types.PreferenceContext) (string, error) {
	if prefs.Empty() {
		return "", nil
	}
	var b strings.Builder
	if p := prefs.Profile; p != nil {
		s, err := prompts.Render("drafter.json", "preference-section", map[string]string{
			"HookStyles":  strings.Join(p.PreferredHookStyles, ", "),
			"Tones":       strings.Join(p.PreferredTones, ", "),
			"TopicAngles": strings.Join(p.PreferredTopicAngles, ", "),
			"AvoidStyles": strings.Join(p.AvoidStyles, ", "),
			"StyleGuide":  p.StyleGuide,
		})
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	if len(prefs.ApprovedExamples) > 0 {
		s, err := prompts.Render("drafter.json", "examples-section", map[string]string{
			"Examples": strings.Join(prefs.ApprovedExamples, "\n---\n"),
		})
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}
