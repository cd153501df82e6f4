// Package feedback learns the reader's preferences from approval history.
//
// After every approval or rejection a refresh is submitted to a small background pool.
// The learner gathers recent approved posts and the selected posts of recently rejected
// jobs and, once enough samples exist, asks the generation capability for a new
// preference profile which replaces the stored one.
package feedback

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/llm"
	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/prompts"
	"github.com/jonathan/viral-agents/internal/schemas"
	"github.com/jonathan/viral-agents/internal/types"
)

// Sampling limits
const (
	// MinSamples is the number of approved plus rejected posts needed before a profile is inferred
	MinSamples = 5
	// ApprovedLimit caps the approved posts gathered
	ApprovedLimit = 20
	// RejectedJobLimit caps the rejected jobs whose selected post is gathered
	RejectedJobLimit = 10
	// SampleSize caps the posts of each kind quoted in the prompt
	SampleSize = 10
)

const (
	sampleSeparator = "\n\n---\n\n"
	noSamples       = "(none)"
)

// Store is the persistence the learner needs
type Store interface {
	RecentApprovedBodies(ctx context.Context, limit int) ([]string, error)
	RecentRejectedBodies(ctx context.Context, jobLimit int) ([]string, error)
	PutPreferenceProfile(ctx context.Context, p *types.PreferenceProfile) error
}

// Learner infers the preference profile
type Learner struct {
	store  Store
	llm    llm.Client
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewLearner creates a learner
func NewLearner(store Store, client llm.Client, logger *zap.SugaredLogger) *Learner {
	return &Learner{store: store, llm: client, now: time.Now, logger: logging.OrNop(logger)}
}

// Update refreshes the stored profile. It reports whether a profile was written; below
// MinSamples nothing is written and no error is returned.
func (l *Learner) Update(ctx context.Context) (bool, error) {
	approved, err := l.store.RecentApprovedBodies(ctx, ApprovedLimit)
	if err != nil {
		return false, fmt.Errorf("failed to load approved posts: %w", err)
	}
	rejected, err := l.store.RecentRejectedBodies(ctx, RejectedJobLimit)
	if err != nil {
		return false, fmt.Errorf("failed to load rejected posts: %w", err)
	}

	total := len(approved) + len(rejected)
	if total < MinSamples {
		l.logger.Debugw("not enough feedback to learn from", "samples", total, "needed", MinSamples)
		return false, nil
	}

	prompt, err := prompts.Render("feedback.json", "infer-profile", map[string]string{
		"ApprovedCount":  strconv.Itoa(len(approved)),
		"ApprovedSample": sample(approved),
		"RejectedCount":  strconv.Itoa(len(rejected)),
		"RejectedSample": sample(rejected),
	})
	if err != nil {
		return false, err
	}
	system, err := prompts.Get("feedback.json", "system")
	if err != nil {
		return false, err
	}

	var profile types.PreferenceProfile
	if _, err := llm.GenerateInto(ctx, l.llm, prompt, system, llm.TierStandard, &profile,
		llm.WithValidator(schemas.Validator(schemas.PreferenceProfile))); err != nil {
		return false, fmt.Errorf("failed to infer preference profile: %w", err)
	}
	profile.SampleCount = total
	profile.UpdatedAt = l.now().UTC()

	if err := l.store.PutPreferenceProfile(ctx, &profile); err != nil {
		return false, fmt.Errorf("failed to store preference profile: %w", err)
	}
	l.logger.Infow("preference profile updated",
		"approved", len(approved),
		"rejected", len(rejected),
		"hook_styles", profile.PreferredHookStyles,
	)
	return true, nil
}

func sample(bodies []string) string {
	if len(bodies) == 0 {
		return noSamples
	}
	if len(bodies) > SampleSize {
		bodies = bodies[:SampleSize]
	}
	return strings.Join(bodies, sampleSeparator)
}
