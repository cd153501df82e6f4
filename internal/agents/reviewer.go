package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/content"
	"github.com/jonathan/viral-agents/internal/llm"
	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/notify"
	"github.com/jonathan/viral-agents/internal/prompts"
	"github.com/jonathan/viral-agents/internal/schemas"
	"github.com/jonathan/viral-agents/internal/throttle"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// Scoring constants
const (
	// DefaultQualifyThreshold is the minimum score a post needs to be surfaced for approval
	DefaultQualifyThreshold = 60
	// FallbackScore is recorded when automatic scoring fails
	FallbackScore = 50
	// FallbackFeedback accompanies FallbackScore
	FallbackFeedback = "automatic scoring failed, manual review required"
)

// ActionLinks builds the approve/reject buttons of an approval request
type ActionLinks interface {
	Actions(jobID, contentID uuid.UUID) ([]notify.Action, error)
}

// ReviewerConfig configures the reviewer
type ReviewerConfig struct {
	QualifyThreshold int
}

// Reviewer scores the drafts, selects the best one and asks for approval
type Reviewer struct {
	store    Store
	llm      llm.Client
	notifier notify.Notifier
	links    ActionLinks
	metrics  Metrics
	cfg      ReviewerConfig
	logger   *zap.SugaredLogger
}

// NewReviewer creates the reviewer stage. notifier, links and metrics may be nil.
func NewReviewer(store Store, client llm.Client, notifier notify.Notifier, links ActionLinks, metrics Metrics, cfg ReviewerConfig, logger *zap.SugaredLogger) *Reviewer {
	if cfg.QualifyThreshold <= 0 {
		cfg.QualifyThreshold = DefaultQualifyThreshold
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Reviewer{
		store:    store,
		llm:      client,
		notifier: notifier,
		links:    links,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
	}
}

// Stage implements Worker
func (r *Reviewer) Stage() workflow.Stage { return workflow.StageReviewer }

// Handle implements Worker
func (r *Reviewer) Handle(ctx context.Context, job *types.Job, body json.RawMessage) (*Outcome, error) {
	var in types.ReviewerInput
	if err := decodeBody(body, &in); err != nil {
		return nil, err
	}
	log := r.logger.With("job_id", job.ID, "stage", r.Stage())

	contents, err := r.store.ListContents(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("no drafted contents for job %s", job.ID)
	}

	summary := types.ReviewSummary{Reviews: make([]types.Review, 0, len(contents))}
	tokens := 0
	for _, c := range contents {
		review, used, err := r.review(ctx, log, &c)
		tokens += used
		if err != nil {
			return &Outcome{TokensUsed: tokens}, err
		}
		if err := r.store.UpdateContentReview(ctx, c.ID, review.Score, review.Feedback); err != nil {
			return &Outcome{TokensUsed: tokens}, err
		}
		summary.Reviews = append(summary.Reviews, review)
	}

	best, ok := SelectBest(summary.Reviews)
	if ok {
		r.metrics.ObserveTopScore(best.Score)
	}

	if ok && best.Score >= r.cfg.QualifyThreshold {
		if err := r.store.SelectContent(ctx, job.ID, best.ContentID); err != nil {
			return &Outcome{TokensUsed: tokens}, err
		}
		if err := r.store.UpdateJobStatus(ctx, job.ID, workflow.StatusAwaitingApproval); err != nil {
			return &Outcome{TokensUsed: tokens}, err
		}
		id, score := best.ContentID, best.Score
		summary.SelectedID, summary.SelectedScore = &id, &score
		r.notifyApproval(ctx, log, job, contents, best)
	} else {
		if err := r.store.UpdateJobStatus(ctx, job.ID, workflow.StatusFailed); err != nil {
			return &Outcome{TokensUsed: tokens}, err
		}
		top := 0
		if ok {
			top = best.Score
		}
		log.Infow("no draft qualified", "top_score", top, "threshold", r.cfg.QualifyThreshold)
		if err := r.notifier.Send(ctx, notify.FailureText(job.Goal, top, r.cfg.QualifyThreshold)); err != nil {
			log.Warnw("failure notification not delivered", "error", err)
		}
	}

	return &Outcome{Output: summary, TokensUsed: tokens}, nil
}

// review scores one content. Rule violations score 0 without a remote call. Remote
// failures other than throttling fall back to FallbackScore.
func (r *Reviewer) review(ctx context.Context, log *zap.SugaredLogger, c *types.Content) (types.Review, int, error) {
	review := types.Review{ContentID: c.ID, VariantNum: c.VariantNum}

	if violations := content.CheckRules(c.Body); len(violations) > 0 {
		review.Score = 0
		review.Feedback = content.Describe(violations)
		return review, 0, nil
	}

	prompt, err := prompts.Render("reviewer.json", "score-post", map[string]string{"Body": c.Body})
	if err != nil {
		return review, 0, Permanent(err)
	}
	system, err := prompts.Get("reviewer.json", "system")
	if err != nil {
		return review, 0, Permanent(err)
	}

	var scored types.ViralScore
	tokens, err := llm.GenerateInto(ctx, r.llm, prompt, system, llm.TierLite, &scored,
		llm.WithValidator(schemas.Validator(schemas.ViralScore)))
	if err != nil {
		if throttle.Is(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return review, tokens, fmt.Errorf("score variant %d: %w", c.VariantNum, err)
		}
		log.Warnw("automatic scoring failed", "content_id", c.ID, "error", err)
		review.Score = FallbackScore
		review.Feedback = FallbackFeedback
		return review, tokens, nil
	}

	review.Score = ClampScore(int(math.Round(scored.Score)))
	review.Feedback = scored.Feedback
	return review, tokens, nil
}

func (r *Reviewer) notifyApproval(ctx context.Context, log *zap.SugaredLogger, job *types.Job, contents []types.Content, best types.Review) {
	body := ""
	for _, c := range contents {
		if c.ID == best.ContentID {
			body = content.Sanitize(c.Body)
			break
		}
	}

	var actions []notify.Action
	if r.links != nil {
		var err error
		actions, err = r.links.Actions(job.ID, best.ContentID)
		if err != nil {
			log.Warnw("failed to build action links", "error", err)
		}
	}

	text := notify.ApprovalText(job.Goal, body, best.Score)
	if err := r.notifier.SendWithActions(ctx, text, actions); err != nil {
		log.Warnw("approval notification not delivered", "error", err)
	}
}

// SelectBest returns the highest-scoring review. The first one evaluated wins ties.
func SelectBest(reviews []types.Review) (types.Review, bool) {
	if len(reviews) == 0 {
		return types.Review{}, false
	}
	best := reviews[0]
	for _, rv := range reviews[1:] {
		if rv.Score > best.Score {
			best = rv
		}
	}
	return best, true
}

// ClampScore bounds a score to [0, 100]
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
