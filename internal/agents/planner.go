package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/llm"
	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/prompts"
	"github.com/jonathan/viral-agents/internal/schemas"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// DefaultLanguage is the language posts are written in
const DefaultLanguage = "Korean"

// MaxPlannedKeywords caps the keywords taken from a generated search strategy
const MaxPlannedKeywords = 7

// TrendSource supplies today's trending headlines
type TrendSource interface {
	Trending(ctx context.Context, limit int) ([]string, error)
}

// PlannerConfig configures the planner
type PlannerConfig struct {
	TrendingLimit int
	Language      string
	Now           func() time.Time
}

// Planner decides what the collector searches for
type Planner struct {
	store    Store
	llm      llm.Client
	trending TrendSource
	cfg      PlannerConfig
	logger   *zap.SugaredLogger
}

// NewPlanner creates the planner stage. trending may be nil.
func NewPlanner(store Store, client llm.Client, trending TrendSource, cfg PlannerConfig, logger *zap.SugaredLogger) *Planner {
	if cfg.TrendingLimit <= 0 {
		cfg.TrendingLimit = 15
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Planner{store: store, llm: client, trending: trending, cfg: cfg, logger: logging.OrNop(logger)}
}

// Stage implements Worker
func (p *Planner) Stage() workflow.Stage { return workflow.StagePlanner }

type plannerOutput struct {
	Source           string                `json:"source"`
	Strategy         *types.SearchStrategy `json:"strategy,omitempty"`
	Keywords         []string              `json:"keywords"`
	TrendingHeadline int                   `json:"trending_headlines"`
}

// Handle implements Worker
func (p *Planner) Handle(ctx context.Context, job *types.Job, body json.RawMessage) (*Outcome, error) {
	var in types.PlannerInput
	if err := decodeBody(body, &in); err != nil {
		return nil, err
	}

	if err := p.store.UpdateJobStatus(ctx, job.ID, workflow.StatusRunning); err != nil {
		return nil, fmt.Errorf("failed to start job: %w", err)
	}

	// Keywords given at intake are authoritative
	if job.HasKeywords() {
		return &Outcome{
			Output: plannerOutput{Source: "explicit", Keywords: job.Keywords},
			Next: types.CollectorInput{
				JobID:    job.ID,
				Keywords: job.Keywords,
				Accounts: in.Accounts,
			},
		}, nil
	}

	headlines := p.fetchTrending(ctx)

	trendingSection := ""
	if len(headlines) > 0 {
		section, err := prompts.Render("planner.json", "trending-section", map[string]string{
			"Headlines": bulletList(headlines),
		})
		if err != nil {
			return nil, Permanent(err)
		}
		trendingSection = section
	}

	prompt, err := prompts.Render("planner.json", "plan-search", map[string]string{
		"Goal":            job.Goal,
		"Date":            p.cfg.Now().Format("2006-01-02"),
		"TrendingSection": trendingSection,
		"Language":        p.cfg.Language,
	})
	if err != nil {
		return nil, Permanent(err)
	}
	system, err := prompts.Get("planner.json", "system")
	if err != nil {
		return nil, Permanent(err)
	}

	var strategy types.SearchStrategy
	tokens, err := llm.GenerateInto(ctx, p.llm, prompt, system, llm.TierStandard, &strategy,
		llm.WithValidator(schemas.Validator(schemas.SearchStrategy)))
	if err != nil {
		return &Outcome{TokensUsed: tokens}, fmt.Errorf("failed to plan search: %w", err)
	}

	keywords := uniqueFold(strategy.Keywords, nil, MaxPlannedKeywords)
	if len(keywords) == 0 {
		return &Outcome{TokensUsed: tokens}, &llm.ParseError{Raw: fmt.Sprint(strategy.Keywords), Cause: fmt.Errorf("search strategy has no keywords")}
	}
	strategy.Keywords = keywords

	if err := p.store.SetJobKeywords(ctx, job.ID, keywords); err != nil {
		return &Outcome{TokensUsed: tokens}, err
	}

	return &Outcome{
		Output: plannerOutput{
			Source:           "generated",
			Strategy:         &strategy,
			Keywords:         keywords,
			TrendingHeadline: len(headlines),
		},
		TokensUsed: tokens,
		Next: types.CollectorInput{
			JobID:        job.ID,
			Keywords:     keywords,
			SearchAngles: strategy.SearchAngles,
			Accounts:     in.Accounts,
		},
	}, nil
}

// fetchTrending returns today's headlines. Failures are logged and yield none.
func (p *Planner) fetchTrending(ctx context.Context) []string {
	if p.trending == nil {
		return nil
	}
	headlines, err := p.trending.Trending(ctx, p.cfg.TrendingLimit)
	if err != nil {
		p.logger.Warnw("trending topics unavailable, planning without them", "error", err)
		return nil
	}
	return headlines
}

func bulletList(items []string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item)
	}
	return b.String()
}

// uniqueFold trims values and drops blanks and case-insensitive duplicates, including
// anything already in exclude. limit <= 0 means no cap.
func uniqueFold(values, exclude []string, limit int) []string {
	seen := make(map[string]bool, len(values)+len(exclude))
	for _, v := range exclude {
		seen[strings.ToLower(strings.TrimSpace(v))] = true
	}
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
