package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/collect"
	"github.com/jonathan/viral-agents/internal/llm"
	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/prompts"
	"github.com/jonathan/viral-agents/internal/schemas"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// summaryPostsPerTrend caps the social posts quoted per account in the trend summary
const summaryPostsPerTrend = 5

// noTrendData stands in for the summary when nothing was collected
const noTrendData = "(no trend data collected)"

// Analyzer turns collected trends into a content strategy
type Analyzer struct {
	store  Store
	llm    llm.Client
	logger *zap.SugaredLogger
}

// NewAnalyzer creates the analyzer stage
func NewAnalyzer(store Store, client llm.Client, logger *zap.SugaredLogger) *Analyzer {
	return &Analyzer{store: store, llm: client, logger: logging.OrNop(logger)}
}

// Stage implements Worker
func (a *Analyzer) Stage() workflow.Stage { return workflow.StageAnalyzer }

// Handle implements Worker
func (a *Analyzer) Handle(ctx context.Context, job *types.Job, body json.RawMessage) (*Outcome, error) {
	var in types.AnalyzerInput
	if err := decodeBody(body, &in); err != nil {
		return nil, err
	}

	trends, err := a.store.ListTrends(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	summary := BuildTrendSummary(trends, a.logger)
	if summary == "" {
		summary = noTrendData
	}

	prompt, err := prompts.Render("analyzer.json", "build-strategy", map[string]string{
		"Goal":         job.Goal,
		"Keywords":     strings.Join(job.Keywords, ", "),
		"TrendSummary": summary,
	})
	if err != nil {
		return nil, Permanent(err)
	}
	system, err := prompts.Get("analyzer.json", "system")
	if err != nil {
		return nil, Permanent(err)
	}

	var strategy types.ContentStrategy
	tokens, err := llm.GenerateInto(ctx, a.llm, prompt, system, llm.TierStandard, &strategy,
		llm.WithValidator(schemas.Validator(schemas.ContentStrategy)))
	if err != nil {
		return &Outcome{TokensUsed: tokens}, fmt.Errorf("failed to build content strategy: %w", err)
	}

	return &Outcome{
		Output:     strategy,
		TokensUsed: tokens,
		Next:       types.DrafterInput{JobID: job.ID, Strategy: strategy},
	}, nil
}

// BuildTrendSummary renders trends grouped by source, search results first, keeping
// collection order inside each group. Rows that fail to decode are skipped.
func BuildTrendSummary(trends []types.Trend, logger *zap.SugaredLogger) string {
	logger = logging.OrNop(logger)
	var sections []string
	for _, source := range []types.TrendSource{types.TrendSourceSearch, types.TrendSourceSocial} {
		for _, t := range trends {
			if t.Source != source {
				continue
			}
			res, err := collect.DecodeItems(t.Source, t.Items)
			if err != nil {
				logger.Warnw("skipping undecodable trend", "trend_id", t.ID, "error", err)
				continue
			}
			sections = append(sections, summarizeResult(t.Keyword, res))
		}
	}
	return strings.Join(sections, "\n\n")
}

func summarizeResult(keyword string, res *collect.Result) string {
	var b strings.Builder
	switch res.Kind {
	case collect.KindSearch:
		fmt.Fprintf(&b, "[Search - %s]", keyword)
		for _, item := range res.Search {
			b.WriteString("\n- ")
			b.WriteString(item.Title)
			if item.Snippet != "" {
				b.WriteString(": ")
				b.WriteString(item.Snippet)
			}
		}
	case collect.KindSocial:
		fmt.Fprintf(&b, "[Social - %s]", keyword)
		for i, post := range res.Posts {
			if i == summaryPostsPerTrend {
				break
			}
			fmt.Fprintf(&b, "\n- %s (likes %d, retweets %d)", post.Text, post.Likes, post.Retweets)
		}
	}
	if res.Len() == 0 {
		b.WriteString("\n(no results)")
	}
	return b.String()
}
