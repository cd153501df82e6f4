package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/collect"
	"github.com/jonathan/viral-agents/internal/llm"
	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/prompts"
	"github.com/jonathan/viral-agents/internal/schemas"
	"github.com/jonathan/viral-agents/internal/throttle"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// DefaultDerivedKeywords is how many follow-up keywords round two may search
const DefaultDerivedKeywords = 3

// digestItemsPerResult caps how many items of each result go into the derivation digest
const digestItemsPerResult = 3

// Collection is the remote collection capability
type Collection interface {
	Collect(ctx context.Context, target string, mode collect.Mode) (*collect.Result, error)
}

// CollectorConfig configures the collector
type CollectorConfig struct {
	// DerivedKeywords caps round two. Zero disables it.
	DerivedKeywords int
}

// Collector gathers search results and social posts for a job
type Collector struct {
	store      Store
	llm        llm.Client
	collection Collection
	cfg        CollectorConfig
	logger     *zap.SugaredLogger
}

// NewCollector creates the collector stage
func NewCollector(store Store, client llm.Client, collection Collection, cfg CollectorConfig, logger *zap.SugaredLogger) *Collector {
	if cfg.DerivedKeywords < 0 {
		cfg.DerivedKeywords = 0
	}
	return &Collector{store: store, llm: client, collection: collection, cfg: cfg, logger: logging.OrNop(logger)}
}

// Stage implements Worker
func (c *Collector) Stage() workflow.Stage { return workflow.StageCollector }

type collected struct {
	target string
	result *collect.Result
}

type collectorOutput struct {
	TrendsCollected int      `json:"trends_collected"`
	EmptyResults    int      `json:"empty_results"`
	DerivedKeywords []string `json:"derived_keywords"`
}

// Handle implements Worker
func (c *Collector) Handle(ctx context.Context, job *types.Job, body json.RawMessage) (*Outcome, error) {
	var in types.CollectorInput
	if err := decodeBody(body, &in); err != nil {
		return nil, err
	}
	log := c.logger.With("job_id", job.ID, "stage", c.Stage())

	// A redelivery collects from scratch
	if err := c.store.DeleteTrends(ctx, job.ID); err != nil {
		return nil, err
	}

	out := collectorOutput{DerivedKeywords: []string{}}
	var roundOne []collected

	for _, kw := range in.Keywords {
		res, err := c.collectOne(ctx, log, job, kw, collect.ModeWebSearch, 1)
		if err != nil {
			return nil, err
		}
		out.count(res)
		roundOne = append(roundOne, collected{target: kw, result: res})
	}
	for _, account := range in.Accounts {
		res, err := c.collectOne(ctx, log, job, account, collect.ModeProfileTimeline, 1)
		if err != nil {
			return nil, err
		}
		out.count(res)
		roundOne = append(roundOne, collected{target: "@" + account, result: res})
	}

	derived, tokens, err := c.deriveKeywords(ctx, log, job, &in, roundOne)
	if err != nil {
		return &Outcome{TokensUsed: tokens}, err
	}
	out.DerivedKeywords = derived

	for _, kw := range derived {
		res, err := c.collectOne(ctx, log, job, kw, collect.ModeWebSearch, 2)
		if err != nil {
			return &Outcome{TokensUsed: tokens}, err
		}
		out.count(res)
	}

	return &Outcome{
		Output:     out,
		TokensUsed: tokens,
		Next:       types.AnalyzerInput{JobID: job.ID},
	}, nil
}

func (o *collectorOutput) count(res *collect.Result) {
	o.TrendsCollected++
	if res.Len() == 0 {
		o.EmptyResults++
	}
}

// collectOne collects one target and stores it as a trend row. Failures that only affect
// this target are tolerated and stored as an empty result; throttling, transient failures
// and cancellation abort the stage.
func (c *Collector) collectOne(ctx context.Context, log *zap.SugaredLogger, job *types.Job, target string, mode collect.Mode, round int) (*collect.Result, error) {
	kind := collect.KindSearch
	if mode == collect.ModeProfileTimeline {
		kind = collect.KindSocial
	}

	res, err := c.collection.Collect(ctx, target, mode)
	if err != nil {
		if ctx.Err() != nil || collect.IsTransient(err) {
			return nil, fmt.Errorf("collect %q: %w", target, err)
		}
		log.Warnw("collection failed for target, recording empty result", "target", target, "mode", mode, "error", err)
		res = &collect.Result{Kind: kind}
	}
	if res == nil {
		res = &collect.Result{Kind: kind}
	}

	items, err := res.MarshalItems()
	if err != nil {
		return nil, err
	}
	keyword := target
	if kind == collect.KindSocial {
		keyword = "@" + target
	}
	trend := &types.Trend{
		JobID:           job.ID,
		Source:          res.Source(),
		Keyword:         keyword,
		Round:           round,
		EngagementScore: res.Engagement(),
		Items:           items,
	}
	if err := c.store.InsertTrend(ctx, trend); err != nil {
		return nil, err
	}
	return res, nil
}

// deriveKeywords asks for follow-up keywords based on round one. Failures other than
// throttling skip round two.
func (c *Collector) deriveKeywords(ctx context.Context, log *zap.SugaredLogger, job *types.Job, in *types.CollectorInput, roundOne []collected) ([]string, int, error) {
	if c.cfg.DerivedKeywords == 0 {
		return []string{}, 0, nil
	}
	digest := buildDigest(roundOne)
	if digest == "" {
		return []string{}, 0, nil
	}

	prompt, err := prompts.Render("collector.json", "derive-keywords", map[string]string{
		"Goal":         job.Goal,
		"Keywords":     strings.Join(in.Keywords, ", "),
		"SearchAngles": strings.Join(in.SearchAngles, ", "),
		"Digest":       digest,
		"Count":        strconv.Itoa(c.cfg.DerivedKeywords),
	})
	if err != nil {
		return nil, 0, Permanent(err)
	}
	system, err := prompts.Get("collector.json", "system")
	if err != nil {
		return nil, 0, Permanent(err)
	}

	var derived types.DerivedKeywords
	tokens, err := llm.GenerateInto(ctx, c.llm, prompt, system, llm.TierLite, &derived,
		llm.WithValidator(schemas.Validator(schemas.DerivedKeywords)))
	if err != nil {
		if throttle.Is(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, tokens, fmt.Errorf("derive keywords: %w", err)
		}
		log.Warnw("keyword derivation failed, skipping second round", "error", err)
		return []string{}, tokens, nil
	}

	keywords := uniqueFold(derived.Keywords, in.Keywords, c.cfg.DerivedKeywords)
	if keywords == nil {
		keywords = []string{}
	}
	return keywords, tokens, nil
}

// buildDigest summarizes round one for keyword derivation
func buildDigest(results []collected) string {
	var b strings.Builder
	for _, r := range results {
		lines := digestLines(r.result)
		if len(lines) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s", r.target, strings.Join(lines, "\n"))
	}
	return b.String()
}

func digestLines(res *collect.Result) []string {
	var lines []string
	switch res.Kind {
	case collect.KindSearch:
		for i, item := range res.Search {
			if i == digestItemsPerResult {
				break
			}
			lines = append(lines, "- "+item.Title)
		}
	case collect.KindSocial:
		for i, post := range res.Posts {
			if i == digestItemsPerResult {
				break
			}
			lines = append(lines, fmt.Sprintf("- %s (likes %d)", post.Text, post.Likes))
		}
	}
	return lines
}
