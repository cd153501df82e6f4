package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/agents"
	"github.com/jonathan/viral-agents/internal/collect"
	"github.com/jonathan/viral-agents/internal/config"
	"github.com/jonathan/viral-agents/internal/db"
	"github.com/jonathan/viral-agents/internal/dispatch"
	"github.com/jonathan/viral-agents/internal/feedback"
	"github.com/jonathan/viral-agents/internal/fetch"
	"github.com/jonathan/viral-agents/internal/intake"
	"github.com/jonathan/viral-agents/internal/llm"
	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/metrics"
	"github.com/jonathan/viral-agents/internal/notify"
	"github.com/jonathan/viral-agents/internal/queue"
	"github.com/jonathan/viral-agents/internal/trends"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// loadConfig layers the config file, the environment and the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel == "" && logFormat == "" {
		return cfg, nil
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the components shared by the subcommands. Only what a command asks for is built.
type app struct {
	cfg      *config.Config
	logger   *zap.SugaredLogger
	db       *db.DB
	graph    *workflow.Graph
	recorder *metrics.PrometheusRecorder

	broker   *queue.PostgresBroker
	llm      llm.Client
	feedback *feedback.Pool
	intake   *intake.Service

	dispatcher *dispatch.Dispatcher
}

// openApp loads the configuration, builds the logger and connects to the database
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       database,
		graph:    workflow.DefaultGraph(),
		recorder: metrics.NewPrometheusRecorder(),
	}, nil
}

// Close stops background work and releases the connections
func (a *app) Close() {
	if a.feedback != nil {
		a.feedback.Stop()
	}
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			a.logger.Warnw("failed to close llm client", "error", err)
		}
	}
	a.db.Close()
	_ = a.logger.Sync()
}

// generation returns the instrumented generation client, creating it on first use
func (a *app) generation(ctx context.Context) (llm.Client, error) {
	if a.llm != nil {
		return a.llm, nil
	}
	if a.cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	llmCfg := llm.DefaultConfig().WithModels(map[llm.ModelTier]string{
		llm.TierLite:     a.cfg.ModelLite,
		llm.TierStandard: a.cfg.ModelStandard,
		llm.TierAdvanced: a.cfg.ModelAdvanced,
	})

	client, err := llm.NewClient(ctx, llmCfg, a.cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	a.llm = llm.NewInstrumentedClient(client, a.recorder)
	return a.llm, nil
}

// withIntake builds the queue, the feedback pool and the intake service.
// Without a generation key approvals are recorded but preferences are not refreshed.
func (a *app) withIntake(ctx context.Context) error {
	a.broker = queue.NewPostgresBroker(a.db, a.cfg.QueueLease.Std())

	var signer *notify.Signer
	if a.cfg.LinksEnabled() {
		s, err := notify.NewSigner(a.cfg.ActionLinkSecret, a.cfg.ActionLinkTTL.Std())
		if err != nil {
			return err
		}
		signer = s
	}

	var fb intake.Feedback
	if a.cfg.GeminiAPIKey != "" {
		client, err := a.generation(ctx)
		if err != nil {
			return err
		}
		a.feedback = feedback.NewPool(
			feedback.NewLearner(a.db, client, a.logger.Named("feedback")),
			feedback.PoolConfig{Workers: a.cfg.FeedbackWorkers, QueueSize: a.cfg.FeedbackQueueSize},
			a.logger.Named("feedback"),
		)
		a.feedback.Start(ctx)
		fb = a.feedback
	} else {
		a.logger.Warnw("GEMINI_API_KEY not set, preference learning disabled")
	}

	a.intake = intake.NewService(a.db, a.broker, a.graph, fb, signer, a.logger.Named("intake"))
	return nil
}

// withWorkers builds the five stages and the dispatcher that drives them
func (a *app) withWorkers(ctx context.Context) error {
	if err := a.cfg.RequireWorkers(); err != nil {
		return err
	}
	if a.broker == nil {
		if err := a.withIntake(ctx); err != nil {
			return err
		}
	}
	client, err := a.generation(ctx)
	if err != nil {
		return err
	}

	collection, err := collect.NewClient(collect.Config{
		Endpoint:   a.cfg.CollectEndpoint,
		APIKey:     a.cfg.CollectAPIKey,
		Timeout:    a.cfg.CollectTimeout.Std(),
		MinSpacing: a.cfg.CollectMinSpacing.Std(),
	})
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.Nop{}
	if a.cfg.TelegramToken != "" {
		notifier = notify.NewTelegram(notify.TelegramConfig{
			Token:   a.cfg.TelegramToken,
			ChatIDs: a.cfg.TelegramChatIDs,
		}, a.logger.Named("telegram"))
	} else {
		a.logger.Infow("telegram not configured, notifications disabled")
	}

	var links agents.ActionLinks
	if a.cfg.LinksEnabled() {
		signer, err := notify.NewSigner(a.cfg.ActionLinkSecret, a.cfg.ActionLinkTTL.Std())
		if err != nil {
			return err
		}
		links = &notify.Links{BaseURL: a.cfg.PublicBaseURL, Signer: signer}
	}

	trending := trends.NewReader(fetch.New(nil), trends.DefaultSources(), a.logger.Named("trends"))

	workers := []agents.Worker{
		agents.NewPlanner(a.db, client, trending, agents.PlannerConfig{
			TrendingLimit: a.cfg.TrendingLimit,
			Language:      a.cfg.Language,
		}, a.logger.Named("planner")),
		agents.NewCollector(a.db, client, collection, agents.CollectorConfig{
			DerivedKeywords: a.cfg.DerivedKeywords,
		}, a.logger.Named("collector")),
		agents.NewAnalyzer(a.db, client, a.logger.Named("analyzer")),
		agents.NewDrafter(a.db, client, agents.DrafterConfig{Language: a.cfg.Language}, a.logger.Named("drafter")),
		agents.NewReviewer(a.db, client, notifier, links, a.recorder, agents.ReviewerConfig{
			QualifyThreshold: a.cfg.QualifyThreshold,
		}, a.logger.Named("reviewer")),
	}
	registry, err := agents.NewRegistry(a.graph, workers...)
	if err != nil {
		return err
	}
	runner := agents.NewRunner(a.db, a.recorder, a.logger.Named("runner"))

	a.dispatcher = dispatch.New(a.graph, a.broker, registry, runner, a.db, a.recorder, dispatch.Config{
		Concurrency:  a.cfg.DispatchConcurrency,
		MaxAttempts:  a.cfg.DispatchMaxAttempts,
		PollInterval: a.cfg.DispatchPollInterval.Std(),
	}, a.logger.Named("dispatch"))
	return nil
}
