// Package dispatch consumes the stage queues and drives every job through the stage graph.
//
// For each delivery the dispatcher skips work that is already done, runs the stage worker
// through the shared run contract, publishes the successor message and settles the
// delivery according to the retry policy:
//
//   - throttled: redelivered after the delay the remote service asked for, not counted as an attempt
//   - permanent: dead-lettered, job failed
//   - attempts exhausted: dead-lettered, job failed
//   - anything else: redelivered with backoff
//
// A delivery keeps its lease renewed while its handler runs. Each poll receives no more
// messages than there are free handler slots, starting from a different queue every time.
// Deliveries interrupted by shutdown are left unsettled and come back once their lease expires.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/viral-agents/internal/agents"
	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/queue"
	"github.com/jonathan/viral-agents/internal/throttle"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// Defaults
const (
	DefaultConcurrency   = 4
	DefaultMaxAttempts   = 3
	DefaultPollInterval  = time.Second
	DefaultErrorInterval = 5 * time.Second
	DefaultRetryBackoff  = 5 * time.Second
	MaxRetryBackoff      = 5 * time.Minute
)

// Retry reasons reported to Metrics
const (
	ReasonThrottled = "throttled"
	ReasonError     = "error"
)

// Store is the read side the dispatcher needs for duplicate detection
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error)
	LatestAgentRun(ctx context.Context, jobID uuid.UUID, agent workflow.Stage) (*types.AgentRun, error)
}

// Metrics receives settlement observations
type Metrics interface {
	ObserveRetry(stage workflow.Stage, reason string)
	ObserveThrottle(service string)
	ObserveDeadLetter(stage workflow.Stage)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRetry(workflow.Stage, string) {}
func (nopMetrics) ObserveThrottle(string)              {}
func (nopMetrics) ObserveDeadLetter(workflow.Stage)    {}

// Config tunes the dispatcher
type Config struct {
	// Concurrency caps handlers running at once
	Concurrency int
	// BatchSize caps messages received per queue per poll; defaults to Concurrency
	BatchSize int
	// MaxAttempts is the number of counted failures after which a message is dead-lettered
	MaxAttempts  int
	PollInterval time.Duration
	// ErrorInterval is the pause after a poll that could not reach the broker
	ErrorInterval time.Duration
	// RetryBackoff is the first redelivery delay of an ordinary failure; it doubles per attempt
	RetryBackoff time.Duration
	// Heartbeat is how often the lease of a running delivery is renewed; defaults to a
	// third of the broker lease
	Heartbeat time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = c.Concurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorInterval <= 0 {
		c.ErrorInterval = DefaultErrorInterval
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Dispatcher routes queued messages to stage workers
type Dispatcher struct {
	graph    *workflow.Graph
	broker   queue.Broker
	registry *agents.Registry
	runner   *agents.Runner
	store    Store
	metrics  Metrics
	cfg      Config
	logger   *zap.SugaredLogger

	// cursor rotates the queue polled first
	cursor atomic.Uint64
}

// New creates a dispatcher. metrics may be nil.
func New(graph *workflow.Graph, broker queue.Broker, registry *agents.Registry, runner *agents.Runner, store Store, metrics Metrics, cfg Config, logger *zap.SugaredLogger) *Dispatcher {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	cfg = cfg.withDefaults()
	if cfg.Heartbeat <= 0 {
		lease := broker.Lease()
		if lease <= 0 {
			lease = queue.DefaultLease
		}
		cfg.Heartbeat = lease / 3
	}
	return &Dispatcher{
		graph:    graph,
		broker:   broker,
		registry: registry,
		runner:   runner,
		store:    store,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
	}
}

// Run polls every stage queue until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Infow("dispatcher started",
		"queues", d.graph.Queues(),
		"concurrency", d.cfg.Concurrency,
		"max_attempts", d.cfg.MaxAttempts,
		"heartbeat", d.cfg.Heartbeat,
	)
	for {
		handled, err := d.Poll(ctx)
		if ctx.Err() != nil {
			d.logger.Infow("dispatcher stopped")
			return nil
		}

		wait := time.Duration(0)
		switch {
		case err != nil:
			d.logger.Errorw("poll failed", "error", err)
			wait = d.cfg.ErrorInterval
		case handled == 0:
			wait = d.cfg.PollInterval
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				d.logger.Infow("dispatcher stopped")
				return nil
			case <-time.After(wait):
			}
		}
	}
}

// Poll receives at most one message per handler slot across the queues and handles them.
// It returns the number of messages handled.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)

	queues := d.graph.Queues()
	if len(queues) == 0 {
		return 0, nil
	}
	start := int((d.cursor.Add(1) - 1) % uint64(len(queues)))

	var errs []error
	handled := 0
	for k := range queues {
		free := d.cfg.Concurrency - handled
		if free <= 0 {
			break
		}
		name := queues[(start+k)%len(queues)]
		msgs, err := d.broker.Receive(ctx, name, min(d.cfg.BatchSize, free))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to receive from %s: %w", name, err))
			continue
		}
		for i := range msgs {
			msg := msgs[i]
			handled++
			g.Go(func() error {
				if err := d.Handle(ctx, &msg); err != nil {
					d.logger.Errorw("failed to settle message",
						"queue", msg.Queue, "message_id", msg.ID, "job_id", msg.JobID, "error", err)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return handled, errors.Join(errs...)
}

// Handle processes one delivery and settles it. The returned error concerns settlement
// only; stage failures are settled through the retry policy.
func (d *Dispatcher) Handle(ctx context.Context, msg *queue.Message) error {
	stage := msg.Stage
	if stage == "" {
		stage, _ = d.graph.StageForQueue(msg.Queue)
	}
	log := d.logger.With("queue", msg.Queue, "message_id", msg.ID, "job_id", msg.JobID, "stage", stage, "attempt", msg.Attempts+1)

	worker, ok := d.registry.Get(stage)
	if !ok {
		log.Errorw("no worker for message")
		d.metrics.ObserveDeadLetter(stage)
		d.runner.FailJob(context.WithoutCancel(ctx), msg.JobID)
		return d.broker.DeadLetter(ctx, msg.ID, fmt.Sprintf("no worker for stage %q", stage))
	}

	done, err := d.alreadyDone(ctx, msg.JobID, stage)
	if err != nil {
		return d.settle(ctx, log, stage, msg, err)
	}
	if done {
		log.Infow("duplicate delivery acknowledged without running")
		return d.broker.Ack(ctx, msg.ID)
	}

	stop := d.keepLeased(ctx, log, msg.ID)
	_, err = d.runner.Run(ctx, worker, msg, agents.Hooks{
		Final: func(err error) bool { return d.isFinal(ctx, msg, err) },
		Forward: func(ctx context.Context, out *agents.Outcome) error {
			return d.forward(ctx, log, stage, msg, out)
		},
	})
	stop()
	if err != nil {
		return d.settle(ctx, log, stage, msg, err)
	}
	return d.broker.Ack(ctx, msg.ID)
}

// keepLeased renews the lease of a delivery every Heartbeat until the returned func is called
func (d *Dispatcher) keepLeased(ctx context.Context, log *zap.SugaredLogger, id int64) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := d.broker.Extend(ctx, id)
			switch {
			case err == nil, ctx.Err() != nil:
			case errors.Is(err, queue.ErrUnknownMessage):
				log.Warnw("lease lost while handling message", "error", err)
				return
			default:
				log.Warnw("failed to extend lease", "error", err)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// alreadyDone reports whether the stage already completed for the job, or the job can no
// longer make progress
func (d *Dispatcher) alreadyDone(ctx context.Context, jobID uuid.UUID, stage workflow.Stage) (bool, error) {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to load job: %w", err)
	}
	if job != nil && job.Status.IsTerminal() {
		return true, nil
	}
	run, err := d.store.LatestAgentRun(ctx, jobID, stage)
	if err != nil {
		return false, fmt.Errorf("failed to load latest agent run: %w", err)
	}
	return run != nil && run.Status == types.RunStatusDone, nil
}

// forward publishes the successor message of a finished stage
func (d *Dispatcher) forward(ctx context.Context, log *zap.SugaredLogger, stage workflow.Stage, msg *queue.Message, out *agents.Outcome) error {
	if out.Next == nil {
		return nil
	}
	next, ok := d.graph.Next(stage)
	if !ok {
		return agents.Permanent(fmt.Errorf("stage %q has no successor", stage))
	}
	key := types.DedupKey(msg.JobID, next, generation(msg.DedupKey))
	nextMsg, err := queue.NewMessage(d.graph, next, msg.JobID, key, out.Next)
	if err != nil {
		return agents.Permanent(fmt.Errorf("failed to encode %s message: %w", next, err))
	}
	published, err := d.broker.Publish(ctx, nextMsg)
	if err != nil {
		return fmt.Errorf("failed to publish %s message: %w", next, err)
	}
	if !published {
		log.Debugw("successor message already published", "dedup_key", key)
	}
	return nil
}

// isFinal reports whether a failure ends the message's life
func (d *Dispatcher) isFinal(ctx context.Context, msg *queue.Message, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if agents.IsPermanent(err) {
		return true
	}
	if throttle.Is(err) {
		return false
	}
	return msg.Attempts+1 >= d.cfg.MaxAttempts
}

func (d *Dispatcher) settle(ctx context.Context, log *zap.SugaredLogger, stage workflow.Stage, msg *queue.Message, err error) error {
	if ctx.Err() != nil {
		log.Infow("delivery interrupted, message returns after its lease", "error", err)
		return nil
	}

	var te *throttle.Error
	switch {
	case errors.As(err, &te):
		log.Warnw("stage throttled", "service", te.Service, "retry_after", te.RetryAfter)
		d.metrics.ObserveThrottle(te.Service)
		d.metrics.ObserveRetry(stage, ReasonThrottled)
		return d.broker.Retry(ctx, msg.ID, te.RetryAfter, false, err.Error())
	case d.isFinal(ctx, msg, err):
		log.Errorw("message dead-lettered", "error", err, "permanent", agents.IsPermanent(err))
		d.metrics.ObserveDeadLetter(stage)
		return d.broker.DeadLetter(ctx, msg.ID, err.Error())
	default:
		delay := d.backoff(msg.Attempts)
		log.Warnw("stage failed, will retry", "retry_in", delay, "error", err)
		d.metrics.ObserveRetry(stage, ReasonError)
		return d.broker.Retry(ctx, msg.ID, delay, true, err.Error())
	}
}

// backoff doubles the base delay per counted attempt, capped at MaxRetryBackoff
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.RetryBackoff
	for i := 0; i < attempts && delay < MaxRetryBackoff; i++ {
		delay *= 2
	}
	if delay > MaxRetryBackoff {
		delay = MaxRetryBackoff
	}
	return delay
}

// generation extracts the generation suffix of a dedup key
func generation(dedupKey string) int {
	i := strings.LastIndexByte(dedupKey, ':')
	if i < 0 {
		return types.DefaultGeneration
	}
	n, err := strconv.Atoi(dedupKey[i+1:])
	if err != nil || n < 1 {
		return types.DefaultGeneration
	}
	return n
}
