package intake

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/types"
)

// Creator starts jobs
type Creator interface {
	Create(ctx context.Context, req *types.CreateJobRequest) (*types.Job, error)
}

// SchedulerConfig configures scheduled job creation
type SchedulerConfig struct {
	// Interval between scheduled jobs. Zero disables the scheduler.
	Interval time.Duration
	// Goals are used in rotation, one per tick
	Goals []string
	// Accounts are attached to every scheduled job
	Accounts []string
}

// Scheduler creates a job from the next goal on every tick
type Scheduler struct {
	creator Creator
	cfg     SchedulerConfig
	logger  *zap.SugaredLogger

	mu   sync.Mutex
	next int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a stopped scheduler
func NewScheduler(creator Creator, cfg SchedulerConfig, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		creator: creator,
		cfg:     cfg,
		logger:  logging.OrNop(logger),
	}
}

// Enabled reports whether the scheduler has an interval and at least one goal
func (s *Scheduler) Enabled() bool {
	return s.cfg.Interval > 0 && len(s.cfg.Goals) > 0
}

// Start runs the ticker loop until Stop or ctx is cancelled. It does nothing when disabled.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Infow("scheduler disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Infow("scheduler started", "interval", s.cfg.Interval, "goals", len(s.cfg.Goals))
}

// Stop ends the loop and waits for it
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Infow("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Warnw("scheduled job failed", "error", err)
			}
		}
	}
}

// Tick creates one job from the next goal in rotation
func (s *Scheduler) Tick(ctx context.Context) (*types.Job, error) {
	if len(s.cfg.Goals) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	goal := s.cfg.Goals[s.next%len(s.cfg.Goals)]
	s.next++
	s.mu.Unlock()

	job, err := s.creator.Create(ctx, &types.CreateJobRequest{
		Goal:     goal,
		Accounts: append([]string(nil), s.cfg.Accounts...),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("scheduled job created", "job_id", job.ID, "goal", goal)
	return job, nil
}
