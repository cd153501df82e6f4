package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/logging"
)

// Pool defaults
const (
	DefaultWorkers     = 1
	DefaultQueueSize   = 16
	DefaultTaskTimeout = 2 * time.Minute
)

// Updater refreshes the preference profile
type Updater interface {
	Update(ctx context.Context) (bool, error)
}

// PoolConfig sizes the pool
type PoolConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Pool runs profile refreshes in the background. Submit never blocks: when the queue is
// full the request is dropped. Failures are reported on an error channel drained by a
// logging goroutine.
type Pool struct {
	updater Updater
	cfg     PoolConfig
	logger  *zap.SugaredLogger

	tasks  chan string
	errs   chan error
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
	workers sync.WaitGroup
	drained chan struct{}
}

// NewPool creates a stopped pool
func NewPool(updater Updater, cfg PoolConfig, logger *zap.SugaredLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	return &Pool{
		updater: updater,
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		tasks:   make(chan string, cfg.QueueSize),
		errs:    make(chan error, cfg.Workers),
		drained: make(chan struct{}),
	}
}

// Start launches the workers and the error logger. Refreshes run until Stop or until
// ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	go p.logErrors()
	p.workers.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.work(ctx)
	}
}

// Submit queues a refresh. It returns false when the request was dropped.
func (p *Pool) Submit(reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- reason:
		return true
	default:
		p.logger.Warnw("feedback queue full, refresh dropped", "reason", reason)
		return false
	}
}

// Stop stops accepting work, finishes queued refreshes and waits for the workers
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	close(p.tasks)
	p.mu.Unlock()

	if !started {
		return
	}
	p.workers.Wait()
	p.cancel()
	close(p.errs)
	<-p.drained
}

func (p *Pool) work(ctx context.Context) {
	defer p.workers.Done()
	for reason := range p.tasks {
		if ctx.Err() != nil {
			continue
		}
		taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
		written, err := p.updater.Update(taskCtx)
		cancel()
		if err != nil {
			p.errs <- fmt.Errorf("preference refresh after %s: %w", reason, err)
			continue
		}
		p.logger.Debugw("preference refresh finished", "reason", reason, "written", written)
	}
}

func (p *Pool) logErrors() {
	defer close(p.drained)
	for err := range p.errs {
		p.logger.Errorw("feedback worker failed", "error", err)
	}
}
