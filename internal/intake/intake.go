// Package intake creates jobs and closes them at the human approval gate.
package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/viral-agents/internal/agents"
	"github.com/jonathan/viral-agents/internal/db"
	"github.com/jonathan/viral-agents/internal/logging"
	"github.com/jonathan/viral-agents/internal/notify"
	"github.com/jonathan/viral-agents/internal/queue"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

var (
	// ErrInvalidRequest wraps validation failures of a job request
	ErrInvalidRequest = errors.New("invalid job request")
	// ErrNotAwaitingApproval is returned when approving or rejecting a job that is not waiting for a decision
	ErrNotAwaitingApproval = errors.New("job is not awaiting approval")
	// ErrLinksDisabled is returned when an action link arrives but no signer is configured
	ErrLinksDisabled = errors.New("action links are not configured")
)

// Feedback reasons
const (
	ReasonApproved = "approved"
	ReasonRejected = "rejected"
)

// Store is the persistence the intake needs
type Store interface {
	CreateJob(ctx context.Context, goal string, keywords []string) (*types.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, to workflow.JobStatus) error
	ApproveJob(ctx context.Context, jobID, contentID uuid.UUID) error
}

// Feedback schedules a preference profile update. Submit must not block.
type Feedback interface {
	Submit(reason string) bool
}

// Service is the entry point for new jobs and approval decisions
type Service struct {
	store    Store
	broker   queue.Broker
	graph    *workflow.Graph
	feedback Feedback
	signer   *notify.Signer
	logger   *zap.SugaredLogger
}

// NewService creates an intake service. feedback and signer may be nil.
func NewService(store Store, broker queue.Broker, graph *workflow.Graph, feedback Feedback, signer *notify.Signer, logger *zap.SugaredLogger) *Service {
	if graph == nil {
		graph = workflow.DefaultGraph()
	}
	return &Service{
		store:    store,
		broker:   broker,
		graph:    graph,
		feedback: feedback,
		signer:   signer,
		logger:   logging.OrNop(logger),
	}
}

// Create validates the request, stores a pending job and queues its first stage.
// If the first message cannot be queued the job is failed so it does not linger as pending.
func (s *Service) Create(ctx context.Context, req *types.CreateJobRequest) (*types.Job, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	job, err := s.store.CreateJob(ctx, req.Goal, req.Keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	log := s.logger.With("job_id", job.ID)

	first := s.graph.First()
	msg, err := queue.NewMessage(s.graph, first, job.ID,
		types.DedupKey(job.ID, first, types.DefaultGeneration),
		&types.PlannerInput{JobID: job.ID, Accounts: req.Accounts})
	if err == nil {
		_, err = s.broker.Publish(ctx, msg)
	}
	if err != nil {
		if ferr := s.store.UpdateJobStatus(ctx, job.ID, workflow.StatusFailed); ferr != nil {
			log.Warnw("failed to mark unqueued job failed", "error", ferr)
		}
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	log.Infow("job created", "keywords", len(job.Keywords), "accounts", len(req.Accounts))
	return job, nil
}

// Approve approves the job's selected content
func (s *Service) Approve(ctx context.Context, jobID, contentID uuid.UUID) error {
	if _, err := s.awaiting(ctx, jobID); err != nil {
		return err
	}
	if err := s.store.ApproveJob(ctx, jobID, contentID); err != nil {
		if errors.Is(err, workflow.ErrInvalidTransition) {
			return fmt.Errorf("job %s: %w", jobID, ErrNotAwaitingApproval)
		}
		return err
	}
	s.logger.Infow("job approved", "job_id", jobID, "content_id", contentID)
	s.learn(ReasonApproved)
	return nil
}

// Reject rejects the job's selected content
func (s *Service) Reject(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.awaiting(ctx, jobID); err != nil {
		return err
	}
	if err := s.store.UpdateJobStatus(ctx, jobID, workflow.StatusRejected); err != nil {
		if errors.Is(err, workflow.ErrInvalidTransition) {
			return fmt.Errorf("job %s: %w", jobID, ErrNotAwaitingApproval)
		}
		return err
	}
	s.logger.Infow("job rejected", "job_id", jobID)
	s.learn(ReasonRejected)
	return nil
}

// HandleAction verifies a signed action link and applies its decision.
// It returns the action that was applied.
func (s *Service) HandleAction(ctx context.Context, token string) (*notify.ActionClaims, error) {
	if s.signer == nil {
		return nil, ErrLinksDisabled
	}
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, err
	}
	switch claims.Action {
	case notify.ActionApprove:
		err = s.Approve(ctx, claims.JobID, claims.ContentID)
	case notify.ActionReject:
		err = s.Reject(ctx, claims.JobID)
	default:
		err = fmt.Errorf("%w: unknown action %q", notify.ErrInvalidLink, claims.Action)
	}
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) awaiting(ctx context.Context, jobID uuid.UUID) (*types.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, agents.ErrJobNotFound)
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, agents.ErrJobNotFound)
	}
	if job.Status != workflow.StatusAwaitingApproval {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, ErrNotAwaitingApproval)
	}
	return job, nil
}

func (s *Service) learn(reason string) {
	if s.feedback == nil {
		return
	}
	if !s.feedback.Submit(reason) {
		s.logger.Warnw("preference update dropped", "reason", reason)
	}
}
