package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/viral-agents/internal/db"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// Store is an in-memory persistence gateway. It follows the status and locking rules of
// the Postgres repository.
type Store struct {
	// Profile is the stored preference profile
	Profile *types.PreferenceProfile
	// Approved lists approved bodies, newest first
	Approved []string
	// Rejected lists the selected bodies of rejected jobs, newest first
	Rejected []string
	// ProfileWrites counts PutPreferenceProfile calls
	ProfileWrites int
	// FinishErr, when set, is consulted before a run is closed. A non-nil error leaves
	// the run open. It runs under the store lock.
	FinishErr func(run types.AgentRun, result *types.AgentRunResult) error

	mu            sync.Mutex
	jobs          map[uuid.UUID]*types.Job
	order         []uuid.UUID
	runs          []*types.AgentRun
	trends        []types.Trend
	contents      map[uuid.UUID][]types.Content
	statusHistory map[uuid.UUID][]workflow.JobStatus
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		jobs:          make(map[uuid.UUID]*types.Job),
		contents:      make(map[uuid.UUID][]types.Content),
		statusHistory: make(map[uuid.UUID][]workflow.JobStatus),
	}
}

// ---- Test helpers ----

// AddJob inserts a job with the given status and returns a copy of it
func (s *Store) AddJob(goal string, keywords []string, status workflow.JobStatus) *types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertJob(goal, keywords, status)
}

func (s *Store) insertJob(goal string, keywords []string, status workflow.JobStatus) *types.Job {
	now := time.Now()
	job := &types.Job{ID: uuid.New(), Goal: goal, Keywords: append([]string{}, keywords...), Status: status, CreatedAt: now, UpdatedAt: now}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	cp := *job
	return &cp
}

// Job returns the current state of a job
func (s *Store) Job(id uuid.UUID) types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

// StatusHistory returns every status a job moved to, in order
func (s *Store) StatusHistory(id uuid.UUID) []workflow.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]workflow.JobStatus(nil), s.statusHistory[id]...)
}

// Runs returns the agent runs of a job in start order
func (s *Store) Runs(jobID uuid.UUID) []types.AgentRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.AgentRun
	for _, r := range s.runs {
		if r.JobID == jobID {
			out = append(out, *r)
		}
	}
	return out
}

// Contents returns the contents of a job ordered by variant
func (s *Store) Contents(jobID uuid.UUID) []types.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Content(nil), s.contents[jobID]...)
}

// ---- Job Methods ----

func (s *Store) CreateJob(_ context.Context, goal string, keywords []string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertJob(goal, keywords, workflow.StatusPending), nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *Store) ListJobs(_ context.Context, filters db.JobFilters) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.Job{}
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.jobs[s.order[i]]
		if filters.Status != nil && job.Status != *filters.Status {
			continue
		}
		out = append(out, *job)
	}
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return []types.Job{}, nil
		}
		out = out[filters.Offset:]
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateJobStatus(_ context.Context, id uuid.UUID, to workflow.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, db.ErrNotFound)
	}
	if job.Status == to {
		return nil
	}
	if err := workflow.CheckTransition(job.Status, to); err != nil {
		return err
	}
	job.Status = to
	job.UpdatedAt = time.Now()
	s.statusHistory[id] = append(s.statusHistory[id], to)
	if to == workflow.StatusRejected {
		for _, c := range s.contents[id] {
			if c.IsSelected {
				s.Rejected = append([]string{c.Body}, s.Rejected...)
			}
		}
	}
	return nil
}

func (s *Store) SetJobKeywords(_ context.Context, id uuid.UUID, keywords []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, db.ErrNotFound)
	}
	job.Keywords = append([]string{}, keywords...)
	return nil
}

// ---- Agent Run Methods ----

func (s *Store) OpenAgentRun(_ context.Context, in *types.AgentRunInput) (*types.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt := 0
	for _, r := range s.runs {
		if r.JobID == in.JobID && r.Agent == in.Agent {
			if r.Status == types.RunStatusRunning {
				msg := db.AbandonedRunError
				r.Status, r.Error = types.RunStatusFailed, &msg
			}
			if r.Attempt > attempt {
				attempt = r.Attempt
			}
		}
	}
	attempt++
	if in.Attempt > attempt {
		attempt = in.Attempt
	}
	input, _ := json.Marshal(in.Input)
	run := &types.AgentRun{
		ID:        uuid.New(),
		JobID:     in.JobID,
		Agent:     in.Agent,
		Status:    types.RunStatusRunning,
		Attempt:   attempt,
		Input:     input,
		StartedAt: time.Now(),
	}
	s.runs = append(s.runs, run)
	cp := *run
	return &cp, nil
}

func (s *Store) FinishAgentRun(_ context.Context, runID uuid.UUID, result *types.AgentRunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID != runID {
			continue
		}
		if r.Status != types.RunStatusRunning {
			return db.ErrRunFinished
		}
		if s.FinishErr != nil {
			if err := s.FinishErr(*r, result); err != nil {
				return err
			}
		}
		now := time.Now()
		r.Status = result.Status()
		r.FinishedAt = &now
		tokens := result.TokensUsed
		r.TokensUsed = &tokens
		if result.Output != nil {
			r.Output, _ = json.Marshal(result.Output)
		}
		if result.Error != "" {
			msg := result.Error
			r.Error = &msg
		}
		return nil
	}
	return db.ErrNotFound
}

func (s *Store) LatestAgentRun(_ context.Context, jobID uuid.UUID, agent workflow.Stage) (*types.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *types.AgentRun
	for _, r := range s.runs {
		if r.JobID == jobID && r.Agent == agent && (latest == nil || r.Attempt >= latest.Attempt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) ListAgentRuns(ctx context.Context, jobID uuid.UUID) ([]types.AgentRun, error) {
	runs := s.Runs(jobID)
	if runs == nil {
		runs = []types.AgentRun{}
	}
	return runs, nil
}

// ---- Trend Methods ----

func (s *Store) InsertTrend(_ context.Context, t *types.Trend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = uuid.New()
	t.CollectedAt = time.Now()
	s.trends = append(s.trends, *t)
	return nil
}

func (s *Store) ListTrends(_ context.Context, jobID uuid.UUID) ([]types.Trend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.Trend{}
	for _, t := range s.trends {
		if t.JobID == jobID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) DeleteTrends(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.trends[:0]
	for _, t := range s.trends {
		if t.JobID != jobID {
			kept = append(kept, t)
		}
	}
	s.trends = kept
	return nil
}

// ---- Content Methods ----

func (s *Store) ReplaceContents(_ context.Context, jobID uuid.UUID, variants []types.Variant) ([]types.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, db.ErrNotFound)
	}
	for _, c := range s.contents[jobID] {
		if c.IsSelected || c.ApprovedAt != nil {
			return nil, db.ErrContentLocked
		}
	}
	out := make([]types.Content, len(variants))
	for i, v := range variants {
		out[i] = types.Content{ID: uuid.New(), JobID: jobID, VariantNum: v.VariantNum, Body: v.Body, CreatedAt: time.Now()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantNum < out[j].VariantNum })
	s.contents[jobID] = out
	return append([]types.Content(nil), out...), nil
}

func (s *Store) ListContents(_ context.Context, jobID uuid.UUID) ([]types.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Content{}, s.contents[jobID]...), nil
}

func (s *Store) GetContent(_ context.Context, id uuid.UUID) (*types.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.contents {
		for _, c := range list {
			if c.ID == id {
				cp := c
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (s *Store) UpdateContentReview(_ context.Context, id uuid.UUID, score int, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jobID, list := range s.contents {
		for i := range list {
			if list[i].ID == id && list[i].ApprovedAt == nil {
				fb := feedback
				s.contents[jobID][i].ViralScore = score
				s.contents[jobID][i].QAFeedback = &fb
				return nil
			}
		}
	}
	return db.ErrNotFound
}

func (s *Store) SelectContent(_ context.Context, jobID, contentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, c := range s.contents[jobID] {
		found = found || c.ID == contentID
	}
	if !found {
		return db.ErrNotFound
	}
	for i := range s.contents[jobID] {
		c := &s.contents[jobID][i]
		c.IsSelected = c.ID == contentID
	}
	return nil
}

func (s *Store) ApproveJob(_ context.Context, jobID, contentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, db.ErrNotFound)
	}
	if err := workflow.CheckTransition(job.Status, workflow.StatusApproved); err != nil {
		return err
	}
	for i := range s.contents[jobID] {
		c := &s.contents[jobID][i]
		if c.ID == contentID && c.IsSelected && c.ApprovedAt == nil {
			now := time.Now()
			c.ApprovedAt = &now
			s.Approved = append([]string{c.Body}, s.Approved...)
			job.Status = workflow.StatusApproved
			s.statusHistory[jobID] = append(s.statusHistory[jobID], workflow.StatusApproved)
			return nil
		}
	}
	return db.ErrContentNotApprovable
}

func (s *Store) RecentApprovedBodies(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return head(s.Approved, limit), nil
}

func (s *Store) RecentRejectedBodies(_ context.Context, jobLimit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return head(s.Rejected, jobLimit), nil
}

func head(values []string, limit int) []string {
	if len(values) > limit {
		values = values[:limit]
	}
	return append([]string{}, values...)
}

// ---- Preference Methods ----

func (s *Store) GetPreferenceProfile(context.Context) (*types.PreferenceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Profile == nil {
		return nil, nil
	}
	cp := *s.Profile
	return &cp, nil
}

func (s *Store) PutPreferenceProfile(_ context.Context, p *types.PreferenceProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.Profile = &cp
	s.ProfileWrites++
	return nil
}
