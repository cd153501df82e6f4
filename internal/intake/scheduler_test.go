package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/viral-agents/internal/types"
)

type recordingCreator struct {
	mu   sync.Mutex
	reqs []types.CreateJobRequest
	err  error
}

func (c *recordingCreator) Create(_ context.Context, req *types.CreateJobRequest) (*types.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.reqs = append(c.reqs, *req)
	return &types.Job{ID: uuid.New(), Goal: req.Goal}, nil
}

func (c *recordingCreator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

func TestScheduler_RotatesGoals(t *testing.T) {
	creator := &recordingCreator{}
	s := NewScheduler(creator, SchedulerConfig{
		Interval: time.Hour,
		Goals:    []string{"morning tips", "weekly recap"},
		Accounts: []string{"openai"},
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := s.Tick(context.Background())
		require.NoError(t, err)
	}

	require.Len(t, creator.reqs, 3)
	assert.Equal(t, "morning tips", creator.reqs[0].Goal)
	assert.Equal(t, "weekly recap", creator.reqs[1].Goal)
	assert.Equal(t, "morning tips", creator.reqs[2].Goal)
	assert.Equal(t, []string{"openai"}, creator.reqs[0].Accounts)
}

func TestScheduler_TickError(t *testing.T) {
	creator := &recordingCreator{err: errors.New("db down")}
	s := NewScheduler(creator, SchedulerConfig{Interval: time.Hour, Goals: []string{"g"}}, nil)

	job, err := s.Tick(context.Background())
	assert.Nil(t, job)
	assert.EqualError(t, err, "db down")
}

func TestScheduler_Disabled(t *testing.T) {
	creator := &recordingCreator{}
	assert.False(t, NewScheduler(creator, SchedulerConfig{Goals: []string{"g"}}, nil).Enabled())
	assert.False(t, NewScheduler(creator, SchedulerConfig{Interval: time.Second}, nil).Enabled())

	s := NewScheduler(creator, SchedulerConfig{Interval: time.Second}, nil)
	s.Start(context.Background())
	s.Stop()
	assert.Zero(t, creator.count())
}

func TestScheduler_StartCreatesJobsUntilStopped(t *testing.T) {
	creator := &recordingCreator{}
	s := NewScheduler(creator, SchedulerConfig{Interval: 10 * time.Millisecond, Goals: []string{"g"}}, nil)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return creator.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	n := creator.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, creator.count())
}
