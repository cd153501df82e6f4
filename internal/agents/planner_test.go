package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/viral-agents/internal/llm"
	"github.com/jonathan/viral-agents/internal/mocks"
	"github.com/jonathan/viral-agents/internal/throttle"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

func plannerBody(t *testing.T, in types.PlannerInput) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(in)
	require.NoError(t, err)
	return body
}

func fixedNow() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

func TestPlanner_ExplicitKeywordsPassThrough(t *testing.T) {
	store := mocks.NewStore()
	keywords := []string{"AI agents", "Startup Funding", "ai agents"}
	job := store.AddJob("grow followers", keywords, workflow.StatusPending)
	client := &mocks.MockLLMClient{}
	trending := &mocks.Trending{Headlines: []string{"should not be fetched"}}
	planner := NewPlanner(store, client, trending, PlannerConfig{Now: fixedNow}, nil)

	out, err := planner.Handle(context.Background(), job, plannerBody(t, types.PlannerInput{JobID: job.ID, Accounts: []string{"openai"}}))
	require.NoError(t, err)

	next, ok := out.Next.(types.CollectorInput)
	require.True(t, ok)
	assert.Equal(t, keywords, next.Keywords)
	assert.Equal(t, []string{"openai"}, next.Accounts)
	assert.Empty(t, next.SearchAngles)
	assert.Zero(t, client.Calls())
	assert.Equal(t, workflow.StatusRunning, store.Job(job.ID).Status)
}

func TestPlanner_GeneratesStrategy(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("explain AI to founders", nil, workflow.StatusPending)
	client := &mocks.MockLLMClient{
		GenerateJSONFunc: mocks.JSONResponse("```json\n"+`{
			"keywords": ["AI agents", " ai agents ", "LLM pricing", "agent frameworks", "k4", "k5", "k6", "k7"],
			"search_angles": ["latest debate"],
			"target_audience": "founders",
			"content_tone": "practical"
		}`+"\n```", 321),
	}
	trending := &mocks.Trending{Headlines: []string{"Headline one", "Headline two"}}
	planner := NewPlanner(store, client, trending, PlannerConfig{Now: fixedNow}, nil)

	out, err := planner.Handle(context.Background(), job, plannerBody(t, types.PlannerInput{JobID: job.ID}))
	require.NoError(t, err)
	assert.Equal(t, 321, out.TokensUsed)

	next := out.Next.(types.CollectorInput)
	assert.Equal(t, []string{"AI agents", "LLM pricing", "agent frameworks", "k4", "k5", "k6", "k7"}, next.Keywords)
	assert.Equal(t, []string{"latest debate"}, next.SearchAngles)
	assert.Equal(t, next.Keywords, store.Job(job.ID).Keywords)

	prompts := client.Prompts()
	require.Len(t, prompts, 1)
	assert.True(t, containsAll(prompts[0], "explain AI to founders", "2026-03-01", "- Headline one\n- Headline two", "Korean"))
}

func TestPlanner_TrendingFailureProceeds(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("goal", nil, workflow.StatusPending)
	client := &mocks.MockLLMClient{
		GenerateJSONFunc: mocks.JSONResponse(`{"keywords":["one"],"search_angles":[],"target_audience":"a","content_tone":"b"}`, 1),
	}
	planner := NewPlanner(store, client, &mocks.Trending{Err: errors.New("feed down")}, PlannerConfig{Now: fixedNow}, nil)

	out, err := planner.Handle(context.Background(), job, plannerBody(t, types.PlannerInput{JobID: job.ID}))
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, out.Next.(types.CollectorInput).Keywords)
	assert.NotContains(t, client.Prompts()[0], "Trending headlines")
}

func TestPlanner_MalformedStrategy(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("goal", nil, workflow.StatusPending)
	client := &mocks.MockLLMClient{GenerateJSONFunc: mocks.JSONResponse(`{"keywords": []}`, 9)}
	planner := NewPlanner(store, client, nil, PlannerConfig{}, nil)

	out, err := planner.Handle(context.Background(), job, plannerBody(t, types.PlannerInput{JobID: job.ID}))
	require.Error(t, err)
	var parseErr *llm.ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 9, out.TokensUsed)
	assert.False(t, IsPermanent(err))
}

func TestPlanner_ThrottlePropagates(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("goal", nil, workflow.StatusPending)
	client := &mocks.MockLLMClient{
		GenerateJSONFunc: func(context.Context, string, string, llm.ModelTier) (*llm.Response, error) {
			return nil, throttle.New(llm.ServiceName, 30*time.Second, llm.DefaultRetryAfter, nil)
		},
	}
	planner := NewPlanner(store, client, nil, PlannerConfig{}, nil)

	_, err := planner.Handle(context.Background(), job, plannerBody(t, types.PlannerInput{JobID: job.ID}))
	delay, ok := throttle.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, delay)
}

func TestPlanner_TerminalJobIsPermanent(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("goal", []string{"x"}, workflow.StatusRejected)
	planner := NewPlanner(store, &mocks.MockLLMClient{}, nil, PlannerConfig{}, nil)

	_, err := planner.Handle(context.Background(), job, plannerBody(t, types.PlannerInput{JobID: job.ID}))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestPlanner_BadBody(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("goal", nil, workflow.StatusPending)
	planner := NewPlanner(store, &mocks.MockLLMClient{}, nil, PlannerConfig{}, nil)

	_, err := planner.Handle(context.Background(), job, json.RawMessage(`not json`))
	assert.True(t, IsPermanent(err))
}

func TestUniqueFold(t *testing.T) {
	got := uniqueFold([]string{"Go", "go ", "Rust", "", "GO", "zig"}, []string{"rust"}, 2)
	assert.Equal(t, []string{"Go", "zig"}, got)
	assert.Nil(t, uniqueFold(nil, nil, 0))
}
