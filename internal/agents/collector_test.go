package agents

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/viral-agents/internal/collect"
	"github.com/jonathan/viral-agents/internal/llm"
	"github.com/jonathan/viral-agents/internal/mocks"
	"github.com/jonathan/viral-agents/internal/throttle"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

func collectorBody(t *testing.T, in types.CollectorInput) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(in)
	require.NoError(t, err)
	return body
}

func searchResult(titles ...string) *collect.Result {
	res := &collect.Result{Kind: collect.KindSearch}
	for _, title := range titles {
		res.Search = append(res.Search, collect.SearchItem{Title: title, Snippet: "snippet of " + title})
	}
	return res
}

func TestCollector_TwoRounds(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("goal", []string{"AI"}, workflow.StatusRunning)
	collection := &mocks.Collection{Results: map[string]*collect.Result{
		"AI":     searchResult("AI news", "AI agents"),
		"openai": {Kind: collect.KindSocial, Posts: []collect.Post{{Text: "post", Likes: 10, Retweets: 5}}},
		"agents": searchResult("agents everywhere"),
	}}
	client := &mocks.MockLLMClient{GenerateJSONFunc: mocks.JSONResponse(`{"keywords": ["ai", "agents", "Agents", "robots", "chips"]}`, 40)}
	collector := NewCollector(store, client, collection, CollectorConfig{DerivedKeywords: 2}, nil)

	out, err := collector.Handle(context.Background(), job, collectorBody(t, types.CollectorInput{
		JobID: job.ID, Keywords: []string{"AI"}, Accounts: []string{"openai"},
	}))
	require.NoError(t, err)
	assert.Equal(t, types.AnalyzerInput{JobID: job.ID}, out.Next)
	assert.Equal(t, 40, out.TokensUsed)

	output := out.Output.(collectorOutput)
	assert.Equal(t, []string{"agents", "robots"}, output.DerivedKeywords)
	assert.Equal(t, 4, output.TrendsCollected)
	assert.Equal(t, 1, output.EmptyResults)

	assert.Equal(t, []string{"web_search:AI", "profile_timeline:openai", "web_search:agents", "web_search:robots"}, collection.Calls())

	trends, err := store.ListTrends(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, trends, 4)
	assert.Equal(t, 1, trends[0].Round)
	assert.Equal(t, types.TrendSourceSocial, trends[1].Source)
	assert.Equal(t, "@openai", trends[1].Keyword)
	assert.InDelta(t, 20.0, trends[1].EngagementScore, 0.001)
	assert.Equal(t, 2, trends[2].Round)
	assert.Equal(t, 2.0, trends[0].EngagementScore)

	prompt := client.Prompts()[0]
	assert.True(t, containsAll(prompt, "[AI]", "- AI news", "[@openai]", "- post (likes 10)"))
}

func TestCollector_ToleratesTargetFailure(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("goal", []string{"bad", "good"}, workflow.StatusRunning)
	collection := &mocks.Collection{
		Results: map[string]*collect.Result{"good": searchResult("fine")},
		Errs:    map[string]error{"bad": &collect.APIError{StatusCode: 404, Body: "not found"}},
	}
	collector := NewCollector(store, &mocks.MockLLMClient{GenerateJSONFunc: mocks.JSONResponse(`{"keywords": []}`, 1)}, collection, CollectorConfig{DerivedKeywords: 3}, nil)

	out, err := collector.Handle(context.Background(), job, collectorBody(t, types.CollectorInput{JobID: job.ID, Keywords: []string{"bad", "good"}}))
	require.NoError(t, err)

	trends, _ := store.ListTrends(context.Background(), job.ID)
	require.Len(t, trends, 2)
	assert.Equal(t, "bad", trends[0].Keyword)
	assert.JSONEq(t, `{"items":[]}`, string(trends[0].Items))
	assert.Equal(t, 1, out.Output.(collectorOutput).EmptyResults)
}

func TestCollector_TransientFailureAborts(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"throttle", throttle.New(collect.ServiceName, 12*time.Second, 12*time.Second, nil)},
		{"server error", &collect.APIError{StatusCode: 503, Body: "unavailable"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewStore()
			job := store.AddJob("goal", []string{"AI"}, workflow.StatusRunning)
			collection := &mocks.Collection{Errs: map[string]error{"AI": tt.err}}
			collector := NewCollector(store, &mocks.MockLLMClient{}, collection, CollectorConfig{DerivedKeywords: 3}, nil)

			_, err := collector.Handle(context.Background(), job, collectorBody(t, types.CollectorInput{JobID: job.ID, Keywords: []string{"AI"}}))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.False(t, IsPermanent(err))
		})
	}
}

func TestCollector_DerivationFailureSkipsRoundTwo(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("goal", []string{"AI"}, workflow.StatusRunning)
	collection := &mocks.Collection{Results: map[string]*collect.Result{"AI": searchResult("AI news")}}
	client := &mocks.MockLLMClient{GenerateJSONFunc: mocks.JSONResponse(`not json at all`, 7)}
	collector := NewCollector(store, client, collection, CollectorConfig{DerivedKeywords: 3}, nil)

	out, err := collector.Handle(context.Background(), job, collectorBody(t, types.CollectorInput{JobID: job.ID, Keywords: []string{"AI"}}))
	require.NoError(t, err)
	assert.Empty(t, out.Output.(collectorOutput).DerivedKeywords)
	assert.Equal(t, 7, out.TokensUsed)
	assert.Len(t, collection.Calls(), 1)
}

func TestCollector_DerivationThrottlePropagates(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("goal", []string{"AI"}, workflow.StatusRunning)
	collection := &mocks.Collection{Results: map[string]*collect.Result{"AI": searchResult("AI news")}}
	client := &mocks.MockLLMClient{GenerateJSONFunc: func(context.Context, string, string, llm.ModelTier) (*llm.Response, error) {
		return nil, throttle.New(llm.ServiceName, 0, llm.DefaultRetryAfter, nil)
	}}
	collector := NewCollector(store, client, collection, CollectorConfig{DerivedKeywords: 3}, nil)

	_, err := collector.Handle(context.Background(), job, collectorBody(t, types.CollectorInput{JobID: job.ID, Keywords: []string{"AI"}}))
	assert.True(t, throttle.Is(err))
}

func TestCollector_RedeliveryReplacesTrends(t *testing.T) {
	store := mocks.NewStore()
	job := store.AddJob("goal", []string{"AI"}, workflow.StatusRunning)
	collection := &mocks.Collection{Results: map[string]*collect.Result{"AI": searchResult("AI news")}}
	collector := NewCollector(store, &mocks.MockLLMClient{}, collection, CollectorConfig{}, nil)
	body := collectorBody(t, types.CollectorInput{JobID: job.ID, Keywords: []string{"AI"}})

	_, err := collector.Handle(context.Background(), job, body)
	require.NoError(t, err)
	_, err = collector.Handle(context.Background(), job, body)
	require.NoError(t, err)

	trends, _ := store.ListTrends(context.Background(), job.ID)
	assert.Len(t, trends, 1)
}

func TestBuildDigest_SkipsEmpty(t *testing.T) {
	digest := buildDigest([]collected{
		{target: "empty", result: &collect.Result{Kind: collect.KindSearch}},
		{target: "full", result: searchResult("a", "b", "c", "d")},
	})
	assert.False(t, strings.Contains(digest, "[empty]"))
	assert.Equal(t, "[full]\n- a\n- b\n- c", digest)
}
