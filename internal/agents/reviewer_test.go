package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/viral-agents/internal/llm"
	"github.com/jonathan/viral-agents/internal/mocks"
	"github.com/jonathan/viral-agents/internal/notify"
	"github.com/jonathan/viral-agents/internal/throttle"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// scoringLLM scores a post by looking its body up in scores
func scoringLLM(scores map[string]int) *mocks.MockLLMClient {
	return &mocks.MockLLMClient{GenerateJSONFunc: func(_ context.Context, prompt, _ string, _ llm.ModelTier) (*llm.Response, error) {
		for body, score := range scores {
			if strings.Contains(prompt, `"`+body+`"`) {
				return &llm.Response{Text: fmt.Sprintf(`{"score": %d, "feedback": "fb %s"}`, score, body), TokensUsed: 10}, nil
			}
		}
		return nil, errors.New("unexpected prompt")
	}}
}

type fakeLinks struct{}

func (fakeLinks) Actions(jobID, contentID uuid.UUID) ([]notify.Action, error) {
	return []notify.Action{
		{Label: "Approve", URL: "https://x/approve/" + contentID.String()},
		{Label: "Reject", URL: "https://x/reject/" + jobID.String()},
	}, nil
}

type fakeMetrics struct {
	topScores []int
}

func (f *fakeMetrics) ObserveStageRun(workflow.Stage, types.RunStatus, time.Duration, int) {}
func (f *fakeMetrics) ObserveTopScore(score int)                                           { f.topScores = append(f.topScores, score) }

func setupReview(t *testing.T, bodies ...string) (*mocks.Store, *types.Job) {
	t.Helper()
	store := mocks.NewStore()
	job := store.AddJob("goal", []string{"AI"}, workflow.StatusRunning)
	variants := make([]types.Variant, len(bodies))
	for i, b := range bodies {
		variants[i] = types.Variant{VariantNum: i + 1, Body: b}
	}
	_, err := store.ReplaceContents(context.Background(), job.ID, variants)
	require.NoError(t, err)
	return store, job
}

func reviewerBody(job *types.Job) json.RawMessage {
	return json.RawMessage(`{"job_id":"` + job.ID.String() + `"}`)
}

func selected(contents []types.Content) []types.Content {
	var out []types.Content
	for _, c := range contents {
		if c.IsSelected {
			out = append(out, c)
		}
	}
	return out
}

func TestReviewer_SelectsHighestQualifying(t *testing.T) {
	store, job := setupReview(t, "post a", "post b", "post c")
	notifier := &mocks.Notifier{}
	metrics := &fakeMetrics{}
	reviewer := NewReviewer(store, scoringLLM(map[string]int{"post a": 72, "post b": 45, "post c": 81}), notifier, fakeLinks{}, metrics, ReviewerConfig{}, nil)

	out, err := reviewer.Handle(context.Background(), job, reviewerBody(job))
	require.NoError(t, err)
	assert.Nil(t, out.Next)
	assert.Equal(t, 30, out.TokensUsed)

	contents := store.Contents(job.ID)
	sel := selected(contents)
	require.Len(t, sel, 1)
	assert.Equal(t, "post c", sel[0].Body)
	assert.Equal(t, 81, sel[0].ViralScore)
	assert.Equal(t, workflow.StatusAwaitingApproval, store.Job(job.ID).Status)

	summary := out.Output.(types.ReviewSummary)
	require.Len(t, summary.Reviews, 3)
	require.NotNil(t, summary.SelectedScore)
	assert.Equal(t, 81, *summary.SelectedScore)
	assert.Equal(t, sel[0].ID, *summary.SelectedID)

	// Feedback text stays out of the audit output
	raw, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "fb post")

	require.Len(t, notifier.Texts(), 1)
	assert.Contains(t, notifier.Texts()[0], "post c")
	require.Len(t, notifier.Actions()[0], 2)
	assert.Equal(t, []int{81}, metrics.topScores)
}

func TestReviewer_NoQualifierFailsJob(t *testing.T) {
	store, job := setupReview(t, "post a", "post b", "post c")
	notifier := &mocks.Notifier{}
	reviewer := NewReviewer(store, scoringLLM(map[string]int{"post a": 10, "post b": 55, "post c": 40}), notifier, nil, nil, ReviewerConfig{}, nil)

	out, err := reviewer.Handle(context.Background(), job, reviewerBody(job))
	require.NoError(t, err)

	assert.Empty(t, selected(store.Contents(job.ID)))
	assert.Equal(t, workflow.StatusFailed, store.Job(job.ID).Status)
	summary := out.Output.(types.ReviewSummary)
	assert.Nil(t, summary.SelectedID)
	require.Len(t, notifier.Texts(), 1)
	assert.Contains(t, notifier.Texts()[0], "55 is below 60")
}

func TestReviewer_RuleViolationsScoreZero(t *testing.T) {
	long := strings.Repeat("a", 281)
	store, job := setupReview(t, long, "has #tag", "fine post")
	client := scoringLLM(map[string]int{long: 100, "has #tag": 100, "fine post": 65})
	reviewer := NewReviewer(store, client, nil, nil, nil, ReviewerConfig{}, nil)

	_, err := reviewer.Handle(context.Background(), job, reviewerBody(job))
	require.NoError(t, err)

	contents := store.Contents(job.ID)
	assert.Zero(t, contents[0].ViralScore)
	assert.Contains(t, *contents[0].QAFeedback, "281 characters")
	assert.Zero(t, contents[1].ViralScore)
	assert.Contains(t, *contents[1].QAFeedback, "hashtag")
	assert.Equal(t, 65, contents[2].ViralScore)
	assert.True(t, contents[2].IsSelected)
	assert.Equal(t, 1, client.Calls())
}

func TestReviewer_RemoteFailureFallsBack(t *testing.T) {
	store, job := setupReview(t, "post a", "post b", "post c")
	client := &mocks.MockLLMClient{GenerateJSONFunc: func(context.Context, string, string, llm.ModelTier) (*llm.Response, error) {
		return nil, &llm.APIError{Model: "m", Message: "internal"}
	}}
	reviewer := NewReviewer(store, client, nil, nil, nil, ReviewerConfig{}, nil)

	_, err := reviewer.Handle(context.Background(), job, reviewerBody(job))
	require.NoError(t, err)

	for _, c := range store.Contents(job.ID) {
		assert.Equal(t, FallbackScore, c.ViralScore)
		assert.Equal(t, FallbackFeedback, *c.QAFeedback)
	}
	// 50 is below the threshold
	assert.Equal(t, workflow.StatusFailed, store.Job(job.ID).Status)
}

func TestReviewer_ThrottlePropagates(t *testing.T) {
	store, job := setupReview(t, "post a")
	client := &mocks.MockLLMClient{GenerateJSONFunc: func(context.Context, string, string, llm.ModelTier) (*llm.Response, error) {
		return nil, throttle.New(llm.ServiceName, 10*time.Second, llm.DefaultRetryAfter, nil)
	}}
	reviewer := NewReviewer(store, client, nil, nil, nil, ReviewerConfig{}, nil)

	_, err := reviewer.Handle(context.Background(), job, reviewerBody(job))
	assert.True(t, throttle.Is(err))
	assert.Equal(t, workflow.StatusRunning, store.Job(job.ID).Status)
}

func TestReviewer_NotificationFailureIsIgnored(t *testing.T) {
	store, job := setupReview(t, "post a")
	notifier := &mocks.Notifier{Err: errors.New("telegram down")}
	reviewer := NewReviewer(store, scoringLLM(map[string]int{"post a": 90}), notifier, nil, nil, ReviewerConfig{}, nil)

	_, err := reviewer.Handle(context.Background(), job, reviewerBody(job))
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingApproval, store.Job(job.ID).Status)
}

func TestReviewer_ClampsScores(t *testing.T) {
	store, job := setupReview(t, "post a", "post b")
	client := &mocks.MockLLMClient{GenerateJSONFunc: func(_ context.Context, prompt, _ string, _ llm.ModelTier) (*llm.Response, error) {
		if strings.Contains(prompt, "post a") {
			return &llm.Response{Text: `{"score": 140.4}`}, nil
		}
		return &llm.Response{Text: `{"score": -5}`}, nil
	}}
	reviewer := NewReviewer(store, client, nil, nil, nil, ReviewerConfig{}, nil)

	_, err := reviewer.Handle(context.Background(), job, reviewerBody(job))
	require.NoError(t, err)
	contents := store.Contents(job.ID)
	assert.Equal(t, 100, contents[0].ViralScore)
	assert.Equal(t, 0, contents[1].ViralScore)
}

func TestSelectBest_FirstWinsTies(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	best, ok := SelectBest([]types.Review{
		{ContentID: first, Score: 70},
		{ContentID: second, Score: 70},
	})
	require.True(t, ok)
	assert.Equal(t, first, best.ContentID)

	_, ok = SelectBest(nil)
	assert.False(t, ok)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-1))
	assert.Equal(t, 55, ClampScore(55))
	assert.Equal(t, 100, ClampScore(101))
}
