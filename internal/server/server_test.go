package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/viral-agents/internal/agents"
	"github.com/jonathan/viral-agents/internal/db"
	"github.com/jonathan/viral-agents/internal/intake"
	"github.com/jonathan/viral-agents/internal/mocks"
	"github.com/jonathan/viral-agents/internal/notify"
	"github.com/jonathan/viral-agents/internal/queue"
	"github.com/jonathan/viral-agents/internal/server/ratelimit"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

// pingStore adds a health check to the in-memory store
type pingStore struct {
	*mocks.Store
	pingErr error
}

func (s *pingStore) Ping(context.Context) error { return s.pingErr }

type testServer struct {
	handler http.Handler
	store   *pingStore
	broker  *queue.MemoryBroker
	signer  *notify.Signer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLimits(t, &ratelimit.Config{Enabled: false})
}

func newTestServerWithLimits(t *testing.T, limits *ratelimit.Config) *testServer {
	t.Helper()
	store := &pingStore{Store: mocks.NewStore()}
	broker := queue.NewMemoryBroker()
	signer, err := notify.NewSigner("server-test-secret", time.Hour)
	require.NoError(t, err)
	svc := intake.NewService(store, broker, nil, nil, signer, nil)

	s := New(Config{
		Port:      0,
		RateLimit: limits,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("viral_agents_up 1\n"))
		}),
	}, store, svc)
	t.Cleanup(s.rateLimiter.Stop)
	return &testServer{handler: s.Handler(), store: store, broker: broker, signer: signer}
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["error"]
}

// awaiting stores a job waiting for a decision and returns it with its selected content id
func (ts *testServer) awaiting(t *testing.T) (*types.Job, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	job := ts.store.AddJob("launch week", nil, workflow.StatusAwaitingApproval)
	contents, err := ts.store.ReplaceContents(ctx, job.ID, []types.Variant{
		{VariantNum: 1, Body: "first"},
		{VariantNum: 2, Body: "second"},
		{VariantNum: 3, Body: "third"},
	})
	require.NoError(t, err)
	require.NoError(t, ts.store.SelectContent(ctx, job.ID, contents[2].ID))
	return job, contents[2].ID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ts.store.pingErr = errors.New("connection refused")
	rec = ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "viral_agents_up")
}

func TestCreateJob(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/jobs", map[string]any{
		"goal":     "grow the newsletter",
		"keywords": []string{"AI agents"},
		"accounts": []string{"@openai"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, workflow.StatusPending, resp.Status)
	assert.Equal(t, []string{"AI agents"}, ts.store.Job(resp.JobID).Keywords)
	assert.Equal(t, 1, ts.broker.Pending("planner-queue"))
}

func TestCreateJob_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing goal", map[string]any{"keywords": []string{"x"}}, "invalid job request"},
		{"malformed json", `{"goal":`, "validation error"},
		{"unknown field", `{"goal":"g","priority":1}`, "unknown field"},
		{"empty body", nil, "invalid job request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, errorMessage(t, rec), tt.want)
			assert.Zero(t, ts.broker.Pending("planner-queue"))
		})
	}
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.store.AddJob("one", nil, workflow.StatusPending)
	ts.store.AddJob("two", nil, workflow.StatusFailed)
	ts.store.AddJob("three", nil, workflow.StatusPending)

	rec := ts.do(http.MethodGet, "/api/jobs?status=pending&limit=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListJobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 100, resp.Limit)
	assert.Equal(t, "three", resp.Jobs[0].Goal)

	rec = ts.do(http.MethodGet, "/api/jobs?status=sleeping", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t)
	job, _ := ts.awaiting(t)

	rec := ts.do(http.MethodGet, "/api/jobs/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, workflow.StatusAwaitingApproval, got.Status)

	rec = ts.do(http.MethodGet, "/api/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid job ID", errorMessage(t, rec))

	rec = ts.do(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListContentsAndRuns(t *testing.T) {
	ts := newTestServer(t)
	job, selected := ts.awaiting(t)
	_, err := ts.store.OpenAgentRun(context.Background(), &types.AgentRunInput{
		JobID: job.ID,
		Agent: workflow.StagePlanner,
		Input: map[string]string{"job_id": job.ID.String()},
	})
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, fmt.Sprintf("/api/jobs/%s/content", job.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var contents []types.Content
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &contents))
	require.Len(t, contents, 3)
	assert.True(t, contents[2].IsSelected)
	assert.Equal(t, selected, contents[2].ID)

	rec = ts.do(http.MethodGet, fmt.Sprintf("/api/jobs/%s/runs", job.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []types.AgentRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, workflow.StagePlanner, runs[0].Agent)
}

func TestApprove(t *testing.T) {
	ts := newTestServer(t)
	job, selected := ts.awaiting(t)
	path := fmt.Sprintf("/api/jobs/%s/approve", job.ID)

	rec := ts.do(http.MethodPost, path, map[string]string{"content_id": selected.String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StatusApproved, ts.store.Job(job.ID).Status)

	rec = ts.do(http.MethodPost, path, map[string]string{"content_id": selected.String()})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApprove_Errors(t *testing.T) {
	ts := newTestServer(t)
	job, _ := ts.awaiting(t)
	notSelected := ts.store.Contents(job.ID)[0].ID

	rec := ts.do(http.MethodPost, fmt.Sprintf("/api/jobs/%s/approve", job.ID), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, fmt.Sprintf("/api/jobs/%s/approve", job.ID), map[string]string{"content_id": notSelected.String()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, workflow.StatusAwaitingApproval, ts.store.Job(job.ID).Status)

	rec = ts.do(http.MethodPost, fmt.Sprintf("/api/jobs/%s/approve", uuid.New()), map[string]string{"content_id": notSelected.String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReject(t *testing.T) {
	ts := newTestServer(t)
	job, _ := ts.awaiting(t)

	rec := ts.do(http.MethodPost, fmt.Sprintf("/api/jobs/%s/reject", job.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.StatusRejected, ts.store.Job(job.ID).Status)

	running := ts.store.AddJob("g", nil, workflow.StatusRunning)
	rec = ts.do(http.MethodPost, fmt.Sprintf("/api/jobs/%s/reject", running.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestActionLinks(t *testing.T) {
	ts := newTestServer(t)
	job, selected := ts.awaiting(t)

	token, err := ts.signer.Sign(job.ID, selected, notify.ActionApprove)
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/api/actions/"+token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Approved")
	assert.Equal(t, workflow.StatusApproved, ts.store.Job(job.ID).Status)

	// A second click finds the job already decided
	rec = ts.do(http.MethodGet, "/api/actions/"+token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodGet, "/api/actions/forged.token.value", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid or has expired")
}

func TestRateLimitedJobCreation(t *testing.T) {
	ts := newTestServerWithLimits(t, &ratelimit.Config{
		Enabled:       true,
		DefaultLimit:  1000,
		DefaultWindow: time.Minute,
		EndpointConfigs: []ratelimit.EndpointConfig{
			{Path: "/api/jobs", Method: "POST", Limit: 1, Window: time.Hour, Burst: 1},
		},
	})

	rec := ts.do(http.MethodPost, "/api/jobs", map[string]string{"goal": "g"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = ts.do(http.MethodPost, "/api/jobs", map[string]string{"goal": "g"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, ts.broker.Pending("planner-queue"))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodOptions, "/api/jobs", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&ErrValidation{Field: "goal", Message: "required"}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", intake.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("job x: %w", agents.ErrJobNotFound), http.StatusNotFound},
		{db.ErrNotFound, http.StatusNotFound},
		{intake.ErrLinksDisabled, http.StatusNotFound},
		{notify.ErrInvalidLink, http.StatusForbidden},
		{intake.ErrNotAwaitingApproval, http.StatusConflict},
		{&workflow.TransitionError{From: workflow.StatusApproved, To: workflow.StatusRejected}, http.StatusConflict},
		{db.ErrContentNotApprovable, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
