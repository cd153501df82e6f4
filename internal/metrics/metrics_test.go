package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/viral-agents/internal/throttle"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

func TestRecorder_StageRuns(t *testing.T) {
	p := newRecorder(prometheus.NewRegistry())

	p.ObserveStageRun(workflow.StageDrafter, types.RunStatusDone, 2*time.Second, 120)
	p.ObserveStageRun(workflow.StageDrafter, types.RunStatusFailed, time.Second, 0)
	p.ObserveStageRun(workflow.StageDrafter, types.RunStatusDone, time.Second, 30)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.stageRuns.WithLabelValues("drafter", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.stageRuns.WithLabelValues("drafter", "failed")))
	assert.Equal(t, 150.0, testutil.ToFloat64(p.stageTokens.WithLabelValues("drafter")))
}

func TestRecorder_Settlements(t *testing.T) {
	p := newRecorder(prometheus.NewRegistry())

	p.ObserveRetry(workflow.StageCollector, "throttled")
	p.ObserveThrottle("collection")
	p.ObserveDeadLetter(workflow.StageReviewer)
	p.ObserveTopScore(81)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.retries.WithLabelValues("collector", "throttled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.throttles.WithLabelValues("collection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.deadLetters.WithLabelValues("reviewer")))
	assert.Equal(t, 81.0, testutil.ToFloat64(p.topScore))
}

func TestRecorder_GenerationStatus(t *testing.T) {
	p := newRecorder(prometheus.NewRegistry())

	p.ObserveGeneration("m", "lite", 10, time.Millisecond, nil)
	p.ObserveGeneration("m", "lite", 0, time.Millisecond, throttle.New("gemini", time.Second, time.Second, nil))
	p.ObserveGeneration("m", "lite", 0, time.Millisecond, errors.New("boom"))

	for _, status := range []string{"success", "throttled", "error"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(p.generations.WithLabelValues("m", "lite", status)), status)
	}
}

func TestRecorder_Handler(t *testing.T) {
	p := NewPrometheusRecorder()
	p.ObserveTopScore(70)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "viral_agents_reviewer_top_score 70")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
