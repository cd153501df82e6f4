// Package metrics records pipeline metrics with Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonathan/viral-agents/internal/throttle"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

const namespace = "viral_agents"

// PrometheusRecorder implements agents.Metrics, dispatch.Metrics and llm.Recorder
type PrometheusRecorder struct {
	registry prometheus.Gatherer

	stageRuns      *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageTokens    *prometheus.CounterVec
	retries        *prometheus.CounterVec
	throttles      *prometheus.CounterVec
	deadLetters    *prometheus.CounterVec
	topScore       prometheus.Gauge
	generations    *prometheus.CounterVec
	generationTime *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the pipeline metrics on a fresh registry
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return newRecorder(reg)
}

func newRecorder(reg *prometheus.Registry) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		registry: reg,
		stageRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_runs_total",
				Help:      "Stage executions by stage and outcome",
			},
			[]string{"stage", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of stage executions in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		stageTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_tokens_total",
				Help:      "Generation tokens spent by stage",
			},
			[]string{"stage"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Scheduled redeliveries by stage and reason",
			},
			[]string{"stage", "reason"},
		),
		throttles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "throttles_total",
				Help:      "Rate limit responses by remote service",
			},
			[]string{"service"},
		),
		deadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letters_total",
				Help:      "Messages dead-lettered by stage",
			},
			[]string{"stage"},
		),
		topScore: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reviewer_top_score",
				Help:      "Top score of the most recent review",
			},
		),
		generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Generation requests by model, tier and status",
			},
			[]string{"model", "tier", "status"},
		),
		generationTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Duration of generation requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"model", "tier"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ObserveStageRun implements agents.Metrics
func (p *PrometheusRecorder) ObserveStageRun(stage workflow.Stage, status types.RunStatus, elapsed time.Duration, tokens int) {
	p.stageRuns.WithLabelValues(string(stage), string(status)).Inc()
	p.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	if tokens > 0 {
		p.stageTokens.WithLabelValues(string(stage)).Add(float64(tokens))
	}
}

// ObserveTopScore implements agents.Metrics
func (p *PrometheusRecorder) ObserveTopScore(score int) {
	p.topScore.Set(float64(score))
}

// ObserveRetry implements dispatch.Metrics
func (p *PrometheusRecorder) ObserveRetry(stage workflow.Stage, reason string) {
	p.retries.WithLabelValues(string(stage), reason).Inc()
}

// ObserveThrottle implements dispatch.Metrics
func (p *PrometheusRecorder) ObserveThrottle(service string) {
	p.throttles.WithLabelValues(service).Inc()
}

// ObserveDeadLetter implements dispatch.Metrics
func (p *PrometheusRecorder) ObserveDeadLetter(stage workflow.Stage) {
	p.deadLetters.WithLabelValues(string(stage)).Inc()
}

// ObserveGeneration implements llm.Recorder
func (p *PrometheusRecorder) ObserveGeneration(model, tier string, _ int, elapsed time.Duration, err error) {
	status := "success"
	var te *throttle.Error
	switch {
	case errors.As(err, &te):
		status = "throttled"
	case err != nil:
		status = "error"
	}
	p.generations.WithLabelValues(model, tier, status).Inc()
	p.generationTime.WithLabelValues(model, tier).Observe(elapsed.Seconds())
}
