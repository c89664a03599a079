// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_evaluations_started_total",
		Help: "Evaluations created by start or reset requests",
	})

	// EvaluationsFinished counts terminal transitions by status and reason.
	EvaluationsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_evaluations_finished_total",
		Help: "Evaluations that reached a terminal state",
	}, []string{"status", "reason"})

	EvaluationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_evaluations_active",
		Help: "Admitted evaluations in collecting or scoring",
	})

	EvaluationsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_evaluations_queued",
		Help: "Evaluations waiting for an admission slot",
	})

	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_submissions_total",
		Help: "Agent result submissions by outcome",
	}, []string{"outcome"})

	ScoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbiter_scoring_pass_duration_seconds",
		Help:    "Wall time of one scoring pass",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	AnalyzerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbiter_analyzer_duration_seconds",
		Help:    "Rule-based analysis time per agent result",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	// JudgeRequests counts judge calls by outcome: ok, transient, rejected,
	// unparseable, cancelled.
	JudgeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbiter_judge_requests_total",
		Help: "AI judge calls by outcome",
	}, []string{"outcome"})

	JudgeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbiter_judge_latency_seconds",
		Help:    "AI judge call latency including retries",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	JudgeInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_judge_inflight",
		Help: "AI judge calls currently holding a concurrency slot",
	})

	// JudgeUnavailable counts agent results scored without the judge.
	JudgeUnavailable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_judge_unavailable_total",
		Help: "Agent results whose judged categories fell back to zero",
	})
)
