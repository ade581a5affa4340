// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Scheduler metrics
	JobsSubmitted      prometheus.Counter
	JobsCompleted      *prometheus.CounterVec
	JobLatency         prometheus.Histogram
	PollWindowsExpired prometheus.Counter

	// Search metrics
	RoundsTotal      *prometheus.CounterVec
	VariablesTotal   *prometheus.CounterVec
	BestScore        prometheus.Gauge
	SearchRunsTotal  *prometheus.CounterVec
	SearchDuration   prometheus.Histogram
	PromotionsTotal  prometheus.Counter
	EvaluatorBreaker prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulSearch prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "threshold_lab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		JobsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs_submitted_total",
			Help:      "Total number of evaluation jobs submitted",
		}),
		JobsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "jobs_completed_total",
			Help:      "Total number of evaluation jobs finished by status",
		}, []string{"status"}),
		JobLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_latency_seconds",
			Help:      "Time from submission to completion acknowledgment",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		PollWindowsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "poll_windows_expired_total",
			Help:      "Polling windows that elapsed without an acknowledgment",
		}),

		RoundsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "rounds_total",
			Help:      "Refinement rounds by outcome",
		}, []string{"outcome"}),
		VariablesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "variables_total",
			Help:      "Variables processed by final status",
		}, []string{"status"}),
		BestScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "best_score",
			Help:      "Best aggregate score of the running search",
		}),
		SearchRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "runs_total",
			Help:      "Search runs by final status",
		}, []string{"status"}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search run duration in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),
		PromotionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "promotions_total",
			Help:      "Best-value promotions",
		}),
		EvaluatorBreaker: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "breaker_open",
			Help:      "1 while the evaluator circuit breaker is open",
		}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulSearch: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_search_timestamp",
			Help:      "Unix timestamp of last completed search",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler for a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordSubmitted counts a submitted job.
func (m *Metrics) RecordSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
}

// RecordJob records a finished job. status is ok, failed or timeout.
func (m *Metrics) RecordJob(status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.JobsCompleted.WithLabelValues(status).Inc()
	m.JobLatency.Observe(latency.Seconds())
}

// RecordPollWindowExpired counts a polling window without acknowledgment.
func (m *Metrics) RecordPollWindowExpired() {
	if m == nil {
		return
	}
	m.PollWindowsExpired.Inc()
}

// RecordRound records a finished refinement round.
func (m *Metrics) RecordRound(outcome string) {
	if m == nil {
		return
	}
	m.RoundsTotal.WithLabelValues(outcome).Inc()
}

// RecordVariable records a variable's final status.
func (m *Metrics) RecordVariable(status string) {
	if m == nil {
		return
	}
	m.VariablesTotal.WithLabelValues(status).Inc()
}

// SetBestScore updates the best score gauge.
func (m *Metrics) SetBestScore(score float64) {
	if m == nil {
		return
	}
	m.BestScore.Set(score)
}

// RecordPromotion counts a best-value promotion.
func (m *Metrics) RecordPromotion() {
	if m == nil {
		return
	}
	m.PromotionsTotal.Inc()
}

// SetBreakerOpen reports the evaluator breaker state.
func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.EvaluatorBreaker.Set(1)
	} else {
		m.EvaluatorBreaker.Set(0)
	}
}

// RecordSearchRun records a finished search.
func (m *Metrics) RecordSearchRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SearchRunsTotal.WithLabelValues(status).Inc()
	m.SearchDuration.Observe(duration.Seconds())
	if status == "COMPLETED" {
		m.LastSuccessfulSearch.SetToCurrentTime()
	}
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
