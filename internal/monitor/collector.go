package monitor

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

// Namespace prefixes every exported series.
const Namespace = "docpipe"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// Collector implements pipeline.Observer with Prometheus metrics.
type Collector struct {
	activeRuns   prometheus.Gauge
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	stepDuration *prometheus.HistogramVec
	stepFailures *prometheus.CounterVec
	messages     *prometheus.CounterVec
	threads      *prometheus.CounterVec
	proposals    *prometheus.CounterVec
	llmCalls     prometheus.Counter
	llmTokens    prometheus.Counter
	runErrors    prometheus.Counter
}

// NewCollector creates the collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_runs",
			Help:      "Pipeline runs currently executing.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Finished pipeline runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs.",
			Buckets:   durationBuckets,
		}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step executions by step id, type and outcome.",
			Buckets:   durationBuckets,
		}, []string{"step_id", "step_type", "outcome"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "step_failures_total",
			Help:      "Step executions that returned an error.",
		}, []string{"step_id", "step_type"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_total",
			Help:      "Messages seen by finished runs, by stage (received, filtered).",
		}, []string{"stage"}),
		threads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "threads_total",
			Help:      "Threads produced by finished runs, by stage (created, enriched).",
		}, []string{"stage"}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "proposals_total",
			Help:      "Proposals by lifecycle stage.",
		}, []string{"stage"}),
		llmCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "llm_calls_total",
			Help:      "Generation calls made by finished runs.",
		}),
		llmTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by finished runs.",
		}),
		runErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "item_errors_total",
			Help:      "Soft failures recorded by finished runs.",
		}),
	}

	var errs []error
	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.activeRuns, c.runs, c.runDuration, c.stepDuration, c.stepFailures,
		c.messages, c.threads, c.proposals, c.llmCalls, c.llmTokens, c.runErrors,
	}
}

// RunStarted implements pipeline.Observer.
func (c *Collector) RunStarted(string) {
	c.activeRuns.Inc()
}

// StepCompleted implements pipeline.Observer.
func (c *Collector) StepCompleted(stepID, stepType string, d time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
		c.stepFailures.WithLabelValues(stepID, stepType).Inc()
	}
	c.stepDuration.WithLabelValues(stepID, stepType, outcome).Observe(d.Seconds())
}

// RunCompleted implements pipeline.Observer.
func (c *Collector) RunCompleted(_ string, status pipeline.RunStatus, d time.Duration, pc *pipeline.Context) {
	c.activeRuns.Dec()
	c.runs.WithLabelValues(string(status)).Inc()
	c.runDuration.Observe(d.Seconds())
	if pc == nil {
		return
	}

	s := pipeline.SerializeMetrics(pc, 0)
	c.messages.WithLabelValues("received").Add(float64(s.MessagesTotal))
	c.messages.WithLabelValues("filtered").Add(float64(s.MessagesFiltered))
	c.threads.WithLabelValues("created").Add(float64(s.ThreadsCreated))
	c.threads.WithLabelValues("enriched").Add(float64(s.ThreadsEnriched))
	for stage, n := range proposalStages(s) {
		c.proposals.WithLabelValues(stage).Add(float64(n))
	}
	c.llmCalls.Add(float64(s.LLMCalls))
	c.llmTokens.Add(float64(s.LLMTokensUsed))
	c.runErrors.Add(float64(s.ErrorCount))
}

func proposalStages(s pipeline.Snapshot) map[string]int {
	return map[string]int{
		"generated": s.ProposalsGenerated,
		"validated": s.ProposalsValidated,
		"rejected":  s.ProposalsRejected,
		"condensed": s.ProposalsCondensed,
		"accepted":  s.ProposalsAccepted,
		"flagged":   s.ProposalsFlagged,
	}
}

// Observers fans lifecycle events out to every non-nil observer in order.
type Observers []pipeline.Observer

// RunStarted implements pipeline.Observer.
func (o Observers) RunStarted(runID string) {
	for _, obs := range o {
		if obs != nil {
			obs.RunStarted(runID)
		}
	}
}

// StepCompleted implements pipeline.Observer.
func (o Observers) StepCompleted(stepID, stepType string, d time.Duration, err error) {
	for _, obs := range o {
		if obs != nil {
			obs.StepCompleted(stepID, stepType, d, err)
		}
	}
}

// RunCompleted implements pipeline.Observer.
func (o Observers) RunCompleted(runID string, status pipeline.RunStatus, d time.Duration, pc *pipeline.Context) {
	for _, obs := range o {
		if obs != nil {
			obs.RunCompleted(runID, status, d, pc)
		}
	}
}
