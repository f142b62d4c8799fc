package monitor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

const instrumentationName = "github.com/fyrsmithlabs/docpipe/internal/monitor"

// RunMetrics implements pipeline.Observer with OpenTelemetry instruments,
// for export over OTLP alongside traces.
type RunMetrics struct {
	runs         metric.Int64Counter
	runDuration  metric.Float64Histogram
	stepDuration metric.Float64Histogram
	tokens       metric.Int64Counter
	proposals    metric.Int64Counter
}

// NewRunMetrics registers instruments on meter, or the global meter when
// nil. Instruments that fail to register are logged and skipped.
func NewRunMetrics(meter metric.Meter, logger *logging.Logger) *RunMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx := context.Background()
	m := &RunMetrics{}

	var err error
	m.runs, err = meter.Int64Counter(
		"docpipe.pipeline.runs",
		metric.WithDescription("Finished pipeline runs, by status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create runs counter", zap.Error(err))
	}

	m.runDuration, err = meter.Float64Histogram(
		"docpipe.pipeline.run_duration_seconds",
		metric.WithDescription("Duration of pipeline runs, by status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create run duration histogram", zap.Error(err))
	}

	m.stepDuration, err = meter.Float64Histogram(
		"docpipe.pipeline.step_duration_seconds",
		metric.WithDescription("Duration of step executions, by step id, type and outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create step duration histogram", zap.Error(err))
	}

	m.tokens, err = meter.Int64Counter(
		"docpipe.llm.tokens",
		metric.WithDescription("Tokens consumed by finished runs"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create tokens counter", zap.Error(err))
	}

	m.proposals, err = meter.Int64Counter(
		"docpipe.pipeline.proposals",
		metric.WithDescription("Proposals by lifecycle stage"),
		metric.WithUnit("{proposal}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create proposals counter", zap.Error(err))
	}
	return m
}

// RunStarted implements pipeline.Observer.
func (m *RunMetrics) RunStarted(string) {}

// StepCompleted implements pipeline.Observer.
func (m *RunMetrics) StepCompleted(stepID, stepType string, d time.Duration, err error) {
	if m.stepDuration == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.stepDuration.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("step_id", stepID),
		attribute.String("step_type", stepType),
		attribute.String("outcome", outcome),
	))
}

// RunCompleted implements pipeline.Observer.
func (m *RunMetrics) RunCompleted(_ string, status pipeline.RunStatus, d time.Duration, pc *pipeline.Context) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.runDuration != nil {
		m.runDuration.Record(ctx, d.Seconds(), attrs)
	}
	if pc == nil {
		return
	}

	s := pipeline.SerializeMetrics(pc, 0)
	if m.tokens != nil {
		m.tokens.Add(ctx, int64(s.LLMTokensUsed))
	}
	if m.proposals != nil {
		for stage, n := range proposalStages(s) {
			m.proposals.Add(ctx, int64(n), metric.WithAttributes(attribute.String("stage", stage)))
		}
	}
}
