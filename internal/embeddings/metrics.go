package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/docpipe/internal/embeddings"

// Metrics records embedding latency, batch size and failures.
type Metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics registers instruments on meter, or the global meter when nil.
// Instruments that fail to register are logged and skipped.
func NewMetrics(meter metric.Meter, logger *logging.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx := context.Background()
	m := &Metrics{}

	var err error
	m.duration, err = meter.Float64Histogram(
		"docpipe.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding requests, by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"docpipe.embedding.batch_size",
		metric.WithDescription("Texts per embedding request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"docpipe.embedding.errors_total",
		metric.WithDescription("Failed embedding requests, by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create errors counter", zap.Error(err))
	}
	return m
}

// Record records one request.
func (m *Metrics) Record(ctx context.Context, model, operation string, d time.Duration, batch int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if batch > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batch), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
