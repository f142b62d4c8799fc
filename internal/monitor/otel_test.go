package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

func TestRunMetrics(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := NewRunMetrics(mp.Meter(instrumentationName), nil)

	m.RunStarted("run-1")
	m.StepCompleted("classify", "classify", time.Second, nil)
	m.RunCompleted("run-1", pipeline.RunCompleted, 3*time.Second, finishedContext())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			if md.Name == "docpipe.llm.tokens" {
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(1500), sum.DataPoints[0].Value)
			}
		}
	}
	for _, name := range []string{
		"docpipe.pipeline.runs",
		"docpipe.pipeline.run_duration_seconds",
		"docpipe.pipeline.step_duration_seconds",
		"docpipe.llm.tokens",
		"docpipe.pipeline.proposals",
	} {
		assert.True(t, found[name], "missing %s", name)
	}
}
