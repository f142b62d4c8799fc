package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
)

func newTestHTTPMetrics(t *testing.T) (*HTTPMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m := &HTTPMetrics{meter: mp.Meter(httpInstrumentationName), logger: logging.NewNop()}
	m.init()
	return m, reader
}

func collectMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) (metricdata.Metrics, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m, reader := newTestHTTPMetrics(t)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/runs", func(c echo.Context) error {
		return c.JSON(http.StatusTooManyRequests, map[string]string{"message": "busy"})
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/health"},
		{http.MethodPost, "/api/v1/runs"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, strings.NewReader("{}")))
	}

	requests, ok := collectMetric(t, reader, "docpipe.http.requests_total")
	require.True(t, ok, "requests counter not recorded")
	sum, ok := requests.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byEndpoint := map[string]int64{}
	for _, dp := range sum.DataPoints {
		endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byEndpoint[endpoint.AsString()+" "+status.Emit()] += dp.Value
	}
	assert.Equal(t, map[string]int64{
		"/health 200":      2,
		"/api/v1/runs 429": 1,
	}, byEndpoint)

	duration, ok := collectMetric(t, reader, "docpipe.http.request_duration_seconds")
	require.True(t, ok, "duration histogram not recorded")
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	_, ok = collectMetric(t, reader, "docpipe.http.response_size_bytes")
	assert.True(t, ok, "response size histogram not recorded")

	active, ok := collectMetric(t, reader, "docpipe.http.active_requests")
	require.True(t, ok)
	gauge, ok := active.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range gauge.DataPoints {
		assert.Zero(t, dp.Value, "every request should have finished")
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", normalizePath(""))
	assert.Equal(t, "/api/v1/runs", normalizePath("/api/v1/runs"))
}
