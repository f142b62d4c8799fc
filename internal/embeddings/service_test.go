package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docpipe/internal/config"
	"github.com/fyrsmithlabs/docpipe/internal/telemetry"
)

func newTEIServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Inputs   json.RawMessage `json:"inputs"`
			Truncate bool            `json:"truncate"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		if status != http.StatusOK {
			http.Error(w, "model overloaded", status)
			return
		}

		var inputs []string
		if err := json.Unmarshal(req.Inputs, &inputs); err != nil {
			var single string
			require.NoError(t, json.Unmarshal(req.Inputs, &single))
			inputs = []string{single}
		}
		out := make([][]float32, len(inputs))
		for i, in := range inputs {
			out[i] = []float32{float32(len(in)), 1, 0}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{BaseURL: "http://localhost:8080"}.Validate())
	assert.ErrorIs(t, Config{}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{BaseURL: "localhost:8080"}.Validate(), ErrInvalidConfig)
}

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(config.EmbeddingsConfig{BaseURL: "http://tei:80", Model: "BAAI/bge-small-en-v1.5"})
	assert.Equal(t, "http://tei:80", cfg.BaseURL)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Model)
	assert.Positive(t, cfg.Timeout)
}

func TestService_EmbedDocuments(t *testing.T) {
	srv := newTEIServer(t, http.StatusOK)
	svc, err := NewService(Config{BaseURL: srv.URL + "/", Model: "m"})
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"a", "bbb"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(3), vectors[1][0])
}

func TestService_EmbedQuery(t *testing.T) {
	srv := newTEIServer(t, http.StatusOK)
	svc, err := NewService(Config{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	v, err := svc.EmbedQuery(context.Background(), "four")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1, 0}, v)
}

func TestService_EmptyInput(t *testing.T) {
	svc, err := NewService(Config{BaseURL: "http://localhost:1"})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_ServerErrorRecordsMetric(t *testing.T) {
	srv := newTEIServer(t, http.StatusServiceUnavailable)
	tel := telemetry.NewTestTelemetry()
	svc, err := NewService(Config{BaseURL: srv.URL, Model: "m"}, WithMeter(tel.Meter(instrumentationName)))
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "hello")
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")

	rm, err := tel.Collect(context.Background())
	require.NoError(t, err)
	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	assert.Contains(t, names, "docpipe.embedding.errors_total")
	assert.Contains(t, names, "docpipe.embedding.duration_seconds")
}

func TestService_MismatchedVectorCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[[1,2]]`))
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.True(t, strings.Contains(err.Error(), "got 1 vectors for 2 texts"))
}
