package vectorstore

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
)

// bagEmbedder hashes words into a small vector so texts sharing words land
// close together. Deterministic, which is all the store tests need.
type bagEmbedder struct {
	dim   int
	calls int
	err   error
}

func (e *bagEmbedder) embed(text string) []float32 {
	v := make([]float32, e.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%e.dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func (e *bagEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *bagEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.embed(text), nil
}

func newTestChromemStore(t *testing.T, persistent bool) (*ChromemStore, *bagEmbedder) {
	t.Helper()
	emb := &bagEmbedder{dim: 64}
	cfg := ChromemConfig{}
	if persistent {
		cfg.Path = t.TempDir()
	}
	store, err := NewChromemStore(cfg, emb, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, emb
}
