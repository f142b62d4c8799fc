package steps

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
)

type fakeRetrieval struct {
	mu      sync.Mutex
	queries []string
	limits  []int
	docs    map[string][]retrieval.Document
	errs    map[string]error
}

func (f *fakeRetrieval) SearchSimilarDocs(_ context.Context, query string, limit int) ([]retrieval.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.docs[query], nil
}

func eightCandidates() []retrieval.Document {
	return []retrieval.Document{
		{FilePath: "docs/d.md", Similarity: 0.80},
		{FilePath: "docs/a.md", Similarity: 0.95},
		{FilePath: "docs/g.md", Similarity: 0.70},
		{FilePath: "docs/c.md", Similarity: 0.85},
		{FilePath: "docs/h.md", Similarity: 0.60},
		{FilePath: "docs/b.md", Similarity: 0.90},
		{FilePath: "docs/e.md", Similarity: 0.78},
		{FilePath: "docs/f.md", Similarity: 0.76},
	}
}

func ragDeps(r retrieval.Provider) pipeline.Deps {
	return pipeline.Deps{Retrieval: r, Defaults: pipeline.Defaults{Concurrency: 2}}
}

func TestRAGEnrich_ThresholdAndTopK(t *testing.T) {
	fake := &fakeRetrieval{docs: map[string][]retrieval.Document{"install bridge": eightCandidates()}}
	step := build(t, TypeRAGEnrich, map[string]any{"top_k": 3, "min_similarity": 0.75}, ragDeps(fake))

	pc := pipeline.NewContext("r", nil, pipeline.Domain{})
	pc.Threads = []*pipeline.Thread{{ID: "t1", Category: "how-to", RAGSearchCriteria: pipeline.RAGSearchCriteria{SemanticQuery: "install bridge"}}}

	out, err := step.Execute(context.Background(), pc)
	require.NoError(t, err)

	docs, ok := out.RAGResultsFor("t1")
	require.True(t, ok)
	require.Len(t, docs, 3)
	assert.Equal(t, "docs/a.md", docs[0].FilePath)
	assert.Equal(t, "docs/b.md", docs[1].FilePath)
	assert.Equal(t, "docs/c.md", docs[2].FilePath)
	assert.Equal(t, []int{6}, fake.limits, "over-fetches twice top_k")

	audit := out.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "install bridge", audit[0].Query)
	assert.Equal(t, 2, audit[0].Stats.BelowThreshold)
	assert.Equal(t, 3, audit[0].Stats.Truncated)
	assert.Len(t, audit[0].Documents, 3)
	assert.Equal(t, 1, out.Metrics.ThreadsEnriched)
}

func TestRAGEnrich_QueryFallbackAndSkips(t *testing.T) {
	fake := &fakeRetrieval{docs: map[string][]retrieval.Document{
		"arm64 build": {{FilePath: "docs/build.md", Similarity: 0.9}},
	}}
	step := build(t, TypeRAGEnrich, nil, ragDeps(fake))

	pc := pipeline.NewContext("r", nil, pipeline.Domain{})
	pc.Threads = []*pipeline.Thread{
		{ID: "kw", Category: "bug-report", RAGSearchCriteria: pipeline.RAGSearchCriteria{Keywords: []string{"arm64", "build"}}},
		{ID: "blank", Category: "how-to", RAGSearchCriteria: pipeline.RAGSearchCriteria{SemanticQuery: "   "}},
		{ID: "noise", Category: pipeline.CategoryNoDocValue, RAGSearchCriteria: pipeline.RAGSearchCriteria{SemanticQuery: "hi"}},
	}

	out, err := step.Execute(context.Background(), pc)
	require.NoError(t, err)

	docs, ok := out.RAGResultsFor("kw")
	require.True(t, ok)
	assert.Len(t, docs, 1)

	_, ok = out.RAGResultsFor("blank")
	assert.False(t, ok, "blank queries are skipped")
	_, ok = out.RAGResultsFor("noise")
	assert.False(t, ok, "doc-irrelevant threads are skipped")
	assert.Equal(t, []string{"arm64 build"}, fake.queries)
	assert.Empty(t, out.Errors())
}

func TestRAGEnrich_FailureIsolatedPerThread(t *testing.T) {
	fake := &fakeRetrieval{
		docs: map[string][]retrieval.Document{"good": {{FilePath: "docs/ok.md", Similarity: 0.9}}},
		errs: map[string]error{"bad": errors.New("index offline")},
	}
	step := build(t, TypeRAGEnrich, nil, ragDeps(fake))

	pc := pipeline.NewContext("r", nil, pipeline.Domain{})
	pc.Threads = []*pipeline.Thread{
		{ID: "t-bad", Category: "how-to", RAGSearchCriteria: pipeline.RAGSearchCriteria{SemanticQuery: "bad"}},
		{ID: "t-good", Category: "how-to", RAGSearchCriteria: pipeline.RAGSearchCriteria{SemanticQuery: "good"}},
	}

	out, err := step.Execute(context.Background(), pc)
	require.NoError(t, err)

	bad, ok := out.RAGResultsFor("t-bad")
	require.True(t, ok, "failed threads get an empty result, not an absent one")
	assert.Empty(t, bad)
	good, _ := out.RAGResultsFor("t-good")
	assert.Len(t, good, 1)

	errs := out.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "t-bad", errs[0].ItemID)
	assert.Contains(t, errs[0].Message, "index offline")

	audit := out.Audit()
	require.Len(t, audit, 2)
	var failed int
	for _, a := range audit {
		if a.Error != "" {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Len(t, out.Threads, 2, "threads survive a retrieval failure")
}

func TestRAGEnrich_ProviderPanicStoresEmptyResult(t *testing.T) {
	panicky := retrieval.ProviderFunc(func(context.Context, string, int) ([]retrieval.Document, error) {
		panic("provider bug")
	})
	step := build(t, TypeRAGEnrich, nil, ragDeps(panicky))

	pc := pipeline.NewContext("r", nil, pipeline.Domain{})
	pc.Threads = []*pipeline.Thread{
		{ID: "t1", Category: "how-to", RAGSearchCriteria: pipeline.RAGSearchCriteria{SemanticQuery: "install"}},
	}

	out, err := step.Execute(context.Background(), pc)
	require.NoError(t, err)

	docs, ok := out.RAGResultsFor("t1")
	require.True(t, ok)
	assert.Empty(t, docs)

	errs := out.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "t1", errs[0].ItemID)
	assert.Contains(t, errs[0].Message, "provider bug")

	audit := out.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "install", audit[0].Query)
	assert.Contains(t, audit[0].Error, "provider bug")
	assert.Empty(t, audit[0].Documents)
}

func TestRAGEnrich_DomainPathFilterAndLocales(t *testing.T) {
	fake := &fakeRetrieval{docs: map[string][]retrieval.Document{"q": {
		{FilePath: "docs/guide.md", Similarity: 0.80},
		{FilePath: "i18n/fr/docs/guide.md", Similarity: 0.95},
		{FilePath: "docs/internal/secret.md", Similarity: 0.99},
		{FilePath: "blog/post.md", Similarity: 0.90},
	}}}
	step := build(t, TypeRAGEnrich, nil, ragDeps(fake))

	pc := pipeline.NewContext("r", nil, pipeline.Domain{PathFilter: retrieval.PathFilter{
		Include: []string{"docs/**", "i18n/**"},
		Exclude: []string{"docs/internal/**"},
	}})
	pc.Threads = []*pipeline.Thread{{ID: "t", Category: "how-to", RAGSearchCriteria: pipeline.RAGSearchCriteria{SemanticQuery: "q"}}}

	out, err := step.Execute(context.Background(), pc)
	require.NoError(t, err)
	docs, _ := out.RAGResultsFor("t")
	require.Len(t, docs, 1)
	assert.Equal(t, "docs/guide.md", docs[0].FilePath)
}

func TestRAGEnrich_LocaleDedupCanBeDisabled(t *testing.T) {
	fake := &fakeRetrieval{docs: map[string][]retrieval.Document{"q": {
		{FilePath: "docs/guide.md", Similarity: 0.80},
		{FilePath: "fr/docs/guide.md", Similarity: 0.95},
	}}}
	step := build(t, TypeRAGEnrich, map[string]any{"dedupe_locales": false}, ragDeps(fake))

	pc := pipeline.NewContext("r", nil, pipeline.Domain{})
	pc.Threads = []*pipeline.Thread{{ID: "t", Category: "how-to", RAGSearchCriteria: pipeline.RAGSearchCriteria{SemanticQuery: "q"}}}

	out, err := step.Execute(context.Background(), pc)
	require.NoError(t, err)
	docs, _ := out.RAGResultsFor("t")
	assert.Len(t, docs, 2)
}

func TestRAGEnrich_Configuration(t *testing.T) {
	fake := &fakeRetrieval{}
	tests := []struct {
		name    string
		options map[string]any
	}{
		{"top_k zero", map[string]any{"top_k": 0}},
		{"min_similarity above one", map[string]any{"min_similarity": 1.5}},
		{"min_similarity negative", map[string]any{"min_similarity": -0.1}},
		{"unknown option", map[string]any{"topk": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry().Create(pipeline.StepConfig{ID: "rag", Type: TypeRAGEnrich, Options: tt.options}, ragDeps(fake))
			var ce *pipeline.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "rag", ce.StepID)
		})
	}

	_, err := NewRegistry().Create(pipeline.StepConfig{ID: "rag", Type: TypeRAGEnrich}, pipeline.Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestRAGEnrich_AppDefaults(t *testing.T) {
	fake := &fakeRetrieval{docs: map[string][]retrieval.Document{"q": {
		{FilePath: "docs/a.md", Similarity: 0.65},
		{FilePath: "docs/b.md", Similarity: 0.55},
		{FilePath: "fr/docs/a.md", Similarity: 0.9},
	}}}
	deps := ragDeps(fake)
	deps.Defaults.TopK = 1
	deps.Defaults.MinSimilarity = 0.6
	deps.Defaults.DisableLocaleDedup = true
	step := build(t, TypeRAGEnrich, nil, deps)

	pc := pipeline.NewContext("r", nil, pipeline.Domain{})
	pc.Threads = []*pipeline.Thread{{ID: "t", Category: "how-to", RAGSearchCriteria: pipeline.RAGSearchCriteria{SemanticQuery: "q"}}}
	out, err := step.Execute(context.Background(), pc)
	require.NoError(t, err)

	docs, _ := out.RAGResultsFor("t")
	require.Len(t, docs, 1)
	assert.Equal(t, "fr/docs/a.md", docs[0].FilePath)
	assert.Equal(t, []int{2}, fake.limits)
}

func TestQuery(t *testing.T) {
	assert.Equal(t, "semantic", Query(&pipeline.Thread{RAGSearchCriteria: pipeline.RAGSearchCriteria{SemanticQuery: " semantic ", Keywords: []string{"k"}}}))
	assert.Equal(t, "a b", Query(&pipeline.Thread{RAGSearchCriteria: pipeline.RAGSearchCriteria{Keywords: []string{"a", "b"}}}))
	assert.Empty(t, Query(&pipeline.Thread{}))
}
