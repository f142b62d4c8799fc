package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docpipe/internal/vectorstore"
)

// memStore is a minimal vectorstore.Store that returns canned results.
type memStore struct {
	docs    map[string]vectorstore.Document
	results []vectorstore.SearchResult
	err     error
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]vectorstore.Document{}}
}

func (m *memStore) AddDocuments(_ context.Context, _ string, docs []vectorstore.Document) error {
	for _, d := range docs {
		m.docs[d.ID] = d
	}
	return nil
}

func (m *memStore) Search(context.Context, string, string, int) ([]vectorstore.SearchResult, error) {
	return m.results, m.err
}

func (m *memStore) Count(context.Context, string) (int, error) { return len(m.docs), nil }
func (m *memStore) Close() error                               { return nil }

func TestVectorStoreProvider(t *testing.T) {
	store := newMemStore()
	store.results = []vectorstore.SearchResult{
		{ID: "x", Content: "body text", Score: 0.82, Metadata: map[string]string{vectorstore.MetaFilePath: "docs/x.md", vectorstore.MetaTitle: "X"}},
		{ID: "docs/y.md", Content: "y", Score: 1.2},
		{ID: "docs/z.md", Content: "z", Score: -0.3},
	}

	p, err := NewVectorStoreProvider(store, "docs_pages")
	require.NoError(t, err)

	docs, err := p.SearchSimilarDocs(context.Background(), "q", 6)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, Document{FilePath: "docs/x.md", Title: "X", Similarity: float64(float32(0.82)), Excerpt: "body text"}, docs[0])
	assert.Equal(t, "docs/y.md", docs[1].FilePath)
	assert.Equal(t, 1.0, docs[1].Similarity)
	assert.Equal(t, 0.0, docs[2].Similarity)
}

func TestVectorStoreProvider_Errors(t *testing.T) {
	_, err := NewVectorStoreProvider(nil, "docs")
	assert.Error(t, err)
	_, err = NewVectorStoreProvider(newMemStore(), "Bad Name")
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)

	store := newMemStore()
	store.err = vectorstore.ErrCollectionNotFound
	p, err := NewVectorStoreProvider(store, "docs")
	require.NoError(t, err)
	_, err = p.SearchSimilarDocs(context.Background(), "q", 2)
	assert.True(t, errors.Is(err, vectorstore.ErrCollectionNotFound))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("  short  ", 10))
	assert.Equal(t, "hello...", excerpt("hello world again", 10))
	assert.Equal(t, "abcdefghij...", excerpt("abcdefghijklmnop", 10))
}
