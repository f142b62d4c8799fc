// Package retrieval finds reference documentation for a thread and narrows
// the candidates down to the few worth showing a generator.
//
// Selection runs in a fixed order: similarity threshold, path filter,
// locale deduplication, then sort and truncate. The order matters; a
// localized page can only win deduplication when its non-localized twin was
// already removed by an earlier stage.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/docpipe/internal/vectorstore"
)

// Document is a retrieved reference page.
type Document struct {
	FilePath   string  `json:"file_path"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
	Excerpt    string  `json:"excerpt,omitempty"`
}

// Provider answers similarity queries. Results need not be sorted.
type Provider interface {
	SearchSimilarDocs(ctx context.Context, query string, limit int) ([]Document, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, query string, limit int) ([]Document, error)

func (f ProviderFunc) SearchSimilarDocs(ctx context.Context, query string, limit int) ([]Document, error) {
	return f(ctx, query, limit)
}

// maxExcerpt bounds the page text carried on each Document.
const maxExcerpt = 1200

// VectorStoreProvider serves queries from one vector store collection.
type VectorStoreProvider struct {
	store      vectorstore.Store
	collection string
}

// NewVectorStoreProvider validates collection and wraps store.
func NewVectorStoreProvider(store vectorstore.Store, collection string) (*VectorStoreProvider, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if err := vectorstore.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	return &VectorStoreProvider{store: store, collection: collection}, nil
}

// SearchSimilarDocs implements Provider.
func (p *VectorStoreProvider) SearchSimilarDocs(ctx context.Context, query string, limit int) ([]Document, error) {
	results, err := p.store.Search(ctx, p.collection, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", p.collection, err)
	}
	docs := make([]Document, 0, len(results))
	for _, r := range results {
		path := r.Metadata[vectorstore.MetaFilePath]
		if path == "" {
			path = r.ID
		}
		docs = append(docs, Document{
			FilePath:   path,
			Title:      r.Metadata[vectorstore.MetaTitle],
			Similarity: clamp01(float64(r.Score)),
			Excerpt:    excerpt(r.Content, maxExcerpt),
		})
	}
	return docs, nil
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := strings.LastIndexByte(s[:n], ' ')
	if cut <= 0 {
		cut = n
	}
	return s[:cut] + "..."
}
