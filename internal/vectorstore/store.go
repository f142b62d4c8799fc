// Package vectorstore indexes documentation pages for similarity search.
//
// Two backends implement Store: ChromemStore (embedded chromem-go, the
// default) and QdrantStore (external Qdrant over gRPC). Documents are
// embedded through an Embedder supplied by the caller.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	ErrCollectionNotFound    = errors.New("collection not found")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrEmptyDocuments        = errors.New("empty or nil documents")
	ErrConnectionFailed      = errors.New("failed to connect to vector store")
	ErrEmbeddingFailed       = errors.New("failed to generate embeddings")
	ErrInvalidCollectionName = errors.New("invalid collection name")
	ErrCircuitOpen           = errors.New("circuit breaker open")
)

// Well-known metadata keys written for documentation pages.
const (
	MetaFilePath = "file_path"
	MetaTitle    = "title"
)

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is one indexed unit, typically a page or a page section.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult is a scored match. Score is cosine similarity; higher is closer.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// Store is the storage surface retrieval depends on.
type Store interface {
	// AddDocuments embeds and upserts docs into collection, creating it on
	// first use. Re-adding an ID replaces the earlier document.
	AddDocuments(ctx context.Context, collection string, docs []Document) error

	// Search returns up to k results ordered by descending score.
	// A missing collection yields ErrCollectionNotFound.
	Search(ctx context.Context, collection, query string, k int) ([]SearchResult, error)

	// Count returns the number of documents in collection.
	Count(ctx context.Context, collection string) (int, error)

	Close() error
}

// ValidateCollectionName enforces ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateSearch(collection, query string, k int) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if k <= 0 {
		return fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if len(query) > maxQueryLength {
		return fmt.Errorf("query exceeds maximum length of %d characters", maxQueryLength)
	}
	return nil
}

const maxQueryLength = 10000
