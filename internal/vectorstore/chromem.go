package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
)

var chromemTracer = otel.Tracer("docpipe.vectorstore.chromem")

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path     string
	Compress bool
}

// ChromemStore implements Store on chromem-go.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	logger   *logging.Logger
}

// NewChromemStore opens (or creates) the store described by cfg.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *logging.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandHome(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		logger.Info(context.Background(), "chromem store opened",
			zap.String("path", path),
			zap.Bool("compress", cfg.Compress),
		)
	}

	return &ChromemStore{db: db, embedder: embedder, logger: logger}, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// AddDocuments implements Store.
func (s *ChromemStore) AddDocuments(ctx context.Context, collection string, docs []Document) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.AddDocuments")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("document_count", len(docs)),
	)

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	col, err := s.db.GetOrCreateCollection(collection, nil, s.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("getting collection %s: %w", collection, err)
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document at index %d has no id", i)
		}
		texts[i] = d.Content
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailed, len(vectors), len(docs))
	}

	out := make([]chromem.Document, len(docs))
	for i, d := range docs {
		out[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: vectors[i],
		}
	}

	// embeddings are precomputed, so a single worker suffices
	if err := col.AddDocuments(ctx, out, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug(ctx, "indexed documents",
		zap.String("collection", collection),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Search implements Store.
func (s *ChromemStore) Search(ctx context.Context, collection, query string, k int) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("k", k))

	if err := validateSearch(collection, query, k); err != nil {
		return nil, err
	}

	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		span.SetStatus(codes.Error, "collection not found")
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	// chromem rejects nResults larger than the collection
	n := col.Count()
	if n == 0 {
		return []SearchResult{}, nil
	}
	k = min(k, n)

	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Count implements Store.
func (s *ChromemStore) Count(_ context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	col := s.db.GetCollection(collection, s.embeddingFunc())
	if col == nil {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return col.Count(), nil
}

// Close implements Store. Persistent chromem writes through on every add.
func (s *ChromemStore) Close() error {
	return nil
}
