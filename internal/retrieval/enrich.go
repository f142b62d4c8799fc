package retrieval

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
)

var tracer = otel.Tracer("docpipe.retrieval")

// DefaultMinSimilarity is the threshold used when none is configured.
const DefaultMinSimilarity = 0.7

// ErrInvalidOptions is wrapped by Options.Validate failures.
var ErrInvalidOptions = errors.New("invalid retrieval options")

// Options controls Select.
type Options struct {
	TopK          int
	MinSimilarity float64
	DedupeLocales bool
	Filter        PathFilter
}

// Validate checks ranges and filter patterns.
func (o Options) Validate() error {
	if o.TopK < 1 {
		return fmt.Errorf("%w: top_k must be >= 1, got %d", ErrInvalidOptions, o.TopK)
	}
	if o.MinSimilarity < 0 || o.MinSimilarity > 1 {
		return fmt.Errorf("%w: min_similarity must be in [0,1], got %g", ErrInvalidOptions, o.MinSimilarity)
	}
	if err := o.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: path filter: %w", ErrInvalidOptions, err)
	}
	return nil
}

// Stats counts what each selection stage removed.
type Stats struct {
	Candidates     int `json:"candidates"`
	BelowThreshold int `json:"below_threshold"`
	PathFiltered   int `json:"path_filtered"`
	Duplicates     int `json:"duplicates"`
	Truncated      int `json:"truncated"`
}

// Select narrows candidates to at most TopK documents sorted by descending
// similarity. It does not modify the input slice.
func Select(candidates []Document, opts Options) ([]Document, Stats) {
	stats := Stats{Candidates: len(candidates)}

	kept := make([]Document, 0, len(candidates))
	for _, d := range candidates {
		if d.Similarity < opts.MinSimilarity {
			stats.BelowThreshold++
			continue
		}
		kept = append(kept, d)
	}

	if !opts.Filter.Empty() {
		n := len(kept)
		kept = slices.DeleteFunc(kept, func(d Document) bool { return !opts.Filter.Allows(d.FilePath) })
		stats.PathFiltered = n - len(kept)
	}

	if opts.DedupeLocales {
		n := len(kept)
		kept = DedupeLocales(kept)
		stats.Duplicates = n - len(kept)
	}

	slices.SortStableFunc(kept, func(a, b Document) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.FilePath, b.FilePath)
	})
	if len(kept) > opts.TopK {
		stats.Truncated = len(kept) - opts.TopK
		kept = kept[:opts.TopK]
	}
	return kept, stats
}

// AuditDoc is the part of a chosen document kept in the audit log.
type AuditDoc struct {
	FilePath   string  `json:"file_path"`
	Similarity float64 `json:"similarity"`
}

// AuditRecord describes one enrichment for later inspection.
type AuditRecord struct {
	StepID    string     `json:"step_id"`
	ThreadID  string     `json:"thread_id"`
	Query     string     `json:"query"`
	Stats     Stats      `json:"stats"`
	Documents []AuditDoc `json:"documents"`
	Error     string     `json:"error,omitempty"`
	At        time.Time  `json:"at"`
}

// Engine runs queries against a Provider and applies Select.
type Engine struct {
	provider Provider
	logger   *logging.Logger
}

// NewEngine returns an Engine over provider.
func NewEngine(provider Provider, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{provider: provider, logger: logger}
}

// Result is the outcome of one Enrich call.
type Result struct {
	Documents []Document
	Stats     Stats
}

// Audit converts r into an audit record.
func (r Result) Audit(stepID, threadID, query string, err error) AuditRecord {
	rec := AuditRecord{
		StepID:    stepID,
		ThreadID:  threadID,
		Query:     query,
		Stats:     r.Stats,
		Documents: make([]AuditDoc, len(r.Documents)),
		At:        time.Now().UTC(),
	}
	for i, d := range r.Documents {
		rec.Documents[i] = AuditDoc{FilePath: d.FilePath, Similarity: d.Similarity}
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// Enrich over-fetches 2*TopK candidates for query and narrows them with
// Select. opts must already be valid.
func (e *Engine) Enrich(ctx context.Context, query string, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Enrich")
	defer span.End()
	span.SetAttributes(
		attribute.Int("retrieval.top_k", opts.TopK),
		attribute.Float64("retrieval.min_similarity", opts.MinSimilarity),
	)

	if e.provider == nil {
		return Result{Documents: []Document{}}, errors.New("no retrieval provider configured")
	}

	candidates, err := e.provider.SearchSimilarDocs(ctx, query, 2*opts.TopK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{Documents: []Document{}}, fmt.Errorf("searching similar docs: %w", err)
	}

	docs, stats := Select(candidates, opts)
	span.SetAttributes(
		attribute.Int("retrieval.candidates", stats.Candidates),
		attribute.Int("retrieval.returned", len(docs)),
	)
	e.logger.Debug(ctx, "retrieval enrichment",
		zap.Int("candidates", stats.Candidates),
		zap.Int("below_threshold", stats.BelowThreshold),
		zap.Int("path_filtered", stats.PathFiltered),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("returned", len(docs)),
	)
	return Result{Documents: docs, Stats: stats}, nil
}
