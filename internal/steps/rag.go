package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
)

// RAGEnrichOptions configure rag-enrich. Unset fields take the
// application retrieval defaults.
type RAGEnrichOptions struct {
	TopK          int           `mapstructure:"top_k"`
	MinSimilarity *float64      `mapstructure:"min_similarity"`
	DedupeLocales *bool         `mapstructure:"dedupe_locales"`
	Concurrency   int           `mapstructure:"concurrency" validate:"gte=0,lte=64"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type ragEnrich struct {
	base
	defaults pipeline.Defaults
	engine   *retrieval.Engine
	opts     RAGEnrichOptions
	sel      retrieval.Options
}

func newRAGEnrich(cfg pipeline.StepConfig, deps pipeline.Deps) (pipeline.Step, error) {
	if deps.Retrieval == nil {
		return nil, fmt.Errorf("%w: %s needs a retrieval provider", ErrMissingDependency, cfg.Type)
	}
	s := &ragEnrich{
		base:     newBase(cfg, deps, "Retrieval Enricher", "Finds the documentation pages most similar to each thread"),
		defaults: deps.Defaults,
	}
	opts, sel, err := ragOptions(cfg, deps.Defaults)
	if err != nil {
		return nil, err
	}
	s.opts, s.sel = opts, sel
	s.engine = retrieval.NewEngine(deps.Retrieval, s.logger)
	return s, nil
}

func ragOptions(cfg pipeline.StepConfig, d pipeline.Defaults) (RAGEnrichOptions, retrieval.Options, error) {
	opts := RAGEnrichOptions{TopK: d.TopK, Concurrency: d.Concurrency}
	if opts.TopK == 0 {
		opts.TopK = 5
	}
	if err := pipeline.DecodeOptions(cfg.Options, &opts); err != nil {
		return opts, retrieval.Options{}, err
	}

	sel := retrieval.Options{TopK: opts.TopK, MinSimilarity: retrieval.DefaultMinSimilarity, DedupeLocales: true}
	if d.MinSimilarity > 0 {
		sel.MinSimilarity = d.MinSimilarity
	}
	if d.DisableLocaleDedup {
		sel.DedupeLocales = false
	}
	if opts.MinSimilarity != nil {
		sel.MinSimilarity = *opts.MinSimilarity
	}
	if opts.DedupeLocales != nil {
		sel.DedupeLocales = *opts.DedupeLocales
	}
	if err := sel.Validate(); err != nil {
		return opts, sel, err
	}
	return opts, sel, nil
}

func (s *ragEnrich) ValidateConfig(cfg pipeline.StepConfig) error {
	_, _, err := ragOptions(cfg, s.defaults)
	return err
}

// Query builds the retrieval query for t: its semantic query, else its
// keywords joined by spaces.
func Query(t *pipeline.Thread) string {
	if q := strings.TrimSpace(t.RAGSearchCriteria.SemanticQuery); q != "" {
		return q
	}
	return strings.TrimSpace(strings.Join(t.RAGSearchCriteria.Keywords, " "))
}

// Execute stores the selected documents for every doc-relevant thread in
// RAGResults. A thread whose retrieval fails gets an empty result and an
// error record; threads with a blank query are skipped.
func (s *ragEnrich) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	sel := s.sel
	sel.Filter = pc.Domain.PathFilter
	if err := sel.Filter.Validate(); err != nil {
		return pc, fmt.Errorf("domain path filter: %w", err)
	}

	var threads []*pipeline.Thread
	for _, t := range pc.Threads {
		if t.DocRelevant() {
			threads = append(threads, t)
		}
	}

	results, err := pipeline.RunItems(ctx, threads,
		func(t *pipeline.Thread) string { return t.ID },
		pipeline.ItemOptions{Concurrency: s.opts.Concurrency, Timeout: s.opts.Timeout, FailFast: s.cfg.HardStop},
		func(ctx context.Context, t *pipeline.Thread) (int, error) {
			return s.enrichThread(ctx, pc, t, sel)
		})
	ok, err := finishItems(pc, s.cfg.ID, results, err)
	if err != nil {
		return pc, err
	}

	enriched := 0
	for _, r := range ok {
		if r.Value > 0 {
			enriched++
		}
	}
	pc.Metrics.Update(func(m *pipeline.Metrics) { m.ThreadsEnriched += enriched })
	s.logger.Info(ctx, "threads enriched",
		zap.Int("threads", len(threads)),
		zap.Int("with_documents", enriched),
		zap.Int("failed", len(results)-len(ok)),
	)
	return pc, nil
}

func (s *ragEnrich) enrichThread(ctx context.Context, pc *pipeline.Context, t *pipeline.Thread, sel retrieval.Options) (n int, err error) {
	query := Query(t)
	if query == "" {
		s.logger.Info(ctx, "skipping thread with blank query", zap.String("thread.id", t.ID))
		return 0, nil
	}

	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("panic: %v", r)
			pc.RecordAudit(retrieval.Result{}.Audit(s.cfg.ID, t.ID, query, err))
			pc.SetRAGResults(t.ID, nil)
		}
	}()

	res, err := s.engine.Enrich(ctx, query, sel)
	pc.RecordAudit(res.Audit(s.cfg.ID, t.ID, query, err))
	if err != nil {
		pc.SetRAGResults(t.ID, nil)
		return 0, err
	}
	pc.SetRAGResults(t.ID, res.Documents)
	return len(res.Documents), nil
}
