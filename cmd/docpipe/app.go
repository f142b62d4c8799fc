package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/config"
	"github.com/fyrsmithlabs/docpipe/internal/embeddings"
	"github.com/fyrsmithlabs/docpipe/internal/llm"
	"github.com/fyrsmithlabs/docpipe/internal/logging"
	"github.com/fyrsmithlabs/docpipe/internal/monitor"
	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
	"github.com/fyrsmithlabs/docpipe/internal/postprocess"
	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
	"github.com/fyrsmithlabs/docpipe/internal/sanitize"
	"github.com/fyrsmithlabs/docpipe/internal/secrets"
	"github.com/fyrsmithlabs/docpipe/internal/steps"
	"github.com/fyrsmithlabs/docpipe/internal/telemetry"
	"github.com/fyrsmithlabs/docpipe/internal/vectorstore"
)

const maxRulesetSize = 1 << 20

// app holds everything a command needs, built once from configuration.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	telemetry  *telemetry.Telemetry
	store      vectorstore.Store
	collection string
	domain     pipeline.Domain
	definition *pipeline.Definition
	deps       pipeline.Deps
	registry   *pipeline.Registry
	scrubber   *secrets.Scrubber
	metrics    *prometheus.Registry
	observer   pipeline.Observer
	sink       pipeline.ProposalSink
}

// newApp loads configuration and initializes dependencies in order:
//  1. Configuration and logger
//  2. Telemetry
//  3. Domain, ruleset, pipeline definition and secret rules
//  4. Embeddings and vector store
//  5. LLM provider and post-processing chain
//  6. Run observers and the proposal sink
//
// The LLM provider is optional here: a definition whose steps never call
// it runs without credentials, and one that does fails at resolution.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a := &app{cfg: cfg, registry: steps.NewRegistry()}

	lc, err := logging.FromAppConfig(cfg.Logging, cfg.Domain.Name)
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}
	a.logger, err = logging.NewLogger(lc, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	a.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	if err := a.telemetry.Degraded(); err != nil {
		a.logger.Warn(ctx, "telemetry degraded", zap.Error(err))
	}

	if err := a.initDomain(); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := a.initPipeline(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.logger.Info(ctx, "docpipe initialized",
		zap.String("domain", a.domain.Name),
		zap.String("pipeline", a.definition.Name),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("collection", a.collection),
		zap.Bool("llm_ready", a.deps.LLM != nil),
	)
	return a, nil
}

func (a *app) initDomain() error {
	cfg := a.cfg
	a.domain = pipeline.Domain{
		Name:         cfg.Domain.Name,
		DocsBasePath: cfg.Domain.DocsBasePath,
		PathFilter: retrieval.PathFilter{
			Include: cfg.Domain.PathFilter.Include,
			Exclude: cfg.Domain.PathFilter.Exclude,
		},
	}
	if err := a.domain.PathFilter.Validate(); err != nil {
		return fmt.Errorf("domain path filter: %w", err)
	}

	if cfg.Domain.RulesetPath != "" {
		ruleset, err := readLimited(cfg.Domain.RulesetPath, maxRulesetSize)
		if err != nil {
			return fmt.Errorf("reading ruleset: %w", err)
		}
		a.domain.Ruleset = string(ruleset)
	}

	def, err := loadDefinition(cfg.Pipeline.DefinitionPath)
	if err != nil {
		return err
	}
	a.definition = def

	scfg, err := secrets.LoadConfigFile(cfg.Domain.SecretsPath)
	if err != nil {
		return err
	}
	a.scrubber, err = secrets.New(scfg)
	if err != nil {
		return fmt.Errorf("compiling secret rules: %w", err)
	}
	return nil
}

func (a *app) initStore(ctx context.Context) error {
	embedder, err := embeddings.NewService(
		embeddings.FromAppConfig(a.cfg.Embeddings),
		embeddings.WithLogger(a.logger.Named("embeddings")),
		embeddings.WithMeter(a.telemetry.Meter("docpipe.embeddings")),
	)
	if err != nil {
		return fmt.Errorf("initializing embeddings: %w", err)
	}

	a.store, err = vectorstore.NewStore(ctx, a.cfg.VectorStore, embedder, a.logger.Named("vectorstore"))
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	a.collection = sanitize.CollectionName(a.domain.Name, "docs")
	return nil
}

func (a *app) initPipeline(ctx context.Context) error {
	cfg := a.cfg

	provider, err := retrieval.NewVectorStoreProvider(a.store, a.collection)
	if err != nil {
		return fmt.Errorf("initializing retrieval: %w", err)
	}

	model, err := llm.New(cfg.LLM, a.logger.Named("llm"))
	if err != nil {
		a.logger.Warn(ctx, "llm provider unavailable", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
	}

	a.deps = pipeline.Deps{
		LLM:         model,
		Retrieval:   provider,
		PostProcess: postprocess.Default(a.scrubber),
		Logger:      a.logger.Named("pipeline"),
		Defaults: pipeline.Defaults{
			TopK:               cfg.Retrieval.TopK,
			MinSimilarity:      cfg.Retrieval.MinSimilarity,
			DisableLocaleDedup: !*cfg.Retrieval.DedupeLocales,
			Concurrency:        cfg.Pipeline.Concurrency,
		},
	}

	a.metrics = prometheus.NewRegistry()
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := monitor.NewCollector(a.metrics)
	if err != nil {
		return fmt.Errorf("registering run metrics: %w", err)
	}
	a.observer = monitor.Observers{
		collector,
		monitor.NewRunMetrics(a.telemetry.Meter("docpipe.pipeline"), a.logger),
	}

	if cfg.Pipeline.ProposalsOutPath != "" {
		a.sink = pipeline.FileSink{Dir: cfg.Pipeline.ProposalsOutPath}
	}
	return nil
}

// orchestrator returns an orchestrator over the app's registry and deps.
func (a *app) orchestrator() *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(a.registry, a.deps,
		pipeline.WithObserver(a.observer),
		pipeline.WithLogger(a.logger.Named("orchestrator")),
	)
}

// Close releases the store and flushes telemetry and logs.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if a.logger != nil {
		_ = a.logger.Sync() // Best-effort sync on shutdown
	}
	return errors.Join(errs...)
}

// loadDefinition reads path, or returns the built-in pipeline when path is
// empty.
func loadDefinition(path string) (*pipeline.Definition, error) {
	if path == "" {
		return pipeline.DefaultDefinition(), nil
	}
	return pipeline.LoadDefinition(path)
}

func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, limit)
	}
	return b, nil
}
