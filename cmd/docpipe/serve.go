package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/docpipe/internal/http"
	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

type serveFlags struct {
	maxRuns    int64
	runTimeout time.Duration
	watch      bool
}

func newServeCmd(global *globalFlags) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Start the docpipe HTTP server. It accepts message batches on
POST /api/v1/runs, scrubs text on POST /api/v1/scrub and exposes /health,
/api/v1/status and Prometheus metrics on /metrics.

With --watch, a pipeline definition loaded from pipeline.definition_path is
reloaded whenever the file changes. Definitions that fail to resolve are
logged and the previous one keeps serving.

The server shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), global.configPath, flags)
		},
	}
	cmd.Flags().Int64Var(&flags.maxRuns, "max-runs", 1, "maximum concurrent pipeline runs")
	cmd.Flags().DurationVar(&flags.runTimeout, "run-timeout", 15*time.Minute, "deadline for a single run")
	cmd.Flags().BoolVar(&flags.watch, "watch", true, "reload the pipeline definition file when it changes")
	return cmd
}

// serve starts the server and blocks until ctx is cancelled.
func serve(ctx context.Context, configPath string, flags serveFlags) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	cfg := a.cfg
	orch := a.orchestrator()
	deps := httpserver.Deps{
		Runner:          orch,
		Definition:      a.definition,
		Domain:          a.domain,
		Sink:            a.sink,
		Scrubber:        a.scrubber,
		Gatherer:        a.metrics,
		Store:           a.store,
		Collection:      a.collection,
		CostPer1KTokens: cfg.Pipeline.CostPer1KTokens,
		Version:         version,
	}

	if flags.watch && cfg.Pipeline.DefinitionPath != "" {
		watcher, err := pipeline.NewDefinitionWatcher(cfg.Pipeline.DefinitionPath, func(d *pipeline.Definition) error {
			_, err := orch.Resolve(d.Steps)
			return err
		}, a.logger.Named("definitions"))
		if err != nil {
			return err
		}
		watcher.Start(ctx)
		defer watcher.Stop()
		deps.Definitions = watcher
	}

	srv, err := httpserver.NewServer(deps, a.logger.Named("http"), &httpserver.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		MaxConcurrentRuns: flags.maxRuns,
		RunTimeout:        flags.runTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	a.logger.Info(ctx, "starting docpipe",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info(ctx, "shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}
