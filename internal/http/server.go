// Package http serves the docpipe HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
	"github.com/fyrsmithlabs/docpipe/internal/secrets"
	"github.com/fyrsmithlabs/docpipe/internal/vectorstore"
)

// Runner executes a pipeline. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, pc *pipeline.Context, steps []pipeline.StepConfig) *pipeline.RunResult
}

// DefinitionSource supplies the pipeline definition for each request.
// *pipeline.DefinitionWatcher implements it.
type DefinitionSource interface {
	Current() *pipeline.Definition
}

// Deps are the collaborators behind the API. Definitions, when set, takes
// precedence over Definition.
type Deps struct {
	Runner      Runner
	Definition  *pipeline.Definition
	Definitions DefinitionSource
	Domain      pipeline.Domain

	// Optional.
	Sink            pipeline.ProposalSink
	Scrubber        *secrets.Scrubber
	Gatherer        prometheus.Gatherer
	Store           vectorstore.Store
	Collection      string
	CostPer1KTokens float64
	Version         string
}

// Server provides HTTP endpoints for docpipe.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *logging.Logger
	config  *Config
	runs    *semaphore.Weighted
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	MaxConcurrentRuns int64
	RunTimeout        time.Duration
}

type staticDefinition struct{ def *pipeline.Definition }

func (s staticDefinition) Current() *pipeline.Definition { return s.def }

type requestValidator struct {
	v *validator.Validate
}

func (rv requestValidator) Validate(i any) error { return rv.v.Struct(i) }

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if deps.Definitions == nil {
		if deps.Definition == nil {
			return nil, fmt.Errorf("pipeline definition cannot be nil")
		}
		deps.Definitions = staticDefinition{deps.Definition}
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9191}
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 15 * time.Minute
	}
	if deps.Scrubber == nil {
		deps.Scrubber = secrets.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = requestValidator{v: validator.New(validator.WithRequiredStructEnabled())}

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		runs:    semaphore.NewWeighted(cfg.MaxConcurrentRuns),
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), reqID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/runs", s.handleRun)
	v1.POST("/scrub", s.handleScrub)
}

// Echo exposes the router for additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	def := s.deps.Definitions.Current()
	steps := make([]StepStatus, len(def.Steps))
	for i, sc := range def.Steps {
		steps[i] = StepStatus{ID: sc.ID, Type: sc.Type, Enabled: sc.Enabled, HardStop: sc.HardStop}
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:    "ok",
		Version:   s.deps.Version,
		Domain:    s.deps.Domain.Name,
		Pipeline:  def.Name,
		Steps:     steps,
		Documents: documentCount(c.Request().Context(), s.deps.Store, s.deps.Collection),
	})
}

// handleRun executes the configured pipeline over the posted messages and
// answers with the run report. One run holds one slot; with every slot
// taken the request is refused rather than queued.
func (s *Server) handleRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, validationMessage(err))
	}

	if !s.runs.TryAcquire(1) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "a pipeline run is already in progress")
	}
	defer s.runs.Release(1)

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RunTimeout)
	defer cancel()

	runID := req.RunID
	if runID == "" {
		runID = pipeline.NewRunID()
	}
	pc := pipeline.NewContext(runID, req.pipelineMessages(), s.deps.Domain)
	res := s.deps.Runner.Run(ctx, pc, s.deps.Definitions.Current().Steps)
	report := pipeline.NewReport(res, s.deps.CostPer1KTokens)

	if s.deps.Sink != nil {
		// the report is persisted even when the client has gone away
		if err := s.deps.Sink.Save(context.WithoutCancel(ctx), report); err != nil {
			s.logger.Error(ctx, "saving run report", zap.String("run_id", runID), zap.Error(err))
		}
	}

	return c.JSON(runStatusCode(res), report)
}

func runStatusCode(res *pipeline.RunResult) int {
	var cfgErr *pipeline.ConfigurationError
	switch {
	case res.Status == pipeline.RunCompleted:
		return http.StatusOK
	case res.Cancelled():
		return http.StatusGatewayTimeout
	case errors.As(res.Err, &cfgErr):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return fmt.Sprintf("invalid field %s: failed %q", fe.Namespace(), fe.Tag())
}

// handleScrub redacts secrets from the provided content, for checking what
// proposals would have removed.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.deps.Scrubber.Scrub(req.Content)
	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Text,
		FindingsCount: len(result.Findings),
		Rules:         result.RuleIDs(),
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
