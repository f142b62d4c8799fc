package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docpipe/internal/logging"
)

var tracer = otel.Tracer("docpipe.pipeline")

// RunStatus is the state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunResult is what Run returns. Context is always set, holding whatever
// the steps produced before the run ended. Err is nil for completed runs;
// for failed runs it is a *ConfigurationError, a *StageFailure, or wraps
// ErrCancelled.
type RunResult struct {
	RunID       string
	Status      RunStatus
	Context     *Context
	Err         error
	StartedAt   time.Time
	CompletedAt time.Time
}

// Cancelled reports whether the run stopped because its context ended.
func (r *RunResult) Cancelled() bool {
	return errors.Is(r.Err, ErrCancelled)
}

// Observer receives run lifecycle events, for metrics export.
type Observer interface {
	RunStarted(runID string)
	StepCompleted(stepID, stepType string, d time.Duration, err error)
	RunCompleted(runID string, status RunStatus, d time.Duration, pc *Context)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver reports lifecycle events to obs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator runs step sequences. It is safe to share between runs;
// every Run resolves its own step instances.
type Orchestrator struct {
	registry *Registry
	deps     Deps
	logger   *logging.Logger
	observer Observer
}

// NewOrchestrator returns an orchestrator building steps from registry
// with deps.
func NewOrchestrator(registry *Registry, deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{registry: registry, deps: deps}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = deps.logger()
	}
	return o
}

// Resolve validates steps without running them.
func (o *Orchestrator) Resolve(steps []StepConfig) ([]Resolved, error) {
	return o.registry.Resolve(steps, o.deps)
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Run executes steps in order against pc.
//
// Disabled steps are skipped. Each executed step's wall time lands in
// pc.Metrics.StepDurations under its id, including the step during which
// cancellation happened. An error from a soft step is recorded on pc and
// the run continues; an error or panic from a hard-stop step fails the run
// with a *StageFailure. Cancellation is checked before every step and
// after it returns.
func (o *Orchestrator) Run(ctx context.Context, pc *Context, steps []StepConfig) *RunResult {
	if pc.RunID == "" {
		pc.RunID = NewRunID()
	}
	res := &RunResult{RunID: pc.RunID, Status: RunPending, Context: pc, StartedAt: time.Now()}

	ctx = logging.WithRunID(ctx, pc.RunID)
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", pc.RunID),
		attribute.Int("run.steps", len(steps)),
		attribute.Int("run.messages", len(pc.Messages)),
	)

	resolved, err := o.Resolve(steps)
	if err != nil {
		return o.finish(ctx, res, RunFailed, err)
	}

	res.Status = RunRunning
	if o.observer != nil {
		o.observer.RunStarted(pc.RunID)
	}
	o.logger.Info(ctx, "pipeline run started",
		zap.Int("steps", len(steps)),
		zap.Int("messages", len(pc.Messages)),
		zap.String("domain", pc.Domain.Name),
	)

	for _, r := range resolved {
		if err := ctx.Err(); err != nil {
			return o.finish(ctx, res, RunFailed, fmt.Errorf("%w before step %q: %w", ErrCancelled, r.Config.ID, err))
		}
		if r.Step == nil {
			o.logger.Debug(ctx, "step disabled, skipping", zap.String("step.id", r.Config.ID))
			continue
		}

		out, d, stepErr := o.execute(ctx, r, res.Context)
		if out != nil {
			res.Context = out
		}
		res.Context.Metrics.RecordStepDuration(r.Config.ID, d)
		if o.observer != nil {
			o.observer.StepCompleted(r.Config.ID, r.Config.Type, d, stepErr)
		}

		if err := ctx.Err(); err != nil {
			return o.finish(ctx, res, RunFailed, fmt.Errorf("%w during step %q: %w", ErrCancelled, r.Config.ID, err))
		}
		if stepErr == nil {
			continue
		}
		if r.Config.HardStop {
			return o.finish(ctx, res, RunFailed, &StageFailure{StepID: r.Config.ID, Err: stepErr})
		}
		res.Context.RecordError(r.Config.ID, "", stepErr)
		o.logger.Warn(ctx, "step failed, continuing",
			zap.String("step.id", r.Config.ID),
			zap.Error(stepErr),
		)
	}

	return o.finish(ctx, res, RunCompleted, nil)
}

func (o *Orchestrator) execute(ctx context.Context, r Resolved, pc *Context) (out *Context, d time.Duration, err error) {
	ctx = logging.WithStepID(ctx, r.Config.ID)
	ctx, span := tracer.Start(ctx, "pipeline.step")
	span.SetAttributes(
		attribute.String("step.id", r.Config.ID),
		attribute.String("step.type", r.Config.Type),
		attribute.Bool("step.hard_stop", r.Config.HardStop),
	)

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("step panicked: %v", rec)
		}
		d = time.Since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.logger.Debug(ctx, "step finished",
			zap.String("step.type", r.Config.Type),
			zap.Duration("duration", d),
			zap.Bool("failed", err != nil),
		)
	}()

	out, err = r.Step.Execute(ctx, pc)
	return out, d, err
}

func (o *Orchestrator) finish(ctx context.Context, res *RunResult, status RunStatus, err error) *RunResult {
	res.Status = status
	res.Err = err
	res.CompletedAt = time.Now()
	total := res.CompletedAt.Sub(res.StartedAt)
	res.Context.Metrics.Update(func(m *Metrics) { m.TotalDurationMs = total.Milliseconds() })

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Duration("duration", total),
		zap.Int("errors", len(res.Context.Errors())),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		o.logger.Error(ctx, "pipeline run failed", fields...)
	} else {
		o.logger.Info(ctx, "pipeline run completed", fields...)
	}
	if o.observer != nil {
		o.observer.RunCompleted(res.RunID, status, total, res.Context)
	}
	return res
}
