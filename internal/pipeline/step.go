// Package pipeline runs configurable documentation pipelines.
//
// A pipeline is an ordered list of StepConfig values. The Registry turns
// each into a Step, rejecting unknown types and invalid options before any
// message is touched. The Orchestrator then runs the steps one after
// another over a shared Context, keeping per-item failures on the Context
// and stopping only for hard-stop steps or cancellation.
package pipeline

import (
	"context"

	"github.com/fyrsmithlabs/docpipe/internal/llm"
	"github.com/fyrsmithlabs/docpipe/internal/logging"
	"github.com/fyrsmithlabs/docpipe/internal/postprocess"
	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
)

// Step is one pipeline stage. A Step instance runs one Execute at a time.
type Step interface {
	// ValidateConfig checks cfg. The registry calls it before handing the
	// step out, so Execute never sees an invalid configuration.
	ValidateConfig(cfg StepConfig) error

	// Execute does the stage's work on pc and returns it.
	Execute(ctx context.Context, pc *Context) (*Context, error)

	Metadata() StepMetadata
}

// Defaults are application-level fallbacks for step options. Zero values
// leave each step's own default in place.
type Defaults struct {
	TopK               int
	MinSimilarity      float64
	DisableLocaleDedup bool
	Concurrency        int
}

// Deps are the shared collaborators injected into step constructors. They
// are read-only to steps.
type Deps struct {
	LLM         llm.Provider
	Retrieval   retrieval.Provider
	PostProcess *postprocess.Chain
	Logger      *logging.Logger
	Defaults    Defaults
}

func (d Deps) logger() *logging.Logger {
	if d.Logger == nil {
		return logging.NewNop()
	}
	return d.Logger
}
