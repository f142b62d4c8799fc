package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Constructor builds a step from its configuration.
type Constructor func(cfg StepConfig, deps Deps) (Step, error)

// Registry maps step types to constructors. Build one per process and pass
// it where needed.
type Registry struct {
	mu     sync.RWMutex
	ctors  map[string]Constructor
	single map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor), single: make(map[string]bool)}
}

// Register adds ctor under stepType. Types may not be registered twice.
func (r *Registry) Register(stepType string, ctor Constructor) error {
	if stepType == "" {
		return errors.New("step type is required")
	}
	if ctor == nil {
		return fmt.Errorf("step type %q: nil constructor", stepType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ctors[stepType]; dup {
		return fmt.Errorf("step type %q already registered", stepType)
	}
	r.ctors[stepType] = ctor
	return nil
}

// RegisterSingleton is Register for step types that may be enabled at most
// once per definition, such as steps that overwrite a run-wide count.
func (r *Registry) RegisterSingleton(stepType string, ctor Constructor) error {
	if err := r.Register(stepType, ctor); err != nil {
		return err
	}
	r.mu.Lock()
	r.single[stepType] = true
	r.mu.Unlock()
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(stepType string, ctor Constructor) {
	if err := r.Register(stepType, ctor); err != nil {
		panic(err)
	}
}

// Types lists registered step types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Create constructs and validates the step for cfg. Every failure is a
// *ConfigurationError.
func (r *Registry) Create(cfg StepConfig, deps Deps) (Step, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{StepID: cfg.ID, StepType: cfg.Type, Err: fmt.Errorf("%w %q", ErrUnknownStepType, cfg.Type)}
	}

	step, err := ctor(cfg, deps)
	if err != nil {
		return nil, &ConfigurationError{StepID: cfg.ID, StepType: cfg.Type, Err: err}
	}
	if err := step.ValidateConfig(cfg); err != nil {
		return nil, &ConfigurationError{StepID: cfg.ID, StepType: cfg.Type, Err: err}
	}
	return step, nil
}

// Resolved pairs a configuration with its constructed step. Step is nil
// for disabled configurations.
type Resolved struct {
	Config StepConfig
	Step   Step
}

// Resolve constructs every enabled step in cfgs. Step ids must be unique
// and non-empty, and singleton types may be enabled once. All problems are
// reported together.
func (r *Registry) Resolve(cfgs []StepConfig, deps Deps) ([]Resolved, error) {
	var errs []error
	seen := make(map[string]bool, len(cfgs))
	enabledAs := make(map[string]string)
	out := make([]Resolved, 0, len(cfgs))

	for i, cfg := range cfgs {
		if cfg.ID == "" {
			errs = append(errs, &ConfigurationError{StepID: fmt.Sprintf("#%d", i), StepType: cfg.Type, Err: errors.New("step id is required")})
			continue
		}
		if seen[cfg.ID] {
			errs = append(errs, &ConfigurationError{StepID: cfg.ID, StepType: cfg.Type, Err: errors.New("duplicate step id")})
			continue
		}
		seen[cfg.ID] = true

		if !cfg.Enabled {
			out = append(out, Resolved{Config: cfg})
			continue
		}
		if r.isSingleton(cfg.Type) {
			if first, dup := enabledAs[cfg.Type]; dup {
				errs = append(errs, &ConfigurationError{StepID: cfg.ID, StepType: cfg.Type,
					Err: fmt.Errorf("%w: already enabled as %q", ErrDuplicateStepType, first)})
				continue
			}
			enabledAs[cfg.Type] = cfg.ID
		}
		step, err := r.Create(cfg, deps)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, Resolved{Config: cfg, Step: step})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (r *Registry) isSingleton(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.single[stepType]
}
