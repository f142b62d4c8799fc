package pipeline

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled ends a run whose context was cancelled.
	ErrCancelled = errors.New("pipeline run cancelled")

	// ErrUnknownStepType is wrapped by ConfigurationError for unregistered types.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrDuplicateStepType rejects a second enabled step of a singleton type.
	ErrDuplicateStepType = errors.New("step type may be enabled only once")
)

// ConfigurationError rejects a step definition before anything runs.
type ConfigurationError struct {
	StepID   string
	StepType string
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("step %q (%s): %v", e.StepID, e.StepType, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StageFailure is the terminal error of a hard-stop step.
type StageFailure struct {
	StepID string
	Err    error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.StepID, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// ErrorRecord is a soft failure kept on the Context. ItemID is empty for
// failures that are not tied to one thread or proposal.
type ErrorRecord struct {
	StepID  string    `json:"step_id"`
	ItemID  string    `json:"item_id,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
