// Package llm defines the generation backend used by pipeline steps and
// ships HTTP clients for Anthropic and OpenAI.
//
// Clients handle their own rate limiting, retry with exponential backoff,
// and secret scrubbing of outgoing prompts. Callers see a single Provider
// interface and *Error values on failure.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior exchange passed to GenerateWithHistory.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single generation request. Zero values fall back to the
// client defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	System      string

	// ResponseSchema, when set, asks the backend for JSON matching the
	// schema. Clients that cannot enforce it append it to the system prompt.
	ResponseSchema map[string]any
}

// Response is a completed generation.
type Response struct {
	Text         string `json:"text"`
	TokensUsed   int    `json:"tokens_used"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Provider generates text.
type Provider interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Response, error)
	GenerateWithHistory(ctx context.Context, prompt string, history []Turn, opts Options) (*Response, error)
}

// ErrEmptyResponse is returned when the backend produced no content.
var ErrEmptyResponse = errors.New("empty response")

// Error is the failure type returned by every client.
type Error struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
