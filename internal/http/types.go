package http

import (
	"time"

	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status   string       `json:"status"`
	Version  string       `json:"version,omitempty"`
	Domain   string       `json:"domain"`
	Pipeline string       `json:"pipeline"`
	Steps    []StepStatus `json:"steps"`

	// Documents is the indexed page count, or -1 when unknown.
	Documents int `json:"documents"`
}

// StepStatus describes one configured step.
type StepStatus struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Enabled  bool   `json:"enabled"`
	HardStop bool   `json:"hard_stop"`
}

// RunRequest is the request body for POST /api/v1/runs.
type RunRequest struct {
	RunID    string           `json:"run_id" validate:"omitempty,max=128"`
	Messages []MessageRequest `json:"messages" validate:"required,min=1,max=10000,unique=ID,dive"`
}

// MessageRequest is one chat message in a RunRequest.
type MessageRequest struct {
	ID        string    `json:"id" validate:"required,max=256"`
	Content   string    `json:"content" validate:"max=65536"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Topic     string    `json:"topic,omitempty"`
}

func (r RunRequest) pipelineMessages() []pipeline.Message {
	out := make([]pipeline.Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = pipeline.Message{
			ID:        m.ID,
			Content:   m.Content,
			SenderID:  m.SenderID,
			Timestamp: m.Timestamp,
			Topic:     m.Topic,
		}
	}
	return out
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string   `json:"content"`
	FindingsCount int      `json:"findings_count"`
	Rules         []string `json:"rules"`
}
