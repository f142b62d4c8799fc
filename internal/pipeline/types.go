package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
)

// Message is one ingested chat or forum message. Messages are never
// modified once a run starts.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic,omitempty"`
}

// CategoryNoDocValue marks a thread with nothing worth documenting.
const CategoryNoDocValue = "no-doc-value"

// RAGSearchCriteria drives retrieval for a thread.
type RAGSearchCriteria struct {
	SemanticQuery string   `json:"semantic_query,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
}

// Thread groups related messages. Created by classification.
type Thread struct {
	ID                string            `json:"id"`
	MessageIDs        []string          `json:"message_ids"`
	Category          string            `json:"category"`
	Summary           string            `json:"summary,omitempty"`
	RAGSearchCriteria RAGSearchCriteria `json:"rag_search_criteria"`

	// ContextMessages are nearby messages attached by context enrichment.
	ContextMessages []string `json:"context_messages,omitempty"`
}

// DocRelevant reports whether the thread should be enriched and documented.
func (t *Thread) DocRelevant() bool {
	return t.Category != CategoryNoDocValue
}

// ProposalStatus tracks a proposal through validation and review.
type ProposalStatus string

const (
	StatusPending   ProposalStatus = "pending"
	StatusValidated ProposalStatus = "validated"
	StatusAccepted  ProposalStatus = "accepted"
	StatusFlagged   ProposalStatus = "flagged"
	StatusRejected  ProposalStatus = "rejected"
)

// Proposal is a candidate documentation change.
type Proposal struct {
	ID          string         `json:"id"`
	ThreadID    string         `json:"thread_id"`
	Page        string         `json:"page"`
	Section     string         `json:"section,omitempty"`
	UpdateType  string         `json:"update_type"`
	Content     string         `json:"content"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Status      ProposalStatus `json:"status"`
	Warnings    []string       `json:"warnings,omitempty"`
	ReviewNotes string         `json:"review_notes,omitempty"`
	Condensed   bool           `json:"condensed,omitempty"`
}

// Domain is the per-tenant configuration handed to a run.
type Domain struct {
	Name         string               `json:"name"`
	DocsBasePath string               `json:"docs_base_path,omitempty"`
	PathFilter   retrieval.PathFilter `json:"path_filter"`
	Ruleset      string               `json:"-"`
}

// StepConfig declares one pipeline stage.
type StepConfig struct {
	ID       string         `json:"id" koanf:"id"`
	Type     string         `json:"type" koanf:"type"`
	Enabled  bool           `json:"enabled" koanf:"enabled"`
	HardStop bool           `json:"hard_stop,omitempty" koanf:"hard_stop"`
	Options  map[string]any `json:"options,omitempty" koanf:"options"`
}

// StepMetadata describes a step for diagnostics.
type StepMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}
