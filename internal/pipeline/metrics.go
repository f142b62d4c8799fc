package pipeline

import (
	"maps"
	"math"
	"sync"
	"time"
)

// Metrics accumulates counters for one run. Values only grow. Use Update or
// the helpers when writing from concurrent item work.
type Metrics struct {
	mu sync.Mutex

	MessagesTotal      int              `json:"messages_total"`
	// MessagesFiltered is set once by the keyword-filter step, which the
	// built-in registry allows only once per definition.
	MessagesFiltered   int              `json:"messages_filtered"`
	ThreadsCreated     int              `json:"threads_created"`
	ThreadsEnriched    int              `json:"threads_enriched"`
	ProposalsGenerated int              `json:"proposals_generated"`
	ProposalsValidated int              `json:"proposals_validated"`
	ProposalsRejected  int              `json:"proposals_rejected"`
	ProposalsCondensed int              `json:"proposals_condensed"`
	ProposalsAccepted  int              `json:"proposals_accepted"`
	ProposalsFlagged   int              `json:"proposals_flagged"`
	LLMCalls           int              `json:"llm_calls"`
	LLMTokensUsed      int              `json:"llm_tokens_used"`
	StepDurations      map[string]int64 `json:"step_durations_ms"`
	TotalDurationMs    int64            `json:"total_duration_ms"`
}

// NewMetrics returns metrics for a batch of n messages.
func NewMetrics(n int) *Metrics {
	return &Metrics{MessagesTotal: n, StepDurations: make(map[string]int64)}
}

// Update runs fn with the metrics locked.
func (m *Metrics) Update(fn func(m *Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// AddLLMUsage counts one generation call and its tokens.
func (m *Metrics) AddLLMUsage(tokens int) {
	m.Update(func(m *Metrics) {
		m.LLMCalls++
		m.LLMTokensUsed += max(tokens, 0)
	})
}

// RecordStepDuration adds d to the total for stepID.
func (m *Metrics) RecordStepDuration(stepID string, d time.Duration) {
	m.Update(func(m *Metrics) {
		m.StepDurations[stepID] += d.Milliseconds()
	})
}

// Snapshot is the JSON-compatible export of Metrics.
type Snapshot struct {
	MessagesTotal      int              `json:"messages_total"`
	MessagesFiltered   int              `json:"messages_filtered"`
	ThreadsCreated     int              `json:"threads_created"`
	ThreadsEnriched    int              `json:"threads_enriched"`
	ProposalsGenerated int              `json:"proposals_generated"`
	ProposalsValidated int              `json:"proposals_validated"`
	ProposalsRejected  int              `json:"proposals_rejected"`
	ProposalsCondensed int              `json:"proposals_condensed"`
	ProposalsAccepted  int              `json:"proposals_accepted"`
	ProposalsFlagged   int              `json:"proposals_flagged"`
	LLMCalls           int              `json:"llm_calls"`
	LLMTokensUsed      int              `json:"llm_tokens_used"`
	EstimatedCostUSD   float64          `json:"estimated_cost_usd"`
	StepDurationsMs    map[string]int64 `json:"step_durations_ms"`
	TotalDurationMs    int64            `json:"total_duration_ms"`
	ErrorCount         int              `json:"error_count"`
}

// SerializeMetrics exports pc's metrics with a cost estimate at
// costPer1KTokens dollars per thousand tokens.
func SerializeMetrics(pc *Context, costPer1KTokens float64) Snapshot {
	m := pc.Metrics
	m.mu.Lock()
	defer m.mu.Unlock()

	cost := float64(m.LLMTokensUsed) / 1000 * costPer1KTokens
	return Snapshot{
		MessagesTotal:      m.MessagesTotal,
		MessagesFiltered:   m.MessagesFiltered,
		ThreadsCreated:     m.ThreadsCreated,
		ThreadsEnriched:    m.ThreadsEnriched,
		ProposalsGenerated: m.ProposalsGenerated,
		ProposalsValidated: m.ProposalsValidated,
		ProposalsRejected:  m.ProposalsRejected,
		ProposalsCondensed: m.ProposalsCondensed,
		ProposalsAccepted:  m.ProposalsAccepted,
		ProposalsFlagged:   m.ProposalsFlagged,
		LLMCalls:           m.LLMCalls,
		LLMTokensUsed:      m.LLMTokensUsed,
		EstimatedCostUSD:   math.Round(cost*1e6) / 1e6,
		StepDurationsMs:    maps.Clone(m.StepDurations),
		TotalDurationMs:    m.TotalDurationMs,
		ErrorCount:         len(pc.Errors()),
	}
}

// Flat returns s as a single-level map, with step durations keyed
// "step_duration_ms.<step id>". Suitable for log fields.
func (s Snapshot) Flat() map[string]any {
	out := map[string]any{
		"messages_total":      s.MessagesTotal,
		"messages_filtered":   s.MessagesFiltered,
		"threads_created":     s.ThreadsCreated,
		"threads_enriched":    s.ThreadsEnriched,
		"proposals_generated": s.ProposalsGenerated,
		"proposals_validated": s.ProposalsValidated,
		"proposals_rejected":  s.ProposalsRejected,
		"proposals_condensed": s.ProposalsCondensed,
		"proposals_accepted":  s.ProposalsAccepted,
		"proposals_flagged":   s.ProposalsFlagged,
		"llm_calls":           s.LLMCalls,
		"llm_tokens_used":     s.LLMTokensUsed,
		"estimated_cost_usd":  s.EstimatedCostUSD,
		"total_duration_ms":   s.TotalDurationMs,
		"error_count":         s.ErrorCount,
	}
	for id, ms := range s.StepDurationsMs {
		out["step_duration_ms."+id] = ms
	}
	return out
}
