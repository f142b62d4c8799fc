package pipeline

import (
	"slices"
	"sync"
	"time"

	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
)

// Context is the working state of one run. The orchestrator hands it to
// each step in turn; a step owns the fields it produces:
//
//	keyword-filter  FilteredMessages
//	classify        Threads
//	context-enrich  Thread.ContextMessages
//	rag-enrich      RAGResults
//	generate        Proposals
//	validate, condense, ruleset-review  proposal content and status
//
// A missing key in RAGResults or Proposals means the producing step has not
// handled that thread yet. Errors and the retrieval audit are append-only
// and safe for concurrent use, as are the setters below.
type Context struct {
	RunID  string `json:"run_id"`
	Domain Domain `json:"domain"`

	Messages         []Message                       `json:"messages"`
	FilteredMessages []Message                       `json:"filtered_messages"`
	Threads          []*Thread                       `json:"threads"`
	RAGResults       map[string][]retrieval.Document `json:"rag_results"`
	Proposals        map[string][]*Proposal          `json:"proposals"`
	Metrics          *Metrics                        `json:"metrics"`

	mu     sync.Mutex
	errors []ErrorRecord
	audit  []retrieval.AuditRecord
}

// NewContext starts a run over messages. FilteredMessages begins as every
// message so pipelines without a filter step still classify the batch.
func NewContext(runID string, messages []Message, domain Domain) *Context {
	msgs := slices.Clone(messages)
	return &Context{
		RunID:            runID,
		Domain:           domain,
		Messages:         msgs,
		FilteredMessages: slices.Clone(msgs),
		RAGResults:       make(map[string][]retrieval.Document),
		Proposals:        make(map[string][]*Proposal),
		Metrics:          NewMetrics(len(msgs)),
	}
}

// RecordError appends a soft failure.
func (c *Context) RecordError(stepID, itemID string, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, ErrorRecord{
		StepID:  stepID,
		ItemID:  itemID,
		Message: err.Error(),
		At:      time.Now().UTC(),
	})
}

// Errors returns a copy of the recorded failures in order.
func (c *Context) Errors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.errors)
}

// RecordAudit appends a retrieval audit record.
func (c *Context) RecordAudit(rec retrieval.AuditRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audit = append(c.audit, rec)
}

// Audit returns a copy of the retrieval audit log.
func (c *Context) Audit() []retrieval.AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.audit)
}

// SetRAGResults stores docs for threadID. A nil slice is stored as empty so
// the key reads as processed.
func (c *Context) SetRAGResults(threadID string, docs []retrieval.Document) {
	if docs == nil {
		docs = []retrieval.Document{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RAGResults[threadID] = docs
}

// RAGResultsFor returns the documents for threadID and whether retrieval
// has handled it.
func (c *Context) RAGResultsFor(threadID string) ([]retrieval.Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	docs, ok := c.RAGResults[threadID]
	return docs, ok
}

// SetProposals replaces the proposals for threadID.
func (c *Context) SetProposals(threadID string, ps []*Proposal) {
	if ps == nil {
		ps = []*Proposal{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Proposals[threadID] = ps
}

// ProposalsFor returns the proposals for threadID and whether generation
// has handled it.
func (c *Context) ProposalsFor(threadID string) ([]*Proposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.Proposals[threadID]
	return ps, ok
}

// AllProposals flattens Proposals in thread order, then any proposals for
// threads no longer listed, by thread id.
func (c *Context) AllProposals() []*Proposal {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Proposal
	seen := make(map[string]bool, len(c.Threads))
	for _, t := range c.Threads {
		seen[t.ID] = true
		out = append(out, c.Proposals[t.ID]...)
	}
	var rest []string
	for id := range c.Proposals {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	for _, id := range rest {
		out = append(out, c.Proposals[id]...)
	}
	return out
}

// MessageIndex maps message ids to messages.
func (c *Context) MessageIndex() map[string]Message {
	idx := make(map[string]Message, len(c.Messages))
	for _, m := range c.Messages {
		idx[m.ID] = m
	}
	return idx
}

// Thread returns the thread with id, or nil.
func (c *Context) Thread(id string) *Thread {
	for _, t := range c.Threads {
		if t.ID == id {
			return t
		}
	}
	return nil
}
