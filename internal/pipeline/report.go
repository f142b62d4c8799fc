package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
)

// Report is the serializable outcome of a run.
type Report struct {
	RunID       string                  `json:"run_id"`
	Status      RunStatus               `json:"status"`
	Error       string                  `json:"error,omitempty"`
	Domain      string                  `json:"domain"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at"`
	Threads     []*Thread               `json:"threads"`
	Proposals   []*Proposal             `json:"proposals"`
	Errors      []ErrorRecord           `json:"errors"`
	Audit       []retrieval.AuditRecord `json:"retrieval_audit"`
	Metrics     Snapshot                `json:"metrics"`
}

// NewReport builds the report for res, pricing tokens at costPer1KTokens.
func NewReport(res *RunResult, costPer1KTokens float64) *Report {
	pc := res.Context
	r := &Report{
		RunID:       res.RunID,
		Status:      res.Status,
		Domain:      pc.Domain.Name,
		StartedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
		Threads:     pc.Threads,
		Proposals:   pc.AllProposals(),
		Errors:      pc.Errors(),
		Audit:       pc.Audit(),
		Metrics:     SerializeMetrics(pc, costPer1KTokens),
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	if r.Threads == nil {
		r.Threads = []*Thread{}
	}
	if r.Proposals == nil {
		r.Proposals = []*Proposal{}
	}
	return r
}

// ProposalSink persists the proposals of a finished run.
type ProposalSink interface {
	Save(ctx context.Context, report *Report) error
}

// FileSink writes each report as indented JSON to Dir/<run id>.json.
type FileSink struct {
	Dir string
}

// Save implements ProposalSink. The file is written to a temporary name
// and renamed into place.
func (s FileSink) Save(ctx context.Context, report *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	final := filepath.Join(s.Dir, report.RunID+".json")
	tmp, err := os.CreateTemp(s.Dir, ".report-*")
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
