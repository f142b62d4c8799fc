package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docpipe/internal/retrieval"
)

func TestNewContext(t *testing.T) {
	msgs := []Message{{ID: "a"}, {ID: "b"}}
	pc := NewContext("r", msgs, Domain{Name: "d"})

	assert.Equal(t, msgs, pc.Messages)
	assert.Equal(t, msgs, pc.FilteredMessages)
	assert.Equal(t, 2, pc.Metrics.MessagesTotal)

	msgs[0].Content = "changed"
	assert.Empty(t, pc.Messages[0].Content, "context keeps its own copy")
}

func TestContext_RAGResultsAbsentVersusEmpty(t *testing.T) {
	pc := newTestContext()

	_, ok := pc.RAGResultsFor("t1")
	assert.False(t, ok, "not yet processed")

	pc.SetRAGResults("t1", nil)
	docs, ok := pc.RAGResultsFor("t1")
	assert.True(t, ok)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	pc.SetRAGResults("t2", []retrieval.Document{{FilePath: "a.md"}})
	docs, _ = pc.RAGResultsFor("t2")
	assert.Len(t, docs, 1)
}

func TestContext_ConcurrentAppends(t *testing.T) {
	pc := newTestContext()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprint(i)
			pc.RecordError("rag", id, errors.New("x"))
			pc.RecordAudit(retrieval.AuditRecord{StepID: "rag", ThreadID: id})
			pc.SetRAGResults(id, nil)
			pc.Metrics.AddLLMUsage(10)
		}()
	}
	wg.Wait()

	assert.Len(t, pc.Errors(), 50)
	assert.Len(t, pc.Audit(), 50)
	assert.Len(t, pc.RAGResults, 50)
	assert.Equal(t, 50, pc.Metrics.LLMCalls)
	assert.Equal(t, 500, pc.Metrics.LLMTokensUsed)
}

func TestContext_RecordErrorIgnoresNil(t *testing.T) {
	pc := newTestContext()
	pc.RecordError("s", "", nil)
	assert.Empty(t, pc.Errors())
}

func TestContext_AllProposalsOrder(t *testing.T) {
	pc := newTestContext()
	pc.Threads = []*Thread{{ID: "t2"}, {ID: "t1"}}
	pc.SetProposals("t1", []*Proposal{{ID: "p1"}})
	pc.SetProposals("t2", []*Proposal{{ID: "p2a"}, {ID: "p2b"}})
	pc.SetProposals("orphan", []*Proposal{{ID: "p9"}})

	var ids []string
	for _, p := range pc.AllProposals() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"p2a", "p2b", "p1", "p9"}, ids)
	assert.NotNil(t, pc.Thread("t1"))
	assert.Nil(t, pc.Thread("nope"))
}

func TestSerializeMetrics(t *testing.T) {
	pc := newTestContext()
	pc.Metrics.Update(func(m *Metrics) {
		m.MessagesFiltered = 2
		m.ThreadsCreated = 1
	})
	pc.Metrics.AddLLMUsage(1500)
	pc.Metrics.AddLLMUsage(500)
	pc.Metrics.RecordStepDuration("classify", 120*time.Millisecond)
	pc.Metrics.RecordStepDuration("classify", 30*time.Millisecond)
	pc.RecordError("generate", "t1", errors.New("x"))

	snap := SerializeMetrics(pc, 0.003)

	assert.Equal(t, 2, snap.MessagesTotal)
	assert.Equal(t, 2, snap.LLMCalls)
	assert.Equal(t, 2000, snap.LLMTokensUsed)
	assert.InDelta(t, 0.006, snap.EstimatedCostUSD, 1e-9)
	assert.Equal(t, int64(150), snap.StepDurationsMs["classify"])
	assert.Equal(t, 1, snap.ErrorCount)

	b, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.EqualValues(t, 2000, decoded["llm_tokens_used"])
	assert.Contains(t, decoded, "step_durations_ms")

	flat := snap.Flat()
	assert.Equal(t, int64(150), flat["step_duration_ms.classify"])
	assert.Equal(t, 2000, flat["llm_tokens_used"])

	pc.Metrics.RecordStepDuration("late", time.Second)
	assert.NotContains(t, snap.StepDurationsMs, "late", "snapshot is a copy")
}

func TestReportAndFileSink(t *testing.T) {
	h := newHarness()
	h.fns["gen"] = func(_ context.Context, pc *Context) (*Context, error) {
		pc.Threads = []*Thread{{ID: "t1"}}
		pc.SetProposals("t1", []*Proposal{{ID: "p1", ThreadID: "t1", Page: "docs/a.md", Status: StatusValidated}})
		pc.RecordError("gen", "t2", errors.New("skipped"))
		return pc, nil
	}
	res := NewOrchestrator(h.registry(t), Deps{}).Run(context.Background(), newTestContext(), fakeSteps("gen"))

	report := NewReport(res, 0.01)
	assert.Equal(t, RunCompleted, report.Status)
	assert.Empty(t, report.Error)
	assert.Len(t, report.Proposals, 1)
	assert.Len(t, report.Errors, 1)
	assert.Equal(t, "test", report.Domain)

	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, FileSink{Dir: dir}.Save(context.Background(), report))

	b, err := os.ReadFile(filepath.Join(dir, report.RunID+".json"))
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "p1", decoded.Proposals[0].ID)
	assert.Equal(t, StatusValidated, decoded.Proposals[0].Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestReport_FailedRun(t *testing.T) {
	pc := newTestContext()
	res := &RunResult{RunID: "r", Status: RunFailed, Context: pc, Err: &StageFailure{StepID: "classify", Err: errors.New("down")}}

	report := NewReport(res, 0)
	assert.Equal(t, RunFailed, report.Status)
	assert.Contains(t, report.Error, "classify")
	assert.NotNil(t, report.Threads)
	assert.NotNil(t, report.Proposals)
}
