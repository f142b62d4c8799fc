package steps

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docpipe/internal/llm"
	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
	"github.com/fyrsmithlabs/docpipe/internal/postprocess"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Generate(ctx context.Context, prompt string, opts llm.Options) (*llm.Response, error) {
	args := m.Called(ctx, prompt, opts)
	resp, _ := args.Get(0).(*llm.Response)
	return resp, args.Error(1)
}

func (m *mockProvider) GenerateWithHistory(ctx context.Context, prompt string, history []llm.Turn, opts llm.Options) (*llm.Response, error) {
	args := m.Called(ctx, prompt, history, opts)
	resp, _ := args.Get(0).(*llm.Response)
	return resp, args.Error(1)
}

// systemHas matches requests whose system prompt contains s.
func systemHas(s string) any {
	return mock.MatchedBy(func(o llm.Options) bool { return strings.Contains(o.System, s) })
}

// promptHas matches prompts containing s.
func promptHas(s string) any {
	return mock.MatchedBy(func(p string) bool { return strings.Contains(p, s) })
}

func reply(t *testing.T, v any) *llm.Response {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return &llm.Response{Text: string(b), TokensUsed: 100, FinishReason: "end_turn"}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, content string, minute int) pipeline.Message {
	return pipeline.Message{ID: id, Content: content, SenderID: "user-" + id, Timestamp: t0.Add(time.Duration(minute) * time.Minute)}
}

func newDeps(provider llm.Provider) pipeline.Deps {
	return pipeline.Deps{
		LLM:         provider,
		PostProcess: postprocess.Default(nil),
		Defaults:    pipeline.Defaults{Concurrency: 2},
	}
}

func build(t *testing.T, stepType string, options map[string]any, deps pipeline.Deps) pipeline.Step {
	t.Helper()
	step, err := NewRegistry().Create(pipeline.StepConfig{ID: stepType, Type: stepType, Enabled: true, Options: options}, deps)
	require.NoError(t, err)
	return step
}

func buildHard(t *testing.T, stepType string, options map[string]any, deps pipeline.Deps) pipeline.Step {
	t.Helper()
	step, err := NewRegistry().Create(pipeline.StepConfig{ID: stepType, Type: stepType, Enabled: true, HardStop: true, Options: options}, deps)
	require.NoError(t, err)
	return step
}

const longMarkdown = "## Upgrading\n\nRun `docpipe migrate` after installing the new release. " +
	"The command rewrites the index in place and is safe to re-run.\n"
