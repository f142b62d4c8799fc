package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docpipe/internal/config"
	"github.com/fyrsmithlabs/docpipe/internal/pipeline"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "serve", "index", "validate", "stats", "version"} {
		assert.Contains(t, names, want)
	}
	for _, c := range root.Commands() {
		assert.NotEmpty(t, c.Short, "command %s needs a short description", c.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    "+version)
	assert.Contains(t, out, "Commit:     "+gitCommit)
}

func TestParseMessages(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantIDs []string
		wantErr string
	}{
		{
			name:    "array",
			input:   `[{"id":"m1","content":"hi"},{"id":"m2","content":"there"}]`,
			wantIDs: []string{"m1", "m2"},
		},
		{
			name:    "object",
			input:   `  {"messages":[{"id":"m1","content":"hi","timestamp":"2024-05-01T10:00:00Z"}]}`,
			wantIDs: []string{"m1"},
		},
		{name: "blank", input: "  \n", wantErr: "no messages"},
		{name: "empty array", input: `[]`, wantErr: "no messages"},
		{name: "missing id", input: `[{"content":"hi"}]`, wantErr: "message 0 has no id"},
		{name: "duplicate id", input: `[{"id":"a"},{"id":"a"}]`, wantErr: `duplicate message id "a"`},
		{name: "invalid json", input: `[{"id":`, wantErr: "decoding messages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := parseMessages([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			ids := make([]string, len(msgs))
			for i, m := range msgs {
				ids[i] = m.ID
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestReadMessages(t *testing.T) {
	t.Run("stdin", func(t *testing.T) {
		msgs, err := readMessages(strings.NewReader(`[{"id":"s1"}]`), "-")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "s1", msgs[0].ID)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "messages.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"messages":[{"id":"f1"}]}`), 0o600))
		msgs, err := readMessages(nil, path)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "f1", msgs[0].ID)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readMessages(nil, filepath.Join(t.TempDir(), "nope.json"))
		assert.ErrorContains(t, err, "opening messages")
	})
}

func TestValidateDefinition(t *testing.T) {
	cfg := config.Default()

	t.Run("default pipeline", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, validateDefinition(&out, cfg, ""))
		assert.Contains(t, out.String(), "8 steps")
		assert.Contains(t, out.String(), "enabled, hard stop")
		assert.Contains(t, out.String(), "ruleset-review")
	})

	t.Run("disabled step", func(t *testing.T) {
		path := writeFile(t, "pipeline.yaml", `name: small
steps:
  - id: filter
    type: keyword-filter
    options:
      exclude_keywords: [spam]
  - id: classify
    type: classify
    enabled: false
`)
		var out bytes.Buffer
		require.NoError(t, validateDefinition(&out, cfg, path))
		assert.Contains(t, out.String(), `Pipeline "small": 2 steps`)
		assert.Regexp(t, `classify\s+classify\s+disabled`, out.String())
	})

	t.Run("unknown step type", func(t *testing.T) {
		path := writeFile(t, "broken.yaml", `name: broken
steps:
  - id: mystery
    type: not-a-step
`)
		err := validateDefinition(&bytes.Buffer{}, cfg, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `pipeline "broken" is invalid`)

		var cfgErr *pipeline.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestRunCmdFilterOnly(t *testing.T) {
	dir := t.TempDir()
	definition := writeFile(t, "pipeline.yaml", `name: filter-only
steps:
  - id: filter
    type: keyword-filter
    options:
      exclude_keywords: [giveaway]
`)
	proposalsDir := filepath.Join(dir, "proposals")
	t.Setenv("DOCPIPE_PIPELINE_DEFINITION_PATH", definition)
	t.Setenv("DOCPIPE_PIPELINE_PROPOSALS_OUT_PATH", proposalsDir)
	t.Setenv("DOCPIPE_VECTORSTORE_CHROMEM_PATH", filepath.Join(dir, "store"))
	t.Setenv("DOCPIPE_LOGGING_LEVEL", "error")
	t.Setenv("DOCPIPE_LLM_API_KEY", "")

	reportPath := filepath.Join(dir, "report.json")
	stdin := `[{"id":"m1","content":"how do I upgrade?"},{"id":"m2","content":"free GIVEAWAY here"}]`
	out, err := execute(t, stdin,
		"run", "-",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--run-id", "run-cli",
		"--out", reportPath,
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "run-cli")
	assert.Contains(t, out, "completed")

	b, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report pipeline.Report
	require.NoError(t, json.Unmarshal(b, &report))
	assert.Equal(t, "run-cli", report.RunID)
	assert.Equal(t, pipeline.RunCompleted, report.Status)
	assert.Equal(t, 2, report.Metrics.MessagesTotal)
	assert.Zero(t, report.Metrics.LLMCalls)
	assert.Contains(t, report.Metrics.StepDurationsMs, "filter")

	assert.FileExists(t, filepath.Join(proposalsDir, "run-cli.json"))
}

func TestRunCmdRejectsBadInput(t *testing.T) {
	_, err := execute(t, `[{"content":"no id"}]`, "run", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no id")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
