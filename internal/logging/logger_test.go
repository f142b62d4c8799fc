package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/docpipe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bufferLogger builds a logger writing JSON into a buffer through the real core.
func bufferLogger(t *testing.T, cfg *Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	core, err := newCore(cfg, zapcore.AddSync(buf), nil)
	require.NoError(t, err)
	return build(core, cfg), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad stream", func(c *Config) { c.Output.Stream = "file" }, "output stream"},
		{"no outputs", func(c *Config) { c.Output.Stream = "" }, "at least one output"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "sampling tick"},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, "invalid redaction pattern"},
		{"empty field value", func(c *Config) { c.Fields["env"] = "" }, "empty value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "trace", Format: "console"}, "acme")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "acme", cfg.Fields["instance"])

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"}, "")
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithStepID(ctx, "rag")
	ctx = WithInstance(ctx, "acme")
	tl.Info(ctx, "step finished", zap.Int("docs", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "step finished")
	tl.AssertField(t, "step finished", "run.id", "run-1")
	tl.AssertField(t, "step finished", "step.id", "rag")
	tl.AssertField(t, "step finished", "instance", "acme")

	tl.Info(context.Background(), "unrelated")
	assert.Len(t, tl.ForRun("run-1"), 1)
}

func TestContextFields_Trace(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
}

func TestContext_ClipsLongIDs(t *testing.T) {
	ctx := WithRunID(context.Background(), strings.Repeat("x", 500))
	assert.Len(t, RunIDFromContext(ctx), maxIDLen)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "via context")
	tl.AssertLogged(t, zapcore.WarnLevel, "via context")
}

func TestTraceLevel(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	tl := NewTestLogger()
	tl.Trace(context.Background(), "prompt dump")
	tl.AssertLogged(t, TraceLevel, "prompt dump")
}

func TestRedaction(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	logger, buf := bufferLogger(t, cfg)

	ctx := context.Background()
	logger.Info(ctx, "calling provider",
		zap.String("api_key", "sk-live-123"),
		zap.String("header", "Bearer abc.def"),
		zap.String("model", "claude"),
		Secret("key", config.Secret("hunter2")),
	)
	logger.With(zap.String("password", "pw")).Info(ctx, "child")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["header"])
	assert.Equal(t, "claude", lines[0]["model"])
	assert.Equal(t, "[REDACTED:7]", lines[0]["key"])
	assert.Equal(t, "[REDACTED]", lines[1]["password"])
	assert.Equal(t, "docpipe", lines[0]["service"])
	assert.NotContains(t, buf.String(), "sk-live-123")
}

func TestSampling_ErrorsNeverSampled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling = SamplingConfig{Enabled: true, Tick: config.Duration(time.Minute), Initial: 2, Thereafter: 0}
	logger, buf := bufferLogger(t, cfg)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		logger.Info(ctx, "repeated")
		logger.Error(ctx, "failure")
	}

	var infos, errs int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "repeated":
			infos++
		case "failure":
			errs++
		}
	}
	assert.Equal(t, 2, infos)
	assert.Equal(t, 10, errs)
}
