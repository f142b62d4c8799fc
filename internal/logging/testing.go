package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger whose entries are kept in memory for assertions.
// It records everything from TraceLevel up.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, logs: logs}
}

// FilterMessage returns the entries whose message is exactly msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.logs.FilterMessage(msg)
}

// ForRun returns the entries carrying run.id = runID.
func (t *TestLogger) ForRun(runID string) []observer.LoggedEntry {
	return t.logs.FilterField(zap.String("run.id", runID)).All()
}

func (t *TestLogger) find(level zapcore.Level, substr string) (observer.LoggedEntry, bool) {
	for _, e := range t.logs.All() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return observer.LoggedEntry{}, false
}

func (t *TestLogger) dump() string {
	var b strings.Builder
	for _, e := range t.logs.All() {
		fmt.Fprintf(&b, "\n  %s %q %v", e.Level, e.Message, e.ContextMap())
	}
	return b.String()
}

// AssertLogged fails tb unless an entry at level contains substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if _, ok := t.find(level, substr); !ok {
		tb.Errorf("no %s entry containing %q; got:%s", level, substr, t.dump())
	}
}

// AssertField fails tb unless some entry with message msg has key == want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key, want string) {
	tb.Helper()
	for _, e := range t.logs.FilterMessage(msg).All() {
		if e.ContextMap()[key] == want {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%q; got:%s", msg, key, want, t.dump())
}
