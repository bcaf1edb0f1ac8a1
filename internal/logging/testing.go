package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, at every level, for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a TestLogger without sampling or redaction, so
// tests see exactly what the code logged.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, observed: observed}
}

// All returns the recorded entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// Reset drops the recorded entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

func (t *TestLogger) count(level zapcore.Level, msg string) int {
	n := 0
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			n++
		}
	}
	return n
}

func (t *TestLogger) dump() string {
	var b strings.Builder
	for _, e := range t.observed.All() {
		fmt.Fprintf(&b, "\n  %s %q", levelName(e.Level), e.Message)
	}
	return b.String()
}

// AssertLogged fails unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.count(level, msg) == 0 {
		tb.Errorf("no %s entry containing %q; recorded:%s", levelName(level), msg, t.dump())
	}
}

// AssertNotLogged fails if an entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if n := t.count(level, msg); n > 0 {
		tb.Errorf("%d unexpected %s entries containing %q", n, levelName(level), msg)
	}
}

// AssertField fails unless an entry containing msg carries key=want.
// Fields are compared after encoding, so zap.Int("n", 3) matches int64(3).
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessageSnippet(msg).All() {
		got, ok := e.ContextMap()[key]
		if ok && fmt.Sprint(got) == fmt.Sprint(want) {
			return
		}
	}
	tb.Errorf("no entry containing %q has %s=%v; recorded:%s", msg, key, want, t.dump())
}

// AssertNoSecrets fails when a recorded string would have been masked by
// the default redaction rules. Use it after code that handles API keys.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	r, err := newRedactor(NewDefaultConfig().Redaction)
	if err != nil {
		tb.Fatalf("default redaction rules: %v", err)
	}
	for _, e := range t.observed.All() {
		if _, leaked := r.value("", e.Message); leaked {
			tb.Errorf("secret in message %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType || strings.HasPrefix(f.String, "[REDACTED") {
				continue
			}
			if _, leaked := r.value(f.Key, f.String); leaked {
				tb.Errorf("secret in field %s of %q", f.Key, e.Message)
			}
		}
	}
}
