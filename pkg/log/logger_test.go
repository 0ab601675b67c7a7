package log

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestTextFormatterLine(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithLevel(DebugLevel),
		WithFormatter(&TextFormatter{}),
		WithOutput(NewWriterOutput(&buf)),
		WithClock(fixedClock),
	)
	l.Info("segment written", Component("archiver"), Int("records", 3))
	line := buf.String()
	if !strings.Contains(line, "INFO segment written") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "component=archiver") || !strings.Contains(line, "records=3") {
		t.Fatalf("missing fields: %q", line)
	}
}

func TestLevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(WarnLevel), WithOutput(NewWriterOutput(&buf)))
	l.Info("dropped")
	l.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info should be gated: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn should pass: %q", out)
	}
}

func TestWithInheritsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(DebugLevel), WithOutput(NewWriterOutput(&buf)))
	child := l.With(Scope("world-1/dlq"))
	child.Info("evicted")
	if !strings.Contains(buf.String(), "scope=world-1/dlq") {
		t.Fatalf("expected inherited scope field: %q", buf.String())
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(DebugLevel), WithFormatter(&JSONFormatter{}), WithOutput(NewWriterOutput(&buf)))
	l.Error("archive failed", Str("hash", "abc"))
	out := buf.String()
	if !strings.Contains(out, `"level":"ERROR"`) || !strings.Contains(out, `"hash":"abc"`) {
		t.Fatalf("unexpected json: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("debug"); err != nil || lvl != DebugLevel {
		t.Fatalf("parse debug: %v %v", lvl, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
