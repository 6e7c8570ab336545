package logging

import (
	"bytes"
	"testing"

	"playground/internal/observability"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.lines = append(r.lines, "debug") }
func (r *recordingLogger) Info(format string, args ...any)  { r.lines = append(r.lines, "info") }
func (r *recordingLogger) Warn(format string, args ...any)  { r.lines = append(r.lines, "warn") }
func (r *recordingLogger) Error(format string, args ...any) { r.lines = append(r.lines, "error") }

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var rec *recordingLogger
	var logger Logger = rec
	if !IsNil(logger) {
		t.Fatalf("expected typed nil pointer to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world")
}

func TestFromObservabilityFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{
		Level:  "info",
		Format: "text",
		Output: buf,
	})

	logger := FromObservability(base, "test")
	logger.Info("hello %s", "world")

	if want := "hello world"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
	if want := "component=test"; !bytes.Contains(buf.Bytes(), []byte(want)) {
		t.Fatalf("expected %q in output, got %q", want, buf.String())
	}
}

func TestFromObservabilityFollowsLevelChanges(t *testing.T) {
	buf := &bytes.Buffer{}
	base := observability.NewLogger(observability.LogConfig{Level: "info", Output: buf})
	logger := FromObservability(base, "test")

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug output to be suppressed, got %q", buf.String())
	}

	if err := base.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	logger.Debug("visible")
	if !bytes.Contains(buf.Bytes(), []byte("visible")) {
		t.Fatalf("expected debug output after level change, got %q", buf.String())
	}
}

