package logging

import (
	"bytes"
	"strings"
	"testing"
)

func newBufLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(&Config{Level: level, Output: &buf}), &buf
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufLogger(LevelWarn)

	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")
	logger.Error("error msg")

	out := buf.String()
	if strings.Contains(out, "debug msg") || strings.Contains(out, "info msg") {
		t.Errorf("messages below level leaked: %q", out)
	}
	if !strings.Contains(out, "warn msg") || !strings.Contains(out, "error msg") {
		t.Errorf("messages at or above level missing: %q", out)
	}
}

func TestKeyValueFormatting(t *testing.T) {
	logger, buf := newBufLogger(LevelDebug)

	logger.Info("event dropped", "type", "MyEvent", "dest", 3)

	out := buf.String()
	for _, want := range []string{"[INFO]", "event dropped", "type=MyEvent", "dest=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestPrintfStyle(t *testing.T) {
	logger, buf := newBufLogger(LevelDebug)

	logger.Warnf("worker %d lagging by %dus", 2, 150)

	if !strings.Contains(buf.String(), "worker 2 lagging by 150us") {
		t.Errorf("printf formatting broken: %q", buf.String())
	}
}

func TestWithPrefix(t *testing.T) {
	logger, buf := newBufLogger(LevelDebug)
	child := logger.WithPrefix("core(3)")

	child.Info("init success")
	logger.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "core(3): init success") {
		t.Errorf("prefix missing: %q", lines[0])
	}
	if strings.Contains(lines[1], "core(3)") {
		t.Errorf("prefix leaked into parent: %q", lines[1])
	}
}

func TestNestedPrefix(t *testing.T) {
	logger, buf := newBufLogger(LevelDebug)
	logger.WithPrefix("engine").WithPrefix("core(0)").Info("ready")

	if !strings.Contains(buf.String(), "engine core(0): ready") {
		t.Errorf("nested prefix broken: %q", buf.String())
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default() should return the same logger")
	}

	custom, _ := newBufLogger(LevelError)
	SetDefault(custom)
	defer SetDefault(a)
	if Default() != custom {
		t.Error("SetDefault did not take effect")
	}
}

func TestOddKeyValuePairsIgnoredTail(t *testing.T) {
	logger, buf := newBufLogger(LevelDebug)
	logger.Info("msg", "key") // dangling key has no value to pair with

	out := buf.String()
	if !strings.Contains(out, "msg") {
		t.Errorf("message lost: %q", out)
	}
	if strings.Contains(out, "key=") {
		t.Errorf("dangling key should not format: %q", out)
	}
}
