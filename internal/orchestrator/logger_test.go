package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLoggerWritesTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trace.log")
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}
	l.Log("phase %d of %s", 2, "conv-1")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one line, got %q", lines)
	}
	if !strings.HasSuffix(lines[1], " phase 2 of conv-1") {
		t.Errorf("unexpected line %q", lines[1])
	}
}

func TestDebugLoggerDiscards(t *testing.T) {
	var nilLogger *DebugLogger
	nilLogger.Log("ignored")
	if err := nilLogger.Close(); err != nil {
		t.Errorf("Close on nil logger: %v", err)
	}
	NopLogger().Func()("ignored %d", 1)

	l, err := NewDebugLogger("")
	if err != nil || l.file != nil {
		t.Errorf("empty path should discard, got %+v, %v", l, err)
	}
}
