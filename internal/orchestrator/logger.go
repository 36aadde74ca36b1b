package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// current receives debugLog output. New installs the planner's logger here.
var current atomic.Pointer[DebugLogger]

func setPackageLogger(l *DebugLogger) {
	current.Store(l)
}

// debugLog is for helpers that run without a *Planner in reach, such as
// the phase loop and aggregation.
func debugLog(format string, args ...interface{}) {
	current.Load().Log(format, args...)
}

// DebugLogger appends timestamped lines to a planner trace file. The zero
// value, and a nil pointer, discard everything.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDebugLogger opens (or creates) the trace file at path in append mode.
// An empty path yields a discarding logger.
func NewDebugLogger(path string) (*DebugLogger, error) {
	if path == "" {
		return &DebugLogger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{file: f}
	l.Log("--- sleuth planner trace, pid %d, %s ---", os.Getpid(), time.Now().Format(time.RFC3339))
	return l, nil
}

// NewDebugLoggerForDir traces to dir/.sleuth/logs/planner-debug.log, or
// discards when that file cannot be opened.
func NewDebugLoggerForDir(dir string) *DebugLogger {
	l, err := NewDebugLogger(filepath.Join(dir, ".sleuth", "logs", "planner-debug.log"))
	if err != nil {
		return &DebugLogger{}
	}
	return l
}

// NopLogger discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log formats one line prefixed with the wall-clock time.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	line := fmt.Sprintf("%s %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.file.WriteString(line)
	_ = l.file.Sync()
}

// Func adapts l to the debugLog callback other packages accept.
func (l *DebugLogger) Func() func(format string, args ...interface{}) {
	return l.Log
}

func (l *DebugLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
