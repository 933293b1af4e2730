// Package runlog writes the append-only pipeline log.
//
// Every line is "<RFC3339 timestamp> - <message>". The format stays
// line-oriented and the file is opened O_APPEND so a run that crashes
// mid-way still leaves its earlier entries legible.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Appender receives pipeline log lines.
type Appender interface {
	Append(at time.Time, format string, args ...any)
}

// FileLog appends timestamped lines to a single log file.
type FileLog struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if needed) the log file in append mode.
// The file stays open for the lifetime of the run.
func Open(path string) (*FileLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &FileLog{file: f}, nil
}

// Append writes one formatted line. Write errors are swallowed: the log is
// an observability channel and must never fail a run.
func (l *FileLog) Append(at time.Time, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "%s - %s\n", at.UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Close closes the underlying file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Multi fans each line out to several appenders.
type Multi []Appender

func (m Multi) Append(at time.Time, format string, args ...any) {
	for _, a := range m {
		a.Append(at, format, args...)
	}
}

// Console echoes log lines to stdout for interactive runs.
type Console struct{}

func (Console) Append(at time.Time, format string, args ...any) {
	fmt.Printf("%s - %s\n", at.UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Discard drops all lines. Used in tests and quiet mode fallbacks.
type Discard struct{}

func (Discard) Append(time.Time, string, ...any) {}
