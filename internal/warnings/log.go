// Package warnings is the run-level warning sink. Lines from any number of
// goroutines are funneled through a channel to a single writer.
package warnings

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/subclip/pkg/log"
)

// FileName is the warning log's name relative to the output root.
const FileName = "warnings.log"

// Sink receives warnings. The scheduler depends on this rather than on Log
// so tests can capture lines in memory.
type Sink interface {
	Warn(format string, args ...any)
}

type Log struct {
	lines chan string
	done  chan struct{}
	out   io.Writer
	close func() error

	mu     sync.RWMutex
	closed bool
	count  atomic.Int64
	err    error
}

// Open appends to the file at path, creating it and its directory.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create warning log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open warning log: %w", err)
	}
	return start(f, f.Close), nil
}

// New writes warnings to w. Closing the Log does not close w.
func New(w io.Writer) *Log {
	return start(w, func() error { return nil })
}

func start(w io.Writer, closeFn func() error) *Log {
	l := &Log{
		lines: make(chan string, 64),
		done:  make(chan struct{}),
		out:   w,
		close: closeFn,
	}
	go l.run()
	return l
}

func (l *Log) run() {
	defer close(l.done)
	for line := range l.lines {
		if _, err := io.WriteString(l.out, line); err != nil && l.err == nil {
			l.err = err
		}
	}
}

// Warn records one line. Embedded newlines are flattened so every warning
// stays on its own line. Calls after Close are dropped.
func (l *Log) Warn(format string, args ...any) {
	msg := strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", " ")
	log.Warn("%s", msg)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	l.count.Add(1)
	l.lines <- time.Now().Format(time.RFC3339) + " " + msg + "\n"
}

// Count returns the number of warnings accepted so far.
func (l *Log) Count() int {
	return int(l.count.Load())
}

// Close drains pending lines and releases the underlying file. It is safe
// to call more than once.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.lines)
	l.mu.Unlock()

	<-l.done
	if err := l.close(); err != nil {
		return err
	}
	return l.err
}
