package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LogWriter is the single consumer of a Queue. Every message is appended
// to the replay log file as raw bytes and echoed to the console through
// the Prefixer. Both sinks share one loop, so a stalled console delays
// the file as well.
type LogWriter struct {
	q       *Queue
	path    string
	file    *os.File
	console io.Writer
	prefix  *Prefixer
	logger  *slog.Logger

	drained   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewLogWriter creates the replay log at path (appending if it exists)
// and starts draining q. console and prefix may be nil.
func NewLogWriter(path string, q *Queue, console io.Writer, prefix *Prefixer, logger *slog.Logger) (*LogWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening replay log: %w", err)
	}
	if prefix == nil {
		prefix = &Prefixer{}
	}

	w := &LogWriter{
		q:       q,
		path:    path,
		file:    f,
		console: console,
		prefix:  prefix,
		logger:  logger,
		drained: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *LogWriter) run() {
	defer close(w.drained)

	ctx := context.Background()
	for {
		m, ok := w.q.Get(ctx)
		if !ok {
			return
		}
		if _, err := w.file.Write(m.Data); err != nil {
			w.logger.Error("writing replay log", "path", w.path, "err", err)
		}
		if w.console != nil {
			if s := w.prefix.Format(m.Source, m.Data); s != "" {
				io.WriteString(w.console, s)
			}
		}
	}
}

// Path returns the replay log location.
func (w *LogWriter) Path() string {
	return w.path
}

// Drained is closed once the queue has been closed and every message
// written.
func (w *LogWriter) Drained() <-chan struct{} {
	return w.drained
}

// Close closes the queue, waits for pending messages to be written and
// closes the file.
func (w *LogWriter) Close() error {
	w.closeOnce.Do(func() {
		w.q.Close()
		<-w.drained
		w.closeErr = w.file.Close()
	})
	return w.closeErr
}
