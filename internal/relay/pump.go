package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
)

// Sink receives chunks read by a Pump.
type Sink interface {
	Put(source string, data []byte)
}

// Pump continuously drains a live byte source into a Sink from its own
// goroutine. A read that blocks forever only stalls the pump itself;
// closing the underlying source is the way to unblock it.
type Pump struct {
	source  string
	stopped atomic.Bool
	done    chan struct{}

	mu  sync.Mutex
	err error
}

type pumpOptions struct {
	bufSize int
	closed  func(error) bool
	logger  *slog.Logger
}

// PumpOption configures StartPump.
type PumpOption func(*pumpOptions)

// WithBufferSize sets the size of a single read.
func WithBufferSize(n int) PumpOption {
	return func(o *pumpOptions) {
		if n > 0 {
			o.bufSize = n
		}
	}
}

// WithClosedFunc adds a classifier for backend specific "link closed"
// errors, such as a serial port closed underneath a pending read.
func WithClosedFunc(fn func(error) bool) PumpOption {
	return func(o *pumpOptions) { o.closed = fn }
}

// WithLogger sets the logger used for unexpected read errors.
func WithLogger(l *slog.Logger) PumpOption {
	return func(o *pumpOptions) { o.logger = l }
}

// StartPump starts reading src and pushing every non-empty chunk to sink
// tagged with source.
func StartPump(src io.Reader, sink Sink, source string, opts ...PumpOption) *Pump {
	o := pumpOptions{bufSize: 1024}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	p := &Pump{source: source, done: make(chan struct{})}
	go p.run(src, sink, o)
	return p
}

func (p *Pump) run(src io.Reader, sink Sink, o pumpOptions) {
	defer close(p.done)

	buf := make([]byte, o.bufSize)
	for !p.stopped.Load() {
		n, err := src.Read(buf)
		if n > 0 && !p.stopped.Load() {
			sink.Put(p.source, buf[:n])
		}
		if err == nil {
			continue
		}
		if IsClosed(err) || (o.closed != nil && o.closed(err)) {
			return
		}
		o.logger.Warn("relay read failed", "source", p.source, "err", err)
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		return
	}
}

// Stop asks the pump to exit after its current read returns. It does not
// wait.
func (p *Pump) Stop() {
	p.stopped.Store(true)
}

// Done is closed when the pump goroutine has exited.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// Err returns the read error that ended the pump, if it was not a normal
// close.
func (p *Pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// IsClosed reports whether err means the source was closed or reached its
// end, which is the expected way for a pump to finish.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}
