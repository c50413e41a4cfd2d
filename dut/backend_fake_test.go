package dut

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/buckleypaul/dutkit/internal/relay"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// events records the order in which fake backends are closed.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

// pipeTransport is a device whose output is fed by the test through emit.
type pipeTransport struct {
	name   string
	ev     *events
	r      *io.PipeReader
	w      *io.PipeWriter
	done   chan struct{}
	mu     sync.Mutex
	input  []string
	flashN int
}

func newPipeTransport(name string, ev *events) *pipeTransport {
	r, w := io.Pipe()
	return &pipeTransport{name: name, ev: ev, r: r, w: w, done: make(chan struct{})}
}

func (p *pipeTransport) Start(_ context.Context, sink Sink) error {
	pump := relay.StartPump(p.r, sink, p.name)
	go func() {
		<-pump.Done()
		close(p.done)
	}()
	return nil
}

func (p *pipeTransport) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = append(p.input, string(b))
	return nil
}

func (p *pipeTransport) Close() error {
	if p.ev != nil {
		p.ev.add("close " + p.name)
	}
	p.w.Close()
	return p.r.Close()
}

func (p *pipeTransport) Done() <-chan struct{} { return p.done }

func (p *pipeTransport) Flash(context.Context, *App) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flashN++
	return nil
}

func (p *pipeTransport) flashes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flashN
}

func (p *pipeTransport) emit(s string) {
	p.w.Write([]byte(s))
}

// endOutput ends the device output as a terminated process would.
func (p *pipeTransport) endOutput() {
	p.w.Close()
}

type fakeCloser struct {
	name string
	ev   *events
	err  error
}

func (f *fakeCloser) Name() string { return f.name }

func (f *fakeCloser) Close() error {
	f.ev.add("close " + f.name)
	return f.err
}

var errBoom = errors.New("boom")

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	r.Service("serial")
	r.Service("esp", "serial")
	r.Service("jtag", "serial")
	r.Service("qemu")
	r.Service("idf")
	return r
}
