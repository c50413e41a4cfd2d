package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoTransport is a device that prints back everything written to it.
type echoTransport struct {
	mu     sync.Mutex
	sink   dut.Sink
	closed bool
}

func (e *echoTransport) Start(_ context.Context, sink dut.Sink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
	return nil
}

func (e *echoTransport) Write(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("closed")
	}
	if e.sink != nil {
		e.sink.Put(dut.SourceDUT, p)
	}
	return nil
}

func (e *echoTransport) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *echoTransport) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// echoBackend hands out echo transports and remembers them by index.
type echoBackend struct {
	mu      sync.Mutex
	devices map[int]*echoTransport
	failAt  int
}

func (b *echoBackend) registry() *dut.Registry {
	r := dut.NewRegistry()
	r.Service("echo")
	r.MustRegister(dut.Registration{Slot: dut.SlotSerial, Name: "echo", Services: []string{"echo"}, New: b.new})
	return r
}

func (b *echoBackend) new(_ context.Context, build *dut.Build) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAt > 0 && build.Index == b.failAt {
		return nil, fmt.Errorf("no device for index %d", build.Index)
	}
	if b.devices == nil {
		b.devices = map[int]*echoTransport{}
	}
	t := &echoTransport{}
	b.devices[build.Index] = t
	return t, nil
}

func (b *echoBackend) device(i int) *echoTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[i]
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.LogDir = t.TempDir()
	cfg.CacheDir = t.TempDir()
	cfg.Services = "echo"
	off := false
	cfg.Timestamp = &off
	return cfg
}

func openSession(t *testing.T, cfg config.Config, b *echoBackend) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Config:       &cfg,
		Registry:     b.registry(),
		Logger:       quietLogger(),
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

// recordingTB collects what harness.New reports instead of failing the
// real test.
type recordingTB struct {
	testing.TB
	name     string
	mu       sync.Mutex
	errors   []string
	cleanups []func()
}

func (r *recordingTB) Helper()      {}
func (r *recordingTB) Name() string { return r.name }

func (r *recordingTB) Errorf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func (r *recordingTB) Fatalf(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}

func (r *recordingTB) Cleanup(fn func()) {
	r.cleanups = append(r.cleanups, fn)
}

func (r *recordingTB) runCleanups() {
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i]()
	}
}
