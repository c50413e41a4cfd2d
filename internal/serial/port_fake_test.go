package serial

import (
	"io"
	"sync"
	"time"
)

// fakePort is a Port whose input is fed by the test.
type fakePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written []byte
	lines   []string
	closed  bool
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.r.Close()
}

func (p *fakePort) SetDTR(v bool) error { return p.line("dtr", v) }
func (p *fakePort) SetRTS(v bool) error { return p.line("rts", v) }

func (p *fakePort) line(name string, v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v {
		name += "=1"
	} else {
		name += "=0"
	}
	p.lines = append(p.lines, name)
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error             { return nil }

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
