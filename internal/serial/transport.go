package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/relay"
)

const (
	DefaultBaudRate = 115200
	// ReadTimeout bounds every blocking read so the relay can notice
	// it was stopped.
	ReadTimeout = 100 * time.Millisecond

	resetPulse = 200 * time.Millisecond
)

// Port is the part of a serial port the transport uses.
type Port interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens a port.
type Opener func(name string, baud int) (Port, error)

// Open opens a real serial port, 8N1, with ReadTimeout set.
func Open(name string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// IsClosed reports whether err is the serial library's "port closed"
// error, returned to a read pending while the port is closed.
func IsClosed(err error) bool {
	var pe *serial.PortError
	return errors.As(err, &pe) && pe.Code() == serial.PortClosed
}

// Transport relays a serial port into a DUT.
type Transport struct {
	name   string
	baud   int
	open   Opener
	logger *slog.Logger

	mu      sync.Mutex
	port    Port
	pump    *relay.Pump
	sink    dut.Sink
	started bool
}

// Option configures NewTransport.
type Option func(*Transport)

// WithOpener replaces the function used to open the port.
func WithOpener(o Opener) Option {
	return func(t *Transport) { t.open = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// NewTransport opens the port name. Output is relayed once Start is
// called.
func NewTransport(name string, baud int, opts ...Option) (*Transport, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	t := &Transport{name: name, baud: baud, open: Open}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	port, err := t.open(name, baud)
	if err != nil {
		return nil, err
	}
	t.port = port
	return t, nil
}

// Name returns the port name.
func (t *Transport) Name() string { return t.name }

// Baud returns the configured baud rate.
func (t *Transport) Baud() int { return t.baud }

// Start begins relaying port output into sink.
func (t *Transport) Start(_ context.Context, sink dut.Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return io.ErrClosedPipe
	}
	t.sink = sink
	t.started = true
	t.startPumpLocked()
	return nil
}

func (t *Transport) startPumpLocked() {
	t.pump = relay.StartPump(t.port, t.sink, t.name,
		relay.WithClosedFunc(IsClosed),
		relay.WithLogger(t.logger))
}

// Write sends data to the serial port.
func (t *Transport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return io.ErrClosedPipe
	}
	_, err := t.port.Write(data)
	return err
}

// HardReset pulses RTS, which drives the chip enable line on common
// USB-UART bridges.
func (t *Transport) HardReset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return io.ErrClosedPipe
	}
	if err := t.port.SetDTR(false); err != nil {
		return err
	}
	if err := t.port.SetRTS(true); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		t.port.SetRTS(false)
		return ctx.Err()
	case <-time.After(resetPulse):
	}
	return t.port.SetRTS(false)
}

// Release closes the port and runs fn while it is closed, so that an
// external tool can use it. The port is then reopened and, if the
// transport was started, relaying resumes.
func (t *Transport) Release(fn func(name string) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return io.ErrClosedPipe
	}
	if t.pump != nil {
		t.pump.Stop()
	}
	t.port.Close()
	t.port = nil
	if t.pump != nil {
		<-t.pump.Done()
		t.pump = nil
	}

	fnErr := fn(t.name)

	port, err := t.open(t.name, t.baud)
	if err != nil {
		return errors.Join(fnErr, fmt.Errorf("reopening %s: %w", t.name, err))
	}
	t.port = port
	if t.started {
		t.startPumpLocked()
	}
	return fnErr
}

// Close closes the port. A pending read returns and the relay exits.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	if t.pump != nil {
		t.pump.Stop()
	}
	err := t.port.Close()
	t.port = nil
	return err
}
