package dut

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Slot is the role a backend fills in an assembled DUT.
type Slot string

const (
	SlotApp      Slot = "app"
	SlotSerial   Slot = "serial"
	SlotDebugger Slot = "debugger"
	SlotEmulator Slot = "emulator"
	SlotDUT      Slot = "dut"
)

func (s Slot) valid() bool {
	switch s {
	case SlotApp, SlotSerial, SlotDebugger, SlotEmulator, SlotDUT:
		return true
	}
	return false
}

// multi reports whether several registrations may fill the slot at once.
func (s Slot) multi() bool {
	return s == SlotDebugger || s == SlotDUT
}

// ErrUnsupported is returned by DUT operations the assembled backends do
// not provide.
var ErrUnsupported = fmt.Errorf("unsupported operation: %w", errors.ErrUnsupported)

// ErrTargetMismatch is returned when the chip behind a port is not the
// target the app was built for.
var ErrTargetMismatch = errors.New("target mismatch")

// Sink receives output chunks tagged with the name of their source. Put
// must not retain data.
type Sink interface {
	Put(source string, data []byte)
}

// SinkWriter returns a writer that puts everything written to it into
// sink under source.
func SinkWriter(sink Sink, source string) io.Writer {
	return sinkWriter{sink: sink, source: source}
}

type sinkWriter struct {
	sink   Sink
	source string
}

func (w sinkWriter) Write(p []byte) (int, error) {
	if w.sink != nil {
		w.sink.Put(w.source, p)
	}
	return len(p), nil
}

// Transport is the link to the device. Start brings the link up and
// begins relaying output into sink.
type Transport interface {
	Start(ctx context.Context, sink Sink) error
	Write(p []byte) error
	Close() error
}

// Flasher is implemented by transports that can program an App onto the
// device. Flash must be safe to retry.
type Flasher interface {
	Flash(ctx context.Context, app *App) error
}

// FlashSkipper is implemented by flashers that know when the app is
// already on the device. Autoflash is skipped when SkipFlash reports true.
type FlashSkipper interface {
	SkipFlash(app *App) bool
}

// Resetter is implemented by transports that can hard reset the device.
type Resetter interface {
	HardReset(ctx context.Context) error
}

// Terminator is implemented by transports whose output can end, such as
// an emulator process. Done is closed once every byte the transport will
// ever produce has been handed to the sink.
type Terminator interface {
	Done() <-chan struct{}
}

// Debugger is a debug connection to the device, such as OpenOCD or gdb.
type Debugger interface {
	Name() string
	Close() error
}

// Emulator runs the firmware instead of real hardware. An emulator that
// also implements Transport is used as the DUT transport when no serial
// backend is selected.
type Emulator interface {
	Name() string
	Close() error
}

// Extension adds behavior to an assembled DUT. Close runs during DUT
// teardown before the transport is closed.
type Extension interface {
	Close() error
}
