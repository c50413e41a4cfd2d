// Package backend registers the built-in DUT backends.
package backend

import (
	"context"
	"errors"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/backend/esp"
	"github.com/buckleypaul/dutkit/internal/backend/idf"
	"github.com/buckleypaul/dutkit/internal/backend/jtag"
	"github.com/buckleypaul/dutkit/internal/backend/qemu"
	"github.com/buckleypaul/dutkit/internal/backend/wokwi"
	"github.com/buckleypaul/dutkit/internal/serial"
)

// Register declares every built-in service and backend on r.
func Register(r *dut.Registry) {
	r.Service("serial")
	r.MustRegister(dut.Registration{Slot: dut.SlotSerial, Name: "serial", Services: []string{"serial"}, New: newSerial})
	(&esp.Backend{}).Register(r)
	idf.Register(r)
	jtag.Register(r)
	qemu.Register(r)
	wokwi.Register(r)
}

// NewRegistry returns a registry with the built-in backends.
func NewRegistry() *dut.Registry {
	r := dut.NewRegistry()
	Register(r)
	return r
}

// newSerial opens the configured port as a plain serial transport.
func newSerial(_ context.Context, b *dut.Build) (any, error) {
	port := b.Config.String(dut.KeyPort, "")
	if port == "" {
		return nil, errors.New("no port configured")
	}
	baud, err := b.Config.Int(dut.KeyBaud, serial.DefaultBaudRate)
	if err != nil {
		return nil, err
	}
	if err := b.Claims.Claim(port, b.Index); err != nil {
		return nil, err
	}
	b.Teardown.Push("release "+port, func() error {
		b.Claims.Release(port)
		return nil
	})
	return serial.NewTransport(port, baud, serial.WithLogger(b.Logger))
}
