package dut

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopFactory(context.Context, *Build) (any, error) { return nil, nil }

func TestRegistryResolvesMostSpecific(t *testing.T) {
	r := testRegistry(t)
	r.MustRegister(Registration{Slot: SlotApp, Name: "app", New: nopFactory})
	r.MustRegister(Registration{Slot: SlotApp, Name: "idf-app", Services: []string{"idf"}, New: nopFactory})
	r.MustRegister(Registration{Slot: SlotSerial, Name: "serial", Services: []string{"serial"}, New: nopFactory})
	r.MustRegister(Registration{Slot: SlotSerial, Name: "esp", Services: []string{"serial", "esp"}, New: nopFactory})
	r.MustRegister(Registration{Slot: SlotSerial, Name: "idf-esp", Services: []string{"serial", "esp", "idf"}, New: nopFactory})
	r.MustRegister(Registration{Slot: SlotDebugger, Name: "openocd", Services: []string{"jtag"}, New: nopFactory})
	r.MustRegister(Registration{Slot: SlotDebugger, Name: "gdb", Services: []string{"jtag"}, New: nopFactory})
	r.MustRegister(Registration{Slot: SlotEmulator, Name: "qemu", Services: []string{"qemu"}, New: nopFactory})

	p, err := r.Resolve([]string{"esp"})
	require.NoError(t, err)
	assert.Equal(t, []string{"esp", "serial"}, p.Services)
	assert.Equal(t, "app", p.App.Name)
	assert.Equal(t, "esp", p.Serial.Name)
	assert.Nil(t, p.Emulator)
	assert.Empty(t, p.Debuggers)

	p, err = r.Resolve([]string{"esp", "idf"})
	require.NoError(t, err)
	assert.Equal(t, "idf-app", p.App.Name)
	assert.Equal(t, "idf-esp", p.Serial.Name)

	p, err = r.Resolve([]string{"jtag"})
	require.NoError(t, err)
	assert.Equal(t, "serial", p.Serial.Name)
	require.Len(t, p.Debuggers, 2)
	assert.Equal(t, "openocd", p.Debuggers[0].Name)
	assert.Equal(t, "gdb", p.Debuggers[1].Name)

	p, err = r.Resolve([]string{"idf", "qemu"})
	require.NoError(t, err)
	assert.Nil(t, p.Serial)
	assert.Equal(t, "qemu", p.Emulator.Name)

	p, err = r.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "app", p.App.Name)
	assert.Nil(t, p.Serial)
}

func TestRegistryUnknownService(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Resolve([]string{"esp", "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	err = r.Register(Registration{Slot: SlotSerial, Name: "x", Services: []string{"nope"}, New: nopFactory})
	assert.Error(t, err)
	err = r.Register(Registration{Slot: "bogus", Name: "x", New: nopFactory})
	assert.Error(t, err)
}

func TestRegistryConflict(t *testing.T) {
	r := testRegistry(t)
	r.Service("wokwi")
	r.MustRegister(Registration{Slot: SlotEmulator, Name: "qemu", Services: []string{"qemu"}, New: nopFactory})
	r.MustRegister(Registration{Slot: SlotEmulator, Name: "wokwi", Services: []string{"wokwi"}, New: nopFactory})

	_, err := r.Resolve([]string{"qemu", "wokwi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting emulator backends: qemu, wokwi")
}
