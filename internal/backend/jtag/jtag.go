// Package jtag attaches OpenOCD and gdb to a DUT. Each DUT of a session
// gets its own OpenOCD ports, offset by the DUT index.
package jtag

import "github.com/buckleypaul/dutkit/dut"

// Register declares the jtag service. OpenOCD is registered before gdb
// so that it is started first and stopped last.
func Register(r *dut.Registry) {
	r.Service("jtag", "serial")
	r.MustRegister(dut.Registration{Slot: dut.SlotDebugger, Name: "openocd", Services: []string{"jtag"}, New: newOpenOCD})
	r.MustRegister(dut.Registration{Slot: dut.SlotDebugger, Name: "gdb", Services: []string{"jtag"}, New: newGDB})
}
