package jtag

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/shlex"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/proc"
)

const (
	DefaultOpenOCDProg = "openocd"
	DefaultOpenOCDArgs = "-f board/esp32-wrover-kit-3.3v.cfg -d2"

	telnetBase = 4444
	gdbBase    = 3333
	tclBase    = 6666
	localhost  = "127.0.0.1"
)

// Ports are the server ports of one OpenOCD instance.
type Ports struct {
	Telnet int
	GDB    int
	TCL    int
}

// PortsFor offsets the OpenOCD default ports by the DUT index, so that
// every DUT of a session gets its own servers.
func PortsFor(index int) Ports {
	return Ports{Telnet: telnetBase + index, GDB: gdbBase + index, TCL: tclBase + index}
}

// OpenOCDArgs returns the OpenOCD command line: the port settings, then
// cliArgs (the default board config when empty) and the scripts
// directory.
func OpenOCDArgs(cliArgs, scripts string, ports Ports) ([]string, error) {
	if strings.TrimSpace(cliArgs) == "" {
		cliArgs = DefaultOpenOCDArgs
	}
	user, err := shlex.Split(cliArgs)
	if err != nil {
		return nil, fmt.Errorf("openocd_cli_args: %w", err)
	}
	args := []string{
		"-c", "telnet_port " + strconv.Itoa(ports.Telnet),
		"-c", "gdb_port " + strconv.Itoa(ports.GDB),
		"-c", "tcl_port " + strconv.Itoa(ports.TCL),
	}
	args = append(args, user...)
	if scripts != "" {
		args = append(args, "-s", scripts)
	}
	return args, nil
}

// OpenOCD is a running OpenOCD debug server.
type OpenOCD struct {
	p      *proc.Process
	ports  Ports
	logger *slog.Logger

	mu     sync.Mutex
	telnet *Telnet
}

func newOpenOCD(_ context.Context, b *dut.Build) (any, error) {
	cfg := b.Config
	ports := PortsFor(b.Index)
	args, err := OpenOCDArgs(cfg.String(dut.KeyOpenOCDArgs, ""), cfg.String(dut.KeyOpenOCDScripts, ""), ports)
	if err != nil {
		return nil, err
	}
	p, err := proc.Start(b.Sink, cfg.String(dut.KeyOpenOCDProg, DefaultOpenOCDProg), args, proc.StartOptions{
		Source: "openocd",
		Logger: b.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &OpenOCD{p: p, ports: ports, logger: b.Logger}, nil
}

// Name implements dut.Debugger.
func (o *OpenOCD) Name() string { return "openocd" }

// Ports returns the server ports.
func (o *OpenOCD) Ports() Ports { return o.ports }

// Command runs an OpenOCD command over telnet, connecting on first use.
func (o *OpenOCD) Command(ctx context.Context, cmd string) (string, error) {
	o.mu.Lock()
	if o.telnet == nil {
		t, err := DialTelnet(ctx, net.JoinHostPort(localhost, strconv.Itoa(o.ports.Telnet)))
		if err != nil {
			o.mu.Unlock()
			return "", err
		}
		o.telnet = t
	}
	t := o.telnet
	o.mu.Unlock()
	return t.Command(ctx, cmd)
}

// Program writes every flash file of app through the debugger and
// restarts the chip.
func (o *OpenOCD) Program(ctx context.Context, app *dut.App) error {
	for _, f := range app.SortedFlashFiles() {
		cmd := fmt.Sprintf("program_esp %s %#x verify", f.Path, f.Offset)
		if f.Encrypted {
			cmd += " encrypt"
		}
		out, err := o.Command(ctx, cmd)
		if err != nil {
			return err
		}
		if strings.Contains(out, "** Programming Failed **") || strings.Contains(out, "** Verify Failed **") {
			return fmt.Errorf("programming %s: %s", f.Path, out)
		}
	}
	_, err := o.Command(ctx, "reset run")
	return err
}

// Close disconnects and stops OpenOCD.
func (o *OpenOCD) Close() error {
	o.mu.Lock()
	if o.telnet != nil {
		o.telnet.Close()
		o.telnet = nil
	}
	o.mu.Unlock()
	return o.p.Close()
}
