package jtag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/backend/esp"
	"github.com/buckleypaul/dutkit/internal/proc"
)

const DefaultGDBArgs = "--nx --quiet --interpreter=mi2"

// GDB is a gdb process driven through its machine interface.
type GDB struct {
	p    *proc.Process
	port int
}

func newGDB(_ context.Context, b *dut.Build) (any, error) {
	cfg := b.Config
	target := cfg.String(dut.KeyTarget, b.App.Target)
	if target == "" || target == "auto" {
		target = "esp32"
	}
	cliArgs := cfg.String(dut.KeyGDBArgs, "")
	if strings.TrimSpace(cliArgs) == "" {
		cliArgs = DefaultGDBArgs
	}
	args, err := shlex.Split(cliArgs)
	if err != nil {
		return nil, fmt.Errorf("gdb_cli_args: %w", err)
	}
	prog := cfg.String(dut.KeyGDBProg, esp.ToolchainPrefix(target)+"gdb")
	p, err := proc.Start(b.Sink, prog, args, proc.StartOptions{
		Source: "gdb",
		Stdin:  true,
		Logger: b.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &GDB{p: p, port: PortsFor(b.Index).GDB}, nil
}

// Name implements dut.Debugger.
func (g *GDB) Name() string { return "gdb" }

// Send writes one machine interface command.
func (g *GDB) Send(cmd string) error {
	return g.p.Write([]byte(cmd + "\n"))
}

// Connect attaches to the OpenOCD gdb server of the same DUT.
func (g *GDB) Connect() error {
	return g.Send("-target-select extended-remote :" + strconv.Itoa(g.port))
}

func (g *GDB) InterpreterExecConsole(cmd string) error {
	return g.Send(fmt.Sprintf("-interpreter-exec console %q", cmd))
}

func (g *GDB) Set(key, value string) error {
	return g.Send("-gdb-set " + key + " " + value)
}

func (g *GDB) FileExecAndSymbols(path string) error {
	return g.Send(fmt.Sprintf("-file-exec-and-symbols %q", path))
}

func (g *GDB) BreakInsert(location string) error {
	return g.Send("-break-insert " + location)
}

func (g *GDB) ExecContinueAll() error {
	return g.Send("-exec-continue --all")
}

// Close asks gdb to exit and stops it.
func (g *GDB) Close() error {
	g.Send("-gdb-exit")
	return g.p.Close()
}
