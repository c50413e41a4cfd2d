// Package qemu runs the firmware in Espressif's QEMU fork instead of on
// hardware. The emulator console is the DUT transport and QMP provides
// resets.
package qemu

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/proc"
)

const (
	DefaultImage = "flash_image.bin"
	source       = "qemu"
)

// Register declares the qemu service and its emulator.
func Register(r *dut.Registry) {
	r.Service("qemu")
	r.MustRegister(dut.Registration{Slot: dut.SlotEmulator, Name: "qemu", Services: []string{"qemu"}, New: New})
}

// Prog returns the QEMU system emulator for target.
func Prog(target string) string {
	switch target {
	case "esp32c3", "esp32c6", "esp32h2", "esp32c2", "esp32c5", "esp32c61", "esp32p4":
		return "qemu-system-riscv32"
	}
	return "qemu-system-xtensa"
}

// Emulator is a QEMU process. It implements dut.Transport,
// dut.Resetter and dut.Terminator.
type Emulator struct {
	*proc.Console
	qmp QMP
}

// New builds the emulator command line for b. The flash image is
// regenerated from the app unless an image path is configured.
func New(_ context.Context, b *dut.Build) (any, error) {
	cfg := b.Config
	target := cfg.String(dut.KeyTarget, "")
	if target == "" || target == "auto" {
		target = b.App.Target
	}
	if target == "" {
		target = "esp32"
	}

	image, err := prepareImage(b.App, cfg.String(dut.KeyQemuImage, ""))
	if err != nil {
		return nil, err
	}
	args, qmpAddr, err := Args(cfg.String(dut.KeyQemuCLIArgs, ""), cfg.String(dut.KeyQemuArgs, ""), target, image, b.Index)
	if err != nil {
		return nil, err
	}

	prog := cfg.String(dut.KeyQemuProg, Prog(target))
	return &Emulator{
		Console: proc.NewConsole(source, prog, args, proc.Env{}, b.Logger),
		qmp:     QMP{Addr: qmpAddr},
	}, nil
}

func prepareImage(app *dut.App, configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("qemu image: %w", err)
		}
		return configured, nil
	}
	if app.BinaryPath == "" {
		return "", errors.New("qemu image: app has no build directory")
	}
	image := filepath.Join(app.BinaryPath, DefaultImage)
	if app.Flashable() {
		if err := MakeImage(app, image); err != nil {
			return "", fmt.Errorf("qemu image: %w", err)
		}
		return image, nil
	}
	if _, err := os.Stat(image); err != nil {
		return "", fmt.Errorf("qemu image: %w", err)
	}
	return image, nil
}

// Args returns the QEMU arguments and QMP address. A -qmp option in
// cliArgs must use TCP; its port is offset by the DUT index. Without one
// a free local port is used.
func Args(cliArgs, extraArgs, target, image string, index int) ([]string, string, error) {
	args, err := shlex.Split(strings.Trim(cliArgs, `"'`))
	if err != nil {
		return nil, "", fmt.Errorf("qemu_cli_args: %w", err)
	}
	if len(args) == 0 {
		args = []string{"-nographic", "-machine", target}
	}
	extra, err := shlex.Split(extraArgs)
	if err != nil {
		return nil, "", fmt.Errorf("qemu_extra_args: %w", err)
	}

	addr := ""
	for i, a := range args {
		if a != "-qmp" || i+1 >= len(args) {
			continue
		}
		opts := strings.Split(args[i+1], ",")
		parts := strings.Split(opts[0], ":")
		if len(parts) != 3 || parts[0] != "tcp" {
			return nil, "", fmt.Errorf("qmp must use tcp, for example -qmp tcp:localhost:4488,server,wait=off: got %q", args[i+1])
		}
		port, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, "", fmt.Errorf("qmp port: %w", err)
		}
		addr = net.JoinHostPort(parts[1], strconv.Itoa(port+index))
		opts[0] = "tcp:" + addr
		args[i+1] = strings.Join(opts, ",")
		break
	}
	if addr == "" {
		port, err := freePort()
		if err != nil {
			return nil, "", err
		}
		addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
		args = append(args, "-qmp", "tcp:"+addr+",server,wait=off")
	}

	args = append(args, extra...)
	args = append(args, "-drive", "file="+image+",if=mtd,format=raw")
	return args, addr, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Name implements dut.Emulator.
func (e *Emulator) Name() string { return source }

// QMPAddr returns the QMP address.
func (e *Emulator) QMPAddr() string { return e.qmp.Addr }

// HardReset resets the emulated machine.
func (e *Emulator) HardReset(ctx context.Context) error {
	_, err := e.qmp.Execute(ctx, "system_reset", nil)
	return err
}

// Screenshot saves the emulated display to path.
func (e *Emulator) Screenshot(ctx context.Context, path string) error {
	_, err := e.qmp.Execute(ctx, "screendump", map[string]string{"filename": path})
	return err
}
