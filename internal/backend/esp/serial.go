// Package esp connects to Espressif chips over a serial port. It detects
// the chip behind a port with esptool, picks a free port when none is
// configured and flashes apps with esptool while the port is released.
package esp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/cache"
	"github.com/buckleypaul/dutkit/internal/proc"
	"github.com/buckleypaul/dutkit/internal/serial"
)

const (
	// DefaultFlashBaud is the first baud rate esptool flashes at.
	DefaultFlashBaud = 921600
	// DefaultAppOffset is where a bare app binary is written.
	DefaultAppOffset = 0x10000

	toolSource = "esptool"
)

// fallbackBaud is tried when flashing at the configured rate fails.
const fallbackBaud = 115200

// Backend builds ESP serial transports. Zero fields use the real esptool,
// serial ports and port enumeration.
type Backend struct {
	Tool      Tool
	Open      serial.Opener
	ListPorts func() ([]serial.PortInfo, error)
}

// Register declares the esp service and its serial backend.
func (be *Backend) Register(r *dut.Registry) {
	r.Service("esp", "serial")
	r.MustRegister(dut.Registration{
		Slot:     dut.SlotSerial,
		Name:     "esp",
		Services: []string{"serial", "esp"},
		New:      be.New,
	})
}

// New selects and opens the port of DUT b.Index.
func (be *Backend) New(ctx context.Context, b *dut.Build) (any, error) {
	cfg := b.Config
	baud, err := cfg.Int(dut.KeyBaud, serial.DefaultBaudRate)
	if err != nil {
		return nil, err
	}
	flashBaud, err := cfg.Int(dut.KeyFlashBaud, DefaultFlashBaud)
	if err != nil {
		return nil, err
	}
	eraseAll, err := cfg.Bool(dut.KeyEraseAll, false)
	if err != nil {
		return nil, err
	}
	eraseNVS, err := cfg.Bool(dut.KeyEraseNVS, false)
	if err != nil {
		return nil, err
	}

	want := cfg.String(dut.KeyTarget, "")
	if want == "auto" {
		want = ""
	}
	want = NormalizeTarget(want)
	if b.App != nil && b.App.Target != "" {
		if want != "" && want != b.App.Target {
			return nil, fmt.Errorf("%w: configured %s, app built for %s", dut.ErrTargetMismatch, want, b.App.Target)
		}
		want = b.App.Target
	}

	t := &Transport{
		tool:      be.tool(cfg, b.App),
		cache:     b.Cache,
		log:       dut.SinkWriter(b.Sink, toolSource),
		logger:    b.Logger,
		flashBaud: flashBaud,
		eraseAll:  eraseAll,
		eraseNVS:  eraseNVS,
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}

	port, target, err := be.selectPort(ctx, b, t, want, baud)
	if err != nil {
		return nil, err
	}
	b.Teardown.Push("release "+port, func() error {
		b.Claims.Release(port)
		return nil
	})
	t.target = target

	opts := []serial.Option{serial.WithLogger(t.logger)}
	if be.Open != nil {
		opts = append(opts, serial.WithOpener(be.Open))
	}
	if t.Transport, err = serial.NewTransport(port, baud, opts...); err != nil {
		return nil, err
	}
	t.logger.Info("esp device found", "target", target, "port", port)
	return t, nil
}

func (be *Backend) tool(cfg dut.DeviceConfig, app *dut.App) Tool {
	if be.Tool != nil {
		return be.Tool
	}
	root := ""
	if app != nil {
		root = app.AppPath
	}
	return Esptool{Env: proc.DetectVenv(root, cfg.String(dut.KeyVenv, ""))}
}

// selectPort claims the configured port, or the first free port holding
// a want chip. Ports the cache already maps to want are probed first.
func (be *Backend) selectPort(ctx context.Context, b *dut.Build, t *Transport, want string, baud int) (string, string, error) {
	detect := func(port string) (string, error) {
		return dut.Memo(b.Cache, dut.BucketPortTarget, port, func() (string, error) {
			return DetectChip(ctx, t.tool, port, baud, t.log)
		})
	}

	if port := b.Config.String(dut.KeyPort, ""); port != "" {
		if err := b.Claims.Claim(port, b.Index); err != nil {
			return "", "", err
		}
		target, err := detect(port)
		if err == nil && want != "" && target != want {
			err = fmt.Errorf("%w: %s holds %s, want %s", dut.ErrTargetMismatch, port, target, want)
		}
		if err != nil {
			b.Claims.Release(port)
			return "", "", err
		}
		return port, target, nil
	}

	list := be.ListPorts
	if list == nil {
		list = serial.ListPorts
	}
	ports, err := list()
	if err != nil {
		return "", "", fmt.Errorf("listing serial ports: %w", err)
	}
	f := serial.Filter{Exclude: b.Claims.Held(), SerialNumber: b.Config.String(dut.KeyPortSerial, "")}
	candidates := f.Candidates(ports)
	if want != "" && b.Cache != nil {
		var known, rest []serial.PortInfo
		for _, p := range candidates {
			if v, ok := b.Cache.Get(dut.BucketPortTarget, p.Name); ok && v == want {
				known = append(known, p)
			} else {
				rest = append(rest, p)
			}
		}
		candidates = append(known, rest...)
	}

	var errs []error
	for _, p := range candidates {
		if b.Claims.Claim(p.Name, b.Index) != nil {
			continue
		}
		target, err := detect(p.Name)
		if err == nil && (want == "" || target == want) {
			return p.Name, target, nil
		}
		b.Claims.Release(p.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.logger.Debug("skipping port", "port", p.Name, "target", target, "want", want)
	}
	desc := "an esp"
	if want != "" {
		desc = "a " + want
	}
	return "", "", fmt.Errorf("no port with %s device among %d candidates: %w", desc, len(candidates), errors.Join(errs...))
}

// Transport is a serial transport to an Espressif chip.
type Transport struct {
	*serial.Transport

	target    string
	tool      Tool
	cache     dut.Cache
	log       io.Writer
	logger    *slog.Logger
	flashBaud int
	eraseAll  bool
	eraseNVS  bool
}

// Target returns the detected chip, such as "esp32s3".
func (t *Transport) Target() string { return t.target }

// SkipFlash reports whether app is known to be on the device already.
// Erasing options always flash.
func (t *Transport) SkipFlash(app *dut.App) bool {
	if t.cache == nil || t.eraseAll || t.eraseNVS {
		return false
	}
	key, err := cache.AppKey(app)
	if err != nil || key == "" {
		return false
	}
	v, ok := t.cache.Get(dut.BucketPortApp, t.Name())
	return ok && v == key
}

// Flash writes app with esptool. The port is closed for the duration and
// output relaying resumes afterwards.
func (t *Transport) Flash(ctx context.Context, app *dut.App) error {
	if !app.Flashable() {
		return errors.New("app has nothing to flash")
	}
	args := WriteFlashArgs(app, t.eraseAll)
	err := t.Release(func(port string) error {
		if t.eraseNVS {
			if err := t.eraseNVSPartition(ctx, app, port); err != nil {
				return err
			}
		}
		var err error
		for _, baud := range t.bauds() {
			cmd := append(t.common(port, baud), "--after", "hard_reset", "write_flash")
			err = t.tool.Run(ctx, t.log, append(cmd, args...)...)
			if err == nil || ctx.Err() != nil {
				return err
			}
			t.logger.Warn("flashing failed", "port", port, "baud", baud, "err", err)
		}
		return err
	})
	if err != nil {
		if t.cache != nil {
			t.cache.Set(dut.BucketPortApp, t.Name(), "")
		}
		return fmt.Errorf("flashing %s: %w", t.Name(), err)
	}

	if key, err := cache.AppKey(app); err == nil && key != "" && t.cache != nil {
		t.cache.Set(dut.BucketPortApp, t.Name(), key)
	}
	t.logger.Info("app flashed", "port", t.Name(), "app", app.AppPath)
	return nil
}

func (t *Transport) eraseNVSPartition(ctx context.Context, app *dut.App, port string) error {
	p, ok := app.Partition("nvs")
	if !ok {
		t.logger.Warn("erase_nvs set but the app has no nvs partition")
		return nil
	}
	cmd := append(t.common(port, t.bauds()[0]), "erase_region", hex(p.Offset), hex(p.Size))
	if err := t.tool.Run(ctx, t.log, cmd...); err != nil {
		return fmt.Errorf("erasing nvs: %w", err)
	}
	return nil
}

func (t *Transport) common(port string, baud int) []string {
	args := []string{"--port", port, "--baud", strconv.Itoa(baud)}
	if t.target != "" {
		args = append([]string{"--chip", t.target}, args...)
	}
	return args
}

func (t *Transport) bauds() []int {
	if t.flashBaud <= 0 || t.flashBaud == fallbackBaud {
		return []int{fallbackBaud}
	}
	return []int{t.flashBaud, fallbackBaud}
}

// WriteFlashArgs returns the write_flash arguments for app: flash chip
// settings followed by offset and file pairs. Encrypted images are
// passed with --encrypt-files.
func WriteFlashArgs(app *dut.App, eraseAll bool) []string {
	var args []string
	fs := app.FlashSettings
	if fs.Mode != "" {
		args = append(args, "--flash_mode", fs.Mode)
	}
	if fs.Freq != "" {
		args = append(args, "--flash_freq", fs.Freq)
	}
	if fs.Size != "" {
		args = append(args, "--flash_size", fs.Size)
	}
	if eraseAll {
		args = append(args, "--erase-all")
	}

	files := app.SortedFlashFiles()
	if len(files) == 0 {
		files = []dut.FlashFile{{Offset: DefaultAppOffset, Path: app.BinFile}}
	}
	var encrypted []string
	for _, f := range files {
		if f.Encrypted || fs.Encrypt {
			encrypted = append(encrypted, hex(f.Offset), f.Path)
			continue
		}
		args = append(args, hex(f.Offset), f.Path)
	}
	if len(encrypted) > 0 {
		args = append(args, "--encrypt-files")
		args = append(args, encrypted...)
	}
	return args
}

func hex(v uint32) string {
	return fmt.Sprintf("%#x", v)
}
