package dut

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/buckleypaul/dutkit/expect"
	"github.com/buckleypaul/dutkit/internal/relay"
	"github.com/buckleypaul/dutkit/unity"
)

// Build is handed to every factory while a DUT is being assembled. Fields
// are filled in assembly order: App is set before the serial factory
// runs, Transport before debuggers and the emulator, DUT before
// extensions.
type Build struct {
	Index    int
	Total    int
	Services []string
	Config   DeviceConfig

	App       *App
	Transport Transport
	DUT       *DUT

	Sink     Sink
	Cache    Cache
	Claims   *Claims
	Logger   *slog.Logger
	LogDir   string
	Teardown *Teardown
}

// Has reports whether service was selected, directly or implied.
func (b *Build) Has(service string) bool {
	for _, s := range b.Services {
		if s == service {
			return true
		}
	}
	return false
}

// Request describes one device to assemble.
type Request struct {
	Index    int
	Total    int
	Services []string
	Config   DeviceConfig
	LogDir   string

	// Console receives a prefixed copy of the device output. Nil
	// disables the echo.
	Console   io.Writer
	Timestamp bool
	Style     func(string) string
}

// Assembler builds DUTs from a Registry.
type Assembler struct {
	Registry     *Registry
	Cache        Cache
	Claims       *Claims
	Logger       *slog.Logger
	Observer     expect.Observer
	PollInterval time.Duration
}

// Assemble constructs the app, transport, debuggers, emulator and
// extensions selected by req.Services, starts the transport and flashes
// the app unless autoflash is disabled. Every acquired resource is
// registered for teardown; on failure the resources acquired so far are
// released before the error is returned.
func (a *Assembler) Assemble(ctx context.Context, req Request) (_ *DUT, err error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("dut", req.Index)
	if req.Total < 1 {
		req.Total = 1
	}

	plan, err := a.Registry.Resolve(req.Services)
	if err != nil {
		return nil, err
	}

	td := NewTeardown(logger)
	defer func() {
		if err != nil {
			td.Run()
			err = fmt.Errorf("assembling dut-%d: %w", req.Index, err)
		}
	}()

	q := relay.NewQueue()
	logfile := filepath.Join(req.LogDir, fmt.Sprintf("dut-%d.log", req.Index))
	prefix := &relay.Prefixer{Index: req.Index, Total: req.Total, Timestamp: req.Timestamp, Style: req.Style}
	writer, err := relay.NewLogWriter(logfile, q, req.Console, prefix, logger)
	if err != nil {
		return nil, err
	}
	td.Push("log writer", writer.Close)

	b := &Build{
		Index:    req.Index,
		Total:    req.Total,
		Services: plan.Services,
		Config:   req.Config,
		Sink:     q,
		Cache:    a.Cache,
		Claims:   a.Claims,
		Logger:   logger,
		LogDir:   req.LogDir,
		Teardown: td,
	}
	if b.Config == nil {
		b.Config = DeviceConfig{}
	}
	if b.Claims == nil {
		b.Claims = NewClaims()
	}

	if b.App, err = a.buildApp(ctx, plan, b); err != nil {
		return nil, err
	}

	if plan.Serial != nil {
		tr, err := construct[Transport](ctx, *plan.Serial, b)
		if err != nil {
			return nil, err
		}
		td.Push(plan.Serial.Name, tr.Close)
		b.Transport = tr
	}

	var debuggers []Debugger
	for _, reg := range plan.Debuggers {
		dbg, err := construct[Debugger](ctx, reg, b)
		if err != nil {
			return nil, err
		}
		td.Push(reg.Name, dbg.Close)
		debuggers = append(debuggers, dbg)
	}

	var emu Emulator
	if plan.Emulator != nil {
		if emu, err = construct[Emulator](ctx, *plan.Emulator, b); err != nil {
			return nil, err
		}
		td.Push(plan.Emulator.Name, emu.Close)
		if tr, ok := emu.(Transport); ok && b.Transport == nil {
			b.Transport = tr
		}
	}

	eng, err := expect.Open(logfile, a.engineOptions(writer)...)
	if err != nil {
		return nil, err
	}
	td.Push("expect engine", eng.Close)

	d := &DUT{
		index:     req.Index,
		logger:    logger,
		app:       b.App,
		transport: b.Transport,
		debuggers: debuggers,
		emulator:  emu,
		queue:     q,
		writer:    writer,
		engine:    eng,
		suite:     unity.NewTestSuite(fmt.Sprintf("dut-%d", req.Index)),
		teardown:  td,
		closed:    make(chan struct{}),
	}
	d.flasher, _ = b.Transport.(Flasher)
	d.resetter, _ = b.Transport.(Resetter)
	d.suite.SetAttr("app_path", b.App.AppPath)
	b.DUT = d

	for _, reg := range plan.Extensions {
		ext, err := construct[Extension](ctx, reg, b)
		if err != nil {
			return nil, err
		}
		td.Push(reg.Name, ext.Close)
		d.extensions = append(d.extensions, ext)
	}

	if err := a.start(ctx, d, b); err != nil {
		return nil, err
	}
	logger.Info("dut ready", "services", plan.Services, "log", logfile, "app", b.App.AppPath)
	return d, nil
}

func (a *Assembler) buildApp(ctx context.Context, plan *Plan, b *Build) (*App, error) {
	if plan.App == nil {
		return NewApp(b.Config.String(KeyAppPath, ""), b.Config.String(KeyBuildDir, ""))
	}
	app, err := construct[*App](ctx, *plan.App, b)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, fmt.Errorf("%s: factory returned no app", plan.App.Name)
	}
	return app, nil
}

func (a *Assembler) engineOptions(w *relay.LogWriter) []expect.EngineOption {
	opts := []expect.EngineOption{
		expect.WithEnded(func() bool {
			select {
			case <-w.Drained():
				return true
			default:
				return false
			}
		}),
	}
	if a.PollInterval > 0 {
		opts = append(opts, expect.WithPollInterval(a.PollInterval))
	}
	if a.Observer != nil {
		opts = append(opts, expect.WithObserver(a.Observer))
	}
	return opts
}

func (a *Assembler) start(ctx context.Context, d *DUT, b *Build) error {
	if d.transport == nil {
		return nil
	}
	skip, err := b.Config.Bool(KeySkipAutoflash, false)
	if err != nil {
		return err
	}
	if d.flasher != nil && !skip && d.app.Flashable() {
		if fs, ok := d.flasher.(FlashSkipper); ok && fs.SkipFlash(d.app) {
			b.Logger.Info("app already flashed, skipping autoflash", "app", d.app.AppPath)
		} else if err := d.flasher.Flash(ctx, d.app); err != nil {
			return fmt.Errorf("autoflash: %w", err)
		}
	}
	if err := d.transport.Start(ctx, d.queue); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	if t, ok := d.transport.(Terminator); ok {
		go d.watch(t)
	}
	return nil
}

func construct[T any](ctx context.Context, reg Registration, b *Build) (T, error) {
	var zero T
	v, err := reg.New(ctx, b)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", reg.Slot, reg.Name, err)
	}
	t, ok := v.(T)
	if !ok {
		if c, ok := v.(io.Closer); ok {
			c.Close()
		}
		return zero, fmt.Errorf("%s %s: factory returned %T", reg.Slot, reg.Name, v)
	}
	return t, nil
}
