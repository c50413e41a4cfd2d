package unity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/buckleypaul/dutkit/expect"
)

const (
	DefaultStartRetry  = 3
	DefaultCaseTimeout = 90 * time.Second

	defaultSignalPoll = 10 * time.Millisecond
	confirmTimeout    = time.Second
)

// ReadyPatterns are printed by the test app whenever it accepts a case
// selection.
var ReadyPatterns = []string{
	"Press ENTER to see the list of tests",
	"Enter test for running",
	"Enter next test, or 'enter' to see menu",
}

var menuRegex = expect.MustRegex(`(?s)Here's the test menu, pick your combo:(.+)Enter test for running.`)

// Device is what the case tester needs from a DUT.
type Device interface {
	WriteLine(s string) error
	Engine() *expect.Engine
	Suite() *TestSuite
}

// Resetter is implemented by devices that support a hardware reset. A
// device without one returns an error matching errors.ErrUnsupported.
type Resetter interface {
	HardReset(ctx context.Context) error
}

// RunOptions control how a case is run.
type RunOptions struct {
	Reset      bool
	Timeout    time.Duration
	StartRetry int
}

func (o RunOptions) withDefaults(timeout time.Duration) RunOptions {
	if o.Timeout <= 0 {
		o.Timeout = timeout
	}
	if o.StartRetry <= 0 {
		o.StartRetry = DefaultStartRetry
	}
	return o
}

// CaseTester drives the interactive Unity test menu on one or more
// devices. The first device provides the menu and records the results of
// single-board and multi-device cases.
type CaseTester struct {
	devs   []Device
	logger *slog.Logger

	// SignalPoll is how often a device waiting for a signal checks the
	// shared signal list.
	SignalPoll time.Duration

	menu        []MenuCase
	ignoreReady []bool
}

// NewCaseTester creates a tester over devs.
func NewCaseTester(logger *slog.Logger, devs ...Device) (*CaseTester, error) {
	if len(devs) == 0 {
		return nil, errors.New("case tester needs at least one device")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CaseTester{
		devs:        devs,
		logger:      logger,
		SignalPoll:  defaultSignalPoll,
		ignoreReady: make([]bool, len(devs)),
	}, nil
}

func (c *CaseTester) first() Device { return c.devs[0] }

// Menu returns the test menu, reading it from the first device on first
// use and resetting the device afterwards.
func (c *CaseTester) Menu(ctx context.Context) ([]MenuCase, error) {
	if c.menu != nil {
		return c.menu, nil
	}
	dev := c.first()
	if _, err := expectExact(ctx, dev, []string{ReadyPatterns[0]}, expect.DefaultTimeout); err != nil {
		return nil, err
	}
	m, err := confirmWrite(ctx, dev, "", []expect.Pattern{menuRegex}, confirmTimeout, DefaultStartRetry)
	if err != nil {
		return nil, fmt.Errorf("reading test menu: %w", err)
	}
	menu, err := ParseMenu(string(m.Group(1)))
	if err != nil {
		return nil, err
	}
	c.logger.Debug("parsed unity test menu", "cases", len(menu))
	c.menu = menu

	if err := c.hardReset(ctx, 0); err != nil {
		return nil, err
	}
	return c.menu, nil
}

func (c *CaseTester) hardReset(ctx context.Context, i int) error {
	dev := c.devs[i]
	r, ok := dev.(Resetter)
	var err error
	if ok {
		err = r.HardReset(ctx)
	}
	if ok && err == nil {
		return nil
	}
	if err != nil && !errors.Is(err, errors.ErrUnsupported) {
		return fmt.Errorf("hard reset: %w", err)
	}
	// The menu was consumed already; ask for the prompt again and skip
	// the next wait for it.
	if _, err := confirmWrite(ctx, dev, "", exactPatterns(ReadyPatterns), confirmTimeout, DefaultStartRetry); err != nil {
		return err
	}
	c.ignoreReady[i] = true
	return nil
}

func (c *CaseTester) getReady(ctx context.Context, i int, timeout time.Duration) error {
	if c.ignoreReady[i] {
		c.ignoreReady[i] = false
		return nil
	}
	_, err := expectExact(ctx, c.devs[i], ReadyPatterns, timeout)
	return err
}

// RunNormalCase runs a normal case on the first device and records its
// result, also when the case never reports one.
func (c *CaseTester) RunNormalCase(ctx context.Context, mc MenuCase, opts RunOptions) error {
	if mc.Type != CaseNormal {
		c.logger.Warn("not a normal case", "case", mc.Name, "type", mc.Type)
		return nil
	}
	return c.recordSingle(ctx, mc, opts.withDefaults(DefaultCaseTimeout), func(o RunOptions) error {
		if err := c.getReady(ctx, 0, o.Timeout); err != nil {
			return err
		}
		_, err := confirmWriteExact(ctx, c.first(), strconv.Itoa(mc.Index), "Running "+mc.Name+"...", o.StartRetry)
		return err
	})
}

// RunMultiStageCase runs every stage of a multi-stage case on the first
// device. The firmware reboots between stages, so the case is selected
// again before each one.
func (c *CaseTester) RunMultiStageCase(ctx context.Context, mc MenuCase, opts RunOptions) error {
	if mc.Type != CaseMultiStage {
		c.logger.Warn("not a multi stage case", "case", mc.Name, "type", mc.Type)
		return nil
	}
	return c.recordSingle(ctx, mc, opts.withDefaults(DefaultCaseTimeout), func(o RunOptions) error {
		dev := c.first()
		for _, sub := range mc.Subcases {
			if err := c.getReady(ctx, 0, o.Timeout); err != nil {
				return err
			}
			if _, err := confirmWriteExact(ctx, dev, strconv.Itoa(mc.Index), "Running "+mc.Name+"...", o.StartRetry); err != nil {
				return err
			}
			stage := strconv.Itoa(sub.Index)
			if _, err := confirmWriteExact(ctx, dev, stage, "Running stage "+stage+"...", o.StartRetry); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *CaseTester) recordSingle(ctx context.Context, mc MenuCase, o RunOptions, run func(RunOptions) error) error {
	dev := c.first()
	start := time.Now()
	if o.Reset {
		if err := c.hardReset(ctx, 0); err != nil {
			return err
		}
		start = time.Now()
	}

	runErr := run(o)

	remaining := o.Timeout - time.Since(start)
	if remaining < 0 {
		remaining = 0
	}
	var log string
	if _, err := dev.Engine().Expect(ctx, []expect.Pattern{expect.Re(SummaryRegex)}, expect.WithTimeout(remaining)); err == nil {
		log = stripansi.Strip(string(dev.Engine().Before()))
	}

	tc := singleCase(mc.Name, log, dev.Engine().BufferString(), c.logger)
	tc.Time = time.Since(start)
	dev.Suite().Add(tc)
	return runErr
}

// singleCase turns the output of one case into its record. Output with no
// result is recorded as a failure carrying the unconsumed buffer.
func singleCase(name, log, buffer string, logger *slog.Logger) *TestCase {
	var tc *TestCase
	if log != "" {
		if cases, err := Parse(log, FormatAuto); err == nil {
			if len(cases) > 1 {
				logger.Warn("several results for a single case, using the last one", "case", name)
			}
			tc = cases[len(cases)-1]
		}
	}
	if tc == nil {
		logger.Warn("unity test case not found, probably due to a timeout", "case", name)
		msg := buffer
		if msg == "" {
			msg = "timeout"
		}
		tc = &TestCase{Name: name, Result: ResultFail, Message: msg}
	}
	if log != "" {
		tc.Stdout = log
	}
	return tc
}

// RunSingleBoardCase runs the normal or multi-stage case called name.
func (c *CaseTester) RunSingleBoardCase(ctx context.Context, name string, opts RunOptions) error {
	menu, err := c.Menu(ctx)
	if err != nil {
		return err
	}
	for _, mc := range menu {
		if mc.Name != name {
			continue
		}
		switch mc.Type {
		case CaseNormal:
			return c.RunNormalCase(ctx, mc, opts)
		case CaseMultiStage:
			return c.RunMultiStageCase(ctx, mc, opts)
		}
	}
	return fmt.Errorf("single-board test case %q not found", name)
}

// RunAllSingleBoardCases runs every normal and multi-stage case selected
// by f. Ignored cases run only with runIgnored. With dryRun the selected
// cases are only logged.
func (c *CaseTester) RunAllSingleBoardCases(ctx context.Context, f Filter, runIgnored, dryRun bool, opts RunOptions) error {
	menu, err := c.Menu(ctx)
	if err != nil {
		return err
	}
	for _, mc := range menu {
		if !f.Match(mc) || (mc.IsIgnored() && !runIgnored) {
			continue
		}
		if dryRun {
			c.logger.Info("dry run", "index", mc.Index, "case", mc.Name)
			continue
		}
		switch mc.Type {
		case CaseNormal:
			err = c.RunNormalCase(ctx, mc, opts)
		case CaseMultiStage:
			err = c.RunMultiStageCase(ctx, mc, opts)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// RunAllMultiDevCases runs every multi-device case in the menu.
func (c *CaseTester) RunAllMultiDevCases(ctx context.Context, opts RunOptions) error {
	menu, err := c.Menu(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, mc := range menu {
		if mc.Type == CaseMultiDevice {
			errs = append(errs, c.RunMultiDevCase(ctx, mc, opts))
		}
	}
	return errors.Join(errs...)
}

// RunAllCases runs every case in the menu with the matching runner.
func (c *CaseTester) RunAllCases(ctx context.Context, opts RunOptions) error {
	menu, err := c.Menu(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, mc := range menu {
		switch mc.Type {
		case CaseNormal:
			errs = append(errs, c.RunNormalCase(ctx, mc, opts))
		case CaseMultiStage:
			errs = append(errs, c.RunMultiStageCase(ctx, mc, opts))
		case CaseMultiDevice:
			errs = append(errs, c.RunMultiDevCase(ctx, mc, opts))
		}
	}
	return errors.Join(errs...)
}

func exactPatterns(ss []string) []expect.Pattern {
	pats := make([]expect.Pattern, len(ss))
	for i, s := range ss {
		pats[i] = expect.Exact(s)
	}
	return pats
}

func expectExact(ctx context.Context, dev Device, ss []string, timeout time.Duration) (*expect.Match, error) {
	res, err := dev.Engine().Expect(ctx, exactPatterns(ss), expect.WithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// confirmWrite writes s and waits briefly for the device to acknowledge
// it, retrying the write when it does not.
func confirmWrite(ctx context.Context, dev Device, s string, pats []expect.Pattern, timeout time.Duration, retries int) (*expect.Match, error) {
	var lastErr error
	for i := 0; i < retries; i++ {
		if err := dev.WriteLine(s); err != nil {
			return nil, err
		}
		res, err := dev.Engine().Expect(ctx, pats, expect.WithTimeout(timeout))
		if err == nil {
			return res[0], nil
		}
		if !errors.Is(err, expect.ErrTimeout) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func confirmWriteExact(ctx context.Context, dev Device, s, want string, retries int) (*expect.Match, error) {
	return confirmWrite(ctx, dev, s, []expect.Pattern{expect.Exact(want)}, confirmTimeout, retries)
}
