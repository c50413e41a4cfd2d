// Package dut assembles a Device Under Test from independently registered
// backends and exposes it to tests through a single façade.
//
// Every DUT owns a replay log. Backends push device output into the DUT's
// queue, a single writer appends it to the log, and expectations read the
// log back through their own cursor.
package dut

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/buckleypaul/dutkit/expect"
	"github.com/buckleypaul/dutkit/internal/relay"
	"github.com/buckleypaul/dutkit/unity"
)

// DefaultUnityTimeout bounds ExpectUnityTestOutput unless overridden.
const DefaultUnityTimeout = 60 * time.Second

// SourceDUT labels bytes written into the log by the DUT itself.
const SourceDUT = "dut"

// DUT is the test-facing device.
type DUT struct {
	index  int
	logger *slog.Logger

	app        *App
	transport  Transport
	flasher    Flasher
	resetter   Resetter
	debuggers  []Debugger
	emulator   Emulator
	extensions []Extension

	queue  *relay.Queue
	writer *relay.LogWriter
	engine *expect.Engine
	suite  *unity.TestSuite

	teardown  *Teardown
	closed    chan struct{}
	closeOnce sync.Once
}

// Index returns the session-wide device index.
func (d *DUT) Index() int { return d.index }

// App returns the firmware description.
func (d *DUT) App() *App { return d.app }

// Transport returns the link to the device, or nil.
func (d *DUT) Transport() Transport { return d.transport }

// Emulator returns the emulator, or nil.
func (d *DUT) Emulator() Emulator { return d.emulator }

// Debuggers returns the debug connections in assembly order.
func (d *DUT) Debuggers() []Debugger { return d.debuggers }

// Debugger returns the debug connection called name.
func (d *DUT) Debugger(name string) (Debugger, bool) {
	for _, dbg := range d.debuggers {
		if dbg.Name() == name {
			return dbg, true
		}
	}
	return nil, false
}

// Logfile returns the path of the replay log.
func (d *DUT) Logfile() string { return d.writer.Path() }

// Engine returns the expectation engine reading the replay log.
func (d *DUT) Engine() *expect.Engine { return d.engine }

// Suite returns the Unity results collected on this device.
func (d *DUT) Suite() *unity.TestSuite { return d.suite }

// Sink returns the DUT's output queue. Extensions use it to add notes to
// the replay log.
func (d *DUT) Sink() Sink { return d.queue }

// Write sends p to the device. Without a transport the bytes are
// appended to the replay log instead.
func (d *DUT) Write(p []byte) error {
	if d.transport == nil {
		d.queue.Put(SourceDUT, p)
		return nil
	}
	return d.transport.Write(p)
}

// WriteLine sends s followed by a newline.
func (d *DUT) WriteLine(s string) error {
	return d.Write([]byte(s + "\n"))
}

func (d *DUT) expect(ctx context.Context, pattern any, exact bool, opts []expect.Option) ([]*expect.Match, error) {
	pats, err := expect.Compile(pattern, exact)
	if err != nil {
		return nil, err
	}
	return d.engine.Expect(ctx, pats, opts...)
}

// Expect waits for the first of pattern to match the device output.
// pattern may be a string regex, a *regexp.Regexp, an expect.Pattern, or
// a slice of those.
func (d *DUT) Expect(ctx context.Context, pattern any, opts ...expect.Option) (*expect.Match, error) {
	res, err := d.expect(ctx, pattern, false, opts)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// ExpectExact is Expect with strings matched literally.
func (d *DUT) ExpectExact(ctx context.Context, pattern any, opts ...expect.Option) (*expect.Match, error) {
	res, err := d.expect(ctx, pattern, true, opts)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// ExpectAll waits until every pattern has matched, in any order. The
// matches are returned in the order the patterns were given.
func (d *DUT) ExpectAll(ctx context.Context, patterns any, opts ...expect.Option) ([]*expect.Match, error) {
	return d.expect(ctx, patterns, false, append(opts, expect.All()))
}

// ExpectBefore is Expect that also returns the output preceding the
// match.
func (d *DUT) ExpectBefore(ctx context.Context, pattern any, opts ...expect.Option) ([]byte, *expect.Match, error) {
	m, err := d.Expect(ctx, pattern, opts...)
	if err != nil {
		return nil, nil, err
	}
	return d.engine.Before(), m, nil
}

// ExpectUnityTestOutput waits for a Unity summary block and adds the cases
// reported before it to the suite. It returns an error wrapping
// unity.ErrCasesFailed when any of them failed.
func (d *DUT) ExpectUnityTestOutput(ctx context.Context, opts ...expect.Option) error {
	opts = append([]expect.Option{expect.WithTimeout(DefaultUnityTimeout)}, opts...)
	before, _, err := d.ExpectBefore(ctx, unity.SummaryRegex, opts...)
	if err != nil {
		return fmt.Errorf("waiting for unity summary: %w", err)
	}
	failed := d.suite.Counts().Failures
	extra := map[string]string{"dut": strconv.Itoa(d.index)}
	if d.app != nil {
		extra["app_path"] = d.app.AppPath
	}
	if err := d.suite.AddOutput(string(before), extra); err != nil {
		return err
	}
	if n := d.suite.Counts().Failures - failed; n > 0 {
		return fmt.Errorf("%w: %d new failures on dut-%d", unity.ErrCasesFailed, n, d.index)
	}
	return nil
}

// RunAllSingleBoardCases drives the Unity test menu and runs every normal
// and multi-stage case selected by f.
func (d *DUT) RunAllSingleBoardCases(ctx context.Context, f unity.Filter, runIgnored bool, opts unity.RunOptions) error {
	ct, err := unity.NewCaseTester(d.logger, d)
	if err != nil {
		return err
	}
	return ct.RunAllSingleBoardCases(ctx, f, runIgnored, false, opts)
}

// CanFlash reports whether the assembled transport can flash the app.
func (d *DUT) CanFlash() bool { return d.flasher != nil }

// CanReset reports whether the assembled transport can hard reset.
func (d *DUT) CanReset() bool { return d.resetter != nil }

// Flash writes the app to the device. It fails with ErrUnsupported when
// the DUT was assembled without a flashing transport.
func (d *DUT) Flash(ctx context.Context) error {
	if d.flasher == nil {
		return fmt.Errorf("flash: %w", ErrUnsupported)
	}
	return d.flasher.Flash(ctx, d.app)
}

// HardReset resets the device through its transport.
func (d *DUT) HardReset(ctx context.Context) error {
	if d.resetter == nil {
		return fmt.Errorf("hard reset: %w", ErrUnsupported)
	}
	return d.resetter.HardReset(ctx)
}

// Ended reports whether the transport has terminated and all of its
// output has been written to the replay log.
func (d *DUT) Ended() bool {
	select {
	case <-d.writer.Drained():
		return true
	default:
		return false
	}
}

// Close releases every resource of the DUT, most recently acquired
// first. Failures are logged. Close is idempotent.
func (d *DUT) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.teardown.Run()
		d.logger.Debug("dut closed", "dut", d.index, "log", d.Logfile())
	})
}

func (d *DUT) watch(t Terminator) {
	select {
	case <-t.Done():
		d.logger.Debug("transport terminated", "dut", d.index)
		d.queue.Close()
	case <-d.closed:
	}
}
