package unity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"golang.org/x/sync/errgroup"

	"github.com/buckleypaul/dutkit/expect"
)

// ErrSignalTimeout is returned when a multi-device case does not finish
// in time, typically because a device waits for a signal no peer sends.
var ErrSignalTimeout = errors.New("multi-device case timed out")

const interruptedMessage = "Some of the dut failed, so this dut was interrupted."

var (
	sendSignalRegex = regexp.MustCompile(`Send signal: \[(.*?)\]!`)
	waitSignalRegex = regexp.MustCompile(`Waiting for signal: \[(.*?)\]!`)
	signalDataRegex = regexp.MustCompile(`(.*)\]\[(.*)`)
)

type caseState int

const (
	stateAwaitingMenu caseState = iota
	stateCaseSelected
	stateWaitingForSignal
	stateSendingSignal
	stateCaseFinished
)

func (s caseState) String() string {
	return [...]string{"awaiting_menu", "case_selected", "waiting_for_signal", "sending_signal", "case_finished"}[s]
}

type signal struct {
	name string
	data string
}

// SignalBoard is the shared signal list of one multi-device case. Each
// device has its own inbox; a sent signal is delivered to every other
// device.
type SignalBoard struct {
	mu    sync.Mutex
	inbox [][]signal
	poll  time.Duration
}

// NewSignalBoard creates a board for n devices.
func NewSignalBoard(n int, poll time.Duration) *SignalBoard {
	if poll <= 0 {
		poll = defaultSignalPoll
	}
	return &SignalBoard{inbox: make([][]signal, n), poll: poll}
}

// Send delivers a signal from device from to all other devices.
func (b *SignalBoard) Send(from int, name, data string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.inbox {
		if i != from {
			b.inbox[i] = append(b.inbox[i], signal{name: name, data: data})
		}
	}
}

// Wait polls device idx's inbox until a signal called name arrives and
// returns its data. It gives up at deadline with ErrSignalTimeout.
func (b *SignalBoard) Wait(ctx context.Context, idx int, name string, deadline time.Time) (string, error) {
	for {
		if data, ok := b.take(idx, name); ok {
			return data, nil
		}
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w: did not receive signal %q", ErrSignalTimeout, name)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.poll):
		}
	}
}

func (b *SignalBoard) take(idx int, name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.inbox[idx] {
		if s.name == name {
			b.inbox[idx] = append(b.inbox[idx][:i], b.inbox[idx][i+1:]...)
			return s.data, true
		}
	}
	return "", false
}

type multiDevWorker struct {
	dev        Device
	mc         MenuCase
	subIndex   int
	board      *SignalBoard
	startRetry int
	menuWait   time.Duration
	timeout    time.Duration
	logger     *slog.Logger

	state caseState
	start time.Time
}

func (w *multiDevWorker) setState(s caseState) {
	w.state = s
	w.logger.Debug("multi-device case state", "case", w.mc.Name, "device", w.subIndex, "state", s)
}

// run drives one device through its part of the case and returns the
// output preceding the summary block.
func (w *multiDevWorker) run(ctx context.Context) (string, error) {
	eng := w.dev.Engine()
	w.setState(stateAwaitingMenu)
	if _, err := eng.Expect(ctx, exactPatterns(ReadyPatterns), expect.WithTimeout(w.menuWait)); err != nil {
		return "", err
	}

	var err error
	for retry := 0; retry < w.startRetry; retry++ {
		if err = w.dev.WriteLine(strconv.Itoa(w.mc.Index)); err != nil {
			return "", err
		}
		if _, err = eng.Expect(ctx, []expect.Pattern{expect.Exact(w.mc.Name)}, expect.WithTimeout(confirmTimeout)); err == nil {
			break
		}
		if !errors.Is(err, expect.ErrTimeout) {
			return "", err
		}
	}
	if err != nil {
		return "", err
	}
	w.setState(stateCaseSelected)
	if err := w.dev.WriteLine(strconv.Itoa(w.subIndex)); err != nil {
		return "", err
	}

	w.start = time.Now()
	deadline := w.start.Add(w.timeout)
	pats := []expect.Pattern{expect.Re(sendSignalRegex), expect.Re(waitSignalRegex), expect.Re(SummaryRegex)}
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			return "", fmt.Errorf("%w: without other exception", ErrSignalTimeout)
		}
		res, err := eng.Expect(ctx, pats, expect.WithTimeout(remaining))
		if err != nil {
			if errors.Is(err, expect.ErrTimeout) {
				return "", fmt.Errorf("%w: %v", ErrSignalTimeout, err)
			}
			return "", err
		}
		m := res[0]
		switch m.Index {
		case 0:
			w.setState(stateSendingSignal)
			name, data := string(m.Group(1)), ""
			if sd := signalDataRegex.FindStringSubmatch(name); sd != nil {
				name, data = sd[1], sd[2]
			}
			w.board.Send(w.subIndex-1, name, data)
		case 1:
			w.setState(stateWaitingForSignal)
			data, err := w.board.Wait(ctx, w.subIndex-1, string(m.Group(1)), deadline)
			if err != nil {
				return "", err
			}
			if err := w.dev.WriteLine(data); err != nil {
				return "", err
			}
		case 2:
			w.setState(stateCaseFinished)
			return stripansi.Strip(string(eng.Before())), nil
		}
	}
}

// RunMultiDevCase runs a multi-device case with one goroutine per
// device. Subcase i runs on device i-1. When one device fails the others
// are interrupted. The merged result is recorded on the first device.
func (c *CaseTester) RunMultiDevCase(ctx context.Context, mc MenuCase, opts RunOptions) error {
	if mc.Type != CaseMultiDevice {
		c.logger.Warn("not a multi device case", "case", mc.Name, "type", mc.Type)
		return nil
	}
	if len(c.devs) < 2 {
		c.logger.Warn("multi-device mode is not activated", "case", mc.Name)
		return nil
	}
	for _, sub := range mc.Subcases {
		if sub.Index < 1 || sub.Index > len(c.devs) {
			return fmt.Errorf("case %q needs device %d, only %d available", mc.Name, sub.Index, len(c.devs))
		}
	}
	o := opts.withDefaults(DefaultCaseTimeout)
	if o.Reset {
		for i := range c.devs {
			if r, ok := c.devs[i].(Resetter); ok {
				if err := r.HardReset(ctx); err != nil && !errors.Is(err, errors.ErrUnsupported) {
					return fmt.Errorf("hard reset: %w", err)
				}
			}
		}
	}

	board := NewSignalBoard(len(c.devs), c.SignalPoll)
	caseCtx, interrupt := context.WithCancel(ctx)
	defer interrupt()

	results := make([]*TestCase, len(mc.Subcases))
	runErrs := make([]error, len(mc.Subcases))
	var g errgroup.Group
	for i, sub := range mc.Subcases {
		w := &multiDevWorker{
			dev:        c.devs[sub.Index-1],
			mc:         mc,
			subIndex:   sub.Index,
			board:      board,
			startRetry: o.StartRetry,
			menuWait:   o.Timeout,
			timeout:    o.Timeout,
			logger:     c.logger,
		}
		began := time.Now()
		g.Go(func() error {
			log, err := w.run(caseCtx)
			var tc *TestCase
			switch {
			case err == nil:
				tc = singleCase(mc.Name, log, "", c.logger)
				tc.Time = time.Since(w.start)
			case caseCtx.Err() != nil && ctx.Err() == nil:
				tc = &TestCase{Name: mc.Name, Result: ResultFail, Message: interruptedMessage}
			case errors.Is(err, ErrSignalTimeout) || errors.Is(err, expect.ErrTimeout):
				tc = singleCase(mc.Name, "", w.dev.Engine().BufferString(), c.logger)
				tc.Time = time.Since(began)
				runErrs[i] = err
			default:
				return err
			}
			results[i] = tc
			if tc.Result == ResultFail {
				interrupt()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.first().Suite().Add(MergeCases(results))
	return errors.Join(runErrs...)
}

// MergeCases combines the per-device records of one multi-device case.
// The result is FAIL if any device failed, IGNORE if any ignored, PASS
// otherwise. Time is the longest; names are joined; the remaining fields
// are tagged with the device index.
func MergeCases(cases []*TestCase) *TestCase {
	out := &TestCase{Result: ResultPass}
	var names []string
	seen := map[string]bool{}
	results := map[Result]bool{}
	tagged := map[string][]string{}
	var attrKeys []string
	knownAttr := map[string]bool{}

	tag := func(field string, i int, v string) {
		if v == "" {
			return
		}
		tagged[field] = append(tagged[field], fmt.Sprintf("[dut-%d]: %s", i, v))
	}

	for i, c := range cases {
		if c == nil {
			continue
		}
		results[c.Result] = true
		if !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
		if c.Time > out.Time {
			out.Time = c.Time
		}
		if out.File == "" {
			out.File = c.File
		}
		if out.Line == "" {
			out.Line = c.Line
		}
		tag("message", i, c.Message)
		tag("stdout", i, c.Stdout)
		tag("group", i, c.Group)
		for k, v := range c.Attrs {
			if !knownAttr[k] {
				knownAttr[k] = true
				attrKeys = append(attrKeys, k)
			}
			tag(k, i, v)
		}
	}

	join := func(field string) string {
		return strings.Join(tagged[field], "<------------------->\n")
	}
	out.Name = strings.Join(names, " <---> ")
	out.Message = join("message")
	out.Stdout = join("stdout")
	out.Group = join("group")
	for _, k := range attrKeys {
		out.SetAttr(k, join(k))
	}
	switch {
	case results[ResultFail]:
		out.Result = ResultFail
	case results[ResultIgnore]:
		out.Result = ResultIgnore
	}
	return out
}
