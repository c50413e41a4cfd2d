package harness

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/config"
	"github.com/buckleypaul/dutkit/unity"
)

// Case is one test case of a session.
type Case struct {
	s        *Session
	name     string
	dir      string
	runID    string
	logger   *slog.Logger
	teardown *dut.Teardown

	mu      sync.Mutex
	devices []*dut.DUT
	closed  bool
}

// Name returns the case name.
func (c *Case) Name() string { return c.name }

// Dir is the directory holding the logs and reports of the case.
func (c *Case) Dir() string { return c.dir }

// RunID identifies the case in its reports.
func (c *Case) RunID() string { return c.runID }

// DUTs assembles cfg.Count devices one after the other. Each one gets the
// next session index. When a device fails to assemble, the ones already
// assembled stay with the case and are released by Close.
func (c *Case) DUTs(ctx context.Context, cfg config.Config) (*Devices, error) {
	count := cfg.Count
	if count < 1 {
		count = config.DefaultCount
	}
	devCfgs, err := cfg.Devices(count)
	if err != nil {
		return nil, err
	}
	services := cfg.ServiceList()

	out := &Devices{}
	for i := 0; i < count; i++ {
		d, err := c.assemble(ctx, services, devCfgs[i], count, cfg.TimestampEnabled())
		if err != nil {
			return nil, err
		}
		out.list = append(out.list, d)
	}
	return out, nil
}

func (c *Case) assemble(ctx context.Context, services []string, devCfg dut.DeviceConfig, total int, timestamp bool) (*dut.DUT, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("case %q is closed", c.name)
	}

	s := c.s
	idx := s.nextIndex()
	d, err := s.asm.Assemble(ctx, dut.Request{
		Index:     idx,
		Total:     total,
		Services:  services,
		Config:    devCfg,
		LogDir:    c.dir,
		Console:   s.console,
		Timestamp: timestamp,
		Style:     s.style(idx),
	})
	if err != nil {
		return nil, err
	}
	d.Suite().SetAttr("run_id", c.runID)
	s.metrics.DUTOpened()

	c.teardown.Push(fmt.Sprintf("dut-%d", idx), func() error {
		d.Close()
		s.metrics.DUTClosed()
		return nil
	})
	c.mu.Lock()
	c.devices = append(c.devices, d)
	c.mu.Unlock()
	return d, nil
}

// Devices returns every device assembled for the case so far.
func (c *Case) Devices() *Devices {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Devices{list: append([]*dut.DUT(nil), c.devices...)}
}

// Failures returns the failed Unity cases recorded by the devices.
func (c *Case) Failures() []*unity.TestCase {
	var out []*unity.TestCase
	for _, d := range c.Devices().list {
		out = append(out, d.Suite().FailedCases()...)
	}
	return out
}

// Close releases the devices, most recently assembled first, and writes
// one JUnit report per device that recorded test cases. Close is
// idempotent.
func (c *Case) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	devices := c.devices
	c.mu.Unlock()

	err := c.teardown.Run()

	for _, d := range devices {
		suite := d.Suite()
		if suite.Len() == 0 {
			continue
		}
		for _, tc := range suite.Cases() {
			c.s.metrics.ObserveCase(string(tc.Result))
		}
		path := filepath.Join(c.dir, fmt.Sprintf("dut-%d.xml", d.Index()))
		if werr := suite.WriteJUnit(path); werr != nil {
			c.logger.Warn("writing junit report", "dut", d.Index(), "err", werr)
			continue
		}
		c.s.addReport(path)
		c.logger.Debug("junit report written", "dut", d.Index(), "path", path)
	}
	return err
}

// Devices is the set of DUTs of one case. Tests needing one device use
// One; multi-device tests index with At.
type Devices struct {
	list []*dut.DUT
}

// Len returns the number of devices.
func (d *Devices) Len() int { return len(d.list) }

// At returns device i of the case, not its session index.
func (d *Devices) At(i int) *dut.DUT { return d.list[i] }

// All returns every device.
func (d *Devices) All() []*dut.DUT { return append([]*dut.DUT(nil), d.list...) }

// One returns the only device. It panics when the case has several.
func (d *Devices) One() *dut.DUT {
	if len(d.list) != 1 {
		panic(fmt.Sprintf("harness: One called on %d devices", len(d.list)))
	}
	return d.list[0]
}

// CaseTester drives the Unity menu over every device, the first one
// providing the menu.
func (d *Devices) CaseTester(logger *slog.Logger) (*unity.CaseTester, error) {
	devs := make([]unity.Device, len(d.list))
	for i, x := range d.list {
		devs[i] = x
	}
	return unity.NewCaseTester(logger, devs...)
}
