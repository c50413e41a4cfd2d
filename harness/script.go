package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/buckleypaul/dutkit/expect"
	"github.com/buckleypaul/dutkit/internal/config"
	"github.com/buckleypaul/dutkit/unity"
)

// Script is a scenario run by `dutkit run`: devices to assemble and the
// steps to drive them through.
//
//	name: hello
//	services: esp,idf
//	count: 1
//	device:
//	  app_path: examples/hello
//	steps:
//	  - expect: "Hello world!"
//	    timeout: 10s
//	  - write: "restart"
//	  - expect_exact: "Restarting now."
type Script struct {
	Name     string            `yaml:"name"`
	Services string            `yaml:"services,omitempty"`
	Count    int               `yaml:"count,omitempty"`
	Device   map[string]string `yaml:"device,omitempty"`
	Steps    []Step            `yaml:"steps"`
}

// Step is one action. Exactly one action field is set.
type Step struct {
	// DUT selects the device of the case, not the session index.
	DUT     int           `yaml:"dut,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	Expect      string        `yaml:"expect,omitempty"`
	ExpectExact string        `yaml:"expect_exact,omitempty"`
	NotMatching []string      `yaml:"not_matching,omitempty"`
	Write       *string       `yaml:"write,omitempty"`
	Flash       bool          `yaml:"flash,omitempty"`
	Reset       bool          `yaml:"reset,omitempty"`
	Unity       bool          `yaml:"unity,omitempty"`
	UnityMenu   *MenuStep     `yaml:"unity_menu,omitempty"`
	Sleep       time.Duration `yaml:"sleep,omitempty"`
}

// MenuStep runs the cases of the Unity test menu.
type MenuStep struct {
	Groups     []string          `yaml:"groups,omitempty"`
	Names      []string          `yaml:"names,omitempty"`
	Attrs      map[string]string `yaml:"attrs,omitempty"`
	RunIgnored bool              `yaml:"run_ignored,omitempty"`
	MultiDev   bool              `yaml:"multi_device,omitempty"`
	Reset      bool              `yaml:"reset,omitempty"`
}

// LoadScript reads a scenario file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			return nil, fmt.Errorf("%s: step %d: %w", path, i+1, err)
		}
	}
	return &sc, nil
}

func (st Step) validate() error {
	n := 0
	for _, set := range []bool{
		st.Expect != "", st.ExpectExact != "", st.Write != nil, st.Flash,
		st.Reset, st.Unity, st.UnityMenu != nil, st.Sleep > 0,
	} {
		if set {
			n++
		}
	}
	switch {
	case n == 0:
		return errors.New("no action")
	case n > 1:
		return errors.New("more than one action")
	}
	return nil
}

// Config layers the script values over base.
func (sc *Script) Config(base config.Config) config.Config {
	cfg := base
	if sc.Services != "" {
		cfg.Services = sc.Services
	}
	if sc.Count > 0 {
		cfg.Count = sc.Count
	}
	dev := make(map[string]string, len(base.Device)+len(sc.Device))
	for k, v := range base.Device {
		dev[k] = v
	}
	for k, v := range sc.Device {
		dev[k] = v
	}
	cfg.Device = dev
	return cfg
}

// RunScript assembles the devices of sc in a new case and runs its steps
// in order. It stops at the first failing step. The case is closed before
// RunScript returns, so its reports are written.
func (s *Session) RunScript(ctx context.Context, sc *Script) (err error) {
	c, err := s.NewCase(sc.Name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			c.logger.Debug("case teardown", "err", cerr)
		}
	}()

	devs, err := c.DUTs(ctx, sc.Config(s.cfg))
	if err != nil {
		return err
	}
	for i, st := range sc.Steps {
		if err := runStep(ctx, c, devs, st); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	if failed := c.Failures(); len(failed) > 0 {
		return fmt.Errorf("%w: %d unity cases failed", unity.ErrCasesFailed, len(failed))
	}
	return nil
}

func runStep(ctx context.Context, c *Case, devs *Devices, st Step) error {
	if st.DUT < 0 || st.DUT >= devs.Len() {
		return fmt.Errorf("no dut %d in a case of %d", st.DUT, devs.Len())
	}
	d := devs.At(st.DUT)
	var opts []expect.Option
	if st.Timeout > 0 {
		opts = append(opts, expect.WithTimeout(st.Timeout))
	}
	if len(st.NotMatching) > 0 {
		pats := make([]expect.Pattern, 0, len(st.NotMatching))
		for _, s := range st.NotMatching {
			p, err := expect.Regex(s)
			if err != nil {
				return err
			}
			pats = append(pats, p)
		}
		opts = append(opts, expect.NotMatching(pats...))
	}

	switch {
	case st.Expect != "":
		p, err := expect.Regex(st.Expect)
		if err != nil {
			return err
		}
		_, err = d.Expect(ctx, p, opts...)
		return err
	case st.ExpectExact != "":
		_, err := d.ExpectExact(ctx, st.ExpectExact, opts...)
		return err
	case st.Write != nil:
		return d.WriteLine(*st.Write)
	case st.Flash:
		return d.Flash(ctx)
	case st.Reset:
		return d.HardReset(ctx)
	case st.Unity:
		return d.ExpectUnityTestOutput(ctx, opts...)
	case st.UnityMenu != nil:
		return runMenu(ctx, c, devs, *st.UnityMenu, st.Timeout)
	case st.Sleep > 0:
		t := time.NewTimer(st.Sleep)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	return errors.New("no action")
}

func runMenu(ctx context.Context, c *Case, devs *Devices, m MenuStep, timeout time.Duration) error {
	ct, err := devs.CaseTester(c.logger)
	if err != nil {
		return err
	}
	opts := unity.RunOptions{Reset: m.Reset, Timeout: timeout}
	if m.MultiDev {
		return ct.RunAllMultiDevCases(ctx, opts)
	}
	f := unity.Filter{Groups: m.Groups, Names: m.Names, Attributes: m.Attrs}
	return ct.RunAllSingleBoardCases(ctx, f, m.RunIgnored, false, opts)
}
