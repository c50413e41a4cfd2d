package harness

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/internal/config"
)

// Option adjusts how New and NewMulti set up a test.
type Option func(*testOptions)

type testOptions struct {
	session  *Session
	cfg      *config.Config
	services string
	count    int
	device   map[string]string
	open     Options
}

// WithSession assembles the devices in s instead of a session private to
// the test. Use it to share the cache and the index counter between tests,
// typically from TestMain.
func WithSession(s *Session) Option {
	return func(o *testOptions) { o.session = s }
}

// WithConfig replaces the loaded configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *testOptions) { o.cfg = &cfg }
}

// WithServices selects the services, such as "esp,idf".
func WithServices(services string) Option {
	return func(o *testOptions) { o.services = services }
}

// WithDevice sets a device value. "|" separates per-device values.
func WithDevice(key, value string) Option {
	return func(o *testOptions) {
		if o.device == nil {
			o.device = map[string]string{}
		}
		o.device[key] = value
	}
}

// WithOpenOptions sets the options of the session private to the test.
func WithOpenOptions(opts Options) Option {
	return func(o *testOptions) { o.open = opts }
}

// New assembles one DUT for t. The DUT is closed when t finishes and every
// failed Unity case it recorded is reported through t.Errorf.
func New(t testing.TB, opts ...Option) *dut.DUT {
	t.Helper()
	return NewMulti(t, 1, opts...).One()
}

// NewMulti assembles count DUTs for t.
func NewMulti(t testing.TB, count int, opts ...Option) *Devices {
	t.Helper()
	var o testOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := o.session
	if s == nil {
		open := o.open
		if open.Config == nil {
			open.Config = o.cfg
		}
		var err error
		s, err = Open(context.Background(), open)
		if err != nil {
			t.Fatalf("opening session: %v", err)
		}
		t.Cleanup(func() { s.Close() })
	}

	cfg := s.Config()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	cfg.Count = count
	if o.services != "" {
		cfg.Services = o.services
	}
	dev := make(map[string]string, len(cfg.Device)+len(o.device))
	for k, v := range cfg.Device {
		dev[k] = v
	}
	for k, v := range o.device {
		dev[k] = v
	}
	cfg.Device = dev

	c, err := s.NewCase(t.Name())
	if err != nil {
		t.Fatalf("starting case: %v", err)
	}
	t.Cleanup(func() {
		for _, tc := range c.Failures() {
			t.Errorf("%s: %s", tc.Name, failureText(tc.Message))
		}
		c.Close()
	})

	devs, err := c.DUTs(context.Background(), cfg)
	if err != nil {
		t.Fatalf("assembling devices: %v", err)
	}
	return devs
}

func failureText(msg string) string {
	if msg == "" {
		return "FAIL"
	}
	return strings.TrimSpace(msg)
}

// Verbose returns a console writer when DUTKIT_CONSOLE is set, so that
// device output is echoed while tests run.
func Verbose() io.Writer {
	if os.Getenv("DUTKIT_CONSOLE") == "" {
		return nil
	}
	return os.Stdout
}
