package proc

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/buckleypaul/dutkit/dut"
)

// Console is a tool process whose output is the device console, such as
// an emulator. It is started by the DUT and implements dut.Transport and
// dut.Terminator.
type Console struct {
	source string
	prog   string
	args   []string
	env    Env
	logger *slog.Logger

	mu   sync.Mutex
	p    *Process
	done chan struct{}
}

// NewConsole prepares prog to be started by Start.
func NewConsole(source, prog string, args []string, env Env, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		source: source,
		prog:   prog,
		args:   args,
		env:    env,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Prog returns the executable.
func (c *Console) Prog() string { return c.prog }

// Args returns the command line arguments.
func (c *Console) Args() []string { return c.args }

// Start launches the process and relays its output into sink.
func (c *Console) Start(_ context.Context, sink dut.Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.p != nil {
		return errors.New(c.source + " already started")
	}
	p, err := Start(sink, c.prog, c.args, StartOptions{
		Env:    c.env,
		Source: c.source,
		Stdin:  true,
		Logger: c.logger,
	})
	if err != nil {
		return err
	}
	c.p = p
	go func() {
		<-p.Done()
		close(c.done)
	}()
	return nil
}

// Write sends data to the process input.
func (c *Console) Write(data []byte) error {
	c.mu.Lock()
	p := c.p
	c.mu.Unlock()
	if p == nil {
		return errors.New(c.source + " not started")
	}
	return p.Write(data)
}

// Done is closed when the process has exited and its output was relayed.
func (c *Console) Done() <-chan struct{} { return c.done }

// Close kills the process.
func (c *Console) Close() error {
	c.mu.Lock()
	p := c.p
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}
