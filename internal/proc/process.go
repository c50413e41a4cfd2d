// Package proc runs the external tools behind DUT backends: emulators,
// debug servers and flashing utilities.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/buckleypaul/dutkit/internal/relay"
)

// killWait bounds how long Close waits for a killed process to be reaped.
const killWait = 5 * time.Second

// Process is a long-running tool whose combined output is relayed into a
// sink.
type Process struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	pump   *relay.Pump
	logger *slog.Logger

	done    chan struct{}
	mu      sync.Mutex
	waitErr error
	closed  bool
}

// StartOptions configure Start.
type StartOptions struct {
	Env    Env
	Source string
	// Stdin keeps a pipe to the process input open for Write.
	Stdin  bool
	Logger *slog.Logger
}

// Start runs name with args and relays its stdout and stderr into sink.
// The process is not bound to a context; Close kills it.
func Start(sink relay.Sink, name string, args []string, opts StartOptions) (*Process, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := opts.Source
	if source == "" {
		source = name
	}

	cmd := exec.Command(name, args...)
	applyEnv(cmd, opts.Env)

	p := &Process{name: name, cmd: cmd, logger: logger, done: make(chan struct{})}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout // merge stderr into stdout
	if opts.Stdin {
		if p.stdin, err = cmd.StdinPipe(); err != nil {
			return nil, err
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	logger.Debug("process started", "cmd", cmd.String(), "pid", cmd.Process.Pid)

	p.pump = relay.StartPump(stdout, sink, source, relay.WithLogger(logger))
	go func() {
		<-p.pump.Done()
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		logger.Debug("process exited", "cmd", name, "err", err)
		close(p.done)
	}()
	return p, nil
}

// Name returns the executable name.
func (p *Process) Name() string { return p.name }

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed when the process has exited and all of its output has
// been relayed.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Write sends data to the process input.
func (p *Process) Write(data []byte) error {
	if p.stdin == nil {
		return fmt.Errorf("%s: no input pipe", p.name)
	}
	_, err := p.stdin.Write(data)
	return err
}

// Close kills the process and waits briefly for it to be reaped.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.stdin != nil {
		p.stdin.Close()
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("kill failed", "cmd", p.name, "err", err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("%s: not reaped after kill", p.name)
	}
}

// Run executes name to completion, writing its combined output to w.
func Run(ctx context.Context, w io.Writer, env Env, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	applyEnv(cmd, env)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Output executes name and returns its combined output.
func Output(ctx context.Context, env Env, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	applyEnv(cmd, env)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s: %w", name, err)
	}
	return string(output), nil
}

// applyEnv sets the environment and working directory on an exec.Cmd.
func applyEnv(cmd *exec.Cmd, env Env) {
	if env.Vars != nil {
		cmd.Env = env.Vars
	}
	if env.Dir != "" {
		cmd.Dir = env.Dir
	}
}
