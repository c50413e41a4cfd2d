package dut

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type closer struct {
	name string
	fn   func() error
}

// Teardown is a stack of cleanup callbacks run in reverse push order.
type Teardown struct {
	mu     sync.Mutex
	logger *slog.Logger
	stack  []closer
}

// NewTeardown creates an empty stack.
func NewTeardown(logger *slog.Logger) *Teardown {
	if logger == nil {
		logger = slog.Default()
	}
	return &Teardown{logger: logger}
}

// Push registers fn to run on teardown.
func (t *Teardown) Push(name string, fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stack = append(t.stack, closer{name: name, fn: fn})
}

// Len returns the number of pending callbacks.
func (t *Teardown) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stack)
}

// Run pops and runs every callback, last pushed first. A failing or
// panicking callback is logged and the rest still run. The joined errors
// are returned for inspection only.
func (t *Teardown) Run() error {
	t.mu.Lock()
	stack := t.stack
	t.stack = nil
	t.mu.Unlock()

	var errs []error
	for i := len(stack) - 1; i >= 0; i-- {
		c := stack[i]
		if err := runCloser(c); err != nil {
			t.logger.Warn("teardown failed", "resource", c.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

func runCloser(c closer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.fn()
}
