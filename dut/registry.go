package dut

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Factory constructs the backend of a registration. The returned value
// must implement the interface of the registration's slot: *App for
// SlotApp, Transport for SlotSerial, Debugger, Emulator or Extension.
type Factory func(ctx context.Context, b *Build) (any, error)

// Registration declares which slot a backend fills and which services
// activate it. A registration with no services is a default that always
// applies.
type Registration struct {
	Slot     Slot
	Name     string
	Services []string
	New      Factory
}

func (r Registration) matches(selected map[string]bool) bool {
	for _, s := range r.Services {
		if !selected[s] {
			return false
		}
	}
	return true
}

// Plan is the resolved set of registrations for one service selection.
type Plan struct {
	Services   []string
	App        *Registration
	Serial     *Registration
	Debuggers  []Registration
	Emulator   *Registration
	Extensions []Registration
}

// Registry maps capability slots and service names to backends.
type Registry struct {
	mu       sync.RWMutex
	services map[string][]string
	regs     []Registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: map[string][]string{}}
}

// Service declares a service name. Selecting it also selects implies.
func (r *Registry) Service(name string, implies ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = append(r.services[name], implies...)
}

// Services returns the declared service names, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for n := range r.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Register adds a backend. Every service it names must be declared.
func (r *Registry) Register(reg Registration) error {
	if !reg.Slot.valid() {
		return fmt.Errorf("registering %q: unknown slot %q", reg.Name, reg.Slot)
	}
	if reg.New == nil {
		return fmt.Errorf("registering %q: no factory", reg.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range reg.Services {
		if _, ok := r.services[s]; !ok {
			return fmt.Errorf("registering %q: unknown service %q", reg.Name, s)
		}
	}
	r.regs = append(r.regs, reg)
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}

// Expand returns selected plus every service they imply, sorted. Unknown
// names are an error.
func (r *Registry) Expand(selected []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expandLocked(selected)
}

func (r *Registry) expandLocked(selected []string) ([]string, error) {
	seen := map[string]bool{}
	var unknown []string
	var visit func(string)
	visit = func(s string) {
		if seen[s] {
			return
		}
		implies, ok := r.services[s]
		if !ok {
			unknown = append(unknown, s)
			return
		}
		seen[s] = true
		for _, i := range implies {
			visit(i)
		}
	}
	for _, s := range selected {
		if s = strings.TrimSpace(s); s != "" {
			visit(s)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown services: %s (known: %s)", strings.Join(unknown, ", "), strings.Join(r.sortedServices(), ", "))
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Registry) sortedServices() []string {
	names := make([]string, 0, len(r.services))
	for n := range r.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the backends for a service selection. For single-valued
// slots the registration naming the most services wins; two equally
// specific candidates are a conflict. Debuggers and extensions collect
// every match in registration order.
func (r *Registry) Resolve(selected []string) (*Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services, err := r.expandLocked(selected)
	if err != nil {
		return nil, err
	}
	set := map[string]bool{}
	for _, s := range services {
		set[s] = true
	}

	p := &Plan{Services: services}
	var errs []error
	for _, slot := range []Slot{SlotApp, SlotSerial, SlotEmulator} {
		reg, err := r.pick(slot, set)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch slot {
		case SlotApp:
			p.App = reg
		case SlotSerial:
			p.Serial = reg
		case SlotEmulator:
			p.Emulator = reg
		}
	}
	for _, reg := range r.regs {
		if !reg.Slot.multi() || !reg.matches(set) {
			continue
		}
		if reg.Slot == SlotDebugger {
			p.Debuggers = append(p.Debuggers, reg)
		} else {
			p.Extensions = append(p.Extensions, reg)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Registry) pick(slot Slot, set map[string]bool) (*Registration, error) {
	var best []Registration
	score := -1
	for _, reg := range r.regs {
		if reg.Slot != slot || !reg.matches(set) {
			continue
		}
		switch n := len(reg.Services); {
		case n > score:
			best, score = []Registration{reg}, n
		case n == score:
			best = append(best, reg)
		}
	}
	switch len(best) {
	case 0:
		return nil, nil
	case 1:
		return &best[0], nil
	}
	names := make([]string, len(best))
	for i, b := range best {
		names[i] = b.Name
	}
	slices.Sort(names)
	return nil, fmt.Errorf("conflicting %s backends: %s", slot, strings.Join(names, ", "))
}
