package dut

import (
	"fmt"
	"sort"
	"sync"
)

// Claims tracks exclusive resources, such as serial ports, held by the
// DUTs of a session.
type Claims struct {
	mu   sync.Mutex
	held map[string]int
}

// NewClaims returns an empty claim set.
func NewClaims() *Claims {
	return &Claims{held: make(map[string]int)}
}

// Claim marks resource as used by DUT index. It fails if another DUT
// holds it already.
func (c *Claims) Claim(resource string, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := c.held[resource]; ok && owner != index {
		return fmt.Errorf("%s is already used by dut-%d", resource, owner)
	}
	c.held[resource] = index
	return nil
}

// Release frees resource.
func (c *Claims) Release(resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, resource)
}

// Held returns the claimed resources, sorted.
func (c *Claims) Held() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.held))
	for r := range c.held {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
