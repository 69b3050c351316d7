package testutil

import (
	"fmt"
	"sync"
	"time"
)

// ReferenceTime is the instant every harness clock starts at.
var ReferenceTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a manually advanced update.Clock.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// FixedClock returns a StubClock stopped at ReferenceTime. Snapshot names
// taken with it start with "20240115-103000".
func FixedClock() *StubClock {
	return &StubClock{now: ReferenceTime}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, so that history ordering and
// snapshot names can be tested deterministically.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator hands out "<prefix>-1", "<prefix>-2", ... in call order.
type StubIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewPrefixedIDGenerator returns a StubIDGenerator for prefix. Tests use
// distinct prefixes ("sess", "scratch") to tell IDs apart in assertions.
func NewPrefixedIDGenerator(prefix string) *StubIDGenerator {
	return &StubIDGenerator{prefix: prefix}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next)
}
