package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// FixedTime is the instant FixedClock starts at, chosen to match the
// activity fixtures used across the tests.
var FixedTime = time.Date(2017, 11, 15, 18, 13, 11, 0, time.UTC)

// StubClock is a wp.Clock that only moves when told to.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock at FixedTime.
func FixedClock() *StubClock {
	return NewStubClock(FixedTime)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t, backwards if need be.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator is a wp.IDGenerator producing "<prefix>-1", "<prefix>-2", ...
type StubIDGenerator struct {
	prefix string
	n      atomic.Int64
}

// NewStubIDGenerator numbers IDs as "id-1", "id-2", ...
func NewStubIDGenerator() *StubIDGenerator {
	return NewPrefixedIDGenerator("id")
}

func NewPrefixedIDGenerator(prefix string) *StubIDGenerator {
	return &StubIDGenerator{prefix: prefix}
}

func (g *StubIDGenerator) New() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}
