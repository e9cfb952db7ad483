package testutil

import (
	"strconv"
	"sync"
	"time"
)

// SourceEpoch is the time fixtures start from. SourceRepo commits and
// FixedClock share it so ledger rows and commit dates line up.
var SourceEpoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a settable Clock for ledger timestamps.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock stopped at SourceEpoch.
func FixedClock() *StubClock {
	return NewStubClock(SourceEpoch)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock, for example past the stale-sync window.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// StubIDGenerator hands out run ids "run-1", "run-2" and so on.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return "run-" + strconv.Itoa(g.next)
}
