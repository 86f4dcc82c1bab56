package testutil

import (
	"fmt"
	"sync"
	"time"
)

// ApplyEpoch is the first time an ApplyClock reports.
var ApplyEpoch = time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)

// ApplyClock stands in for the service clock. Each reading moves it
// forward by Step, so the start and finish stamps of one apply differ and
// consecutive applies stay ordered.
type ApplyClock struct {
	mu   sync.Mutex
	next time.Time
	Step time.Duration
}

// NewApplyClock starts at ApplyEpoch and ticks one second per reading.
func NewApplyClock() *ApplyClock {
	return &ApplyClock{next: ApplyEpoch, Step: time.Second}
}

func (c *ApplyClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.Step)
	return now
}

// StubRefGenerator hands out apply refs "apply-1", "apply-2" and so on.
type StubRefGenerator struct {
	mu sync.Mutex
	n  int
}

func NewStubRefGenerator() *StubRefGenerator {
	return &StubRefGenerator{}
}

func (g *StubRefGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("apply-%d", g.n)
}
