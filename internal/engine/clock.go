package engine

import (
	"sync"
	"time"
)

// Clock drives the compositor.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers compositor ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type systemClock struct{}

// SystemClock is the wall clock.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (t *systemTicker) C() <-chan time.Time { return t.t.C }
func (t *systemTicker) Stop()               { t.t.Stop() }

// ManualClock advances only when told to. Each Tick is delivered
// synchronously: it returns once the compositor has taken the tick, and any
// engine call made afterwards observes the composed frame.
type ManualClock struct {
	mu       sync.Mutex
	now      time.Time
	interval time.Duration
	ch       chan time.Time
}

// NewManualClock creates a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, ch: make(chan time.Time)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
	return manualTicker{c}
}

// Advance moves the clock without ticking.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Tick advances the clock by one ticker interval and delivers the tick.
func (c *ManualClock) Tick() {
	c.mu.Lock()
	c.now = c.now.Add(c.interval)
	now := c.now
	c.mu.Unlock()
	c.ch <- now
}

// TickN delivers n ticks.
func (c *ManualClock) TickN(n int) {
	for range n {
		c.Tick()
	}
}

type manualTicker struct{ c *ManualClock }

func (t manualTicker) C() <-chan time.Time { return t.c.ch }
func (t manualTicker) Stop()               {}
