// Package polltest provides a virtual clock for tests.
package polltest

import (
	"sync"
	"time"
)

// Clock is a virtual clock. Every wait completes immediately and advances
// the clock by the waited duration.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	start  time.Time
	sleeps []time.Duration
}

// NewClock returns a virtual clock starting at an arbitrary fixed instant.
func NewClock() *Clock {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	return &Clock{now: start, start: start}
}

// Now returns the current virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// After advances the clock by d and returns a channel that is already ready.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)

	ch := make(chan time.Time, 1)
	ch <- c.now

	return ch
}

// Elapsed returns the virtual time elapsed since the clock was created.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now.Sub(c.start)
}

// Sleeps returns how many waits of exactly d were performed.
func (c *Clock) Sleeps(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}

	return n
}
