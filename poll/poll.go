// Package poll implements bounded, tick-based waiting on a replaceable clock.
package poll

import (
	"context"
	"time"
)

// Clock describes a source of time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After waits for the duration to elapse and then sends the current time
	// on the returned channel.
	After(d time.Duration) <-chan time.Time
}

// systemClock is the wall clock.
type systemClock struct{}

// System returns the wall clock.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep pauses for the given duration, or until the context is done.
func Sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()

	case <-clock.After(d):
		return nil
	}
}

// Waiter polls a condition a fixed number of times.
type Waiter struct {
	Clock    Clock
	Interval time.Duration
	Ticks    int

	// OnTick, if set, is called after every elapsed interval.
	OnTick func(tick int)
}

// Every returns a waiter that polls once per interval, up to ticks times.
func Every(clock Clock, interval time.Duration, ticks int) Waiter {
	return Waiter{Clock: clock, Interval: interval, Ticks: ticks}
}

// Until checks cond immediately, and then once after each of the waiter's ticks.
// It returns true as soon as cond is satisfied, and false if every tick elapsed
// without it being satisfied. An error is returned only if the context is done.
func (w Waiter) Until(ctx context.Context, cond func() bool) (bool, error) {
	if cond() {
		return true, nil
	}

	for tick := 1; tick <= w.Ticks; tick++ {
		if err := Sleep(ctx, w.Clock, w.Interval); err != nil {
			return false, err
		}

		if w.OnTick != nil {
			w.OnTick(tick)
		}

		if cond() {
			return true, nil
		}
	}

	return false, nil
}
