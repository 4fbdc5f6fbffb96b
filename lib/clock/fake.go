// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock set to initial. Time moves only when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.registered = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests, safe for concurrent
// use.
type FakeClock struct {
	mu         sync.Mutex
	current    time.Time
	timeouts   []timeout
	registered *sync.Cond
}

type timeout struct {
	deadline time.Time
	fire     chan time.Time
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that fires once Advance passes now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	fire := make(chan time.Time, 1)
	if d <= 0 {
		fire <- c.current
		return fire
	}
	c.timeouts = append(c.timeouts, timeout{deadline: c.current.Add(d), fire: fire})
	c.registered.Broadcast()
	return fire
}

// Advance moves the clock forward by d and fires every due timeout.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	pending := c.timeouts[:0]
	for _, t := range c.timeouts {
		if t.deadline.After(c.current) {
			pending = append(pending, t)
			continue
		}
		t.fire <- c.current
	}
	c.timeouts = pending
}

// WaitForTimers blocks until at least n timeouts are pending, so a test
// can advance past a timeout another goroutine is about to wait on.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.timeouts) < n {
		c.registered.Wait()
	}
}

// Pending returns the number of timeouts that have not fired.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timeouts)
}
