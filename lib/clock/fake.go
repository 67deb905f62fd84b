// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a deterministic Clock frozen at initial. Time moves
// only through Advance. Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.registered = sync.NewCond(&c.mu)
	return c
}

// FakeClock is the test Clock. Goroutines that call After or NewTimer
// register pending deadlines; Advance fires every deadline the new
// time reaches, in deadline order. WaitForTimers lets a test block
// until a goroutine under test has registered its timer, removing the
// race between registration and advancement.
type FakeClock struct {
	mu         sync.Mutex
	current    time.Time
	pending    []*fakeTimer
	registered *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time
	stopped  bool
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a one-shot deadline and returns its channel. A
// non-positive d delivers immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.pending = append(c.pending, &fakeTimer{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.registered.Broadcast()
	return channel
}

// NewTimer registers a resettable one-shot deadline.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
	}
	c.pending = append(c.pending, timer)
	c.registered.Broadcast()

	return &Timer{
		C: timer.channel,
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if timer.stopped || timer.fired {
				return false
			}
			timer.stopped = true
			return true
		},
		resetFunc: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := !timer.stopped && !timer.fired
			timer.deadline = c.current.Add(d)
			timer.stopped = false
			timer.fired = false
			// A fired or stopped timer may have been dropped from the
			// pending list by Advance; re-register it.
			if !c.isPendingLocked(timer) {
				c.pending = append(c.pending, timer)
				c.registered.Broadcast()
			}
			return wasActive
		},
	}
}

// Advance moves the clock forward by d and delivers every pending
// deadline the new time reaches, earliest first. Channel sends do not
// block: an undrained timer channel drops the tick, as time.Timer
// does.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current

	var due []*fakeTimer
	var remaining []*fakeTimer
	for _, timer := range c.pending {
		switch {
		case timer.stopped:
		case !timer.deadline.After(target):
			timer.fired = true
			due = append(due, timer)
		default:
			remaining = append(remaining, timer)
		}
	}
	c.pending = remaining
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, timer := range due {
		select {
		case timer.channel <- timer.deadline:
		default:
		}
	}
}

// WaitForTimers blocks until at least n deadlines are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.registered.Wait()
	}
}

func (c *FakeClock) isPendingLocked(timer *fakeTimer) bool {
	for _, pending := range c.pending {
		if pending == timer {
			return true
		}
	}
	return false
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
