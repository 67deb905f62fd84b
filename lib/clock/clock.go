// Copyright 2026 The BFPipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the
// watcher and scheduler. Production code takes a Clock and uses
// Real(); tests use Fake() and advance time explicitly, so debounce
// and timeout behavior is tested without real sleeps.
package clock

import "time"

// Clock is the subset of the time package the pipeline uses. The
// watcher needs resettable timers for debouncing; the scheduler needs
// Now for build timestamps and After for deadline waits.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires on C after d. Reset is the
	// debounce primitive: each call pushes the deadline out again.
	NewTimer(d time.Duration) *Timer
}

// Timer is a one-shot timer. C receives when it fires.
type Timer struct {
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop cancels the timer. It reports whether the call prevented the
// timer from firing. C is never closed.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset re-arms the timer to fire after d, replacing any pending
// deadline. It reports whether the timer was still active. Callers
// that may have let the timer fire should drain C before Reset, as
// with time.Timer.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
