// Package sched provides the timer ownership primitives shared by the
// periodic components. Every component owns exactly one Timer; rearming
// always cancels the previous handle first, so a double-fire cannot occur.
package sched

import (
	"sync"
	"time"
)

// Timer is a single-owner timer handle. Rearm replaces any pending fire;
// Stop cancels for good. The callback runs on the timer goroutine.
type Timer struct {
	mu      sync.Mutex
	fn      func()
	t       *time.Timer
	stopped bool
}

// NewTimer creates an unarmed timer for fn.
func NewTimer(fn func()) *Timer {
	return &Timer{fn: fn}
}

// Rearm cancels the pending fire, if any, and arms the timer for d.
func (t *Timer) Rearm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.t != nil {
		t.t.Stop()
	}
	t.t = time.AfterFunc(d, t.fn)
}

// Stop cancels the pending fire and refuses further rearms.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
}

// Armed reports whether a fire is pending. Test helper, racy by nature.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.t != nil && !t.stopped
}

// Debouncer coalesces bursts of triggers into a single callback after a
// quiet period. Each trigger during the window resets the delay, so the
// callback fires relative to the last trigger, not the first.
type Debouncer struct {
	delay time.Duration
	timer *Timer
}

// NewDebouncer creates a debouncer that fires fn after delay of quiet.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{
		delay: delay,
		timer: NewTimer(fn),
	}
}

// Trigger schedules (or reschedules) the callback.
func (d *Debouncer) Trigger() {
	d.timer.Rearm(d.delay)
}

// Stop cancels any pending callback.
func (d *Debouncer) Stop() {
	d.timer.Stop()
}
