// Package timer provides the clock abstraction and debounce primitive shared
// by the playback components.
package timer

import (
	"sync"
	"time"
)

// Timer is a cancelable pending callback.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or the timer was already stopped.
	Stop() bool
}

// Clock schedules callbacks. Each component owns the timers it creates and
// stops them on teardown.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer runs the most recently triggered action once input has been
// quiet for the configured delay.
type Debouncer struct {
	mu      sync.Mutex
	clock   Clock
	delay   time.Duration
	timer   Timer
	pending func()
	gen     uint64
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(clock Clock, delay time.Duration) *Debouncer {
	return &Debouncer{clock: clock, delay: delay}
}

// Trigger schedules f, superseding any action still waiting.
func (d *Debouncer) Trigger(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	gen := d.gen
	d.pending = f
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A Stop that lost the race against the timer goroutine leaves a
		// stale callback behind; the generation check drops it.
		if gen != d.gen || d.pending == nil {
			d.mu.Unlock()
			return
		}
		action := d.pending
		d.pending = nil
		d.timer = nil
		d.mu.Unlock()

		action()
	})
}

// Cancel drops the pending action, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.pending = nil
	d.gen++
}

// Flush runs the pending action immediately. It reports whether an action ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	action := d.pending
	d.stopLocked()
	d.pending = nil
	d.gen++
	d.mu.Unlock()

	if action == nil {
		return false
	}
	action()
	return true
}

// Pending reports whether an action is waiting.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
