package input

import (
	"sync"
	"time"

	"github.com/osa030/19watch/internal/app/timer"
)

// Direction of a skip.
type Direction int

const (
	Backward Direction = -1
	Forward  Direction = 1
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// SkipAccumulator grows the skip step while skips in the same direction
// keep arriving within the window. The multiplier is capped.
type SkipAccumulator struct {
	mu sync.Mutex

	clock  timer.Clock
	base   float64
	window time.Duration
	limit  int

	count int
	dir   Direction
	last  time.Time
}

// NewSkipAccumulator creates an accumulator with the given base step in
// seconds, continuation window and multiplier cap.
func NewSkipAccumulator(clock timer.Clock, base float64, window time.Duration, limit int) *SkipAccumulator {
	return &SkipAccumulator{clock: clock, base: base, window: window, limit: max(limit, 1)}
}

// Next records a skip and returns the signed offset in seconds.
// A pause of at least the window, or a direction change, restarts at 1x.
func (a *SkipAccumulator) Next(dir Direction) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if a.count == 0 || dir != a.dir || now.Sub(a.last) >= a.window {
		a.count = 0
	}
	a.count++
	a.dir = dir
	a.last = now

	return float64(dir) * a.base * float64(a.multiplierLocked())
}

// Multiplier returns the multiplier applied to the latest skip.
func (a *SkipAccumulator) Multiplier() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.multiplierLocked()
}

func (a *SkipAccumulator) multiplierLocked() int {
	return min(max(a.count, 1), a.limit)
}

// Reset restarts the accumulator.
func (a *SkipAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count = 0
}
