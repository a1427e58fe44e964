// Package buffer derives normalized buffered ranges from raw engine reports.
package buffer

import (
	"math"
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/osa030/19watch/internal/domain/media"
)

// Ranges is an ordered, non-overlapping set of buffered intervals.
type Ranges []media.Range

// Normalize builds Ranges from an arbitrary engine report. Invalid intervals
// are dropped, negative starts are clamped to zero and overlapping or
// touching intervals are merged.
func Normalize(raw []media.Range) Ranges {
	valid := lo.FilterMap(raw, func(r media.Range, _ int) (media.Range, bool) {
		if math.IsNaN(r.Start) || math.IsNaN(r.End) || r.End < r.Start || r.End < 0 {
			return media.Range{}, false
		}
		return media.Range{Start: math.Max(r.Start, 0), End: r.End}, true
	})
	if len(valid) == 0 {
		return Ranges{}
	}

	slices.SortFunc(valid, func(a, b media.Range) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	merged := Ranges{valid[0]}
	for _, r := range valid[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			last.End = math.Max(last.End, r.End)
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Containing returns the interval containing t, if any.
func (rs Ranges) Containing(t float64) mo.Option[media.Range] {
	for _, r := range rs {
		if r.Contains(t) {
			return mo.Some(r)
		}
	}
	return mo.None[media.Range]()
}

// AheadPercent returns the end of the interval containing current as a
// percentage of duration, clamped to [0,100]. Unknown or non-positive
// durations yield 0.
func AheadPercent(rs Ranges, current float64, duration mo.Option[float64]) float64 {
	d, ok := duration.Get()
	if !ok || math.IsNaN(d) || d <= 0 {
		return 0
	}
	r, ok := rs.Containing(current).Get()
	if !ok {
		return 0
	}
	return lo.Clamp(r.End/d*100, 0, 100)
}

// Tracker keeps the latest normalized ranges.
type Tracker struct {
	mu     sync.RWMutex
	ranges Ranges
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{ranges: Ranges{}}
}

// Update replaces the tracked ranges with a normalized copy of raw.
func (t *Tracker) Update(raw []media.Range) Ranges {
	normalized := Normalize(raw)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ranges = normalized
	return slices.Clone(normalized)
}

// Reset clears the tracked ranges.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ranges = Ranges{}
}

// Ranges returns a copy of the tracked ranges.
func (t *Tracker) Ranges() Ranges {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.ranges)
}

// AheadPercent computes the buffered-ahead percentage for the tracked ranges.
func (t *Tracker) AheadPercent(current float64, duration mo.Option[float64]) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return AheadPercent(t.ranges, current, duration)
}
