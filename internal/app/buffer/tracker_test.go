package buffer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19watch/internal/domain/media"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      []media.Range
		expected Ranges
	}{
		{
			name:     "empty report",
			raw:      nil,
			expected: Ranges{},
		},
		{
			name:     "unsorted disjoint",
			raw:      []media.Range{{Start: 30, End: 40}, {Start: 0, End: 10}},
			expected: Ranges{{Start: 0, End: 10}, {Start: 30, End: 40}},
		},
		{
			name:     "overlapping merged",
			raw:      []media.Range{{Start: 5, End: 20}, {Start: 0, End: 10}, {Start: 18, End: 25}},
			expected: Ranges{{Start: 0, End: 25}},
		},
		{
			name:     "touching merged",
			raw:      []media.Range{{Start: 0, End: 10}, {Start: 10, End: 12}},
			expected: Ranges{{Start: 0, End: 12}},
		},
		{
			name:     "contained interval absorbed",
			raw:      []media.Range{{Start: 0, End: 100}, {Start: 20, End: 30}},
			expected: Ranges{{Start: 0, End: 100}},
		},
		{
			name:     "invalid intervals dropped",
			raw:      []media.Range{{Start: 10, End: 5}, {Start: math.NaN(), End: 3}, {Start: -4, End: 2}},
			expected: Ranges{{Start: 0, End: 2}},
		},
		{
			name:     "zero length kept",
			raw:      []media.Range{{Start: 0, End: 0}},
			expected: Ranges{{Start: 0, End: 0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.raw))
		})
	}
}

func TestNormalize_AlwaysSortedAndDisjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		raw := make([]media.Range, rng.Intn(12))
		for j := range raw {
			start := rng.Float64() * 100
			raw[j] = media.Range{Start: start, End: start + rng.Float64()*20}
		}

		got := Normalize(raw)
		for j := 1; j < len(got); j++ {
			require.Less(t, got[j-1].End, got[j].Start, "ranges must be sorted and non-overlapping: %v", got)
		}
	}
}

func TestAheadPercent(t *testing.T) {
	tests := []struct {
		name     string
		ranges   Ranges
		current  float64
		duration mo.Option[float64]
		expected float64
	}{
		{
			name:     "metadata not loaded",
			ranges:   Normalize([]media.Range{{Start: 0, End: 0}}),
			current:  0,
			duration: mo.Some(0.0),
			expected: 0,
		},
		{
			name:     "unknown duration",
			ranges:   Ranges{{Start: 0, End: 50}},
			current:  10,
			duration: mo.None[float64](),
			expected: 0,
		},
		{
			name:     "current inside interval",
			ranges:   Ranges{{Start: 0, End: 50}, {Start: 70, End: 80}},
			current:  10,
			duration: mo.Some(200.0),
			expected: 25,
		},
		{
			name:     "current in later interval",
			ranges:   Ranges{{Start: 0, End: 50}, {Start: 70, End: 80}},
			current:  75,
			duration: mo.Some(200.0),
			expected: 40,
		},
		{
			name:     "current in a gap",
			ranges:   Ranges{{Start: 0, End: 50}, {Start: 70, End: 80}},
			current:  60,
			duration: mo.Some(200.0),
			expected: 0,
		},
		{
			name:     "clamped to 100",
			ranges:   Ranges{{Start: 0, End: 250}},
			current:  10,
			duration: mo.Some(200.0),
			expected: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AheadPercent(tt.ranges, tt.current, tt.duration)
			assert.InDelta(t, tt.expected, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 100.0)
		})
	}
}

func TestTracker_UpdateRebuilds(t *testing.T) {
	tracker := NewTracker()

	tracker.Update([]media.Range{{Start: 0, End: 10}})
	tracker.Update([]media.Range{{Start: 20, End: 30}})

	assert.Equal(t, Ranges{{Start: 20, End: 30}}, tracker.Ranges())
	assert.InDelta(t, 30.0, tracker.AheadPercent(25, mo.Some(100.0)), 1e-9)

	tracker.Reset()
	assert.Empty(t, tracker.Ranges())
}
