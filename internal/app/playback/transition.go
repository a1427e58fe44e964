package playback

import (
	"math"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/osa030/19watch/internal/app/buffer"
	"github.com/osa030/19watch/internal/domain/media"
)

// Apply returns the state after the engine reported ev. It has no side
// effects: stall grace timing and buffered range normalization are handled
// by the controller.
func Apply(s State, ev media.Event) State {
	if s.Status.Terminal() || s.Status == StatusIdle {
		return s
	}

	switch ev.Kind {
	case media.EventMetadata:
		// Zero or garbage durations mean metadata is still incomplete.
		if ev.Duration > 0 && !math.IsInf(ev.Duration, 0) {
			s.Duration = mo.Some(ev.Duration)
		} else {
			s.Duration = mo.None[float64]()
		}
		s.CurrentTime = ClampTime(s, s.CurrentTime)

	case media.EventTimeUpdate:
		s.CurrentTime = ClampTime(s, ev.Time)

	case media.EventPlaying:
		switch s.Status {
		case StatusLoading, StatusPaused, StatusBuffering:
			s.Status = StatusPlaying
			s.GestureRequired = false
		case StatusSeeking:
			s.Intent = StatusPlaying
		}

	case media.EventPaused:
		switch s.Status {
		case StatusPlaying, StatusBuffering:
			s.Status = StatusPaused
		case StatusSeeking:
			s.Intent = StatusPaused
		}

	case media.EventSeeking:
		switch s.Status {
		case StatusPlaying, StatusPaused, StatusBuffering:
			s.Intent = IntentOf(s.Status)
			s.Status = StatusSeeking
		}

	case media.EventSeeked:
		s.CurrentTime = ClampTime(s, ev.Time)
		if s.Status == StatusSeeking {
			s.Status = s.Intent
		}

	case media.EventResumed:
		if s.Status == StatusBuffering {
			s.Status = StatusPlaying
		}

	case media.EventPlayBlocked:
		switch s.Status {
		case StatusLoading, StatusPlaying, StatusPaused:
			s.Status = StatusPaused
			s.GestureRequired = true
		case StatusSeeking:
			s.Intent = StatusPaused
			s.GestureRequired = true
		}

	case media.EventEnded:
		s.Status = StatusEnded
		if d, ok := s.Duration.Get(); ok {
			s.CurrentTime = d
		}

	case media.EventError:
		s.Status = StatusError
		s.Err = "playback failed"
		if ev.Err != nil {
			s.Err = ev.Err.Error()
		}
	}

	return Derive(s)
}

// StallElapsed returns the state once a stall outlived the grace window.
func StallElapsed(s State) State {
	if s.Status == StatusPlaying {
		s.Status = StatusBuffering
	}
	return s
}

// Derive recomputes the derived fields of s.
func Derive(s State) State {
	s.BufferedAheadPercent = buffer.AheadPercent(s.Buffered, s.CurrentTime, s.Duration)
	return s
}

// IntentOf returns the status a seek started from status should restore.
func IntentOf(status Status) Status {
	switch status {
	case StatusPlaying, StatusBuffering:
		return StatusPlaying
	default:
		return StatusPaused
	}
}

// ClampTime bounds t to [0, duration]; the upper bound applies once the
// duration is known.
func ClampTime(s State, t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if d, ok := s.Duration.Get(); ok && t > d {
		return d
	}
	return t
}

// ClampVolume saturates v to [0,1]. NaN maps to fallback.
func ClampVolume(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return lo.Clamp(v, 0, 1)
}

// SnapRate returns the selectable rate closest to r.
func SnapRate(r float64) float64 {
	if math.IsNaN(r) {
		return 1
	}
	return lo.MinBy(Rates, func(a, b float64) bool {
		return math.Abs(a-r) < math.Abs(b-r)
	})
}
