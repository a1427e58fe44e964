// Package playback provides the playback session controller.
package playback

import (
	"github.com/samber/mo"

	"github.com/osa030/19watch/internal/app/buffer"
)

// Status represents the playback status.
type Status int

const (
	StatusIdle      Status = iota // No source assigned
	StatusLoading                 // Source assigned, waiting for the first play attempt
	StatusPlaying                 // Media is playing
	StatusPaused                  // Media is paused
	StatusSeeking                 // Seek in flight
	StatusBuffering               // Stall outlived the grace window
	StatusEnded                   // Natural completion (terminal)
	StatusError                   // Unrecoverable engine failure (terminal)
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusSeeking:
		return "seeking"
	case StatusBuffering:
		return "buffering"
	case StatusEnded:
		return "ended"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether only a reload can leave the status.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusError
}

// Rates lists the selectable playback rates in ascending order.
var Rates = []float64{0.25, 0.5, 0.75, 1, 1.25, 1.5, 1.75, 2}

// DefaultQuality is reported until the engine says otherwise.
const DefaultQuality = "auto"

// State is the canonical playback state. The controller is its only writer.
type State struct {
	Status       Status
	CurrentTime  float64            // Seconds, within [0, Duration] once Duration is known
	Duration     mo.Option[float64] // None until metadata loads
	Volume       float64            // [0,1]
	Muted        bool
	PlaybackRate float64 // One of Rates
	Quality      string  // Nominal, informational only
	Fullscreen   bool

	// GestureRequired is set when the platform refused autonomous playback;
	// the surface shows a tap-to-play affordance.
	GestureRequired bool
	// Err holds the engine failure message in StatusError.
	Err string

	// Intent is the status a seek returns to once it completes.
	Intent Status

	Buffered             buffer.Ranges
	BufferedAheadPercent float64
}

// NewState returns the state of a freshly mounted session.
func NewState() State {
	return State{
		Status:       StatusIdle,
		Duration:     mo.None[float64](),
		Volume:       1,
		PlaybackRate: 1,
		Quality:      DefaultQuality,
		Intent:       StatusPaused,
		Buffered:     buffer.Ranges{},
	}
}
