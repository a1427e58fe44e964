// Package input maps keyboard and pointer gestures to playback commands.
package input

import (
	"fmt"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19watch/internal/app/playback"
	"github.com/osa030/19watch/internal/app/preview"
	"github.com/osa030/19watch/internal/app/timer"
)

// Config holds dispatcher configuration.
type Config struct {
	SkipSeconds       float64       // Base skip step
	SkipWindow        time.Duration // Max gap between accelerating skips
	MaxSkipMultiplier int
	VolumeStep        float64
	RateStep          float64
}

// DefaultConfig returns the stock steps.
func DefaultConfig() Config {
	return Config{
		SkipSeconds:       5,
		SkipWindow:        time.Second,
		MaxSkipMultiplier: 6,
		VolumeStep:        0.1,
		RateStep:          0.25,
	}
}

// Target receives transport commands.
type Target interface {
	State() playback.State
	Submit(cmd playback.Command) error
}

// Scrubber receives timeline hover samples.
type Scrubber interface {
	Sample(fraction, duration float64) (preview.Request, error)
	Leave()
}

// PointerKind identifies a pointer gesture.
type PointerKind int

const (
	PointerClick         PointerKind = iota // Click on the video surface
	PointerDoubleClick                      // Double click on the video surface
	PointerTimelineClick                    // Click on the timeline
	PointerTimelineHover                    // Hover or drag over the timeline
	PointerTimelineLeave                    // Pointer left the timeline
)

// PointerEvent is a pointer gesture. Fraction is the horizontal timeline
// position in [0,1] for timeline gestures.
type PointerEvent struct {
	Kind     PointerKind
	Fraction float64
}

// Dispatcher translates gestures into commands for a Target.
type Dispatcher struct {
	config   Config
	keys     KeyMap
	target   Target
	scrubber Scrubber
	skip     *SkipAccumulator
}

// NewDispatcher creates a dispatcher. scrubber may be nil.
func NewDispatcher(config Config, keys KeyMap, target Target, scrubber Scrubber, clock timer.Clock) *Dispatcher {
	if clock == nil {
		clock = timer.Real()
	}
	return &Dispatcher{
		config:   config,
		keys:     keys,
		target:   target,
		scrubber: scrubber,
		skip:     NewSkipAccumulator(clock, config.SkipSeconds, config.SkipWindow, config.MaxSkipMultiplier),
	}
}

// KeyMap returns the active bindings.
func (d *Dispatcher) KeyMap() KeyMap {
	return d.keys
}

// HandleKey performs the action bound to k. It reports whether k was bound.
func (d *Dispatcher) HandleKey(k fmt.Stringer) (bool, error) {
	action := d.keys.Resolve(k)
	if action == ActionNone {
		return false, nil
	}
	return true, d.Perform(action)
}

// Perform executes action against the current state.
func (d *Dispatcher) Perform(action Action) error {
	s := d.target.State()

	var cmd playback.Command
	switch action {
	case ActionTogglePlay:
		cmd = playback.TogglePlay()
	case ActionToggleFullscreen:
		cmd = playback.ToggleFullscreen()
	case ActionToggleMute:
		cmd = playback.ToggleMute()
	case ActionSkipBackward:
		cmd = playback.SeekTo(s.CurrentTime + d.skip.Next(Backward))
	case ActionSkipForward:
		cmd = playback.SeekTo(s.CurrentTime + d.skip.Next(Forward))
	case ActionVolumeUp:
		cmd = playback.SetVolume(step(s.Volume, d.config.VolumeStep))
	case ActionVolumeDown:
		cmd = playback.SetVolume(step(s.Volume, -d.config.VolumeStep))
	case ActionRateDown:
		cmd = playback.SetRate(step(s.PlaybackRate, -d.config.RateStep))
	case ActionRateUp:
		cmd = playback.SetRate(step(s.PlaybackRate, d.config.RateStep))
	default:
		return errors.Newf("unsupported action: %s", action)
	}

	zlog.Debug().Msgf("input: %s -> %s %.2f", action, cmd.Kind, cmd.Value)
	return d.target.Submit(cmd)
}

// HandlePointer performs a pointer gesture.
func (d *Dispatcher) HandlePointer(ev PointerEvent) error {
	switch ev.Kind {
	case PointerClick:
		return d.Perform(ActionTogglePlay)
	case PointerDoubleClick:
		return d.Perform(ActionToggleFullscreen)
	case PointerTimelineClick:
		duration, ok := d.target.State().Duration.Get()
		if !ok {
			return nil
		}
		return d.target.Submit(playback.SeekTo(clampFraction(ev.Fraction) * duration))
	case PointerTimelineHover:
		duration, ok := d.target.State().Duration.Get()
		if !ok || d.scrubber == nil {
			return nil
		}
		_, err := d.scrubber.Sample(clampFraction(ev.Fraction), duration)
		return err
	case PointerTimelineLeave:
		if d.scrubber != nil {
			d.scrubber.Leave()
		}
		return nil
	default:
		return errors.Newf("unsupported pointer gesture: %d", ev.Kind)
	}
}

// step adds delta to v, rounded to hundredths so repeated steps stay on
// the grid. Saturation is left to the controller.
func step(v, delta float64) float64 {
	return math.Round((v+delta)*100) / 100
}

func clampFraction(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Min(math.Max(f, 0), 1)
}
