package input

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
)

// Action is a user intent resolved from a key or pointer gesture.
type Action int

const (
	ActionNone Action = iota
	ActionTogglePlay
	ActionToggleFullscreen
	ActionToggleMute
	ActionSkipBackward
	ActionSkipForward
	ActionVolumeUp
	ActionVolumeDown
	ActionRateDown
	ActionRateUp
)

// String returns the string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionTogglePlay:
		return "toggle_play"
	case ActionToggleFullscreen:
		return "toggle_fullscreen"
	case ActionToggleMute:
		return "toggle_mute"
	case ActionSkipBackward:
		return "skip_backward"
	case ActionSkipForward:
		return "skip_forward"
	case ActionVolumeUp:
		return "volume_up"
	case ActionVolumeDown:
		return "volume_down"
	case ActionRateDown:
		return "rate_down"
	case ActionRateUp:
		return "rate_up"
	default:
		return "none"
	}
}

// Key is a key name as reported by the terminal, e.g. "left" or " ".
type Key string

func (k Key) String() string {
	return string(k)
}

// KeyMap binds keys to playback actions.
type KeyMap struct {
	TogglePlay       key.Binding
	ToggleFullscreen key.Binding
	ToggleMute       key.Binding
	SkipBackward     key.Binding
	SkipForward      key.Binding
	VolumeUp         key.Binding
	VolumeDown       key.Binding
	RateDown         key.Binding
	RateUp           key.Binding
}

// DefaultKeyMap returns the standard player shortcuts.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		TogglePlay: key.NewBinding(
			key.WithKeys(" ", "space", "k"),
			key.WithHelp("space/k", "play/pause"),
		),
		ToggleFullscreen: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "fullscreen"),
		),
		ToggleMute: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "mute"),
		),
		SkipBackward: key.NewBinding(
			key.WithKeys("left"),
			key.WithHelp("←", "back 5s"),
		),
		SkipForward: key.NewBinding(
			key.WithKeys("right"),
			key.WithHelp("→", "forward 5s"),
		),
		VolumeUp: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("↑", "volume +"),
		),
		VolumeDown: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("↓", "volume -"),
		),
		RateDown: key.NewBinding(
			key.WithKeys(","),
			key.WithHelp(",", "slower"),
		),
		RateUp: key.NewBinding(
			key.WithKeys("."),
			key.WithHelp(".", "faster"),
		),
	}
}

// Resolve returns the action bound to k.
func (m KeyMap) Resolve(k fmt.Stringer) Action {
	switch {
	case key.Matches(k, m.TogglePlay):
		return ActionTogglePlay
	case key.Matches(k, m.ToggleFullscreen):
		return ActionToggleFullscreen
	case key.Matches(k, m.ToggleMute):
		return ActionToggleMute
	case key.Matches(k, m.SkipBackward):
		return ActionSkipBackward
	case key.Matches(k, m.SkipForward):
		return ActionSkipForward
	case key.Matches(k, m.VolumeUp):
		return ActionVolumeUp
	case key.Matches(k, m.VolumeDown):
		return ActionVolumeDown
	case key.Matches(k, m.RateDown):
		return ActionRateDown
	case key.Matches(k, m.RateUp):
		return ActionRateUp
	default:
		return ActionNone
	}
}

// ShortHelp implements help.KeyMap.
func (m KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{m.TogglePlay, m.SkipBackward, m.SkipForward, m.ToggleMute, m.ToggleFullscreen}
}

// FullHelp implements help.KeyMap.
func (m KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.TogglePlay, m.ToggleFullscreen, m.ToggleMute},
		{m.SkipBackward, m.SkipForward},
		{m.VolumeUp, m.VolumeDown, m.RateDown, m.RateUp},
	}
}
