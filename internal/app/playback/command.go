package playback

// CommandKind represents a transport command type.
type CommandKind int

const (
	CommandPlay             CommandKind = iota // Start or resume playback
	CommandPause                               // Pause playback
	CommandTogglePlay                          // Play if paused, pause if playing
	CommandSeekTo                              // Seek to Value seconds
	CommandSetVolume                           // Set volume to Value
	CommandToggleMute                          // Flip the muted flag
	CommandSetRate                             // Set playback rate to Value
	CommandToggleFullscreen                    // Flip fullscreen
	CommandReload                              // Rebuild the session from scratch
)

// String returns the string representation of the command kind.
func (k CommandKind) String() string {
	switch k {
	case CommandPlay:
		return "play"
	case CommandPause:
		return "pause"
	case CommandTogglePlay:
		return "toggle_play"
	case CommandSeekTo:
		return "seek_to"
	case CommandSetVolume:
		return "set_volume"
	case CommandToggleMute:
		return "toggle_mute"
	case CommandSetRate:
		return "set_rate"
	case CommandToggleFullscreen:
		return "toggle_fullscreen"
	case CommandReload:
		return "reload"
	default:
		return "unknown"
	}
}

// Command is a transport command submitted to the controller.
type Command struct {
	Kind  CommandKind
	Value float64
}

func Play() Command { return Command{Kind: CommandPlay} }
func Pause() Command { return Command{Kind: CommandPause} }
func TogglePlay() Command { return Command{Kind: CommandTogglePlay} }
func SeekTo(t float64) Command { return Command{Kind: CommandSeekTo, Value: t} }
func SetVolume(v float64) Command { return Command{Kind: CommandSetVolume, Value: v} }
func ToggleMute() Command { return Command{Kind: CommandToggleMute} }
func SetRate(r float64) Command { return Command{Kind: CommandSetRate, Value: r} }
func ToggleFullscreen() Command { return Command{Kind: CommandToggleFullscreen} }
func Reload() Command { return Command{Kind: CommandReload} }
