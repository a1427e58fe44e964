package media

// EventKind represents a raw media engine event type.
type EventKind int

const (
	EventMetadata    EventKind = iota // Duration became known
	EventTimeUpdate                   // Playback position advanced
	EventProgress                     // Buffered ranges changed
	EventPlaying                      // Engine started or resumed playing
	EventPaused                       // Engine paused
	EventSeeking                      // Engine started a seek
	EventSeeked                       // Engine finished a seek
	EventStalled                      // Data delivery stalled
	EventResumed                      // Data delivery resumed after a stall
	EventEnded                        // Natural completion
	EventError                        // Unrecoverable failure
	EventPlayBlocked                  // Autonomous playback refused by platform policy
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventMetadata:
		return "metadata"
	case EventTimeUpdate:
		return "time_update"
	case EventProgress:
		return "progress"
	case EventPlaying:
		return "playing"
	case EventPaused:
		return "paused"
	case EventSeeking:
		return "seeking"
	case EventSeeked:
		return "seeked"
	case EventStalled:
		return "stalled"
	case EventResumed:
		return "resumed"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	case EventPlayBlocked:
		return "play_blocked"
	default:
		return "unknown"
	}
}

// Event represents a raw media engine event.
type Event struct {
	Kind     EventKind
	Time     float64 // Position in seconds (TimeUpdate, Seeked)
	Duration float64 // Media duration in seconds (Metadata)
	Ranges   []Range // Raw buffered ranges (Progress), unsorted and possibly overlapping
	Err      error   // Failure cause (Error)
}
