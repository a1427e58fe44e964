package preview

import "github.com/samber/mo"

// Status represents the lifecycle of a preview request.
type Status int

const (
	StatusNone       Status = iota // No request issued
	StatusPending                  // Waiting for debounce, seek or capture
	StatusResolved                 // Frame captured
	StatusSuperseded               // A newer request was issued first
	StatusFailed                   // Capture failed or timed out
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusSuperseded:
		return "superseded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request is one preview sample. IDs increase monotonically per pipeline.
type Request struct {
	ID         uint64
	TimeOffset float64 // Seconds
	Status     Status
}

// Frame is an encoded still for a resolved request.
type Frame struct {
	RequestID   uint64
	TimeOffset  float64
	Data        []byte
	ContentType string
}

// Preview is what the timeline shows. Frame is only present while the
// latest request is resolved.
type Preview struct {
	Request Request
	Frame   mo.Option[Frame]
}
