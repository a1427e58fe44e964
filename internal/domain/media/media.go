// Package media provides the media engine contract consumed by the playback core.
package media

import (
	"context"
	"image"
)

// Content identifies a playable title.
type Content struct {
	ID  string // Opaque content identifier
	URL string // Resolved, directly playable media URL
}

// Range is a contiguous span of media time in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains reports whether t falls inside the range (inclusive).
func (r Range) Contains(t float64) bool {
	return t >= r.Start && t <= r.End
}

// OpenOptions controls how an engine instance is created.
type OpenOptions struct {
	Muted  bool // Start muted
	Hidden bool // Off-screen instance (no window)
	Title  string
}

// Sink receives engine events. Engines never invoke the sink from inside
// one of their own method calls.
type Sink func(Event)

// Engine is a single media decode instance.
// Every operation is asynchronous: completion is reported through the Sink.
type Engine interface {
	Load(url string) error
	Play() error
	Pause() error
	Seek(seconds float64) error
	SetVolume(volume float64) error
	SetMuted(muted bool) error
	SetRate(rate float64) error
	SetFullscreen(fullscreen bool) error
	Close() error
}

// FrameGrabber is implemented by engines able to hand out the currently
// decoded frame.
type FrameGrabber interface {
	GrabFrame(ctx context.Context) (image.Image, error)
}

// Opener creates engine instances.
type Opener interface {
	Open(sink Sink, opts OpenOptions) (Engine, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(sink Sink, opts OpenOptions) (Engine, error)

// Open calls f(sink, opts).
func (f OpenerFunc) Open(sink Sink, opts OpenOptions) (Engine, error) {
	return f(sink, opts)
}
