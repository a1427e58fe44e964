package mpv

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/osa030/19watch/internal/domain/media"
)

// mpv event names
const (
	eventPropertyChange  = "property-change"
	eventStartFile       = "start-file"
	eventFileLoaded      = "file-loaded"
	eventSeek            = "seek"
	eventPlaybackRestart = "playback-restart"
	eventEndFile         = "end-file"
)

// end-file reasons
const (
	reasonEOF   = "eof"
	reasonError = "error"
)

// observedProperties are subscribed with observe_property on startup.
var observedProperties = []string{
	"time-pos",
	"duration",
	"pause",
	"paused-for-cache",
	"demuxer-cache-state",
	"eof-reached",
}

// cacheState is the subset of demuxer-cache-state we use.
type cacheState struct {
	SeekableRanges []media.Range `json:"seekable-ranges"`
}

// translator turns mpv messages into engine events. It is only used from
// the event dispatch goroutine.
type translator struct {
	loaded  bool
	paused  bool
	ended   bool
	timePos float64
}

func (t *translator) translate(msg message) []media.Event {
	switch msg.Event {
	case eventPropertyChange:
		return t.property(msg.Name, msg.Data)

	case eventStartFile:
		t.loaded = false
		t.ended = false
		t.timePos = 0

	case eventFileLoaded:
		t.loaded = true
		t.ended = false
		return []media.Event{{Kind: lo.Ternary(t.paused, media.EventPaused, media.EventPlaying)}}

	case eventSeek:
		if t.loaded {
			return []media.Event{{Kind: media.EventSeeking, Time: t.timePos}}
		}

	case eventPlaybackRestart:
		if t.loaded {
			return []media.Event{{Kind: media.EventSeeked, Time: t.timePos}}
		}

	case eventEndFile:
		t.loaded = false
		switch msg.Reason {
		case reasonError:
			return []media.Event{{
				Kind: media.EventError,
				Err:  errors.Newf("playback failed: %s", lo.Ternary(msg.FileError != "", msg.FileError, "unknown error")),
			}}
		case reasonEOF:
			return t.end()
		}
	}
	return nil
}

func (t *translator) property(name string, data json.RawMessage) []media.Event {
	switch name {
	case "time-pos":
		pos, ok := decode[float64](data)
		if !ok {
			return nil
		}
		t.timePos = pos
		if t.loaded {
			return []media.Event{{Kind: media.EventTimeUpdate, Time: pos}}
		}

	case "duration":
		if d, ok := decode[float64](data); ok {
			return []media.Event{{Kind: media.EventMetadata, Duration: d}}
		}

	case "pause":
		paused, ok := decode[bool](data)
		if !ok {
			return nil
		}
		t.paused = paused
		// Before file-loaded the flag only reflects the requested state.
		if t.loaded && !t.ended {
			return []media.Event{{Kind: lo.Ternary(paused, media.EventPaused, media.EventPlaying)}}
		}

	case "paused-for-cache":
		stalled, ok := decode[bool](data)
		if ok && t.loaded {
			return []media.Event{{Kind: lo.Ternary(stalled, media.EventStalled, media.EventResumed)}}
		}

	case "demuxer-cache-state":
		if state, ok := decode[cacheState](data); ok {
			return []media.Event{{Kind: media.EventProgress, Ranges: state.SeekableRanges}}
		}

	case "eof-reached":
		if eof, ok := decode[bool](data); ok && eof && t.loaded {
			return t.end()
		}
	}
	return nil
}

func (t *translator) end() []media.Event {
	if t.ended {
		return nil
	}
	t.ended = true
	return []media.Event{{Kind: media.EventEnded, Time: t.timePos}}
}

// decode unmarshals data; null or malformed data reports false.
func decode[T any](data json.RawMessage) (T, bool) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false
	}
	return v, true
}
