package playback

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/samber/mo"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19watch/internal/app/buffer"
	"github.com/osa030/19watch/internal/app/notification"
	"github.com/osa030/19watch/internal/app/settings"
	"github.com/osa030/19watch/internal/app/timer"
	"github.com/osa030/19watch/internal/domain/media"
)

// Errors
var (
	ErrClosed   = errors.New("controller is closed")
	ErrNoSource = errors.New("no media source assigned")
	ErrTerminal = errors.New("playback ended or failed, reload required")
)

// Config holds controller configuration.
type Config struct {
	StallGrace          time.Duration // Stall length tolerated before entering Buffering
	ResumeWriteInterval time.Duration // Resume position write period while playing
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		StallGrace:          500 * time.Millisecond,
		ResumeWriteInterval: 3 * time.Second,
	}
}

// SettingsStore is read once per load and written through afterwards.
type SettingsStore interface {
	Load(contentID string) (settings.Snapshot, error)
	Save(contentID string, e settings.Entry) error
	ClearResume(contentID string) error
	Flush() error
}

// Controller owns the primary media engine and the canonical State.
// It is the only component allowed to command the primary engine.
type Controller struct {
	mu sync.Mutex

	id      string
	config  Config
	clock   timer.Clock
	opener  media.Opener
	store   SettingsStore
	tracker *buffer.Tracker
	hub     *notification.Hub[State]

	// Engine instance; events carrying an older generation are dropped
	content    media.Content
	engine     media.Engine
	generation uint64

	state    State
	resumeAt mo.Option[float64] // Stored position applied once duration is known

	// Timers
	stalled      bool // Engine reported a stall with no resume since
	stallTimer   timer.Timer
	stallToken   uint64
	persistTimer timer.Timer
	persistToken uint64

	closed bool
}

// NewController creates a controller in StatusIdle.
func NewController(config Config, opener media.Opener, store SettingsStore, clock timer.Clock) *Controller {
	if clock == nil {
		clock = timer.Real()
	}
	return &Controller{
		id:       uuid.New().String(),
		config:   config,
		clock:    clock,
		opener:   opener,
		store:    store,
		tracker:  buffer.NewTracker(),
		hub:      notification.NewHub[State](),
		state:    NewState(),
		resumeAt: mo.None[float64](),
	}
}

// ID returns the session identifier used in logs.
func (c *Controller) ID() string {
	return c.id
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Content returns the mounted content.
func (c *Controller) Content() media.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// OnStateChange registers a listener called after every state change.
// The returned function unsubscribes it.
func (c *Controller) OnStateChange(listener func(State)) func() {
	id := c.hub.Subscribe(listener)
	return func() { c.hub.Unsubscribe(id) }
}

// Load assigns a media source, moving the session to StatusLoading.
// Any previous engine instance is disposed first; stored volume, rate,
// mute and resume position for content.ID are applied before playback.
func (c *Controller) Load(content media.Content) error {
	if content.URL == "" {
		return ErrNoSource
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	prev := c.state
	c.teardownLocked()
	c.content = content
	c.state = NewState()
	c.tracker.Reset()
	c.restoreLocked()

	err := c.startLocked()
	if err != nil {
		c.state.Status = StatusError
		c.state.Err = err.Error()
		zlog.Error().Msgf("playback: failed to start engine: content=%s err=%v", content.ID, err)
	} else {
		c.state.Status = StatusLoading
		zlog.Info().Msgf("playback: loading: session=%s content=%s", c.id, content.ID)
	}

	publish := c.commitLocked(prev)
	c.mu.Unlock()
	publish()

	return err
}

// Submit applies a transport command.
func (c *Controller) Submit(cmd Command) error {
	if cmd.Kind == CommandReload {
		return c.reload()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.engine == nil {
		c.mu.Unlock()
		return ErrNoSource
	}

	prev := c.state
	err := c.applyLocked(cmd)
	publish := c.commitLocked(prev)
	c.mu.Unlock()
	publish()

	if err != nil {
		return errors.Wrapf(err, "command %s", cmd.Kind)
	}
	return nil
}

// Close flushes the resume position and disposes the engine. No command
// reaches the engine afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.engine != nil {
		c.persistLocked()
	}
	c.teardownLocked()
	c.closed = true
	c.mu.Unlock()

	c.hub.Close()
	zlog.Debug().Msgf("playback: closed: session=%s", c.id)

	if c.store == nil {
		return nil
	}
	return c.store.Flush()
}

func (c *Controller) reload() error {
	c.mu.Lock()
	content := c.content
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if content.URL == "" {
		return ErrNoSource
	}
	zlog.Info().Msgf("playback: reload requested: content=%s", content.ID)
	return c.Load(content)
}

// restoreLocked applies stored settings to a fresh state.
func (c *Controller) restoreLocked() {
	c.resumeAt = mo.None[float64]()
	if c.store == nil {
		return
	}

	snap, err := c.store.Load(c.content.ID)
	if err != nil {
		zlog.Warn().Msgf("playback: failed to read stored settings: content=%s err=%v", c.content.ID, err)
		return
	}

	if v, ok := snap.Volume.Get(); ok {
		c.state.Volume = ClampVolume(v, c.state.Volume)
	}
	if r, ok := snap.Rate.Get(); ok {
		c.state.PlaybackRate = SnapRate(r)
	}
	if e, ok := snap.Entry.Get(); ok {
		c.state.Volume = ClampVolume(e.Volume, c.state.Volume)
		c.state.PlaybackRate = SnapRate(e.PlaybackRate)
		c.state.Muted = e.Muted
		if e.ResumePosition > 0 {
			c.resumeAt = mo.Some(e.ResumePosition)
		}
	}
}

// startLocked opens an engine, applies volume and rate before the first
// frame and makes the automatic play attempt.
func (c *Controller) startLocked() error {
	gen := c.generation
	engine, err := c.opener.Open(c.sink(gen), media.OpenOptions{
		Muted: c.state.Muted,
		Title: c.content.ID,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open media engine")
	}
	c.engine = engine

	steps := []struct {
		name string
		fn   func() error
	}{
		{"set volume", func() error { return engine.SetVolume(c.state.Volume) }},
		{"set muted", func() error { return engine.SetMuted(c.state.Muted) }},
		{"set rate", func() error { return engine.SetRate(c.state.PlaybackRate) }},
		{"load", func() error { return engine.Load(c.content.URL) }},
		{"play", engine.Play},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return errors.Wrapf(err, "failed to %s", step.name)
		}
	}
	return nil
}

func (c *Controller) sink(gen uint64) media.Sink {
	return func(ev media.Event) {
		c.handleEvent(gen, ev)
	}
}

// handleEvent applies engine events in arrival order.
func (c *Controller) handleEvent(gen uint64, ev media.Event) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}

	prev := c.state
	switch ev.Kind {
	case media.EventProgress:
		c.state.Buffered = c.tracker.Update(ev.Ranges)
	case media.EventStalled:
		c.stalled = true
	case media.EventResumed, media.EventEnded, media.EventError:
		c.stalled = false
		c.cancelStallLocked()
		c.state = Apply(c.state, ev)
	default:
		c.state = Apply(c.state, ev)
	}

	switch {
	case ev.Kind == media.EventMetadata:
		c.applyResumeLocked()
	case c.state.Status == StatusEnded && prev.Status != StatusEnded:
		zlog.Info().Msgf("playback: ended: content=%s", c.content.ID)
		c.resumeAt = mo.None[float64]()
		if c.store != nil {
			if err := c.store.ClearResume(c.content.ID); err != nil {
				zlog.Warn().Msgf("playback: failed to clear resume position: %v", err)
			}
		}
	case c.state.Status == StatusError && prev.Status != StatusError:
		zlog.Error().Msgf("playback: engine failure: content=%s err=%s", c.content.ID, c.state.Err)
	case c.state.Status == StatusPaused && prev.Status != StatusPaused:
		c.persistLocked()
	}

	publish := c.commitLocked(prev)
	c.mu.Unlock()
	publish()
}

// applyResumeLocked seeks to the stored position once the duration is known.
func (c *Controller) applyResumeLocked() {
	pos, ok := c.resumeAt.Get()
	if !ok || c.state.Duration.IsAbsent() {
		return
	}
	c.resumeAt = mo.None[float64]()

	if err := c.seekLocked(pos); err != nil {
		zlog.Warn().Msgf("playback: failed to restore resume position: %v", err)
		return
	}
	zlog.Info().Msgf("playback: resumed at %.1fs: content=%s", c.state.CurrentTime, c.content.ID)
}

func (c *Controller) applyLocked(cmd Command) error {
	s := &c.state

	switch cmd.Kind {
	case CommandTogglePlay:
		if s.Status == StatusPlaying || s.Status == StatusBuffering ||
			(s.Status == StatusSeeking && s.Intent == StatusPlaying) {
			return c.applyLocked(Pause())
		}
		return c.applyLocked(Play())

	case CommandPlay:
		if s.Status.Terminal() {
			return ErrTerminal
		}
		switch s.Status {
		case StatusPlaying, StatusBuffering:
			return nil
		case StatusSeeking:
			s.Intent = StatusPlaying
		case StatusPaused:
			s.Status = StatusPlaying
		}
		s.GestureRequired = false
		return c.engine.Play()

	case CommandPause:
		if s.Status.Terminal() {
			return ErrTerminal
		}
		switch s.Status {
		case StatusPaused:
			return nil
		case StatusSeeking:
			s.Intent = StatusPaused
		default:
			s.Status = StatusPaused
			c.cancelStallLocked()
		}
		if err := c.engine.Pause(); err != nil {
			return err
		}
		c.persistLocked()
		return nil

	case CommandSeekTo:
		if s.Status.Terminal() {
			return ErrTerminal
		}
		return c.seekLocked(cmd.Value)

	case CommandSetVolume:
		wasMuted := s.Muted
		s.Volume = ClampVolume(cmd.Value, s.Volume)
		s.Muted = false
		if err := c.engine.SetVolume(s.Volume); err != nil {
			return err
		}
		if wasMuted {
			if err := c.engine.SetMuted(false); err != nil {
				return err
			}
		}
		c.persistLocked()
		return nil

	case CommandToggleMute:
		s.Muted = !s.Muted
		if err := c.engine.SetMuted(s.Muted); err != nil {
			return err
		}
		c.persistLocked()
		return nil

	case CommandSetRate:
		s.PlaybackRate = SnapRate(cmd.Value)
		if err := c.engine.SetRate(s.PlaybackRate); err != nil {
			return err
		}
		c.persistLocked()
		return nil

	case CommandToggleFullscreen:
		s.Fullscreen = !s.Fullscreen
		return c.engine.SetFullscreen(s.Fullscreen)

	default:
		return errors.Newf("unsupported command: %s", cmd.Kind)
	}
}

// seekLocked commands the engine and enters StatusSeeking. While loading
// the status is kept so the automatic play attempt still decides the outcome.
func (c *Controller) seekLocked(t float64) error {
	t = ClampTime(c.state, t)
	if err := c.engine.Seek(t); err != nil {
		return err
	}

	c.cancelStallLocked()
	c.state.CurrentTime = t
	switch c.state.Status {
	case StatusLoading, StatusSeeking:
	default:
		c.state.Intent = IntentOf(c.state.Status)
		c.state.Status = StatusSeeking
	}
	return nil
}

// syncStallLocked runs the grace timer exactly while a stall is
// outstanding in StatusPlaying. A stall that began while seeking or paused
// starts its grace window once playback resumes.
func (c *Controller) syncStallLocked() {
	if c.state.Status != StatusPlaying || !c.stalled {
		if c.stallTimer != nil {
			c.cancelStallLocked()
		}
		return
	}
	if c.stallTimer == nil {
		c.armStallLocked()
	}
}

func (c *Controller) armStallLocked() {
	c.stallToken++
	token := c.stallToken
	c.stallTimer = c.clock.AfterFunc(c.config.StallGrace, func() {
		c.onStallElapsed(token)
	})
}

func (c *Controller) cancelStallLocked() {
	if c.stallTimer != nil {
		c.stallTimer.Stop()
		c.stallTimer = nil
	}
	c.stallToken++
}

func (c *Controller) onStallElapsed(token uint64) {
	c.mu.Lock()
	if c.closed || token != c.stallToken {
		c.mu.Unlock()
		return
	}
	c.stallTimer = nil

	prev := c.state
	c.state = StallElapsed(c.state)
	if c.state.Status == StatusBuffering {
		zlog.Info().Msgf("playback: stall exceeded %v, buffering: content=%s", c.config.StallGrace, c.content.ID)
	}
	publish := c.commitLocked(prev)
	c.mu.Unlock()
	publish()
}

// schedulePersistLocked keeps the periodic resume write running exactly
// while the position is advancing.
func (c *Controller) schedulePersistLocked() {
	if c.state.Status == StatusPlaying && c.engine != nil && !c.closed {
		if c.persistTimer == nil {
			c.armPersistLocked()
		}
		return
	}
	c.stopPersistLocked()
}

func (c *Controller) armPersistLocked() {
	c.persistToken++
	token := c.persistToken
	c.persistTimer = c.clock.AfterFunc(c.config.ResumeWriteInterval, func() {
		c.onPersistTick(token)
	})
}

func (c *Controller) stopPersistLocked() {
	if c.persistTimer != nil {
		c.persistTimer.Stop()
		c.persistTimer = nil
	}
	c.persistToken++
}

func (c *Controller) onPersistTick(token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || token != c.persistToken {
		return
	}
	c.persistTimer = nil
	if c.state.Status != StatusPlaying {
		return
	}
	c.persistLocked()
	c.armPersistLocked()
}

// persistLocked hands the current settings to the store, which debounces
// the actual write.
func (c *Controller) persistLocked() {
	if c.store == nil || c.content.ID == "" {
		return
	}

	pos := c.state.CurrentTime
	if r, ok := c.resumeAt.Get(); ok {
		// Resume seek not applied yet; keep the stored position.
		pos = r
	}
	if c.state.Status == StatusEnded {
		pos = 0
	}

	err := c.store.Save(c.content.ID, settings.Entry{
		Volume:         c.state.Volume,
		PlaybackRate:   c.state.PlaybackRate,
		Muted:          c.state.Muted,
		ResumePosition: math.Max(pos, 0),
	})
	if err != nil {
		zlog.Warn().Msgf("playback: failed to persist settings: content=%s err=%v", c.content.ID, err)
	}
}

// teardownLocked stops every timer and disposes the engine.
func (c *Controller) teardownLocked() {
	c.stalled = false
	c.cancelStallLocked()
	c.stopPersistLocked()

	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			zlog.Warn().Msgf("playback: failed to close engine: %v", err)
		}
		c.engine = nil
	}
	c.generation++
}

// commitLocked finalizes a transition and returns the publish step, which
// must run after the lock is released.
func (c *Controller) commitLocked(prev State) func() {
	c.state = Derive(c.state)
	if prev.Status != c.state.Status {
		zlog.Debug().Msgf("playback: status %s -> %s: session=%s", prev.Status, c.state.Status, c.id)
	}
	c.syncStallLocked()
	c.schedulePersistLocked()

	seq := c.hub.NextSequenceNo()
	snap := c.snapshotLocked()
	return func() {
		c.hub.Publish(seq, snap)
	}
}

func (c *Controller) snapshotLocked() State {
	snap := c.state
	snap.Buffered = slices.Clone(c.state.Buffered)
	return snap
}
