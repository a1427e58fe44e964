// Package preview provides the scrub preview pipeline: a secondary, muted
// engine instance that seeks to hovered timeline positions and captures
// still frames without touching primary playback.
package preview

import (
	"context"
	"image"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/samber/mo"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19watch/internal/app/notification"
	"github.com/osa030/19watch/internal/app/timer"
	"github.com/osa030/19watch/internal/domain/media"
)

// Errors
var (
	ErrDisposed        = errors.New("preview pipeline is disposed")
	ErrNoSource        = errors.New("preview source is not set")
	ErrUnknownDuration = errors.New("duration is not known yet")
	ErrCaptureTimeout  = errors.New("preview capture timed out")
	ErrNoFrameGrabber  = errors.New("engine cannot capture frames")
)

// seekTolerance is how far a reported seek position may be from the
// requested offset and still count as its completion.
const seekTolerance = 0.5

// Config holds pipeline configuration.
type Config struct {
	Debounce       time.Duration // Pointer stability required before seeking
	CaptureTimeout time.Duration // Seek-and-capture deadline
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		Debounce:       50 * time.Millisecond,
		CaptureTimeout: 500 * time.Millisecond,
	}
}

// Encoder turns a decoded frame into a displayable still.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	ContentType() string
}

// Pipeline produces timeline thumbnails. It owns its engine instance
// exclusively and never observes the primary one.
type Pipeline struct {
	mu sync.Mutex

	config  Config
	clock   timer.Clock
	opener  media.Opener
	encoder Encoder
	hub     *notification.Hub[Preview]

	url        string
	engine     media.Engine
	grabber    media.FrameGrabber
	generation uint64

	nextID  uint64
	current Request
	frame   mo.Option[Frame]

	debounce     *timer.Debouncer
	timeout      timer.Timer
	timeoutToken uint64
	cancelGrab   context.CancelFunc

	// One seek at a time; a newer capture waits for the in-flight seek.
	seeking     bool
	seekStarted bool // Engine reported the in-flight seek as started
	seekID      uint64
	seekTarget  float64
	queuedID    uint64
	grabID      uint64 // Request whose frame grab has been started

	wg     sync.WaitGroup
	closed bool
}

// NewPipeline creates a pipeline with no engine; one is opened on the
// first capture.
func NewPipeline(config Config, opener media.Opener, encoder Encoder, clock timer.Clock) *Pipeline {
	if clock == nil {
		clock = timer.Real()
	}
	return &Pipeline{
		config:   config,
		clock:    clock,
		opener:   opener,
		encoder:  encoder,
		hub:      notification.NewHub[Preview](),
		frame:    mo.None[Frame](),
		debounce: timer.NewDebouncer(clock, config.Debounce),
	}
}

// SetSource points the pipeline at a media URL. A changed URL disposes the
// current engine instance.
func (p *Pipeline) SetSource(url string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrDisposed
	}
	if p.url == url {
		p.mu.Unlock()
		return nil
	}
	p.url = url
	publish := p.resetLocked()
	p.mu.Unlock()
	publish()
	return nil
}

// Sample issues a preview request for fraction of duration. Any prior
// request is superseded immediately; the capture starts once the pointer
// has been stable for the debounce window.
func (p *Pipeline) Sample(fraction, duration float64) (Request, error) {
	if !(duration > 0) {
		return Request{}, ErrUnknownDuration
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Request{}, ErrDisposed
	}
	if p.url == "" {
		p.mu.Unlock()
		return Request{}, ErrNoSource
	}

	p.supersedeLocked()
	p.nextID++
	p.current = Request{
		ID:         p.nextID,
		TimeOffset: lo.Clamp(fraction, 0, 1) * duration,
		Status:     StatusPending,
	}
	req := p.current
	p.debounce.Trigger(func() {
		p.capture(req.ID)
	})
	publish := p.changedLocked()
	p.mu.Unlock()
	publish()

	return req, nil
}

// Leave cancels pending work and disposes the engine instance. It is
// called when the pointer leaves the timeline.
func (p *Pipeline) Leave() {
	p.debounce.Cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	publish := p.resetLocked()
	p.mu.Unlock()
	publish()
}

// Close disposes the pipeline. In-flight captures are abandoned.
func (p *Pipeline) Close() error {
	p.debounce.Cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.supersedeLocked()
	p.stopCaptureLocked()
	p.disposeEngineLocked()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	p.hub.Close()
	return nil
}

// Current returns the latest request and its frame, if resolved.
func (p *Pipeline) Current() Preview {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// OnChange registers a listener called whenever the displayed preview
// changes. The returned function unsubscribes it.
func (p *Pipeline) OnChange(listener func(Preview)) func() {
	id := p.hub.Subscribe(listener)
	return func() { p.hub.Unsubscribe(id) }
}

// capture starts the seek for request id once the debounce window elapsed.
func (p *Pipeline) capture(id uint64) {
	p.mu.Lock()
	if p.closed || !p.isPendingLocked(id) {
		p.mu.Unlock()
		return
	}

	p.armTimeoutLocked(id)

	publish := func() {}
	if err := p.ensureEngineLocked(); err != nil {
		publish = p.failLocked(id, err)
	} else if p.seeking {
		p.queuedID = id
	} else {
		publish = p.seekLocked()
	}
	p.mu.Unlock()
	publish()
}

func (p *Pipeline) ensureEngineLocked() error {
	if p.engine != nil {
		return nil
	}

	gen := p.generation
	engine, err := p.opener.Open(p.sink(gen), media.OpenOptions{
		Muted:  true,
		Hidden: true,
		Title:  "preview",
	})
	if err != nil {
		return errors.Wrap(err, "failed to open preview engine")
	}
	grabber, ok := engine.(media.FrameGrabber)
	if !ok {
		_ = engine.Close()
		return ErrNoFrameGrabber
	}
	if err := engine.Load(p.url); err != nil {
		_ = engine.Close()
		return errors.Wrap(err, "failed to load preview source")
	}

	p.engine = engine
	p.grabber = grabber
	zlog.Debug().Msgf("preview: engine opened: url=%s", p.url)
	return nil
}

func (p *Pipeline) seekLocked() func() {
	req := p.current
	if err := p.engine.Seek(req.TimeOffset); err != nil {
		return p.failLocked(req.ID, errors.Wrap(err, "preview seek failed"))
	}
	p.seeking = true
	p.seekStarted = false
	p.seekID = req.ID
	p.seekTarget = req.TimeOffset
	p.queuedID = 0
	return func() {}
}

func (p *Pipeline) sink(gen uint64) media.Sink {
	return func(ev media.Event) {
		p.handleEvent(gen, ev)
	}
}

func (p *Pipeline) handleEvent(gen uint64, ev media.Event) {
	p.mu.Lock()
	if p.closed || gen != p.generation {
		p.mu.Unlock()
		return
	}

	publish := func() {}
	switch ev.Kind {
	case media.EventSeeking:
		if p.seeking {
			p.seekStarted = true
		}

	case media.EventSeeked:
		if !p.acknowledgesSeekLocked(ev) {
			zlog.Debug().Msgf("preview: ignored playback restart at %.2fs: request=%d", ev.Time, p.seekID)
			break
		}
		p.seeking = false
		p.seekStarted = false
		switch {
		case p.isPendingLocked(p.seekID):
			p.grabLocked(p.seekID)
		case p.queuedID != 0 && p.isPendingLocked(p.queuedID):
			publish = p.seekLocked()
		}

	case media.EventError:
		p.seeking = false
		if p.current.Status == StatusPending {
			err := ev.Err
			if err == nil {
				err = errors.New("engine failure")
			}
			publish = p.failLocked(p.current.ID, errors.Wrap(err, "preview engine"))
		}
		// Reopened on the next capture.
		p.disposeEngineLocked()
	}
	p.mu.Unlock()
	publish()
}

// acknowledgesSeekLocked reports whether ev completes the in-flight seek.
// A freshly loaded engine restarts playback at its start position without
// any seek, which must not be taken for the requested frame.
func (p *Pipeline) acknowledgesSeekLocked(ev media.Event) bool {
	if !p.seeking {
		return false
	}
	return p.seekStarted || math.Abs(ev.Time-p.seekTarget) <= seekTolerance
}

// grabLocked reads the decoded frame off the engine in the background, at
// most once per request.
func (p *Pipeline) grabLocked(id uint64) {
	if p.grabID == id {
		return
	}
	p.grabID = id
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelGrab = cancel
	grabber := p.grabber
	encoder := p.encoder

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		img, err := grabber.GrabFrame(ctx)
		if err != nil {
			p.resolve(id, nil, errors.Wrap(err, "failed to grab frame"))
			return
		}
		data, err := encoder.Encode(img)
		if err != nil {
			p.resolve(id, nil, errors.Wrap(err, "failed to encode frame"))
			return
		}
		p.resolve(id, data, nil)
	}()
}

// resolve applies a capture result. Results for anything but the latest
// pending request are dropped.
func (p *Pipeline) resolve(id uint64, data []byte, err error) {
	p.mu.Lock()
	if p.closed || !p.isPendingLocked(id) {
		p.mu.Unlock()
		zlog.Debug().Msgf("preview: dropped stale result: request=%d", id)
		return
	}

	p.stopTimeoutLocked()
	p.cancelGrab = nil

	var publish func()
	if err != nil {
		publish = p.failLocked(id, err)
	} else {
		p.current.Status = StatusResolved
		p.frame = mo.Some(Frame{
			RequestID:   id,
			TimeOffset:  p.current.TimeOffset,
			Data:        data,
			ContentType: p.encoder.ContentType(),
		})
		publish = p.changedLocked()
	}
	p.mu.Unlock()
	publish()
}

func (p *Pipeline) armTimeoutLocked(id uint64) {
	p.stopTimeoutLocked()
	p.timeoutToken++
	token := p.timeoutToken
	p.timeout = p.clock.AfterFunc(p.config.CaptureTimeout, func() {
		p.onTimeout(token, id)
	})
}

func (p *Pipeline) stopTimeoutLocked() {
	if p.timeout != nil {
		p.timeout.Stop()
		p.timeout = nil
	}
	p.timeoutToken++
}

func (p *Pipeline) onTimeout(token, id uint64) {
	p.mu.Lock()
	if p.closed || token != p.timeoutToken || !p.isPendingLocked(id) {
		p.mu.Unlock()
		return
	}
	p.timeout = nil

	if p.seeking {
		// The engine never acknowledged the seek; a late acknowledgement
		// would be mistaken for the next one.
		p.disposeEngineLocked()
	}
	publish := p.failLocked(id, ErrCaptureTimeout)
	p.mu.Unlock()
	publish()
}

// failLocked marks request id failed. A failed request renders no image.
func (p *Pipeline) failLocked(id uint64, err error) func() {
	if !p.isPendingLocked(id) {
		return func() {}
	}
	zlog.Debug().Msgf("preview: capture failed: request=%d err=%v", id, err)

	p.stopTimeoutLocked()
	if p.cancelGrab != nil {
		p.cancelGrab()
		p.cancelGrab = nil
	}
	p.current.Status = StatusFailed
	p.frame = mo.None[Frame]()
	return p.changedLocked()
}

func (p *Pipeline) supersedeLocked() {
	if p.current.Status == StatusPending {
		p.current.Status = StatusSuperseded
	}
	p.frame = mo.None[Frame]()
	p.stopTimeoutLocked()
	if p.cancelGrab != nil {
		p.cancelGrab()
		p.cancelGrab = nil
	}
}

func (p *Pipeline) stopCaptureLocked() {
	p.stopTimeoutLocked()
	if p.cancelGrab != nil {
		p.cancelGrab()
		p.cancelGrab = nil
	}
	p.queuedID = 0
}

// resetLocked drops the current request and the engine instance.
func (p *Pipeline) resetLocked() func() {
	p.supersedeLocked()
	p.stopCaptureLocked()
	p.disposeEngineLocked()
	p.current = Request{}
	return p.changedLocked()
}

func (p *Pipeline) disposeEngineLocked() {
	p.seeking = false
	p.seekStarted = false
	p.queuedID = 0
	if p.engine == nil {
		return
	}
	if err := p.engine.Close(); err != nil {
		zlog.Warn().Msgf("preview: failed to close engine: %v", err)
	}
	p.engine = nil
	p.grabber = nil
	p.generation++
	zlog.Debug().Msg("preview: engine disposed")
}

func (p *Pipeline) isPendingLocked(id uint64) bool {
	return id != 0 && id == p.current.ID && p.current.Status == StatusPending
}

func (p *Pipeline) changedLocked() func() {
	seq := p.hub.NextSequenceNo()
	snap := p.snapshotLocked()
	return func() {
		p.hub.Publish(seq, snap)
	}
}

func (p *Pipeline) snapshotLocked() Preview {
	return Preview{Request: p.current, Frame: p.frame}
}
