package session

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19watch/internal/app/connectivity"
	"github.com/osa030/19watch/internal/app/input"
	"github.com/osa030/19watch/internal/app/playback"
	"github.com/osa030/19watch/internal/app/preview"
	"github.com/osa030/19watch/internal/app/settings"
	"github.com/osa030/19watch/internal/app/timer"
	"github.com/osa030/19watch/internal/domain/media"
	"github.com/osa030/19watch/internal/infra/storage"
	"github.com/osa030/19watch/internal/infra/thumbnail"
)

type fakeEngine struct {
	mu     sync.Mutex
	sink   media.Sink
	opts   media.OpenOptions
	calls  []string
	closed bool
}

func (e *fakeEngine) record(format string, args ...any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, fmt.Sprintf(format, args...))
	return nil
}

func (e *fakeEngine) Load(url string) error { return e.record("load %s", url) }
func (e *fakeEngine) Play() error { return e.record("play") }
func (e *fakeEngine) Pause() error { return e.record("pause") }
func (e *fakeEngine) Seek(seconds float64) error { return e.record("seek %g", seconds) }
func (e *fakeEngine) SetVolume(v float64) error { return e.record("volume %g", v) }
func (e *fakeEngine) SetMuted(muted bool) error { return e.record("muted %t", muted) }
func (e *fakeEngine) SetRate(r float64) error { return e.record("rate %g", r) }
func (e *fakeEngine) SetFullscreen(on bool) error { return e.record("fullscreen %t", on) }

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) GrabFrame(ctx context.Context) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 320, 180)), nil
}

func (e *fakeEngine) emit(ev media.Event) {
	e.sink(ev)
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeOpener struct {
	mu      sync.Mutex
	engines []*fakeEngine
}

func (o *fakeOpener) Open(sink media.Sink, opts media.OpenOptions) (media.Engine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := &fakeEngine{sink: sink, opts: opts}
	o.engines = append(o.engines, e)
	return e, nil
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.engines)
}

func (o *fakeOpener) last() *fakeEngine {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.engines) == 0 {
		return nil
	}
	return o.engines[len(o.engines)-1]
}

type fixture struct {
	clock   *timer.Fake
	opener  *fakeOpener
	preview *fakeOpener
	store   *settings.Store
	mgr     *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := timer.NewFake(time.Unix(0, 0))
	store := settings.New(settings.Options{
		Path:       "/watch/settings.json",
		Fs:         storage.MemFs(),
		Clock:      clock,
		WriteDelay: 250 * time.Millisecond,
	})
	encoder, err := thumbnail.NewEncoder(thumbnail.Config{Width: 160, Height: 90, Format: thumbnail.FormatJPEG, Quality: 70})
	require.NoError(t, err)

	f := &fixture{
		clock:   clock,
		opener:  &fakeOpener{},
		preview: &fakeOpener{},
		store:   store,
	}
	config := DefaultConfig()
	config.Qualities = []string{"auto", "1080p"}
	f.mgr = NewManager(config, Deps{
		Opener:        f.opener,
		PreviewOpener: f.preview,
		Encoder:       encoder,
		Store:         store,
		Clock:         clock,
		Keys:          input.DefaultKeyMap(),
	})
	t.Cleanup(func() { _ = f.mgr.Close() })
	return f
}

var (
	titleA = media.Content{ID: "title-a", URL: "https://cdn.example.com/a.mp4"}
	titleB = media.Content{ID: "title-b", URL: "https://cdn.example.com/b.mp4"}
)

// playing mounts content and drives it to StatusPlaying.
func (f *fixture) playing(t *testing.T, content media.Content, duration float64) *fakeEngine {
	t.Helper()
	require.NoError(t, f.mgr.Mount(content))
	e := f.opener.last()
	e.emit(media.Event{Kind: media.EventMetadata, Duration: duration})
	e.emit(media.Event{Kind: media.EventPlaying})
	require.Equal(t, playback.StatusPlaying, f.mgr.Render().Playback.Status)
	return e
}

func TestManager_NothingMounted(t *testing.T) {
	f := newFixture(t)

	rs := f.mgr.Render()
	assert.Equal(t, playback.StatusIdle, rs.Playback.Status)
	assert.Empty(t, rs.SessionID)
	assert.Equal(t, playback.Rates, rs.Rates)

	assert.ErrorIs(t, f.mgr.Submit(playback.Play()), ErrNotMounted)
	assert.ErrorIs(t, f.mgr.ChangeContent(titleA), ErrNotMounted)
	_, err := f.mgr.HandleKey(input.Key("k"))
	assert.ErrorIs(t, err, ErrNotMounted)
}

func TestManager_Mount(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mgr.Mount(titleA))

	rs := f.mgr.Render()
	assert.Equal(t, playback.StatusLoading, rs.Playback.Status)
	assert.Equal(t, titleA, rs.Content)
	assert.NotEmpty(t, rs.SessionID)
	assert.Equal(t, []string{"auto", "1080p"}, rs.Qualities)
	assert.Equal(t, playback.Rates, rs.Rates)
	assert.True(t, rs.Preview.IsAbsent())
	assert.Equal(t, connectivity.StatusOnline, rs.Connectivity.Status)
	assert.Contains(t, f.opener.last().Calls(), "load "+titleA.URL)
}

func TestManager_RenderFollowsEngine(t *testing.T) {
	f := newFixture(t)
	e := f.playing(t, titleA, 300)

	e.emit(media.Event{Kind: media.EventTimeUpdate, Time: 60})
	e.emit(media.Event{Kind: media.EventProgress, Ranges: []media.Range{{Start: 50, End: 150}, {Start: 0, End: 60}}})

	rs := f.mgr.Render()
	assert.Equal(t, 60.0, rs.Playback.CurrentTime)
	assert.Equal(t, 300.0, rs.Playback.Duration.MustGet())
	assert.InDelta(t, 50.0, rs.Playback.BufferedAheadPercent, 1e-9)
}

func TestManager_RenderSeqIsMonotonic(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var seqs []uint64
	f.mgr.OnRender(func(rs RenderState) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, rs.Seq)
	})

	e := f.playing(t, titleA, 300)
	e.emit(media.Event{Kind: media.EventTimeUpdate, Time: 1})
	f.mgr.ReportConnectivity(false)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seqs)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
	assert.Equal(t, f.mgr.Render().Seq, seqs[len(seqs)-1])
}

func TestManager_Shortcuts(t *testing.T) {
	f := newFixture(t)
	e := f.playing(t, titleA, 300)
	e.emit(media.Event{Kind: media.EventTimeUpdate, Time: 100})

	handled, err := f.mgr.HandleKey(input.Key("right"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, e.Calls(), "seek 105")
	assert.Equal(t, playback.StatusSeeking, f.mgr.Render().Playback.Status)

	handled, err = f.mgr.HandleKey(input.Key("z"))
	require.NoError(t, err)
	assert.False(t, handled)

	_, err = f.mgr.HandleKey(input.Key("m"))
	require.NoError(t, err)
	assert.True(t, f.mgr.Render().Playback.Muted)
}

func TestManager_ChangeContentFlushesResume(t *testing.T) {
	f := newFixture(t)
	first := f.playing(t, titleA, 300)
	first.emit(media.Event{Kind: media.EventTimeUpdate, Time: 120})

	// Same content is a no-op.
	require.NoError(t, f.mgr.ChangeContent(titleA))
	assert.Equal(t, 1, f.opener.count())

	require.NoError(t, f.mgr.ChangeContent(titleB))
	assert.True(t, first.Closed())
	assert.Equal(t, 2, f.opener.count())

	snap, err := f.store.Load(titleA.ID)
	require.NoError(t, err)
	assert.Equal(t, 120.0, snap.Entry.MustGet().ResumePosition)

	// The old engine can no longer move the render state.
	first.emit(media.Event{Kind: media.EventEnded})
	rs := f.mgr.Render()
	assert.Equal(t, titleB, rs.Content)
	assert.Equal(t, playback.StatusLoading, rs.Playback.Status)
}

func TestManager_ScrubPreview(t *testing.T) {
	f := newFixture(t)
	f.playing(t, titleA, 300)

	require.NoError(t, f.mgr.HandlePointer(input.PointerEvent{Kind: input.PointerTimelineHover, Fraction: 0.5}))

	p, ok := f.mgr.Render().Preview.Get()
	require.True(t, ok)
	assert.Equal(t, preview.StatusPending, p.Request.Status)
	assert.Equal(t, 150.0, p.Request.TimeOffset)
	assert.True(t, p.Frame.IsAbsent())

	f.clock.Advance(50 * time.Millisecond)
	pe := f.preview.last()
	require.NotNil(t, pe)
	assert.True(t, pe.opts.Hidden)
	assert.True(t, pe.opts.Muted)
	assert.Equal(t, []string{"load " + titleA.URL, "seek 150"}, pe.Calls())

	pe.emit(media.Event{Kind: media.EventSeeked, Time: 150})
	require.Eventually(t, func() bool {
		p, ok := f.mgr.Render().Preview.Get()
		return ok && p.Frame.IsPresent()
	}, time.Second, 5*time.Millisecond)

	frame := f.mgr.Render().Preview.MustGet().Frame.MustGet()
	assert.Equal(t, "image/jpeg", frame.ContentType)
	assert.NotEmpty(t, frame.Data)

	// Primary playback is untouched.
	assert.Equal(t, playback.StatusPlaying, f.mgr.Render().Playback.Status)

	require.NoError(t, f.mgr.HandlePointer(input.PointerEvent{Kind: input.PointerTimelineLeave}))
	assert.True(t, pe.Closed())
	assert.True(t, f.mgr.Render().Preview.IsAbsent())
}

func TestManager_ConnectivityAdvisory(t *testing.T) {
	f := newFixture(t)
	e := f.playing(t, titleA, 300)
	before := len(e.Calls())

	f.mgr.ReportConnectivity(false)
	rs := f.mgr.Render()
	assert.Equal(t, connectivity.StatusOffline, rs.Connectivity.Status)
	assert.True(t, rs.Connectivity.Advisory.IsPresent())

	// Going offline never commands the engine.
	assert.Len(t, e.Calls(), before)
	assert.Equal(t, playback.StatusPlaying, rs.Playback.Status)

	f.clock.Advance(3 * time.Second)
	assert.True(t, f.mgr.Render().Connectivity.Advisory.IsAbsent())
}

func TestManager_Unmount(t *testing.T) {
	f := newFixture(t)
	e := f.playing(t, titleA, 300)
	e.emit(media.Event{Kind: media.EventTimeUpdate, Time: 42})

	require.NoError(t, f.mgr.Unmount())
	assert.True(t, e.Closed())
	assert.Equal(t, playback.StatusIdle, f.mgr.Render().Playback.Status)
	assert.ErrorIs(t, f.mgr.Submit(playback.Play()), ErrNotMounted)

	snap, err := f.store.Load(titleA.ID)
	require.NoError(t, err)
	assert.Equal(t, 42.0, snap.Entry.MustGet().ResumePosition)
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t)
	e := f.playing(t, titleA, 300)

	renders := 0
	f.mgr.OnRender(func(RenderState) { renders++ })

	require.NoError(t, f.mgr.Close())
	require.NoError(t, f.mgr.Close())
	assert.True(t, e.Closed())

	e.emit(media.Event{Kind: media.EventPaused})
	f.mgr.ReportConnectivity(false)
	assert.Zero(t, renders)
	assert.ErrorIs(t, f.mgr.Submit(playback.Play()), ErrClosed)
	assert.ErrorIs(t, f.mgr.Mount(titleB), ErrClosed)
}

func TestManager_WithoutPreview(t *testing.T) {
	clock := timer.NewFake(time.Unix(0, 0))
	opener := &fakeOpener{}
	mgr := NewManager(DefaultConfig(), Deps{Opener: opener, Clock: clock, Keys: input.DefaultKeyMap()})
	defer mgr.Close()

	require.NoError(t, mgr.Mount(titleA))
	e := opener.last()
	e.emit(media.Event{Kind: media.EventMetadata, Duration: 100})

	require.NoError(t, mgr.HandlePointer(input.PointerEvent{Kind: input.PointerTimelineHover, Fraction: 0.2}))
	assert.True(t, mgr.Render().Preview.IsAbsent())
	assert.Equal(t, []string{playback.DefaultQuality}, mgr.Render().Qualities)
}
