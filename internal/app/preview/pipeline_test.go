package preview

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19watch/internal/app/timer"
	"github.com/osa030/19watch/internal/domain/media"
)

type fakeEngine struct {
	mu     sync.Mutex
	sink   media.Sink
	opts   media.OpenOptions
	calls  []string
	grabs  int
	closed bool

	// frames feeds GrabFrame, which blocks until a frame arrives or ctx ends.
	frames chan image.Image
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
	e.mu.Lock()
	e.grabs++
	e.mu.Unlock()

	select {
	case img := <-e.frames:
		return img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) Grabs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grabs
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
	e := &fakeEngine{sink: sink, opts: opts, frames: make(chan image.Image, 1)}
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
	return o.engines[len(o.engines)-1]
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(img image.Image) ([]byte, error) {
	b := img.Bounds()
	return []byte(fmt.Sprintf("%dx%d", b.Dx(), b.Dy())), nil
}

func (fakeEncoder) ContentType() string { return "image/test" }

const testURL = "https://cdn.example.com/title-1.mp4"

func newTestPipeline(t *testing.T) (*Pipeline, *fakeOpener, *timer.Fake) {
	t.Helper()
	clock := timer.NewFake(time.Unix(0, 0))
	opener := &fakeOpener{}
	p := NewPipeline(DefaultConfig(), opener, fakeEncoder{}, clock)
	require.NoError(t, p.SetSource(testURL))
	t.Cleanup(func() { _ = p.Close() })
	return p, opener, clock
}

func frame(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestPipeline_Debounce(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	req, err := p.Sample(0.5, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), req.ID)
	assert.Equal(t, 50.0, req.TimeOffset)
	assert.Equal(t, StatusPending, p.Current().Request.Status)

	clock.Advance(49 * time.Millisecond)
	assert.Equal(t, 0, opener.count())

	clock.Advance(time.Millisecond)
	require.Equal(t, 1, opener.count())
	e := opener.last()
	assert.True(t, e.opts.Muted)
	assert.True(t, e.opts.Hidden)
	assert.Equal(t, []string{"load " + testURL, "seek 50"}, e.Calls())
}

func TestPipeline_FastDragSeeksOnce(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	for i := 1; i <= 5; i++ {
		_, err := p.Sample(float64(i)/10, 100)
		require.NoError(t, err)
		clock.Advance(20 * time.Millisecond)
	}
	clock.Advance(50 * time.Millisecond)

	require.Equal(t, 1, opener.count())
	assert.Equal(t, []string{"load " + testURL, "seek 50"}, opener.last().Calls())
	assert.Equal(t, uint64(5), p.Current().Request.ID)
}

func TestPipeline_Resolve(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	_, err := p.Sample(0.25, 200)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)

	e := opener.last()
	e.frames <- frame(1280, 720)
	e.sink(media.Event{Kind: media.EventSeeked, Time: 50})

	require.Eventually(t, func() bool {
		return p.Current().Request.Status == StatusResolved
	}, time.Second, time.Millisecond)

	f := p.Current().Frame.MustGet()
	assert.Equal(t, uint64(1), f.RequestID)
	assert.Equal(t, 50.0, f.TimeOffset)
	assert.Equal(t, []byte("1280x720"), f.Data)
	assert.Equal(t, "image/test", f.ContentType)
}

func TestPipeline_StartupRestartIgnored(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	_, err := p.Sample(0.5, 100)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)
	e := opener.last()
	require.Equal(t, []string{"load " + testURL, "seek 50"}, e.Calls())

	// The first frame of a freshly loaded instance is not the requested one.
	e.frames <- frame(320, 180)
	e.sink(media.Event{Kind: media.EventSeeked, Time: 0})
	assert.Never(t, func() bool {
		return p.Current().Request.Status != StatusPending
	}, 50*time.Millisecond, time.Millisecond)
	assert.Equal(t, 0, e.Grabs())

	e.sink(media.Event{Kind: media.EventSeeking, Time: 0})
	e.sink(media.Event{Kind: media.EventSeeked, Time: 50})
	require.Eventually(t, func() bool {
		return p.Current().Request.Status == StatusResolved
	}, time.Second, time.Millisecond)
	assert.Equal(t, 50.0, p.Current().Frame.MustGet().TimeOffset)
}

func TestPipeline_SeekStartedAcceptsAnyPosition(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	_, err := p.Sample(0.5, 100)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)
	e := opener.last()

	// Position updates can trail the restart event once the seek is known.
	e.frames <- frame(320, 180)
	e.sink(media.Event{Kind: media.EventSeeking, Time: 0})
	e.sink(media.Event{Kind: media.EventSeeked, Time: 0})
	require.Eventually(t, func() bool {
		return p.Current().Request.Status == StatusResolved
	}, time.Second, time.Millisecond)
}

func TestPipeline_RepeatedSeekCompletionGrabsOnce(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	_, err := p.Sample(0.5, 100)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)
	e := opener.last()

	e.sink(media.Event{Kind: media.EventSeeked, Time: 50})
	e.sink(media.Event{Kind: media.EventSeeked, Time: 50})
	require.Eventually(t, func() bool {
		return e.Grabs() == 1
	}, time.Second, time.Millisecond)

	e.frames <- frame(320, 180)
	require.Eventually(t, func() bool {
		return p.Current().Request.Status == StatusResolved
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, e.Grabs())
}

func TestPipeline_StaleResultSuppression(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	var mu sync.Mutex
	var rendered []uint64
	p.OnChange(func(pv Preview) {
		if f, ok := pv.Frame.Get(); ok {
			mu.Lock()
			rendered = append(rendered, f.RequestID)
			mu.Unlock()
		}
	})

	for i := 1; i <= 3; i++ {
		req, err := p.Sample(float64(i)/10, 100)
		require.NoError(t, err)
		require.Equal(t, uint64(i), req.ID)
	}

	p.resolve(3, []byte("three"), nil)
	p.resolve(1, []byte("one"), nil)
	p.resolve(2, []byte("two"), nil)

	mu.Lock()
	assert.Equal(t, []uint64{3}, rendered)
	mu.Unlock()
	assert.Equal(t, []byte("three"), p.Current().Frame.MustGet().Data)
}

func TestPipeline_SupersededCaptureDropped(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	_, err := p.Sample(0.1, 100)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)
	e := opener.last()
	e.sink(media.Event{Kind: media.EventSeeked, Time: 10})

	// A newer request arrives while the first frame is being read.
	_, err = p.Sample(0.9, 100)
	require.NoError(t, err)
	e.frames <- frame(16, 9)

	assert.Never(t, func() bool {
		return p.Current().Frame.IsPresent()
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, StatusPending, p.Current().Request.Status)
	assert.Equal(t, uint64(2), p.Current().Request.ID)
}

func TestPipeline_QueuedSeek(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	_, err := p.Sample(0.1, 100)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)

	_, err = p.Sample(0.9, 100)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)

	e := opener.last()
	assert.Equal(t, []string{"load " + testURL, "seek 10"}, e.Calls())

	// The first seek's acknowledgement releases the queued one.
	e.sink(media.Event{Kind: media.EventSeeked, Time: 10})
	assert.Equal(t, []string{"load " + testURL, "seek 10", "seek 90"}, e.Calls())

	e.frames <- frame(16, 9)
	e.sink(media.Event{Kind: media.EventSeeked, Time: 90})
	require.Eventually(t, func() bool {
		return p.Current().Request.Status == StatusResolved
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(2), p.Current().Frame.MustGet().RequestID)
}

func TestPipeline_Timeout(t *testing.T) {
	t.Run("Seek never acknowledged", func(t *testing.T) {
		p, opener, clock := newTestPipeline(t)

		_, err := p.Sample(0.5, 100)
		require.NoError(t, err)
		clock.Advance(50 * time.Millisecond)
		clock.Advance(499 * time.Millisecond)
		assert.Equal(t, StatusPending, p.Current().Request.Status)

		clock.Advance(time.Millisecond)
		cur := p.Current()
		assert.Equal(t, StatusFailed, cur.Request.Status)
		assert.True(t, cur.Frame.IsAbsent())
		assert.True(t, opener.last().Closed())

		// The next sample opens a fresh instance.
		_, err = p.Sample(0.6, 100)
		require.NoError(t, err)
		clock.Advance(50 * time.Millisecond)
		assert.Equal(t, 2, opener.count())
	})

	t.Run("Frame never delivered", func(t *testing.T) {
		p, opener, clock := newTestPipeline(t)

		_, err := p.Sample(0.5, 100)
		require.NoError(t, err)
		clock.Advance(50 * time.Millisecond)
		opener.last().sink(media.Event{Kind: media.EventSeeked, Time: 50})

		clock.Advance(500 * time.Millisecond)
		assert.Equal(t, StatusFailed, p.Current().Request.Status)
		assert.True(t, p.Current().Frame.IsAbsent())
	})
}

func TestPipeline_EngineError(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	_, err := p.Sample(0.5, 100)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)

	e := opener.last()
	e.sink(media.Event{Kind: media.EventError, Err: errors.New("decode failure")})
	assert.Equal(t, StatusFailed, p.Current().Request.Status)
	assert.True(t, e.Closed())
}

func TestPipeline_PendingShowsNoImage(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	_, err := p.Sample(0.5, 100)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)
	opener.last().frames <- frame(16, 9)
	opener.last().sink(media.Event{Kind: media.EventSeeked, Time: 50})
	require.Eventually(t, func() bool {
		return p.Current().Frame.IsPresent()
	}, time.Second, time.Millisecond)

	_, err = p.Sample(0.7, 100)
	require.NoError(t, err)
	assert.True(t, p.Current().Frame.IsAbsent())
}

func TestPipeline_LeaveAndClose(t *testing.T) {
	p, opener, clock := newTestPipeline(t)

	_, err := p.Sample(0.5, 100)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)
	e := opener.last()

	p.Leave()
	assert.True(t, e.Closed())
	assert.Equal(t, StatusNone, p.Current().Request.Status)

	// Late events from the disposed instance are ignored.
	e.sink(media.Event{Kind: media.EventSeeked, Time: 50})
	assert.Equal(t, StatusNone, p.Current().Request.Status)

	// IDs keep increasing across leaves.
	req, err := p.Sample(0.5, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), req.ID)

	require.NoError(t, p.Close())
	_, err = p.Sample(0.5, 100)
	assert.ErrorIs(t, err, ErrDisposed)
	assert.Equal(t, 0, clock.Pending())
}

func TestPipeline_Errors(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	_, err := p.Sample(0.5, 0)
	assert.ErrorIs(t, err, ErrUnknownDuration)

	empty := NewPipeline(DefaultConfig(), &fakeOpener{}, fakeEncoder{}, timer.NewFake(time.Unix(0, 0)))
	_, err = empty.Sample(0.5, 100)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestPipeline_EngineWithoutGrabber(t *testing.T) {
	clock := timer.NewFake(time.Unix(0, 0))
	opener := media.OpenerFunc(func(sink media.Sink, opts media.OpenOptions) (media.Engine, error) {
		// Hides GrabFrame.
		return struct{ media.Engine }{&fakeEngine{}}, nil
	})
	p := NewPipeline(DefaultConfig(), opener, fakeEncoder{}, clock)
	require.NoError(t, p.SetSource(testURL))
	defer p.Close()

	_, err := p.Sample(0.5, 100)
	require.NoError(t, err)
	clock.Advance(50 * time.Millisecond)
	assert.Equal(t, StatusFailed, p.Current().Request.Status)
}
