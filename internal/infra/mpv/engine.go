package mpv

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/spf13/afero"

	"github.com/osa030/19watch/internal/domain/media"
)

const socketPollInterval = 50 * time.Millisecond

// Opener starts one mpv process per engine.
type Opener struct {
	config Config
	fs     afero.Fs
}

// NewOpener creates an opener. fs must be the OS filesystem in production:
// mpv writes screenshots there.
func NewOpener(config Config, fs afero.Fs) *Opener {
	return &Opener{config: config, fs: fs}
}

// Open starts mpv and connects to its IPC socket.
func (o *Opener) Open(sink media.Sink, opts media.OpenOptions) (media.Engine, error) {
	dir := lo.Ternary(o.config.SocketDir != "", o.config.SocketDir, os.TempDir())
	socketPath := filepath.Join(dir, fmt.Sprintf("19watch-%s.sock", uuid.NewString()[:8]))

	cmd := exec.Command(o.config.Path, buildArgs(o.config, socketPath, opts)...)

	// Detach from the parent process group.
	cmd.SysProcAttr = sysProcAttr()
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start mpv")
	}

	// Reap the process
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	conn, err := waitForSocket(socketPath, exited, o.config.StartTimeout())
	if err != nil {
		select {
		case <-exited:
		default:
			zlog.Warn().Msg("mpv: killing process, socket never became ready")
			_ = killProcess(cmd)
		}
		_ = o.fs.Remove(socketPath)
		return nil, errors.Wrap(err, "mpv socket not ready")
	}

	e := newEngine(conn, sink, opts, o.config, o.fs)
	e.cmd = cmd
	e.exited = exited
	e.socketPath = socketPath

	if err := e.observe(); err != nil {
		_ = e.Close()
		return nil, err
	}
	zlog.Debug().Msgf("mpv: started pid=%d socket=%s", cmd.Process.Pid, socketPath)
	return e, nil
}

// buildArgs assembles the mpv command line. The media URL is never passed
// here; it is loaded over IPC.
func buildArgs(config Config, socketPath string, opts media.OpenOptions) []string {
	args := []string{
		"--idle=yes",
		"--no-terminal",
		"--really-quiet",
		"--keep-open=yes",
		"--input-ipc-server=" + socketPath,
	}

	if title := sanitizeTitle(opts.Title); title != "" {
		args = append(args, "--force-media-title="+title, "--title="+title)
	}
	if opts.Muted {
		args = append(args, "--mute=yes")
	}
	if opts.Hidden {
		args = append(args,
			"--vo=null",
			"--audio=no",
			"--pause=yes",
			"--force-window=no",
			"--hr-seek=yes",
		)
	} else {
		args = append(args, "--force-window=yes")
	}
	return append(args, config.ExtraArgs...)
}

// waitForSocket polls until the IPC socket accepts a connection.
func waitForSocket(socketPath string, exited <-chan struct{}, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-exited:
			return nil, errors.New("mpv exited before socket was ready")
		default:
		}

		conn, err := net.DialTimeout("unix", socketPath, socketPollInterval)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, errors.Wrapf(err, "socket %s not ready after %s", socketPath, timeout)
		}
		time.Sleep(socketPollInterval)
	}
}

// Engine drives one mpv process.
type Engine struct {
	config Config
	fs     afero.Fs
	sink   media.Sink
	hidden bool

	cmd        *exec.Cmd
	exited     chan struct{}
	socketPath string
	client     *client

	mu          sync.Mutex
	tr          translator
	loaded      bool
	pendingSeek mo.Option[float64]
	closed      bool
}

var (
	_ media.Engine       = (*Engine)(nil)
	_ media.FrameGrabber = (*Engine)(nil)
)

func newEngine(conn net.Conn, sink media.Sink, opts media.OpenOptions, config Config, fs afero.Fs) *Engine {
	e := &Engine{
		config:      config,
		fs:          fs,
		sink:        sink,
		hidden:      opts.Hidden,
		pendingSeek: mo.None[float64](),
	}
	e.client = newClient(conn, e.onEvent)
	return e
}

func (e *Engine) observe() error {
	for i, name := range observedProperties {
		if err := e.client.send("observe_property", i+1, name); err != nil {
			return errors.Wrapf(err, "observe %s", name)
		}
	}
	return nil
}

// Load replaces the current file.
func (e *Engine) Load(rawURL string) error {
	target, err := sanitizeMediaTarget(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid media target")
	}

	e.mu.Lock()
	e.loaded = false
	e.pendingSeek = mo.None[float64]()
	e.mu.Unlock()

	return e.client.send("loadfile", target, "replace")
}

// Play resumes playback.
func (e *Engine) Play() error {
	return e.set("pause", false)
}

// Pause pauses playback.
func (e *Engine) Pause() error {
	return e.set("pause", true)
}

// Seek moves to an absolute position. A seek issued before the file is
// loaded is applied once it is.
func (e *Engine) Seek(seconds float64) error {
	e.mu.Lock()
	if !e.loaded {
		e.pendingSeek = mo.Some(seconds)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.seek(seconds)
}

// SetVolume sets the volume in [0, 1].
func (e *Engine) SetVolume(volume float64) error {
	return e.set("volume", volume*100)
}

// SetMuted sets the mute flag.
func (e *Engine) SetMuted(muted bool) error {
	return e.set("mute", muted)
}

// SetRate sets the playback speed.
func (e *Engine) SetRate(rate float64) error {
	return e.set("speed", rate)
}

// SetFullscreen toggles the fullscreen window.
func (e *Engine) SetFullscreen(fullscreen bool) error {
	return e.set("fullscreen", fullscreen)
}

// GrabFrame captures the currently decoded video frame.
func (e *Engine) GrabFrame(ctx context.Context) (image.Image, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("19watch-frame-%s.png", uuid.NewString()))
	if _, err := e.client.call(ctx, "screenshot-to-file", path, "video"); err != nil {
		return nil, errors.Wrap(err, "screenshot")
	}
	defer func() { _ = e.fs.Remove(path) }()

	f, err := e.fs.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open screenshot")
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "decode screenshot")
	}
	return img, nil
}

// Close quits mpv in the background. No events are delivered afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	go e.shutdown()
	return nil
}

func (e *Engine) shutdown() {
	_ = e.client.send("quit")

	if e.cmd != nil {
		select {
		case <-e.exited:
		case <-time.After(e.config.CloseTimeout()):
			zlog.Warn().Msg("mpv: quit timed out, killing process")
			_ = killProcess(e.cmd)
		}
	}

	_ = e.client.close()
	if e.socketPath != "" {
		_ = e.fs.Remove(e.socketPath)
	}
}

func (e *Engine) set(property string, value any) error {
	if e.isClosed() {
		return ErrNotRunning
	}
	return e.client.send("set_property", property, value)
}

func (e *Engine) seek(seconds float64) error {
	if e.isClosed() {
		return ErrNotRunning
	}
	// Previews need the exact frame, playback favours speed.
	flags := lo.Ternary(e.hidden, "absolute+exact", "absolute")
	return e.client.send("seek", seconds, flags)
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// onEvent runs on the client's dispatch goroutine.
func (e *Engine) onEvent(msg message) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	pending := mo.None[float64]()
	switch msg.Event {
	case eventFileLoaded:
		e.loaded = true
		pending = e.pendingSeek
		e.pendingSeek = mo.None[float64]()
	case eventStartFile, eventEndFile:
		e.loaded = false
	}
	events := e.tr.translate(msg)
	e.mu.Unlock()

	for _, ev := range events {
		e.sink(ev)
	}

	if seconds, ok := pending.Get(); ok {
		if err := e.seek(seconds); err != nil {
			zlog.Debug().Msgf("mpv: deferred seek: %v", err)
		}
	}
}

// sanitizeMediaTarget validates that a URL is safe to pass to mpv.
func sanitizeMediaTarget(link string) (string, error) {
	l := strings.TrimSpace(link)
	if l == "" {
		return "", errors.New("empty URL")
	}

	if strings.ContainsAny(l, "\x00\n\r") {
		return "", errors.New("invalid control characters in URL")
	}

	// URLs must not look like flags
	if strings.HasPrefix(l, "-") {
		return "", errors.New("url must not start with '-'")
	}

	if strings.Contains(l, "://") {
		u, err := url.Parse(l)
		if err != nil {
			return "", errors.Wrap(err, "invalid URL")
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "file":
			return l, nil
		default:
			return "", errors.Newf("unsupported URL scheme: %s", u.Scheme)
		}
	}

	return filepath.Clean(l), nil
}

// sanitizeTitle flattens the title onto one line.
func sanitizeTitle(title string) string {
	t := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ", "\x00", "").Replace(title)
	return strings.TrimSpace(t)
}
