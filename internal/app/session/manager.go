// Package session provides the session manager, which mounts one content id
// at a time and composes the render state drawn by the watch surface.
package session

import (
	"fmt"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/mo"

	"github.com/osa030/19watch/internal/app/connectivity"
	"github.com/osa030/19watch/internal/app/input"
	"github.com/osa030/19watch/internal/app/notification"
	"github.com/osa030/19watch/internal/app/playback"
	"github.com/osa030/19watch/internal/app/preview"
	"github.com/osa030/19watch/internal/app/timer"
	"github.com/osa030/19watch/internal/domain/media"
)

var (
	ErrNotMounted = errors.New("no content is mounted")
	ErrClosed     = errors.New("session manager is closed")
)

// Config holds the per-component configuration.
type Config struct {
	Playback     playback.Config
	Preview      preview.Config
	Input        input.Config
	Connectivity connectivity.Config
	Qualities    []string
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Playback:     playback.DefaultConfig(),
		Preview:      preview.DefaultConfig(),
		Input:        input.DefaultConfig(),
		Connectivity: connectivity.DefaultConfig(),
		Qualities:    []string{playback.DefaultQuality},
	}
}

// Deps are the collaborators shared by every mounted content.
type Deps struct {
	Opener        media.Opener           // Primary engine
	PreviewOpener media.Opener           // Off-screen engine; nil disables previews
	Encoder       preview.Encoder        // Required with PreviewOpener
	Store         playback.SettingsStore // nil disables persistence
	Probe         connectivity.Probe     // nil disables reachability polling
	Clock         timer.Clock
	Keys          input.KeyMap
}

// RenderState is everything the watch surface draws.
type RenderState struct {
	Seq          uint64
	SessionID    string
	Content      media.Content
	Playback     playback.State
	Preview      mo.Option[preview.Preview] // Present while a scrub request exists
	Connectivity connectivity.Snapshot
	Rates        []float64
	Qualities    []string
}

// mount is the set of components owned by one content id.
type mount struct {
	controller  *playback.Controller
	pipeline    *preview.Pipeline
	dispatcher  *input.Dispatcher
	unsubscribe []func()
}

// Manager owns the mounted content and the connectivity monitor, which
// survives content changes.
type Manager struct {
	mu sync.Mutex

	config Config
	deps   Deps

	monitor *connectivity.Monitor
	hub     *notification.Hub[RenderState]

	current *mount
	last    RenderState
	closed  bool
}

// NewManager creates a manager with nothing mounted.
func NewManager(config Config, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = timer.Real()
	}
	m := &Manager{
		config:  config,
		deps:    deps,
		monitor: connectivity.NewMonitor(config.Connectivity, deps.Probe, deps.Clock),
		hub:     notification.NewHub[RenderState](),
	}
	m.last = m.composeLocked(nil)
	m.monitor.OnChange(func(connectivity.Snapshot) {
		m.refresh(nil)
	})
	return m
}

// Start begins reachability polling.
func (m *Manager) Start() {
	m.monitor.Start()
}

// Mount loads content, replacing whatever is mounted. The previous
// controller is flushed first so its resume position is written.
func (m *Manager) Mount(content media.Content) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	prev := m.current
	mt := m.newMount()
	m.current = mt
	m.mu.Unlock()

	var errs error
	if prev != nil {
		errs = errors.CombineErrors(errs, prev.close())
	}

	m.subscribe(mt)
	if mt.pipeline != nil {
		if err := mt.pipeline.SetSource(content.URL); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if err := mt.controller.Load(content); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "mount %s", content.ID))
	}
	zlog.Info().Msgf("session: mounted: session=%s content=%s", mt.controller.ID(), content.ID)
	m.refresh(mt)
	return errs
}

// ChangeContent switches to another content id. Mounting the content that
// is already mounted is a no-op.
func (m *Manager) ChangeContent(content media.Content) error {
	m.mu.Lock()
	mt := m.current
	m.mu.Unlock()

	if mt == nil {
		return ErrNotMounted
	}
	if mt.controller.Content() == content {
		return nil
	}
	zlog.Info().Msgf("session: content change: %s -> %s", mt.controller.Content().ID, content.ID)
	return m.Mount(content)
}

// Unmount disposes the mounted content, flushing its resume position.
func (m *Manager) Unmount() error {
	m.mu.Lock()
	mt := m.current
	m.current = nil
	m.mu.Unlock()

	if mt == nil {
		return nil
	}
	err := mt.close()
	m.refresh(nil)
	return err
}

// Submit forwards a transport command to the mounted controller.
func (m *Manager) Submit(cmd playback.Command) error {
	mt, err := m.mounted()
	if err != nil {
		return err
	}
	return mt.controller.Submit(cmd)
}

// HandleKey performs the shortcut bound to k. It reports whether k was bound.
func (m *Manager) HandleKey(k fmt.Stringer) (bool, error) {
	mt, err := m.mounted()
	if err != nil {
		return false, err
	}
	return mt.dispatcher.HandleKey(k)
}

// HandlePointer performs a pointer gesture.
func (m *Manager) HandlePointer(ev input.PointerEvent) error {
	mt, err := m.mounted()
	if err != nil {
		return err
	}
	return mt.dispatcher.HandlePointer(ev)
}

// ReportConnectivity pushes a platform reachability signal.
func (m *Manager) ReportConnectivity(online bool) {
	m.monitor.Report(online)
}

// DismissAdvisory hides the current connectivity advisory.
func (m *Manager) DismissAdvisory() {
	m.monitor.Dismiss()
}

// KeyMap returns the shortcut bindings.
func (m *Manager) KeyMap() input.KeyMap {
	return m.deps.Keys
}

// Render returns the latest render state.
func (m *Manager) Render() RenderState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// OnRender registers a listener called with every new render state. The
// returned function unsubscribes it.
func (m *Manager) OnRender(listener func(RenderState)) func() {
	id := m.hub.Subscribe(listener)
	return func() { m.hub.Unsubscribe(id) }
}

// Close unmounts and stops monitoring.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	mt := m.current
	m.current = nil
	m.mu.Unlock()

	var errs error
	if mt != nil {
		errs = errors.CombineErrors(errs, mt.close())
	}
	errs = errors.CombineErrors(errs, m.monitor.Close())
	m.hub.Close()
	return errs
}

func (m *Manager) mounted() (*mount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.current == nil {
		return nil, ErrNotMounted
	}
	return m.current, nil
}

func (m *Manager) newMount() *mount {
	mt := &mount{
		controller: playback.NewController(m.config.Playback, m.deps.Opener, m.deps.Store, m.deps.Clock),
	}

	// A nil *Pipeline must not reach the dispatcher as a non-nil interface.
	var scrubber input.Scrubber
	if m.deps.PreviewOpener != nil && m.deps.Encoder != nil {
		mt.pipeline = preview.NewPipeline(m.config.Preview, m.deps.PreviewOpener, m.deps.Encoder, m.deps.Clock)
		scrubber = mt.pipeline
	}
	mt.dispatcher = input.NewDispatcher(m.config.Input, m.deps.Keys, mt.controller, scrubber, m.deps.Clock)
	return mt
}

func (m *Manager) subscribe(mt *mount) {
	mt.unsubscribe = append(mt.unsubscribe, mt.controller.OnStateChange(func(playback.State) {
		m.refresh(mt)
	}))
	if mt.pipeline != nil {
		mt.unsubscribe = append(mt.unsubscribe, mt.pipeline.OnChange(func(preview.Preview) {
			m.refresh(mt)
		}))
	}
}

// refresh recomposes and publishes the render state. Notifications from a
// mount that is no longer current are ignored; a nil mount always refreshes.
func (m *Manager) refresh(from *mount) {
	m.mu.Lock()
	if m.closed || (from != nil && from != m.current) {
		m.mu.Unlock()
		return
	}
	seq := m.hub.NextSequenceNo()
	rs := m.composeLocked(m.current)
	rs.Seq = seq
	m.last = rs
	m.mu.Unlock()

	m.hub.Publish(seq, rs)
}

func (m *Manager) composeLocked(mt *mount) RenderState {
	rs := RenderState{
		Seq:          m.last.Seq,
		Playback:     playback.NewState(),
		Preview:      mo.None[preview.Preview](),
		Connectivity: m.monitor.Current(),
		Rates:        slices.Clone(playback.Rates),
		Qualities:    slices.Clone(m.config.Qualities),
	}
	if mt == nil {
		return rs
	}

	rs.SessionID = mt.controller.ID()
	rs.Content = mt.controller.Content()
	rs.Playback = mt.controller.State()
	if mt.pipeline != nil {
		if p := mt.pipeline.Current(); p.Request.Status != preview.StatusNone {
			rs.Preview = mo.Some(p)
		}
	}
	return rs
}

func (mt *mount) close() error {
	for _, unsubscribe := range mt.unsubscribe {
		unsubscribe()
	}
	var errs error
	if mt.pipeline != nil {
		errs = errors.CombineErrors(errs, mt.pipeline.Close())
	}
	return errors.CombineErrors(errs, mt.controller.Close())
}
