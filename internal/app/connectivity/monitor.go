// Package connectivity tracks network reachability and raises transient
// advisories on transitions. It never commands playback.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/samber/mo"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19watch/internal/app/notification"
	"github.com/osa030/19watch/internal/app/timer"
)

// Status is the reachability state.
type Status int

const (
	StatusOnline Status = iota
	StatusOffline
)

// String returns the string representation of the status.
func (s Status) String() string {
	if s == StatusOffline {
		return "offline"
	}
	return "online"
}

// Advisory is a transient notice raised on a status transition.
type Advisory struct {
	ID       uint64
	Status   Status
	Message  string
	RaisedAt time.Time
}

// Snapshot is the monitor's displayable state.
type Snapshot struct {
	Status   Status
	Advisory mo.Option[Advisory]
}

// Probe checks reachability.
type Probe interface {
	Probe(ctx context.Context) (bool, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (bool, error)

// Probe calls f(ctx).
func (f ProbeFunc) Probe(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Config holds monitor configuration.
type Config struct {
	PollInterval time.Duration // Zero disables polling; Report still works
	AdvisoryTTL  time.Duration // Advisory auto-dismiss delay
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		AdvisoryTTL:  3 * time.Second,
	}
}

// Monitor holds the binary reachability state. The initial state is online
// and raises no advisory.
type Monitor struct {
	mu sync.Mutex

	config Config
	clock  timer.Clock
	probe  Probe
	hub    *notification.Hub[Snapshot]

	status   Status
	advisory mo.Option[Advisory]
	nextID   uint64

	dismissTimer timer.Timer
	pollTimer    timer.Timer
	pollToken    uint64

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewMonitor creates a monitor. probe may be nil when reachability is only
// pushed through Report.
func NewMonitor(config Config, probe Probe, clock timer.Clock) *Monitor {
	if clock == nil {
		clock = timer.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		config:   config,
		clock:    clock,
		probe:    probe,
		hub:      notification.NewHub[Snapshot](),
		status:   StatusOnline,
		advisory: mo.None[Advisory](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins periodic probing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.probe == nil || m.config.PollInterval <= 0 || m.pollTimer != nil {
		return
	}
	m.schedulePollLocked()
}

// Report feeds a reachability signal.
func (m *Monitor) Report(online bool) {
	next := StatusOnline
	if !online {
		next = StatusOffline
	}

	m.mu.Lock()
	if m.closed || next == m.status {
		m.mu.Unlock()
		return
	}

	m.status = next
	m.nextID++
	adv := Advisory{
		ID:       m.nextID,
		Status:   next,
		Message:  message(next),
		RaisedAt: m.clock.Now(),
	}
	m.advisory = mo.Some(adv)
	m.armDismissLocked(adv.ID)
	zlog.Info().Msgf("connectivity: %s", next)

	publish := m.changedLocked()
	m.mu.Unlock()
	publish()
}

// Dismiss clears the current advisory.
func (m *Monitor) Dismiss() {
	m.mu.Lock()
	if m.closed || m.advisory.IsAbsent() {
		m.mu.Unlock()
		return
	}
	m.dismissLocked()
	publish := m.changedLocked()
	m.mu.Unlock()
	publish()
}

// Current returns the current snapshot.
func (m *Monitor) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Status: m.status, Advisory: m.advisory}
}

// OnChange registers a listener. The returned function unsubscribes it.
func (m *Monitor) OnChange(listener func(Snapshot)) func() {
	id := m.hub.Subscribe(listener)
	return func() { m.hub.Unsubscribe(id) }
}

// Close stops probing and pending dismissals.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancel()
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
	m.pollToken++
	if m.dismissTimer != nil {
		m.dismissTimer.Stop()
		m.dismissTimer = nil
	}
	m.mu.Unlock()

	m.hub.Close()
	return nil
}

func (m *Monitor) armDismissLocked(id uint64) {
	if m.dismissTimer != nil {
		m.dismissTimer.Stop()
	}
	m.dismissTimer = m.clock.AfterFunc(m.config.AdvisoryTTL, func() {
		m.mu.Lock()
		adv, ok := m.advisory.Get()
		if m.closed || !ok || adv.ID != id {
			m.mu.Unlock()
			return
		}
		m.dismissLocked()
		publish := m.changedLocked()
		m.mu.Unlock()
		publish()
	})
}

func (m *Monitor) dismissLocked() {
	m.advisory = mo.None[Advisory]()
	if m.dismissTimer != nil {
		m.dismissTimer.Stop()
		m.dismissTimer = nil
	}
}

func (m *Monitor) schedulePollLocked() {
	m.pollToken++
	token := m.pollToken
	m.pollTimer = m.clock.AfterFunc(m.config.PollInterval, func() {
		m.poll(token)
	})
}

func (m *Monitor) poll(token uint64) {
	m.mu.Lock()
	if m.closed || token != m.pollToken {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.config.PollInterval)
	online, err := m.probe.Probe(ctx)
	cancel()
	if err != nil {
		// An inconclusive probe keeps the last known state.
		zlog.Debug().Msgf("connectivity: probe failed: %v", err)
	} else {
		m.Report(online)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed && token == m.pollToken {
		m.schedulePollLocked()
	}
}

func (m *Monitor) changedLocked() func() {
	seq := m.hub.NextSequenceNo()
	snap := Snapshot{Status: m.status, Advisory: m.advisory}
	return func() {
		m.hub.Publish(seq, snap)
	}
}

func message(s Status) string {
	if s == StatusOffline {
		return "You are offline. Playback continues from the buffer."
	}
	return "Back online."
}
