// Package tui provides the terminal watch surface.
package tui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19watch/internal/app/input"
	"github.com/osa030/19watch/internal/app/playback"
	"github.com/osa030/19watch/internal/app/session"
)

const (
	doubleClickWindow = 400 * time.Millisecond
	timelineRow       = 1
	minBarWidth       = 10
)

// Session is the part of the session manager the surface drives.
type Session interface {
	Render() session.RenderState
	OnRender(listener func(session.RenderState)) func()
	HandleKey(k fmt.Stringer) (bool, error)
	HandlePointer(ev input.PointerEvent) error
	Submit(cmd playback.Command) error
	DismissAdvisory()
	KeyMap() input.KeyMap
}

// renderMsg carries a new render state into the update loop.
type renderMsg session.RenderState

// errMsg reports a failed command.
type errMsg struct{ err error }

// controlKeys are handled by the surface itself.
type controlKeys struct {
	Quit    key.Binding
	Reload  key.Binding
	Dismiss key.Binding
	Help    key.Binding
}

func defaultControlKeys() controlKeys {
	return controlKeys{
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Reload:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		Dismiss: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "dismiss")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	}
}

// helpKeys merges player shortcuts with surface controls for the help view.
type helpKeys struct {
	player   input.KeyMap
	controls controlKeys
}

func (h helpKeys) ShortHelp() []key.Binding {
	return append(h.player.ShortHelp(), h.controls.Help, h.controls.Quit)
}

func (h helpKeys) FullHelp() [][]key.Binding {
	return append(h.player.FullHelp(), []key.Binding{h.controls.Reload, h.controls.Dismiss, h.controls.Help, h.controls.Quit})
}

// Model is the bubbletea model of the watch surface.
type Model struct {
	session  Session
	controls controlKeys
	renders  <-chan session.RenderState

	state    session.RenderState
	lastErr  error
	hovering bool

	lastClick     time.Time
	lastClickX    int
	now           func() time.Time
	width, height int

	timelineC progress.Model
	helpC     help.Model
}

// New creates the model and subscribes to render states. The returned
// function unsubscribes.
func New(s Session) (*Model, func()) {
	renders, unsubscribe := forward(s)
	m := &Model{
		session:   s,
		controls:  defaultControlKeys(),
		renders:   renders,
		state:     s.Render(),
		now:       time.Now,
		timelineC: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		helpC:     help.New(),
	}
	m.resize(80, 24)
	return m, unsubscribe
}

// forward hands render states to the update loop, keeping only the newest
// one when the loop falls behind.
func forward(s Session) (<-chan session.RenderState, func()) {
	ch := make(chan session.RenderState, 1)
	var mu sync.Mutex
	unsubscribe := s.OnRender(func(rs session.RenderState) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-ch:
		default:
		}
		ch <- rs
	})
	return ch, unsubscribe
}

func waitForRender(ch <-chan session.RenderState) tea.Cmd {
	return func() tea.Msg {
		return renderMsg(<-ch)
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return waitForRender(m.renders)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case renderMsg:
		rs := session.RenderState(msg)
		// Stale states can still be queued behind newer ones.
		if rs.Seq >= m.state.Seq {
			m.state = rs
		}
		return m, waitForRender(m.renders)

	case errMsg:
		m.lastErr = msg.err
		return m, nil

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.MouseMsg:
		return m, m.handleMouse(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.controls.Quit):
		return tea.Quit
	case key.Matches(msg, m.controls.Help):
		m.helpC.ShowAll = !m.helpC.ShowAll
		return nil
	case key.Matches(msg, m.controls.Dismiss):
		m.session.DismissAdvisory()
		m.lastErr = nil
		return nil
	case key.Matches(msg, m.controls.Reload):
		return m.run(func() error { return m.session.Submit(playback.Reload()) })
	}

	return m.run(func() error {
		_, err := m.session.HandleKey(msg)
		return err
	})
}

func (m *Model) handleMouse(msg tea.MouseMsg) tea.Cmd {
	onTimeline := msg.Y == timelineRow && msg.X < m.timelineC.Width
	fraction := float64(msg.X) / float64(max(m.timelineC.Width-1, 1))

	switch {
	case msg.Action == tea.MouseActionMotion && onTimeline:
		m.hovering = true
		return m.pointer(input.PointerEvent{Kind: input.PointerTimelineHover, Fraction: fraction})

	case msg.Action == tea.MouseActionMotion && m.hovering:
		m.hovering = false
		return m.pointer(input.PointerEvent{Kind: input.PointerTimelineLeave})

	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft && onTimeline:
		return m.pointer(input.PointerEvent{Kind: input.PointerTimelineClick, Fraction: fraction})

	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		now := m.now()
		if now.Sub(m.lastClick) <= doubleClickWindow && msg.X == m.lastClickX {
			m.lastClick = time.Time{}
			return m.pointer(input.PointerEvent{Kind: input.PointerDoubleClick})
		}
		m.lastClick = now
		m.lastClickX = msg.X
		return m.pointer(input.PointerEvent{Kind: input.PointerClick})
	}
	return nil
}

func (m *Model) pointer(ev input.PointerEvent) tea.Cmd {
	return m.run(func() error { return m.session.HandlePointer(ev) })
}

// run performs f synchronously; command failures are shown, not fatal.
func (m *Model) run(f func() error) tea.Cmd {
	if err := f(); err != nil {
		zlog.Debug().Msgf("tui: command failed: %v", err)
		return func() tea.Msg { return errMsg{err: err} }
	}
	return nil
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.timelineC.Width = max(width-2, minBarWidth)
	m.helpC.Width = width
}
