package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wrap"
	"github.com/samber/lo"

	"github.com/osa030/19watch/internal/app/connectivity"
	"github.com/osa030/19watch/internal/app/playback"
	"github.com/osa030/19watch/internal/app/preview"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	statusStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("12"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	faintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	offlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")).Padding(0, 1)
	onlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("42")).Padding(0, 1)
	gestureStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Underline(true)
)

// View implements tea.Model. The timeline is always on row timelineRow.
func (m *Model) View() string {
	s := m.state.Playback
	lines := []string{
		m.header(),
		m.timelineC.ViewAs(m.position()),
		m.details(),
	}

	if p, ok := m.state.Preview.Get(); ok {
		lines = append(lines, previewLine(p))
	}
	if adv, ok := m.state.Connectivity.Advisory.Get(); ok {
		style := lo.Ternary(adv.Status == connectivity.StatusOffline, offlineStyle, onlineStyle)
		lines = append(lines, style.Render(adv.Message))
	}
	if s.GestureRequired {
		lines = append(lines, gestureStyle.Render("Autoplay was blocked. Press space to play."))
	}
	if s.Status == playback.StatusError {
		lines = append(lines, errorStyle.Render(m.wrap("Playback failed: "+s.Err+" (press r to reload)")))
	}
	if m.lastErr != nil {
		lines = append(lines, faintStyle.Render(m.wrap(m.lastErr.Error())))
	}

	lines = append(lines, "", m.helpC.View(helpKeys{player: m.session.KeyMap(), controls: m.controls}))
	return strings.Join(lines, "\n")
}

// wrap breaks long messages at the terminal width.
func (m *Model) wrap(text string) string {
	return wrap.String(text, max(m.width, minBarWidth))
}

func (m *Model) header() string {
	title := lo.Ternary(m.state.Content.ID != "", m.state.Content.ID, "nothing mounted")
	return titleStyle.Render(title) + " " + statusStyle.Render(m.state.Playback.Status.String())
}

func (m *Model) position() float64 {
	s := m.state.Playback
	duration, ok := s.Duration.Get()
	if !ok || duration <= 0 {
		return 0
	}
	return lo.Clamp(s.CurrentTime/duration, 0, 1)
}

func (m *Model) details() string {
	s := m.state.Playback
	total := "--:--"
	if d, ok := s.Duration.Get(); ok {
		total = formatTime(d)
	}
	parts := []string{
		formatTime(s.CurrentTime) + " / " + total,
		fmt.Sprintf("buffered %.0f%%", s.BufferedAheadPercent),
		fmt.Sprintf("vol %.0f%%%s", s.Volume*100, lo.Ternary(s.Muted, " (muted)", "")),
		rates(m.state.Rates, s.PlaybackRate),
		"quality " + s.Quality,
	}
	if s.Fullscreen {
		parts = append(parts, "fullscreen")
	}
	return faintStyle.Render(strings.Join(parts, "  "))
}

func rates(all []float64, current float64) string {
	labels := lo.Map(all, func(r float64, _ int) string {
		label := fmt.Sprintf("%gx", r)
		return lo.Ternary(r == current, selectedStyle.Render(label), label)
	})
	return strings.Join(labels, " ")
}

func previewLine(p preview.Preview) string {
	at := formatTime(p.Request.TimeOffset)
	if frame, ok := p.Frame.Get(); ok {
		return fmt.Sprintf("preview %s  %s, %d bytes", at, frame.ContentType, len(frame.Data))
	}
	return faintStyle.Render(fmt.Sprintf("preview %s  %s", at, p.Request.Status))
}

// formatTime renders seconds as m:ss or h:mm:ss.
func formatTime(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h, mnt, sec := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mnt, sec)
	}
	return fmt.Sprintf("%d:%02d", mnt, sec)
}
