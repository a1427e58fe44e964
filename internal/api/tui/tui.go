package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run executes the watch surface until the user quits.
func Run(s Session) error {
	model, unsubscribe := New(s)
	defer unsubscribe()

	_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
	return err
}
