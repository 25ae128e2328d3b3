// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the level meter
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the meter TUI. Callers push LevelMsg and FormatMsg updates
// through the returned program's Send and receive volume changes on the
// channel they provided.
func Run(changes chan<- VolumeChangeMsg) *tea.Program {
	return tea.NewProgram(NewModel(changes), tea.WithAltScreen())
}
