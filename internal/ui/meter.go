// ABOUTME: Bubbletea model for the live capture level meter
// ABOUTME: Shows RMS and peak per update tick plus volume and mute controls
package ui

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// LevelMsg carries one measurement interval's RMS and peak, both in [0, 1].
type LevelMsg struct {
	RMS     float64
	Peak    float64
	Dropped uint64
}

// FormatMsg announces the capture format once the engine has negotiated it.
type FormatMsg struct {
	Description string
}

// VolumeChangeMsg is emitted to the application when the user adjusts
// volume or mute from the keyboard.
type VolumeChangeMsg struct {
	Level float64
	Muted bool
}

// Model is the level meter TUI state.
type Model struct {
	format  string
	rms     float64
	peak    float64
	hold    float64
	dropped uint64

	level float64
	muted bool

	width  int
	height int

	changes chan<- VolumeChangeMsg
}

// NewModel creates the meter model. Volume changes are reported on the
// given channel; pass nil to ignore them.
func NewModel(changes chan<- VolumeChangeMsg) Model {
	return Model{
		format:  "negotiating...",
		level:   1.0,
		changes: changes,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case LevelMsg:
		m.rms = msg.RMS
		m.peak = msg.Peak
		m.dropped = msg.Dropped
		// Peak hold decays slowly so short transients stay visible.
		m.hold *= 0.95
		if msg.Peak > m.hold {
			m.hold = msg.Peak
		}
	case FormatMsg:
		m.format = msg.Description
	}

	return m, nil
}

var (
	meterTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	meterLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	meterValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	meterHotStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// View renders the meter.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(meterTitleStyle.Render("Wavebridge Monitor"))
	b.WriteString("\n\n")

	b.WriteString(meterLabelStyle.Render("Format:  "))
	b.WriteString(meterValueStyle.Render(m.format))
	b.WriteString("\n\n")

	barWidth := m.width - 20
	if barWidth < 10 {
		barWidth = 10
	}
	if barWidth > 60 {
		barWidth = 60
	}

	b.WriteString(meterLabelStyle.Render("RMS:  "))
	b.WriteString(levelBar(m.rms, barWidth))
	b.WriteString(fmt.Sprintf(" %6.1f dB\n", toDB(m.rms)))

	b.WriteString(meterLabelStyle.Render("Peak: "))
	b.WriteString(levelBar(m.peak, barWidth))
	b.WriteString(fmt.Sprintf(" %6.1f dB", toDB(m.hold)))
	if m.peak >= 0.99 {
		b.WriteString(meterHotStyle.Render("  CLIP"))
	}
	b.WriteString("\n\n")

	muteText := ""
	if m.muted {
		muteText = meterHotStyle.Render("  [MUTED]")
	}
	b.WriteString(meterLabelStyle.Render("Volume: "))
	b.WriteString(meterValueStyle.Render(fmt.Sprintf("%3.0f%%", m.level*100)))
	b.WriteString(muteText)
	b.WriteString("\n")

	if m.dropped > 0 {
		b.WriteString(meterLabelStyle.Render("Dropped: "))
		b.WriteString(meterValueStyle.Render(fmt.Sprintf("%d blocks", m.dropped)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("↑/↓: Volume  m: Mute  q: Quit"))

	return b.String()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up":
		m.level += 0.05
		if m.level > 1 {
			m.level = 1
		}
		m.notify()
	case "down":
		m.level -= 0.05
		if m.level < 0 {
			m.level = 0
		}
		m.notify()
	case "m":
		m.muted = !m.muted
		m.notify()
	}

	return m, nil
}

func (m Model) notify() {
	if m.changes == nil {
		return
	}
	select {
	case m.changes <- VolumeChangeMsg{Level: m.level, Muted: m.muted}:
	default:
	}
}

func levelBar(value float64, width int) string {
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	filled := int(value * float64(width))

	var b strings.Builder
	for i := 0; i < width; i++ {
		if i < filled {
			b.WriteString("█")
		} else {
			b.WriteString("░")
		}
	}
	return b.String()
}

func toDB(v float64) float64 {
	if v <= 0 {
		return -96
	}
	db := 20 * math.Log10(v)
	if db < -96 {
		db = -96
	}
	return db
}
