package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"libdb.so/beatglow/internal/led"
	"libdb.so/beatglow/internal/pulse"
)

// View renders the full screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	switch m.snapshot.State {
	case pulse.Initializing:
		return m.renderSurface("listening…")
	case pulse.Pulsing:
		return m.renderSurface("")
	case pulse.Failed:
		return m.center(m.renderFailed())
	default:
		return m.center(m.renderStart())
	}
}

func (m Model) center(s string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, s)
}

func (m Model) renderStart() string {
	return lipgloss.JoinVertical(lipgloss.Center,
		buttonStyle.Render("Start"),
		helpStyle.Render("enter start · q quit"),
	)
}

func (m Model) renderFailed() string {
	msg := "audio capture failed"
	if m.snapshot.Err != nil {
		msg = m.snapshot.Err.Error()
	}

	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		errorStyle.Render(msg),
		"",
		helpStyle.Render("enter retry · q quit"),
	))
}

// renderSurface fills the screen with the display color. A non-empty status
// takes the bottom line.
func (m Model) renderSurface(status string) string {
	bg := lipgloss.Color(m.snapshot.Color.Hex())

	height := m.height
	if status != "" && height > 0 {
		height--
	}

	label := ""
	if m.snapshot.State == pulse.Pulsing {
		label = lipgloss.NewStyle().
			Background(bg).
			Foreground(contrastColor(m.snapshot.Color)).
			Render(fmt.Sprintf("%.0f BPM", m.snapshot.BPM))
	}

	surface := lipgloss.Place(m.width, height, lipgloss.Center, lipgloss.Center, label,
		lipgloss.WithWhitespaceBackground(bg))

	if status == "" {
		return surface
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		surface,
		statusStyle.Width(m.width).Render(status),
	)
}

// contrastColor picks black or white text for the given background.
func contrastColor(c led.RGBColor) lipgloss.Color {
	luma := 0.299*float64(c[0]) + 0.587*float64(c[1]) + 0.114*float64(c[2])
	if luma > 140 {
		return lipgloss.Color("#000000")
	}
	return lipgloss.Color("#ffffff")
}
