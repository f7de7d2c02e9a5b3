package tui

import "github.com/charmbracelet/lipgloss"

// Standard ANSI colors so the chrome follows the terminal theme. The pulse
// surface itself is drawn in true color.
var (
	colorBorder = lipgloss.ANSIColor(8)  // bright black
	colorAccent = lipgloss.ANSIColor(11) // bright yellow
	colorDim    = lipgloss.ANSIColor(8)
	colorError  = lipgloss.ANSIColor(9) // bright red
)

var (
	buttonStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Foreground(colorAccent).
			Bold(true).
			Padding(0, 4)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Padding(0, 1)
)
