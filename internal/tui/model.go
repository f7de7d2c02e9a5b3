// Package tui implements the terminal front end: a start button that turns
// into a full screen surface pulsing in the beat color.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"libdb.so/beatglow/internal/pulse"
)

// Starter triggers the start action.
type Starter interface {
	Start()
}

// SnapshotMsg delivers a new pulse state to the model.
type SnapshotMsg pulse.Snapshot

// Model is the Bubbletea model for the beatglow TUI.
type Model struct {
	starter  Starter
	snapshot pulse.Snapshot
	quitting bool
	width    int
	height   int
}

// NewModel creates a Model that starts capture through s.
func NewModel(s Starter) Model {
	return Model{starter: s}
}

// Init requests the terminal size.
func (m Model) Init() tea.Cmd {
	return tea.WindowSize()
}

// State returns the state the model currently displays.
func (m Model) State() pulse.State {
	return m.snapshot.State
}

// Update handles messages: key presses, snapshots and window resizes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "enter", " ":
			m.start()
		}

	case SnapshotMsg:
		m.snapshot = pulse.Snapshot(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	}

	return m, nil
}

func (m *Model) start() {
	if m.snapshot.State.Capturing() {
		return
	}

	m.starter.Start()

	// Switch to the pulse surface right away. A capture failure arrives
	// later as a Failed snapshot.
	m.snapshot = pulse.Snapshot{State: pulse.Initializing}
}
