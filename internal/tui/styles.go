package tui

import "github.com/charmbracelet/lipgloss"

// Colors used throughout the TUI.
var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGreen  = lipgloss.Color("#5FD75F")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#00D7FF")
	colorGray   = lipgloss.Color("#808080")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	nameStyle = lipgloss.NewStyle().
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	doneStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	activeStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	noticeStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Italic(true)

	barFullStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	dividerStyle = lipgloss.NewStyle().
			Foreground(colorGray)
)
