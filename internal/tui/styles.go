// Package tui implements the Bubble Tea tracking dashboard for loadctl.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/loadctl/internal/styles"
)

var (
	colorGreen  = styles.ColorGreen
	colorYellow = styles.ColorYellow
	colorBlue   = styles.ColorBlue
	colorRed    = styles.ColorRed
	colorGray   = styles.ColorGray
	colorWhite  = styles.ColorWhite
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			PaddingLeft(1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGray).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	markerStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	typeStyle = lipgloss.NewStyle().
			Foreground(colorBlue)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	okStyle = lipgloss.NewStyle().
		Foreground(colorGreen)
)

// Icons and symbols.
const (
	iconMarker = "◉"
	iconDot    = "•"
	iconBell   = "◆"
)
