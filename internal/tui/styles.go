package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorText).
			Bold(true)

	StyleSuccess = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	StyleWarning = lipgloss.NewStyle().
			Foreground(ColorWarning)

	StyleMuted = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// hints and in-progress hypotheses
	StyleSubtle = lipgloss.NewStyle().
			Foreground(ColorSubtle).
			Italic(true)

	StyleHighlight = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)

	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSubtle).
			Padding(0, 1)
)

const logoASCII = `
                 _    _     _           _
__   _____  ___| | _| |__ (_)_ __   __| |
\ \ / / _ \/ __| |/ / '_ \| | '_ \ / _' |
 \ V / (_) \__ \   <| |_) | | | | | (_| |
  \_/ \___/|___/_|\_\_.__/|_|_| |_|\__,_|`

// Logo returns the voskbind ASCII art
func Logo() string {
	return StyleHeader.Render(strings.Trim(logoASCII, "\n"))
}

// StateStyle colors a session state name.
func StateStyle(state string) lipgloss.Style {
	c, ok := stateColors[state]
	if !ok {
		c = ColorMuted
	}
	return lipgloss.NewStyle().Foreground(c).Bold(true)
}
