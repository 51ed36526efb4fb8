// Package tui renders live progress of a dump session in the terminal.
package tui

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the progress view.
type Theme struct {
	// Outcome colors
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusPending lipgloss.Style
	StatusWarn    lipgloss.Style

	// UI elements
	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Spinner   lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusPending: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		StatusWarn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Spinner:   lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
	}
}
