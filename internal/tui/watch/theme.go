// Package watch implements the CasparianFlow live pipeline watch TUI.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds every style the watch panes use, keyed by what it renders
// rather than by raw color, so a pane never constructs its own style.
type Theme struct {
	StatusOK        lipgloss.Style
	StatusRunning   lipgloss.Style
	StatusFailed    lipgloss.Style
	StatusQueued    lipgloss.Style
	StatusCancelled lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	var (
		teal   = lipgloss.Color("#2AA198")
		green  = lipgloss.Color("#5AF78E")
		yellow = lipgloss.Color("#F3F99D")
		red    = lipgloss.Color("#FF5C57")
		grey   = lipgloss.Color("#7F8C98")
		dim    = lipgloss.Color("#57606A")
		fg     = lipgloss.Color("#EFF0EB")
	)

	return Theme{
		StatusOK:        lipgloss.NewStyle().Foreground(green),
		StatusRunning:   lipgloss.NewStyle().Foreground(yellow),
		StatusFailed:    lipgloss.NewStyle().Foreground(red),
		StatusQueued:    lipgloss.NewStyle().Foreground(grey),
		StatusCancelled: lipgloss.NewStyle().Foreground(dim),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(teal),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(fg).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(teal),
		Dim:       lipgloss.NewStyle().Foreground(grey),
		Highlight: lipgloss.NewStyle().Foreground(yellow),
	}
}
