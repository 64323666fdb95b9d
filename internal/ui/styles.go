package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color palette of the CLI.
type Theme struct {
	Primary   lipgloss.Color // tool names
	Secondary lipgloss.Color // step numbers
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Muted     lipgloss.Color // observations and reasoning
	Text      lipgloss.Color
}

// DefaultTheme returns the default color theme (gruvbox)
func DefaultTheme() *Theme {
	return &Theme{
		Primary:   lipgloss.Color("#b8bb26"), // gruvbox green
		Secondary: lipgloss.Color("#83a598"), // gruvbox aqua
		Success:   lipgloss.Color("#b8bb26"),
		Error:     lipgloss.Color("#fb4934"), // gruvbox red
		Warning:   lipgloss.Color("#fabd2f"), // gruvbox yellow
		Muted:     lipgloss.Color("#928374"), // gruvbox gray
		Text:      lipgloss.Color("#ebdbb2"), // gruvbox foreground
	}
}

// Status indicators
const (
	PendingIcon = "○"
	SuccessIcon = "✓"
	FailIcon    = "✗"
)

// Styles holds text styles bound to one output.
type Styles struct {
	Title     lipgloss.Style
	Step      lipgloss.Style
	Tool      lipgloss.Style
	Thought   lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Highlight lipgloss.Style
}

// NewStyles creates styles for w. Color is dropped automatically when w is
// not a terminal.
func NewStyles(w io.Writer, theme *Theme) *Styles {
	if theme == nil {
		theme = DefaultTheme()
	}
	r := lipgloss.NewRenderer(w)
	return &Styles{
		Title:     r.NewStyle().Bold(true).Foreground(theme.Text),
		Step:      r.NewStyle().Bold(true).Foreground(theme.Secondary),
		Tool:      r.NewStyle().Foreground(theme.Primary),
		Thought:   r.NewStyle().Italic(true).Foreground(theme.Muted),
		Muted:     r.NewStyle().Foreground(theme.Muted),
		Success:   r.NewStyle().Foreground(theme.Success),
		Error:     r.NewStyle().Foreground(theme.Error),
		Warning:   r.NewStyle().Foreground(theme.Warning),
		Highlight: r.NewStyle().Bold(true).Foreground(theme.Primary),
	}
}
