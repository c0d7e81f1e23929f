package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles holds the lipgloss styles used by text output.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Success lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusWarning lipgloss.Style
	StatusRunning lipgloss.Style
}

// NewStyles builds styles bound to w. Without a terminal the colour profile
// is ASCII, so rendering adds no escape codes.
func NewStyles(w io.Writer, isTTY bool) *Styles {
	lr := lipgloss.NewRenderer(w)
	if isTTY {
		lr.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
	} else {
		lr.SetColorProfile(termenv.Ascii)
	}

	green := lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#3fb950"}
	red := lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}
	yellow := lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#d29922"}
	blue := lipgloss.AdaptiveColor{Light: "#0969da", Dark: "#58a6ff"}
	grey := lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#8b949e"}

	return &Styles{
		Header1: lr.NewStyle().Bold(true).Foreground(blue).MarginBottom(1),
		Header2: lr.NewStyle().Bold(true).Underline(true),
		Bold:    lr.NewStyle().Bold(true),
		Muted:   lr.NewStyle().Foreground(grey),
		Error:   lr.NewStyle().Foreground(red).Bold(true),
		Warning: lr.NewStyle().Foreground(yellow),
		Info:    lr.NewStyle().Foreground(blue),
		Success: lr.NewStyle().Foreground(green),

		StatusSuccess: lr.NewStyle().Foreground(green).SetString("✓"),
		StatusFailed:  lr.NewStyle().Foreground(red).SetString("✗"),
		StatusWarning: lr.NewStyle().Foreground(yellow).SetString("!"),
		StatusRunning: lr.NewStyle().Foreground(yellow).SetString("…"),
	}
}
