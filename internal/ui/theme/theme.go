package theme

import (
	"charm.land/lipgloss/v2"
)

// Color palette
var (
	Primary   = lipgloss.Color("#8B5CF6") // Vivid Purple
	Secondary = lipgloss.Color("#14B8A6") // Teal
	Accent    = lipgloss.Color("#F97316") // Orange
	Success   = lipgloss.Color("#22C55E") // Green
	Warning   = lipgloss.Color("#EAB308") // Amber
	Error     = lipgloss.Color("#F43F5E") // Rose
	Text      = lipgloss.Color("#F8FAFC") // White
	TextDim   = lipgloss.Color("#94A3B8") // Slate
	Border    = lipgloss.Color("#334155") // Slate
)

// Typography
var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Subtitle = lipgloss.NewStyle().
			Foreground(TextDim)

	Body = lipgloss.NewStyle().
		Foreground(Text)

	Hint = lipgloss.NewStyle().
		Foreground(TextDim).
		Italic(true)

	Label = lipgloss.NewStyle().
		Foreground(TextDim).
		Width(14)
)

// Recommendation
var (
	Rank = lipgloss.NewStyle().
		Foreground(Primary).
		Bold(true)

	ScoreHigh = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ScoreMid = lipgloss.NewStyle().
			Foreground(Warning)

	ScoreLow = lipgloss.NewStyle().
			Foreground(TextDim)

	Reason = lipgloss.NewStyle().
		Foreground(Secondary)

	Flag = lipgloss.NewStyle().
		Foreground(Accent).
		Italic(true)

	Card = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Border).
		Padding(0, 1)
)

// Lesson states
var (
	Done = lipgloss.NewStyle().
		Foreground(Success)

	Skipped = lipgloss.NewStyle().
		Foreground(TextDim).
		Strikethrough(true)

	Next = lipgloss.NewStyle().
		Foreground(Primary).
		Bold(true)
)

// Progress bar
var (
	ProgressFilled = lipgloss.NewStyle().
			Background(Secondary)

	ProgressEmpty = lipgloss.NewStyle().
			Background(Border)
)

// ScoreStyle picks the style for a priority score or EMA value in [0,1].
func ScoreStyle(v float64) lipgloss.Style {
	switch {
	case v >= 0.6:
		return ScoreHigh
	case v >= 0.3:
		return ScoreMid
	}
	return ScoreLow
}
