// Package render formats recommendations, progress, and mastery for the
// terminal.
package render

import (
	"fmt"
	"slices"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/pathwise/internal/curriculum"
	"github.com/abhisek/pathwise/internal/enrollment"
	"github.com/abhisek/pathwise/internal/mastery"
	"github.com/abhisek/pathwise/internal/recommend"
	"github.com/abhisek/pathwise/internal/ui/theme"
)

// DefaultWidth is used when the caller does not know the terminal width.
const DefaultWidth = 60

// ProgressBar renders a horizontal bar for a fraction in [0,1].
func ProgressBar(label string, fraction float64, showPercent bool, width int) string {
	var result string
	if label != "" {
		result += theme.Body.Render(label) + "  "
	}

	labelWidth := lipgloss.Width(result)
	percentWidth := 0
	if showPercent {
		percentWidth = 6 // "  100%"
	}

	barWidth := max(width-labelWidth-percentWidth, 4)
	filled := min(max(int(float64(barWidth)*fraction), 0), barWidth)

	result += theme.ProgressFilled.Render(strings.Repeat(" ", filled))
	result += theme.ProgressEmpty.Render(strings.Repeat(" ", barWidth-filled))
	if showPercent {
		result += theme.Subtitle.Render(fmt.Sprintf("  %d%%", int(fraction*100+0.5)))
	}
	return result
}

// Recommendation renders a ranked candidate list.
func Recommendation(rec *recommend.CourseRecommendation) string {
	var b strings.Builder
	b.WriteString(theme.Title.Render("Recommended lessons for " + rec.CourseID))
	b.WriteString("\n")
	b.WriteString(theme.Hint.Render(rec.Rubric))
	b.WriteString("\n\n")

	if len(rec.Candidates) == 0 {
		b.WriteString(theme.Subtitle.Render("Nothing left to recommend."))
		b.WriteString("\n")
		return b.String()
	}

	for i, c := range rec.Candidates {
		var card strings.Builder
		card.WriteString(theme.Rank.Render(fmt.Sprintf("%d.", i+1)))
		card.WriteString(" ")
		card.WriteString(theme.Body.Bold(true).Render(candidateTitle(c)))
		card.WriteString("  ")
		card.WriteString(theme.ScoreStyle(c.PriorityScore).Render(fmt.Sprintf("%.2f", c.PriorityScore)))
		card.WriteString("\n")

		meta := []string{c.LessonRef}
		if c.EstimatedMinutes > 0 {
			meta = append(meta, fmt.Sprintf("%d min", c.EstimatedMinutes))
		}
		if len(c.TargetOutcomeIDs) > 0 {
			meta = append(meta, strings.Join(c.TargetOutcomeIDs, ", "))
		}
		card.WriteString(theme.Subtitle.Render(strings.Join(meta, " · ")))

		if len(c.Reasons) > 0 {
			card.WriteString("\n")
			card.WriteString(theme.Reason.Render(strings.Join(c.Reasons, ", ")))
		}
		if len(c.Flags) > 0 {
			card.WriteString("  ")
			card.WriteString(theme.Flag.Render("[" + strings.Join(c.Flags, "] [") + "]"))
		}

		b.WriteString(theme.Card.Render(card.String()))
		b.WriteString("\n")
	}
	b.WriteString(theme.Hint.Render("run " + rec.RunID))
	b.WriteString("\n")
	return b.String()
}

func candidateTitle(c recommend.LessonCandidate) string {
	if c.Title != "" {
		return c.Title
	}
	return c.LessonRef
}

// Progress renders a completion summary.
func Progress(courseID string, p enrollment.Progress, width int) string {
	var b strings.Builder
	b.WriteString(theme.Title.Render("Progress in " + courseID))
	b.WriteString("\n")

	fraction := 0.0
	if p.TotalLessons > 0 {
		fraction = float64(p.CompletedLessons) / float64(p.TotalLessons)
	}
	b.WriteString(ProgressBar(fmt.Sprintf("%d/%d", p.CompletedLessons, p.TotalLessons), fraction, false, width))
	b.WriteString(theme.Subtitle.Render(fmt.Sprintf("  %d%%", p.ProgressPercentage)))
	b.WriteString("\n")

	b.WriteString(theme.Label.Render("Next lesson"))
	b.WriteString(NextLesson(p.NextLesson))
	b.WriteString("\n")
	return b.String()
}

// NextLesson renders one lesson entry, or a completion note when nil.
func NextLesson(e *curriculum.LessonEntry) string {
	if e == nil {
		return theme.Done.Render("all lessons complete")
	}
	title := e.Title
	if title == "" {
		title = e.LessonRef
	}
	return theme.Next.Render(fmt.Sprintf("#%d %s", e.Order, title)) +
		theme.Subtitle.Render(" ("+e.LessonRef+")")
}

// View renders the dereferenced curriculum with skipped, completed, and
// manual entries marked.
func View(v *enrollment.View, completed []string) string {
	var b strings.Builder
	b.WriteString(theme.Title.Render(v.CourseID))
	b.WriteString(theme.Subtitle.Render(fmt.Sprintf("  %s %s", v.SourceCurriculumID, v.SourceVersion)))
	b.WriteString("\n")

	next := v.NextLesson(completed)
	for _, e := range v.Entries {
		custom := v.Customizations.Entries[e.Order]
		line := fmt.Sprintf("%3d  %-24s %s", e.Order, e.LessonRef, e.Title)
		switch {
		case custom.IsSkipped():
			line = theme.Skipped.Render(line)
		case slices.Contains(completed, e.LessonRef):
			line = theme.Done.Render(line + "  ✓")
		case next != nil && next.Order == e.Order:
			line = theme.Next.Render(line + "  ←")
		default:
			line = theme.Body.Render(line)
		}
		if custom.IsManual() {
			line += theme.Flag.Render("  [manual]")
		}
		if custom.Notes != nil && *custom.Notes != "" {
			line += theme.Hint.Render("  " + *custom.Notes)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Mastery renders per-outcome EMA bars sorted by outcome id.
func Mastery(rec *mastery.Record, width int) string {
	var b strings.Builder
	b.WriteString(theme.Title.Render(fmt.Sprintf("Mastery for %s in %s", rec.StudentID, rec.CourseID)))
	b.WriteString("\n")

	if len(rec.EMAByOutcome) == 0 {
		b.WriteString(theme.Subtitle.Render("No outcomes recorded."))
		b.WriteString("\n")
		return b.String()
	}

	ids := make([]string, 0, len(rec.EMAByOutcome))
	for id := range rec.EMAByOutcome {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	labelWidth := 0
	for _, id := range ids {
		labelWidth = max(labelWidth, lipgloss.Width(id))
	}
	for _, id := range ids {
		ema := rec.EMAByOutcome[id]
		label := id + strings.Repeat(" ", labelWidth-lipgloss.Width(id))
		b.WriteString(ProgressBar(label, ema, false, width))
		b.WriteString(theme.ScoreStyle(ema).Render(fmt.Sprintf("  %.2f", ema)))
		b.WriteString(theme.Hint.Render("  " + string(mastery.StateOf(ema, true))))
		b.WriteString("\n")
	}
	return b.String()
}
