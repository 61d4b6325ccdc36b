package enrollment

import (
	"math"
	"slices"

	"github.com/abhisek/pathwise/internal/curriculum"
)

// buildView merges authored entries with customizations. Authored entries
// are copied, never modified. A customLessonRef on an authored order swaps
// the lesson; a manual entry at an unused order adds one.
func buildView(o *Overlay, c *curriculum.AuthoredCurriculum) *View {
	entries := make([]curriculum.LessonEntry, 0, len(c.Entries)+len(o.Customizations.Entries))
	authored := make(map[int]bool, len(c.Entries))
	for _, e := range c.Entries {
		authored[e.Order] = true
		e.OutcomeRefs = slices.Clone(e.OutcomeRefs)
		if ce, ok := o.Customizations.Entries[e.Order]; ok && ce.CustomLessonRef != nil {
			e.LessonRef = *ce.CustomLessonRef
		}
		entries = append(entries, e)
	}

	for order, ce := range o.Customizations.Entries {
		if authored[order] || !ce.IsManual() || ce.CustomLessonRef == nil {
			continue
		}
		entries = append(entries, curriculum.LessonEntry{
			Order:     order,
			LessonRef: *ce.CustomLessonRef,
			Title:     *ce.CustomLessonRef,
		})
	}
	curriculum.SortEntries(entries)

	return &View{
		StudentID:          o.StudentID,
		CourseID:           o.CourseID,
		SourceCurriculumID: o.SourceCurriculumID,
		SourceVersion:      o.SourceVersion,
		Entries:            entries,
		Metadata:           c.Metadata,
		AccessibilityNotes: c.AccessibilityNotes,
		Customizations:     o.Customizations,
	}
}

func completedSet(refs []string) map[string]bool {
	set := make(map[string]bool, len(refs))
	for _, r := range refs {
		set[r] = true
	}
	return set
}

// ActiveEntries returns the non-skipped entries in ascending order.
func (v *View) ActiveEntries() []curriculum.LessonEntry {
	active := make([]curriculum.LessonEntry, 0, len(v.Entries))
	for _, e := range v.Entries {
		if !v.Customizations.Skipped(e.Order) {
			active = append(active, e)
		}
	}
	return active
}

// NextLesson returns the first non-skipped entry whose lesson is not in
// completed, or nil when none remain.
func (v *View) NextLesson(completed []string) *curriculum.LessonEntry {
	done := completedSet(completed)
	for _, e := range v.ActiveEntries() {
		if !done[e.LessonRef] {
			return &e
		}
	}
	return nil
}

// Progress counts completed lessons among the non-skipped entries.
func (v *View) Progress(completed []string) Progress {
	done := completedSet(completed)
	active := v.ActiveEntries()

	p := Progress{TotalLessons: len(active)}
	for _, e := range active {
		if done[e.LessonRef] {
			p.CompletedLessons++
		}
	}
	if p.TotalLessons > 0 {
		p.ProgressPercentage = int(math.Round(float64(p.CompletedLessons) / float64(p.TotalLessons) * 100))
	}
	p.NextLesson = v.NextLesson(completed)
	return p
}
