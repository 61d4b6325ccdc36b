// Package enrollment keeps each student's pointer to a published curriculum
// together with a sparse personal customization patch, and derives the
// merged view, next lesson, and progress from them.
package enrollment

import (
	"maps"
	"time"

	"github.com/abhisek/pathwise/internal/curriculum"
)

// CustomizationEntry is the per-order patch. Nil fields are unset; a patch
// only overwrites the fields it carries.
type CustomizationEntry struct {
	PlannedAt       *time.Time `json:"plannedAt,omitempty"`
	Skipped         *bool      `json:"skipped,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	CustomLessonRef *string    `json:"customLessonRef,omitempty"`
	AddedManually   *bool      `json:"addedManually,omitempty"`
}

// IsSkipped reports whether the entry is marked skipped.
func (e CustomizationEntry) IsSkipped() bool {
	return e.Skipped != nil && *e.Skipped
}

// IsManual reports whether the entry adds a lesson absent from the
// authored curriculum.
func (e CustomizationEntry) IsManual() bool {
	return e.AddedManually != nil && *e.AddedManually
}

func (e CustomizationEntry) merge(p CustomizationEntry) CustomizationEntry {
	if p.PlannedAt != nil {
		e.PlannedAt = p.PlannedAt
	}
	if p.Skipped != nil {
		e.Skipped = p.Skipped
	}
	if p.Notes != nil {
		e.Notes = p.Notes
	}
	if p.CustomLessonRef != nil {
		e.CustomLessonRef = p.CustomLessonRef
	}
	if p.AddedManually != nil {
		e.AddedManually = p.AddedManually
	}
	return e
}

// Customizations is a student's patch over the authored curriculum. It is
// also the shape of an incoming patch.
type Customizations struct {
	Entries     map[int]CustomizationEntry `json:"entries,omitempty"`
	Preferences map[string]any             `json:"preferences,omitempty"`
}

// Merge returns c with p applied: entries merge per order and per field,
// last writer wins; a non-nil Preferences replaces the stored one whole.
// Neither input is modified.
func (c Customizations) Merge(p Customizations) Customizations {
	out := Customizations{
		Entries:     maps.Clone(c.Entries),
		Preferences: maps.Clone(c.Preferences),
	}
	if len(p.Entries) > 0 && out.Entries == nil {
		out.Entries = make(map[int]CustomizationEntry, len(p.Entries))
	}
	for order, pe := range p.Entries {
		out.Entries[order] = out.Entries[order].merge(pe)
	}
	if p.Preferences != nil {
		out.Preferences = maps.Clone(p.Preferences)
	}
	return out
}

// Skipped reports whether order is marked skipped.
func (c Customizations) Skipped(order int) bool {
	return c.Entries[order].IsSkipped()
}

// Overlay is the stored enrollment record. It never holds curriculum
// entries or metadata.
type Overlay struct {
	ID                 string         `json:"id"`
	StudentID          string         `json:"studentId"`
	CourseID           string         `json:"courseId"`
	SourceCurriculumID string         `json:"sourceCurriculumId"`
	SourceVersion      string         `json:"sourceVersion"`
	Customizations     Customizations `json:"customizations"`
	Rev                int64          `json:"rev"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// View is the authored curriculum merged with a student's customizations.
type View struct {
	StudentID          string                   `json:"studentId"`
	CourseID           string                   `json:"courseId"`
	SourceCurriculumID string                   `json:"sourceCurriculumId"`
	SourceVersion      string                   `json:"sourceVersion"`
	Entries            []curriculum.LessonEntry `json:"entries"`
	Metadata           map[string]any           `json:"metadata,omitempty"`
	AccessibilityNotes string                   `json:"accessibilityNotes,omitempty"`
	Customizations     Customizations           `json:"customizations"`
}

// Progress summarizes completion over the non-skipped entries.
type Progress struct {
	TotalLessons       int                     `json:"totalLessons"`
	CompletedLessons   int                     `json:"completedLessons"`
	ProgressPercentage int                     `json:"progressPercentage"`
	NextLesson         *curriculum.LessonEntry `json:"nextLesson,omitempty"`
}
