// Package curriculum provides read access to published, versioned course
// curricula and the lesson catalog that backs them.
package curriculum

import (
	"fmt"
	"slices"
	"time"
)

// Status is the publication state of an authored curriculum.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// LessonEntry is one ordered slot of an authored curriculum.
type LessonEntry struct {
	Order            int      `json:"order" yaml:"order"`
	LessonRef        string   `json:"lessonRef" yaml:"lessonRef"`
	Title            string   `json:"title" yaml:"title"`
	OutcomeRefs      []string `json:"outcomeRefs,omitempty" yaml:"outcomeRefs"`
	EstimatedMinutes int      `json:"estimatedMinutes" yaml:"estimatedMinutes"`
	Difficulty       string   `json:"difficulty,omitempty" yaml:"difficulty"`
}

// AuthoredCurriculum is a versioned lesson sequence for a course. Once
// published it is never modified; a new version supersedes it.
type AuthoredCurriculum struct {
	ID                 string         `json:"id" yaml:"id"`
	CourseID           string         `json:"courseId" yaml:"courseId"`
	Version            string         `json:"version" yaml:"version"`
	Status             Status         `json:"status" yaml:"status"`
	Entries            []LessonEntry  `json:"entries" yaml:"entries"`
	Metadata           map[string]any `json:"metadata,omitempty" yaml:"metadata"`
	AccessibilityNotes string         `json:"accessibilityNotes,omitempty" yaml:"accessibilityNotes"`
	PublishedAt        time.Time      `json:"publishedAt,omitzero" yaml:"-"`
}

// Template is a lesson available in a course's catalog.
type Template struct {
	ID               string   `json:"id" yaml:"id"`
	CourseID         string   `json:"courseId" yaml:"courseId"`
	Title            string   `json:"title" yaml:"title"`
	OutcomeRefs      []string `json:"outcomeRefs,omitempty" yaml:"outcomeRefs"`
	EstimatedMinutes int      `json:"estimatedMinutes" yaml:"estimatedMinutes"`
}

// SortEntries orders entries by ascending Order in place.
func SortEntries(entries []LessonEntry) {
	slices.SortStableFunc(entries, func(a, b LessonEntry) int {
		return a.Order - b.Order
	})
}

// validateEntries checks that every entry names a lesson and that orders are
// unique.
func validateEntries(entries []LessonEntry) error {
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if e.LessonRef == "" {
			return fmt.Errorf("entry at order %d has no lessonRef", e.Order)
		}
		if seen[e.Order] {
			return fmt.Errorf("duplicate order %d", e.Order)
		}
		seen[e.Order] = true
	}
	return nil
}
