// Package routine holds a student's calendar context for a course: when
// each outcome is due for review and which lessons were taught recently.
package routine

import (
	"slices"
	"sort"
	"time"
)

// BaseIntervals defines the expanding review interval schedule in days.
// Stage 0 is the first review after an outcome is taught.
var BaseIntervals = []int{1, 3, 7, 14, 30, 60}

// DefaultRecentLimit bounds how many taught lessons are remembered.
const DefaultRecentLimit = 20

// TaughtLesson records when a lesson was delivered.
type TaughtLesson struct {
	LessonRef string    `json:"lessonRef"`
	TaughtAt  time.Time `json:"taughtAt"`
}

// Context is the routine state consumed by the recommender.
type Context struct {
	DueAtByOutcome map[string]time.Time `json:"dueAtByOutcome"`
	StageByOutcome map[string]int       `json:"stageByOutcome,omitempty"`
	LastTaughtAt   *time.Time           `json:"lastTaughtAt,omitempty"`
	Recent         []TaughtLesson       `json:"recent,omitempty"`
}

// RecentLessonRefs returns the set of recently taught lesson refs.
func (c *Context) RecentLessonRefs() map[string]bool {
	refs := make(map[string]bool, len(c.Recent))
	for _, r := range c.Recent {
		refs[r.LessonRef] = true
	}
	return refs
}

// TaughtAt returns when lessonRef was last taught.
func (c *Context) TaughtAt(lessonRef string) (time.Time, bool) {
	var (
		latest time.Time
		found  bool
	)
	for _, r := range c.Recent {
		if r.LessonRef == lessonRef && (!found || r.TaughtAt.After(latest)) {
			latest, found = r.TaughtAt, true
		}
	}
	return latest, found
}

// IsOverdue reports whether outcomeID has a due date at or before now.
func (c *Context) IsOverdue(outcomeID string, now time.Time) bool {
	due, ok := c.DueAtByOutcome[outcomeID]
	return ok && !now.Before(due)
}

// DueOutcomes returns outcomes due at now, most overdue first.
func (c *Context) DueOutcomes(now time.Time) []string {
	type dueOutcome struct {
		id      string
		overdue time.Duration
	}
	var due []dueOutcome
	for id, at := range c.DueAtByOutcome {
		if !now.Before(at) {
			due = append(due, dueOutcome{id: id, overdue: now.Sub(at)})
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].overdue != due[j].overdue {
			return due[i].overdue > due[j].overdue
		}
		return due[i].id < due[j].id
	})

	ids := make([]string, len(due))
	for i, d := range due {
		ids[i] = d.id
	}
	return ids
}

// intervalDays returns the review interval for a stage.
func intervalDays(stage int) int {
	if stage >= len(BaseIntervals) {
		return BaseIntervals[len(BaseIntervals)-1]
	}
	if stage < 0 {
		return BaseIntervals[0]
	}
	return BaseIntervals[stage]
}

// recordTaught notes a delivered lesson and pushes each outcome's review
// date out along the interval schedule.
func (c *Context) recordTaught(lessonRef string, outcomes []string, at time.Time, limit int) {
	if c.DueAtByOutcome == nil {
		c.DueAtByOutcome = make(map[string]time.Time)
	}
	if c.StageByOutcome == nil {
		c.StageByOutcome = make(map[string]int)
	}

	for _, o := range outcomes {
		stage, seen := c.StageByOutcome[o]
		if seen {
			stage++
		}
		c.StageByOutcome[o] = stage
		c.DueAtByOutcome[o] = at.AddDate(0, 0, intervalDays(stage))
	}

	if c.LastTaughtAt == nil || at.After(*c.LastTaughtAt) {
		t := at
		c.LastTaughtAt = &t
	}

	c.Recent = slices.DeleteFunc(c.Recent, func(r TaughtLesson) bool { return r.LessonRef == lessonRef })
	c.Recent = append(c.Recent, TaughtLesson{LessonRef: lessonRef, TaughtAt: at})
	slices.SortStableFunc(c.Recent, func(a, b TaughtLesson) int { return a.TaughtAt.Compare(b.TaughtAt) })
	if limit > 0 && len(c.Recent) > limit {
		c.Recent = c.Recent[len(c.Recent)-limit:]
	}
}
