// Package recommend ranks the lessons a student could take next.
//
// The engine is a pure function over in-memory data: the student's merged
// curriculum view, their mastery map, their routine context, and the
// course's lesson catalog. It performs no I/O.
package recommend

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/curriculum"
	"github.com/abhisek/pathwise/internal/enrollment"
	"github.com/abhisek/pathwise/internal/routine"
)

// LessonCandidate is one scored lesson.
type LessonCandidate struct {
	LessonRef        string   `json:"lessonRef"`
	Order            int      `json:"order"`
	Title            string   `json:"title"`
	TargetOutcomeIDs []string `json:"targetOutcomeIds"`
	EstimatedMinutes int      `json:"estimatedMinutes"`
	PriorityScore    float64  `json:"priorityScore"`
	Reasons          []string `json:"reasons"`
	Flags            []string `json:"flags"`
}

// CourseRecommendation is a ranked, advisory candidate list. It is derived
// on demand and never stored.
type CourseRecommendation struct {
	CourseID    string            `json:"courseId"`
	GeneratedAt time.Time         `json:"generatedAt"`
	RunID       string            `json:"runId"`
	Candidates  []LessonCandidate `json:"candidates"`
	Rubric      string            `json:"rubric"`
}

// Input is everything one scoring run needs.
type Input struct {
	CourseID    string
	View        *enrollment.View
	Mastery     map[string]float64
	Routine     *routine.Context
	Catalog     []curriculum.Template
	Completed   []string
	Constraints Constraints
	Now         time.Time
}

// Engine scores lesson candidates.
type Engine struct {
	cfg      Config
	newRunID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunID overrides the run id generator.
func WithRunID(fn func() string) Option {
	return func(e *Engine) { e.newRunID = fn }
}

// New creates an engine. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Rubric returns the precedence summary for the engine's weights.
func (e *Engine) Rubric() string {
	return e.cfg.Weights.Rubric()
}

// Score ranks every eligible lesson in the view and returns the top N. No
// eligible lesson is a normal outcome with an empty candidate list.
func (e *Engine) Score(in Input) (*CourseRecommendation, error) {
	const op = "recommend.Score"
	if in.View == nil {
		return nil, apperr.Errorf(apperr.KindValidation, op, "missing curriculum view")
	}
	courseID := in.CourseID
	if courseID == "" {
		courseID = in.View.CourseID
	}
	if courseID == "" {
		return nil, apperr.Errorf(apperr.KindValidation, op, "missing course id")
	}
	if len(in.Catalog) == 0 && len(in.View.Entries) > 0 {
		return nil, apperr.Errorf(apperr.KindValidation, op, "lesson catalog for course %q is empty", courseID)
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	rc := in.Routine
	if rc == nil {
		rc = &routine.Context{}
	}

	catalog := make(map[string]curriculum.Template, len(in.Catalog))
	for _, t := range in.Catalog {
		catalog[t.ID] = t
	}
	done := make(map[string]bool, len(in.Completed))
	for _, ref := range in.Completed {
		done[ref] = true
	}

	var eligible []curriculum.LessonEntry
	for _, entry := range in.View.ActiveEntries() {
		if !done[entry.LessonRef] {
			eligible = append(eligible, entry)
		}
	}

	earliest := 0
	for i, entry := range eligible {
		if i == 0 || entry.Order < earliest {
			earliest = entry.Order
		}
	}

	candidates := make([]LessonCandidate, 0, len(eligible))
	for _, entry := range eligible {
		c := e.score(entry, entry.Order == earliest, in, rc, catalog, now)
		candidates = append(candidates, c)
	}

	slices.SortStableFunc(candidates, func(a, b LessonCandidate) int {
		switch {
		case a.PriorityScore != b.PriorityScore:
			if a.PriorityScore > b.PriorityScore {
				return -1
			}
			return 1
		case a.Order != b.Order:
			return a.Order - b.Order
		}
		return strings.Compare(a.LessonRef, b.LessonRef)
	})

	topN := e.cfg.TopN
	if in.Constraints.TopN > 0 {
		topN = in.Constraints.TopN
	}
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	return &CourseRecommendation{
		CourseID:    courseID,
		GeneratedAt: now,
		RunID:       e.newRunID(),
		Candidates:  candidates,
		Rubric:      e.Rubric(),
	}, nil
}

// score evaluates one entry. earliest is true for the lowest-order
// eligible entry.
func (e *Engine) score(
	entry curriculum.LessonEntry,
	earliest bool,
	in Input,
	rc *routine.Context,
	catalog map[string]curriculum.Template,
	now time.Time,
) LessonCandidate {
	c := LessonCandidate{
		LessonRef:        entry.LessonRef,
		Order:            entry.Order,
		Title:            entry.Title,
		TargetOutcomeIDs: slices.Clone(entry.OutcomeRefs),
		EstimatedMinutes: entry.EstimatedMinutes,
		Reasons:          []string{},
		Flags:            []string{},
	}
	if t, ok := catalog[entry.LessonRef]; ok {
		if t.Title != "" {
			c.Title = t.Title
		}
		if len(t.OutcomeRefs) > 0 {
			c.TargetOutcomeIDs = slices.Clone(t.OutcomeRefs)
		}
		if t.EstimatedMinutes > 0 {
			c.EstimatedMinutes = t.EstimatedMinutes
		}
	}
	if c.TargetOutcomeIDs == nil {
		c.TargetOutcomeIDs = []string{}
	}

	w := e.cfg.Weights
	score := 0.0
	apply := func(s Signal, reason string) {
		score += w.delta(s)
		c.Reasons = append(c.Reasons, reason)
	}

	if e.anyOverdue(c.TargetOutcomeIDs, rc, now) {
		apply(SignalOverdue, ReasonOverdue)
	}
	if e.anyLowMastery(c.TargetOutcomeIDs, in.Mastery) {
		apply(SignalLowMastery, ReasonLowMastery)
	}
	if earliest {
		apply(SignalEarlyOrder, ReasonEarlyOrder)
	}
	if c.EstimatedMinutes > e.cfg.LongLessonMinutes {
		apply(SignalTooLong, ReasonLongLesson)
		c.Flags = append(c.Flags, "long")
	}
	if isRecent(entry.LessonRef, rc, in.Constraints.AvoidRepeatWithinDays, now) {
		apply(SignalRecent, ReasonRecent)
		c.Flags = append(c.Flags, "recent")
	}
	if in.View.Customizations.Entries[entry.Order].IsManual() {
		c.Flags = append(c.Flags, "manual")
	}

	c.PriorityScore = roundScore(score)
	return c
}

func (e *Engine) anyOverdue(outcomes []string, rc *routine.Context, now time.Time) bool {
	for _, o := range outcomes {
		if rc.IsOverdue(o, now) {
			return true
		}
	}
	return false
}

func (e *Engine) anyLowMastery(outcomes []string, mastery map[string]float64) bool {
	for _, o := range outcomes {
		v, ok := mastery[o]
		if !ok || v < e.cfg.LowMasteryThreshold {
			return true
		}
	}
	return false
}

// isRecent reports whether lessonRef was taught within the repeat window.
// A recent lesson with no recorded time counts as inside the window.
func isRecent(lessonRef string, rc *routine.Context, days int, now time.Time) bool {
	if days <= 0 || !rc.RecentLessonRefs()[lessonRef] {
		return false
	}
	taught, ok := rc.TaughtAt(lessonRef)
	if !ok || taught.IsZero() {
		return true
	}
	return now.Sub(taught) < time.Duration(days)*24*time.Hour
}

// roundScore clamps to [0,1] and rounds to two decimals.
func roundScore(v float64) float64 {
	v = math.Max(0, math.Min(1, v))
	return math.Round(v*100) / 100
}
