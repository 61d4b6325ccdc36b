package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/config"
	"github.com/abhisek/pathwise/internal/curriculum"
	"github.com/abhisek/pathwise/internal/enrollment"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/mastery"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/recommend"
	"github.com/abhisek/pathwise/internal/routine"
	"github.com/abhisek/pathwise/internal/store/storetest"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	curricula *curriculum.Store
	overlays  *enrollment.Service
	tracker   *mastery.Tracker
	routines  *routine.Store
	metrics   *metrics.Metrics
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.Open(t)
	codec, err := curriculum.NewCodec()
	require.NoError(t, err)
	t.Cleanup(codec.Close)

	logger := slog.New(slog.DiscardHandler)
	locker := keylock.NewLocal()
	m := metrics.New(prometheus.NewRegistry())
	cs := curriculum.NewStore(st, codec)

	f := &fixture{
		curricula: cs,
		overlays:  enrollment.NewService(st, cs, locker, logger, m),
		tracker:   mastery.NewTracker(st, locker, logger, m, mastery.DefaultConfig()),
		routines:  routine.NewStore(st, locker, logger, 0),
		metrics:   m,
	}
	engine := recommend.New(recommend.DefaultConfig(), recommend.WithRunID(func() string { return "run-1" }))
	f.svc = New(Deps{
		Views:    f.overlays,
		Mastery:  f.tracker,
		Routines: f.routines,
		Catalog:  cs,
	}, engine, recommend.Constraints{AvoidRepeatWithinDays: 7}, logger, m)
	f.svc.now = func() time.Time { return now }
	return f
}

func (f *fixture) seedCourse(t *testing.T) {
	t.Helper()
	ctx := t.Context()
	entries := []curriculum.LessonEntry{
		{Order: 1, LessonRef: "add", Title: "Addition", OutcomeRefs: []string{"o.add"}, EstimatedMinutes: 20},
		{Order: 2, LessonRef: "sub", Title: "Subtraction", OutcomeRefs: []string{"o.sub"}, EstimatedMinutes: 20},
		{Order: 3, LessonRef: "mul", Title: "Multiplication", OutcomeRefs: []string{"o.mul"}, EstimatedMinutes: 50},
	}
	c, err := f.curricula.Publish(ctx, curriculum.AuthoredCurriculum{CourseID: "math", Version: "1.0.0", Entries: entries})
	require.NoError(t, err)

	templates := make([]curriculum.Template, len(entries))
	for i, e := range entries {
		templates[i] = curriculum.Template{ID: e.LessonRef, CourseID: "math", Title: e.Title, OutcomeRefs: e.OutcomeRefs, EstimatedMinutes: e.EstimatedMinutes}
	}
	require.NoError(t, f.curricula.PutTemplates(ctx, "math", templates))

	_, err = f.overlays.CreateReference(ctx, "s1", "math", c)
	require.NoError(t, err)
}

func TestRecommendEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t)
	ctx := t.Context()

	_, err := f.tracker.BatchUpdateEMAs(ctx, "s1", "math", map[string]float64{
		"o.add": 0.9,
		"o.sub": 0.2,
		"o.mul": 0.9,
	})
	require.NoError(t, err)
	_, err = f.routines.SetDue(ctx, "s1", "math", "o.sub", now.Add(-time.Hour))
	require.NoError(t, err)

	rec, err := f.svc.Recommend(ctx, Request{StudentID: "s1", CourseID: "math"})
	require.NoError(t, err)

	require.Len(t, rec.Candidates, 3)
	assert.Equal(t, "sub", rec.Candidates[0].LessonRef)
	assert.Equal(t, 0.65, rec.Candidates[0].PriorityScore)
	assert.Equal(t, "add", rec.Candidates[1].LessonRef)
	assert.Equal(t, 0.15, rec.Candidates[1].PriorityScore)
	assert.Equal(t, "mul", rec.Candidates[2].LessonRef)
	assert.Contains(t, rec.Candidates[2].Flags, "long")
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, now, rec.GeneratedAt)
	assert.Equal(t, "Overdue>LowEMA>Order | -Recent -TooLong", rec.Rubric)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RecommendationsTotal.WithLabelValues("ok")))
}

func TestRecommendWithoutMasteryOrRoutine(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t)

	rec, err := f.svc.Recommend(t.Context(), Request{StudentID: "s1", CourseID: "math", Completed: []string{"add"}})
	require.NoError(t, err)
	require.Len(t, rec.Candidates, 2)
	// Missing mastery is low mastery for every lesson.
	assert.Equal(t, "sub", rec.Candidates[0].LessonRef)
	assert.Equal(t, 0.40, rec.Candidates[0].PriorityScore)
	assert.Equal(t, 0.20, rec.Candidates[1].PriorityScore)
}

func TestRecommendRecencyUsesDefaultWindow(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t)
	ctx := t.Context()

	_, err := f.routines.RecordTaught(ctx, "s1", "math", "add", []string{"o.add"}, now.Add(-24*time.Hour))
	require.NoError(t, err)

	rec, err := f.svc.Recommend(ctx, Request{StudentID: "s1", CourseID: "math"})
	require.NoError(t, err)
	var add recommend.LessonCandidate
	for _, c := range rec.Candidates {
		if c.LessonRef == "add" {
			add = c
		}
	}
	assert.Contains(t, add.Flags, "recent")

	rec, err = f.svc.Recommend(ctx, Request{
		StudentID:   "s1",
		CourseID:    "math",
		Constraints: recommend.Constraints{AvoidRepeatWithinDays: -1, TopN: 1},
	})
	require.NoError(t, err)
	require.Len(t, rec.Candidates, 1)
	assert.NotContains(t, rec.Candidates[0].Flags, "recent")
}

func TestRecommendAllCompletedIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t)

	rec, err := f.svc.Recommend(t.Context(), Request{
		StudentID: "s1",
		CourseID:  "math",
		Completed: []string{"add", "sub", "mul"},
	})
	require.NoError(t, err)
	assert.Empty(t, rec.Candidates)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RecommendationsTotal.WithLabelValues("empty")))
}

func TestRecommendNotEnrolled(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Recommend(t.Context(), Request{StudentID: "nobody", CourseID: "math"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RecommendationsTotal.WithLabelValues("error")))

	_, err = f.svc.Recommend(t.Context(), Request{CourseID: "math"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRecommendMissingCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	c, err := f.curricula.Publish(ctx, curriculum.AuthoredCurriculum{
		CourseID: "art",
		Version:  "1.0.0",
		Entries:  []curriculum.LessonEntry{{Order: 1, LessonRef: "draw"}},
	})
	require.NoError(t, err)
	_, err = f.overlays.CreateReference(ctx, "s1", "art", c)
	require.NoError(t, err)

	_, err = f.svc.Recommend(ctx, Request{StudentID: "s1", CourseID: "art"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

type failingRoutines struct{ err error }

func (f failingRoutines) Get(context.Context, string, string) (*routine.Context, error) {
	return nil, f.err
}

func TestRecommendPropagatesUpstream(t *testing.T) {
	f := newFixture(t)
	f.seedCourse(t)

	boom := apperr.E(apperr.KindUpstream, "routine.Get", errors.New("connection refused"))
	f.svc.routines = failingRoutines{err: boom}

	_, err := f.svc.Recommend(t.Context(), Request{StudentID: "s1", CourseID: "math"})
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.ErrorIs(t, err, boom)
}

func TestEngineConfigFromFile(t *testing.T) {
	cfg := config.Default().Recommend
	ec := EngineConfig(cfg)
	assert.Equal(t, recommend.DefaultWeights(), ec.Weights)
	assert.Equal(t, 3, ec.TopN)
	assert.Equal(t, 7, DefaultConstraints(cfg).AvoidRepeatWithinDays)
}
