package enrollment

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/curriculum"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/store/storetest"
)

type fixture struct {
	store     *store.Store
	curricula *curriculum.Store
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.Open(t)
	codec, err := curriculum.NewCodec()
	require.NoError(t, err)
	t.Cleanup(codec.Close)
	cs := curriculum.NewStore(st, codec)
	return &fixture{
		store:     st,
		curricula: cs,
		svc:       NewService(st, cs, keylock.NewLocal(), slog.New(slog.DiscardHandler), nil),
	}
}

func threeLessons() []curriculum.LessonEntry {
	return []curriculum.LessonEntry{
		{Order: 1, LessonRef: "L1", Title: "One", OutcomeRefs: []string{"o1"}, EstimatedMinutes: 20},
		{Order: 2, LessonRef: "L2", Title: "Two", OutcomeRefs: []string{"o2"}, EstimatedMinutes: 25},
		{Order: 3, LessonRef: "L3", Title: "Three", OutcomeRefs: []string{"o3"}, EstimatedMinutes: 30},
	}
}

func (f *fixture) enroll(t *testing.T, studentID string) *curriculum.AuthoredCurriculum {
	t.Helper()
	ctx := t.Context()
	c, err := f.curricula.Latest(ctx, "math")
	if err != nil {
		c, err = f.curricula.Publish(ctx, curriculum.AuthoredCurriculum{
			CourseID: "math",
			Version:  "1.0.0",
			Entries:  threeLessons(),
			Metadata: map[string]any{"level": "intro"},
		})
		require.NoError(t, err)
	}
	_, err = f.svc.CreateReference(ctx, studentID, "math", c)
	require.NoError(t, err)
	return c
}

func ptr[T any](v T) *T { return &v }

func TestCreateReferenceStoresOnlyPointer(t *testing.T) {
	f := newFixture(t)
	c := f.enroll(t, "s1")

	doc, err := f.store.Enrollments().FindByKey(t.Context(), "s1", "math")
	require.NoError(t, err)

	var top map[string]any
	require.NoError(t, json.Unmarshal(doc.Data, &top))
	assert.NotContains(t, top, "entries")
	assert.NotContains(t, top, "metadata")
	assert.Equal(t, c.ID, top["sourceCurriculumId"])
	assert.Equal(t, c.Version, top["sourceVersion"])

	o, err := f.svc.Get(t.Context(), "s1", "math")
	require.NoError(t, err)
	assert.Empty(t, o.Customizations.Entries)
}

func TestCreateReferenceValidation(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	tests := []struct {
		name      string
		studentID string
		c         *curriculum.AuthoredCurriculum
	}{
		{"nil curriculum", "s1", nil},
		{"no id", "s1", &curriculum.AuthoredCurriculum{Version: "v1.0.0"}},
		{"no version", "s1", &curriculum.AuthoredCurriculum{ID: "math@v1"}},
		{"wrong course", "s1", &curriculum.AuthoredCurriculum{ID: "art@v1", CourseID: "art", Version: "v1.0.0"}},
		{"no student", "", &curriculum.AuthoredCurriculum{ID: "math@v1", Version: "v1.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateReference(ctx, tt.studentID, "math", tt.c)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestCreateReferenceTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	c := f.enroll(t, "s1")
	_, err := f.svc.CreateReference(t.Context(), "s1", "math", c)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestDereferenceMatchesAuthoredAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.enroll(t, "s1")
	ctx := t.Context()

	first, err := f.svc.Dereference(ctx, "s1", "math")
	require.NoError(t, err)
	assert.Equal(t, c.Entries, first.Entries)
	assert.Equal(t, "intro", first.Metadata["level"])
	assert.Equal(t, c.ID, first.SourceCurriculumID)

	second, err := f.svc.Dereference(ctx, "s1", "math")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDereferenceErrors(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.svc.Dereference(ctx, "nobody", "math")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// Legacy record written before curriculum references existed.
	_, err = f.store.Enrollments().Create(ctx, store.Document{
		StudentID: "legacy",
		CourseID:  "math",
		Data:      json.RawMessage(`{"studentId":"legacy","courseId":"math","customizations":"{}"}`),
	})
	require.NoError(t, err)
	_, err = f.svc.Dereference(ctx, "legacy", "math")
	assert.ErrorIs(t, err, apperr.ErrIntegrity)

	// Reference to a curriculum that was never published.
	_, err = f.svc.CreateReference(ctx, "dangling", "math", &curriculum.AuthoredCurriculum{ID: "math@v9.0.0", Version: "v9.0.0"})
	require.NoError(t, err)
	_, err = f.svc.Dereference(ctx, "dangling", "math")
	assert.ErrorIs(t, err, apperr.ErrIntegrity)

	// Integrity problems are not masked by the derived queries.
	for _, student := range []string{"legacy", "dangling"} {
		_, err = f.svc.Progress(ctx, student, "math", nil)
		assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err), student)

		next, err := f.svc.NextLesson(ctx, student, "math", nil)
		assert.Nil(t, next, student)
		assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err), student)
	}
}

func TestProgressExample(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "s1")
	ctx := t.Context()

	_, err := f.svc.ApplyCustomization(ctx, "s1", "math", Customizations{
		Entries: map[int]CustomizationEntry{2: {Skipped: ptr(true)}},
	})
	require.NoError(t, err)

	p, err := f.svc.Progress(ctx, "s1", "math", []string{"L1"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.TotalLessons)
	assert.Equal(t, 1, p.CompletedLessons)
	assert.Equal(t, 50, p.ProgressPercentage)
	require.NotNil(t, p.NextLesson)
	assert.Equal(t, 3, p.NextLesson.Order)

	view, err := f.svc.Dereference(ctx, "s1", "math")
	require.NoError(t, err)
	assert.Len(t, view.Entries, 3, "skipping does not remove authored entries")
}

func TestNextLessonSkipsAndCompletes(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "s1")
	ctx := t.Context()

	next, err := f.svc.NextLesson(ctx, "s1", "math", nil)
	require.NoError(t, err)
	assert.Equal(t, "L1", next.LessonRef)

	_, err = f.svc.ApplyCustomization(ctx, "s1", "math", Customizations{
		Entries: map[int]CustomizationEntry{1: {Skipped: ptr(true)}},
	})
	require.NoError(t, err)

	next, err = f.svc.NextLesson(ctx, "s1", "math", []string{"L2"})
	require.NoError(t, err)
	assert.Equal(t, "L3", next.LessonRef)

	next, err = f.svc.NextLesson(ctx, "s1", "math", []string{"L2", "L3"})
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestMissingOverlayIsBenignForDerivedQueries(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	next, err := f.svc.NextLesson(ctx, "ghost", "math", nil)
	require.NoError(t, err)
	assert.Nil(t, next)

	p, err := f.svc.Progress(ctx, "ghost", "math", nil)
	require.NoError(t, err)
	assert.Equal(t, Progress{}, p)

	_, err = f.svc.Get(ctx, "ghost", "math")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplyCustomizationMergesPerField(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "s1")
	ctx := t.Context()
	planned := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, err := f.svc.ApplyCustomization(ctx, "s1", "math", Customizations{
		Entries: map[int]CustomizationEntry{
			1: {Notes: ptr("review first"), PlannedAt: &planned},
			2: {Skipped: ptr(true)},
		},
		Preferences: map[string]any{"theme": "dark", "pace": "slow"},
	})
	require.NoError(t, err)

	o, err := f.svc.ApplyCustomization(ctx, "s1", "math", Customizations{
		Entries: map[int]CustomizationEntry{
			1: {Skipped: ptr(true)},
			2: {Skipped: ptr(false)},
		},
		Preferences: map[string]any{"pace": "fast"},
	})
	require.NoError(t, err)

	e1 := o.Customizations.Entries[1]
	require.NotNil(t, e1.Notes)
	assert.Equal(t, "review first", *e1.Notes, "fields absent from the patch survive")
	assert.True(t, e1.IsSkipped())
	require.NotNil(t, e1.PlannedAt)
	assert.True(t, planned.Equal(*e1.PlannedAt))
	assert.False(t, o.Customizations.Entries[2].IsSkipped(), "last writer wins per field")
	assert.Equal(t, map[string]any{"pace": "fast"}, o.Customizations.Preferences, "top-level keys are replaced")
}

func TestReferenceStableAcrossCustomizations(t *testing.T) {
	f := newFixture(t)
	c := f.enroll(t, "s1")
	ctx := t.Context()

	for i := 1; i <= 5; i++ {
		o, err := f.svc.ApplyCustomization(ctx, "s1", "math", Customizations{
			Entries: map[int]CustomizationEntry{i: {Notes: ptr(fmt.Sprintf("note %d", i))}},
		})
		require.NoError(t, err)
		assert.Equal(t, c.ID, o.SourceCurriculumID)
		assert.Equal(t, c.Version, o.SourceVersion)
		assert.Equal(t, int64(i+1), o.Rev)
	}
}

func TestConcurrentCustomizationsKeepEveryWrite(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "s1")
	ctx := t.Context()

	const writers = 12
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(order int) {
			defer wg.Done()
			_, err := f.svc.ApplyCustomization(ctx, "s1", "math", Customizations{
				Entries: map[int]CustomizationEntry{order: {Notes: ptr("n")}},
			})
			assert.NoError(t, err)
		}(i + 1)
	}
	wg.Wait()

	o, err := f.svc.Get(ctx, "s1", "math")
	require.NoError(t, err)
	assert.Len(t, o.Customizations.Entries, writers)
}

func TestManualLessonsAndCustomRefs(t *testing.T) {
	f := newFixture(t)
	c := f.enroll(t, "s1")
	ctx := t.Context()

	_, err := f.svc.ApplyCustomization(ctx, "s1", "math", Customizations{
		Entries: map[int]CustomizationEntry{
			2:  {CustomLessonRef: ptr("L2-remedial")},
			10: {AddedManually: ptr(true), CustomLessonRef: ptr("extra-practice")},
		},
	})
	require.NoError(t, err)

	view, err := f.svc.Dereference(ctx, "s1", "math")
	require.NoError(t, err)
	require.Len(t, view.Entries, 4)
	assert.Equal(t, "L2-remedial", view.Entries[1].LessonRef)
	assert.Equal(t, "extra-practice", view.Entries[3].LessonRef)
	assert.Equal(t, 10, view.Entries[3].Order)

	again, err := f.curricula.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "L2", again.Entries[1].LessonRef, "authored curriculum is untouched")
}

func TestApplyCustomizationJSONRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "s1")
	ctx := t.Context()

	bad := []string{
		`{"entries":{"first":{"skipped":true}}}`,
		`{"entries":{"1":{"skipped":"yes"}}}`,
		`{"entries":{"1":{"color":"red"}}}`,
		`{"entries":{"1":{"plannedAt":"tomorrow"}}}`,
		`{"bogus":1}`,
		`{"entries":{"9":{"addedManually":true}}}`,
		`[1,2]`,
		`{broken`,
	}
	for _, raw := range bad {
		_, err := f.svc.ApplyCustomizationJSON(ctx, "s1", "math", []byte(raw))
		assert.ErrorIs(t, err, apperr.ErrValidation, raw)
	}

	o, err := f.svc.ApplyCustomizationJSON(ctx, "s1", "math",
		[]byte(`{"entries":{"3":{"skipped":true,"plannedAt":"2026-04-01T10:00:00Z"}}}`))
	require.NoError(t, err)
	assert.True(t, o.Customizations.Skipped(3))

	_, err = f.svc.ApplyCustomizationJSON(ctx, "ghost", "math", []byte(`{}`))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUnenroll(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "s1")
	ctx := t.Context()

	require.NoError(t, f.svc.Unenroll(ctx, "s1", "math"))
	_, err := f.svc.Get(ctx, "s1", "math")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, f.svc.Unenroll(ctx, "s1", "math"), apperr.ErrNotFound)

	// Re-enrolling after unenroll starts fresh.
	f.enroll(t, "s1")
}
