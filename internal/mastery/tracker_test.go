package mastery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/store"
	"github.com/abhisek/pathwise/internal/store/storetest"
)

const epsilon = 0.001

func newTracker(t *testing.T) (*Tracker, *store.Store, *metrics.Metrics) {
	t.Helper()
	st := storetest.Open(t)
	m := metrics.New(prometheus.NewRegistry())
	return NewTracker(st, keylock.NewLocal(), slog.New(slog.DiscardHandler), m, Config{}), st, m
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in      float64
		want    float64
		changed bool
	}{
		{1.5, 1, true},
		{-0.5, 0, true},
		{999, 1, true},
		{0.42, 0.42, false},
		{0, 0, false},
		{1, 1, false},
		{math.Inf(1), 1, true},
		{math.NaN(), 0, true},
	}
	for _, tt := range tests {
		got, changed := Clamp(tt.in)
		if got != tt.want || changed != tt.changed {
			t.Errorf("Clamp(%v) = (%v, %v), want (%v, %v)", tt.in, got, changed, tt.want, tt.changed)
		}
	}
}

func TestSmooth(t *testing.T) {
	// 0.3*1.0 + 0.7*0.3 = 0.51
	if got := Smooth(0.3, 1.0, 0.3); math.Abs(got-0.51) > epsilon {
		t.Errorf("Smooth = %f, want 0.51", got)
	}
	// Out-of-range score is clamped before blending: 0.5*0 + 0.5*0.8 = 0.4
	if got := Smooth(0.8, -3, 0.5); math.Abs(got-0.4) > epsilon {
		t.Errorf("Smooth = %f, want 0.4", got)
	}
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, StateNew, StateOf(0, false))
	assert.Equal(t, StateLearning, StateOf(0.2, true))
	assert.Equal(t, StatePracticing, StateOf(0.5, true))
	assert.Equal(t, StateMastered, StateOf(0.8, true))
}

func TestUpdateOutcomeEMAClampsAndCreates(t *testing.T) {
	tr, _, m := newTracker(t)
	ctx := t.Context()

	for _, tt := range []struct {
		raw  float64
		want float64
	}{
		{1.5, 1},
		{-0.5, 0},
		{999, 1},
		{0.65, 0.65},
	} {
		rec, err := tr.UpdateOutcomeEMA(ctx, "s1", "math", "o1", tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, rec.EMAByOutcome["o1"], "raw %v", tt.raw)
		assert.Len(t, rec.EMAByOutcome, 1, "seed key is overwritten in the same write")
	}

	got, ok, err := tr.GetOutcomeEMA(ctx, "s1", "math", "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.65, got)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ClampedScoresTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.MasteryUpdatesTotal.WithLabelValues("single")))
}

func TestBatchUpdateMergesWithoutDroppingKeys(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx := t.Context()

	_, err := tr.Upsert(ctx, Record{StudentID: "s1", CourseID: "math", EMAByOutcome: map[string]float64{"o1": 0.3, "o2": 0.5}})
	require.NoError(t, err)

	rec, err := tr.BatchUpdateEMAs(ctx, "s1", "math", map[string]float64{
		"o1": 0.95, "o2": 0.85, "new1": 0.7, "new2": 0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"o1": 0.95, "o2": 0.85, "new1": 0.7, "new2": 0.6}, rec.EMAByOutcome)

	rec, err = tr.BatchUpdateEMAs(ctx, "s1", "math", map[string]float64{"o3": 2})
	require.NoError(t, err)
	assert.Len(t, rec.EMAByOutcome, 5)
	assert.Equal(t, 1.0, rec.EMAByOutcome["o3"])
	assert.Equal(t, 0.95, rec.EMAByOutcome["o1"])
}

func TestBatchUpdateSeedsOnlyFirstKey(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx := t.Context()

	rec, err := tr.BatchUpdateEMAs(ctx, "s1", "math", map[string]float64{"b": 0.9, "a": -1})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 0, "b": 0.9}, rec.EMAByOutcome)
	assert.Equal(t, int64(1), rec.Rev, "one persisted write")
}

func TestBatchUpdateValidation(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx := t.Context()

	_, err := tr.BatchUpdateEMAs(ctx, "s1", "math", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = tr.BatchUpdateEMAs(ctx, "s1", "math", map[string]float64{"": 0.4})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = tr.UpdateOutcomeEMA(ctx, "", "math", "o1", 0.4)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpsertRejectsOutOfRange(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx := t.Context()

	_, err := tr.Upsert(ctx, Record{StudentID: "s1", CourseID: "math", EMAByOutcome: map[string]float64{"o1": 1.2}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = tr.Get(ctx, "s1", "math")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "rejected upsert writes nothing")

	rec, err := tr.Upsert(ctx, Record{StudentID: "s1", CourseID: "math", EMAByOutcome: map[string]float64{"o1": 0.4}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Rev)

	rec, err = tr.Upsert(ctx, Record{StudentID: "s1", CourseID: "math", EMAByOutcome: map[string]float64{"o2": 0.6}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Rev, "existing record is updated, not duplicated")
	assert.Equal(t, map[string]float64{"o2": 0.6}, rec.EMAByOutcome)
}

func TestGetOutcomeEMAAbsent(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx := t.Context()

	_, ok, err := tr.GetOutcomeEMA(ctx, "s1", "math", "o1")
	require.NoError(t, err)
	assert.False(t, ok, "no record")

	_, err = tr.UpdateOutcomeEMA(ctx, "s1", "math", "o1", 0.5)
	require.NoError(t, err)
	_, ok, err = tr.GetOutcomeEMA(ctx, "s1", "math", "o2")
	require.NoError(t, err)
	assert.False(t, ok, "no key")

	_, err = tr.Get(ctx, "s2", "math")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRecordEvidenceSmooths(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx := t.Context()

	// Starts from the 0.3 prior: 0.3*1 + 0.7*0.3 = 0.51
	rec, err := tr.RecordEvidence(ctx, "s1", "math", "o1", 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.51, rec.EMAByOutcome["o1"], epsilon)

	// 0.3*1 + 0.7*0.51 = 0.657
	rec, err = tr.RecordEvidence(ctx, "s1", "math", "o1", 5)
	require.NoError(t, err)
	assert.InDelta(t, 0.657, rec.EMAByOutcome["o1"], epsilon)
}

func TestStoredRecordKeepsMapAsText(t *testing.T) {
	tr, st, _ := newTracker(t)
	ctx := t.Context()

	_, err := tr.UpdateOutcomeEMA(ctx, "s1", "math", "o1", 0.4)
	require.NoError(t, err)

	doc, err := st.Mastery().FindByKey(ctx, "s1", "math")
	require.NoError(t, err)
	var top map[string]any
	require.NoError(t, json.Unmarshal(doc.Data, &top))
	assert.IsType(t, "", top["emaByOutcome"])
}

func TestCorruptStoredRecordIsUpstream(t *testing.T) {
	tr, st, _ := newTracker(t)
	ctx := t.Context()

	_, err := st.Mastery().Create(ctx, store.Document{
		StudentID: "s1",
		CourseID:  "math",
		Data:      json.RawMessage(`{"studentId":"s1","courseId":"math","emaByOutcome":"{\"o1\":7}"}`),
	})
	require.NoError(t, err)

	_, err = tr.Get(ctx, "s1", "math")
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	tr, _, _ := newTracker(t)
	ctx := t.Context()

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := tr.UpdateOutcomeEMA(ctx, "s1", "math", fmt.Sprintf("o%02d", i), 0.5)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := tr.Get(ctx, "s1", "math")
	require.NoError(t, err)
	assert.Len(t, rec.EMAByOutcome, writers)
}
