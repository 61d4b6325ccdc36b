package routine

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/store/storetest"
)

var day0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, limit int) *Store {
	t.Helper()
	return NewStore(storetest.Open(t), keylock.NewLocal(), slog.New(slog.DiscardHandler), limit)
}

func TestGetMissingIsEmpty(t *testing.T) {
	s := newStore(t, 0)
	c, err := s.Get(t.Context(), "s1", "math")
	require.NoError(t, err)
	assert.Empty(t, c.DueAtByOutcome)
	assert.Nil(t, c.LastTaughtAt)
	assert.Empty(t, c.RecentLessonRefs())
}

func TestRecordTaughtSchedulesExpandingReviews(t *testing.T) {
	s := newStore(t, 0)
	ctx := t.Context()

	_, err := s.RecordTaught(ctx, "s1", "math", "L1", []string{"o1"}, day0)
	require.NoError(t, err)
	c, err := s.Get(ctx, "s1", "math")
	require.NoError(t, err)
	assert.True(t, day0.AddDate(0, 0, 1).Equal(c.DueAtByOutcome["o1"]), "stage 0 is one day")

	second := day0.AddDate(0, 0, 2)
	_, err = s.RecordTaught(ctx, "s1", "math", "L1", []string{"o1"}, second)
	require.NoError(t, err)
	c, err = s.Get(ctx, "s1", "math")
	require.NoError(t, err)
	assert.True(t, second.AddDate(0, 0, 3).Equal(c.DueAtByOutcome["o1"]), "stage 1 is three days")
	assert.Equal(t, 1, c.StageByOutcome["o1"])
	require.NotNil(t, c.LastTaughtAt)
	assert.True(t, second.Equal(*c.LastTaughtAt))

	taught, ok := c.TaughtAt("L1")
	assert.True(t, ok)
	assert.True(t, second.Equal(taught))
	assert.Len(t, c.Recent, 1, "re-teaching replaces the earlier entry")
}

func TestRecentIsBounded(t *testing.T) {
	s := newStore(t, 3)
	ctx := t.Context()

	for i := 0; i < 5; i++ {
		_, err := s.RecordTaught(ctx, "s1", "math", fmt.Sprintf("L%d", i), nil, day0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	c, err := s.Get(ctx, "s1", "math")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"L2": true, "L3": true, "L4": true}, c.RecentLessonRefs())
}

func TestSetDueAndOverdue(t *testing.T) {
	s := newStore(t, 0)
	ctx := t.Context()

	_, err := s.SetDue(ctx, "s1", "math", "o1", day0.Add(-48*time.Hour))
	require.NoError(t, err)
	_, err = s.SetDue(ctx, "s1", "math", "o2", day0.Add(-time.Hour))
	require.NoError(t, err)
	c, err := s.SetDue(ctx, "s1", "math", "o3", day0.Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, c.IsOverdue("o1", day0))
	assert.True(t, c.IsOverdue("o2", day0))
	assert.False(t, c.IsOverdue("o3", day0))
	assert.False(t, c.IsOverdue("unknown", day0))
	assert.Equal(t, []string{"o1", "o2"}, c.DueOutcomes(day0))

	_, err = s.SetDue(ctx, "s1", "math", "", day0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestIntervalDaysCapsAtLastStage(t *testing.T) {
	assert.Equal(t, 1, intervalDays(-1))
	assert.Equal(t, 7, intervalDays(2))
	assert.Equal(t, 60, intervalDays(99))
}
