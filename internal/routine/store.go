package routine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/store"
)

const lockScope = "routine"

// Store reads and writes routine contexts.
type Store struct {
	docs        *store.Collection
	locker      keylock.Locker
	logger      *slog.Logger
	recentLimit int
}

// NewStore creates a routine store. recentLimit <= 0 uses DefaultRecentLimit.
func NewStore(s *store.Store, locker keylock.Locker, logger *slog.Logger, recentLimit int) *Store {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &Store{
		docs:        s.Routines(),
		locker:      locker,
		logger:      logger,
		recentLimit: recentLimit,
	}
}

// Get returns the routine context for a student and course. A student with
// no routine history gets an empty context.
func (s *Store) Get(ctx context.Context, studentID, courseID string) (*Context, error) {
	const op = "routine.Get"
	doc, err := s.docs.FindByKey(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Context{DueAtByOutcome: map[string]time.Time{}}, nil
		}
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	c, err := decode(doc.Data)
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	return c, nil
}

// RecordTaught notes that lessonRef was taught at the given time and
// schedules the next review of each of its outcomes.
func (s *Store) RecordTaught(ctx context.Context, studentID, courseID, lessonRef string, outcomes []string, at time.Time) (*Context, error) {
	const op = "routine.RecordTaught"
	if lessonRef == "" {
		return nil, apperr.Errorf(apperr.KindValidation, op, "lessonRef is required")
	}
	c, err := s.modify(ctx, op, studentID, courseID, func(c *Context) {
		c.recordTaught(lessonRef, outcomes, at.UTC(), s.recentLimit)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "lesson taught",
		"student_id", studentID,
		"course_id", courseID,
		"lesson_ref", lessonRef,
		"outcomes", len(outcomes),
	)
	return c, nil
}

// SetDue overrides the review date of one outcome.
func (s *Store) SetDue(ctx context.Context, studentID, courseID, outcomeID string, dueAt time.Time) (*Context, error) {
	const op = "routine.SetDue"
	if outcomeID == "" {
		return nil, apperr.Errorf(apperr.KindValidation, op, "outcomeId is required")
	}
	return s.modify(ctx, op, studentID, courseID, func(c *Context) {
		if c.DueAtByOutcome == nil {
			c.DueAtByOutcome = make(map[string]time.Time)
		}
		c.DueAtByOutcome[outcomeID] = dueAt.UTC()
	})
}

func (s *Store) modify(ctx context.Context, op, studentID, courseID string, mutate func(*Context)) (*Context, error) {
	if studentID == "" || courseID == "" {
		return nil, apperr.Errorf(apperr.KindValidation, op, "studentId and courseId are required")
	}

	unlock, err := s.locker.Lock(ctx, keylock.Key(lockScope, studentID, courseID))
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	defer unlock()

	doc, err := s.docs.FindByKey(ctx, studentID, courseID)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}

	c := &Context{}
	if exists {
		if c, err = decode(doc.Data); err != nil {
			return nil, apperr.E(apperr.KindUpstream, op, err)
		}
	}
	mutate(c)

	data, err := json.Marshal(c)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, op, fmt.Errorf("marshal routine: %w", err))
	}
	if exists {
		_, err = s.docs.Update(ctx, doc.ID, doc.Rev, data)
	} else {
		_, err = s.docs.Create(ctx, store.Document{StudentID: studentID, CourseID: courseID, Data: data})
	}
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.E(apperr.KindConflict, op, err)
		}
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	return c, nil
}

func decode(data []byte) (*Context, error) {
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode routine: %w", err)
	}
	if c.DueAtByOutcome == nil {
		c.DueAtByOutcome = map[string]time.Time{}
	}
	return &c, nil
}
