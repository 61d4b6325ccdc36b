package enrollment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/curriculum"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/store"
)

const lockScope = "enrollment"

var tracer = otel.Tracer("github.com/abhisek/pathwise/internal/enrollment")

// Service is the Enrollment Overlay Store.
type Service struct {
	docs      *store.Collection
	curricula curriculum.Reader
	locker    keylock.Locker
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewService creates an overlay service. metrics may be nil.
func NewService(
	s *store.Store,
	curricula curriculum.Reader,
	locker keylock.Locker,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		docs:      s.Enrollments(),
		curricula: curricula,
		locker:    locker,
		logger:    logger,
		metrics:   m,
	}
}

// CreateReference enrolls a student by pointing a new overlay at c. The
// overlay starts with empty customizations.
func (s *Service) CreateReference(ctx context.Context, studentID, courseID string, c *curriculum.AuthoredCurriculum) (*Overlay, error) {
	const op = "enrollment.CreateReference"
	switch {
	case studentID == "" || courseID == "":
		return nil, apperr.Errorf(apperr.KindValidation, op, "studentId and courseId are required")
	case c == nil || c.ID == "":
		return nil, apperr.Errorf(apperr.KindValidation, op, "curriculum has no id")
	case c.Version == "":
		return nil, apperr.Errorf(apperr.KindValidation, op, "curriculum %q has no version", c.ID)
	case c.CourseID != "" && c.CourseID != courseID:
		return nil, apperr.Errorf(apperr.KindValidation, op, "curriculum %q belongs to course %q", c.ID, c.CourseID)
	}

	custom, err := encodeCustomizations(Customizations{})
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}
	data, err := encodeRecord(record{
		StudentID:          studentID,
		CourseID:           courseID,
		SourceCurriculumID: c.ID,
		SourceVersion:      c.Version,
		Customizations:     custom,
	})
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}

	doc, err := s.docs.Create(ctx, store.Document{StudentID: studentID, CourseID: courseID, Data: data})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Errorf(apperr.KindConflict, op, "student %q is already enrolled in %q", studentID, courseID)
		}
		s.logger.ErrorContext(ctx, "create overlay failed",
			"student_id", studentID,
			"course_id", courseID,
			"error", err,
		)
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}

	s.metrics.IncEnrollment("created")
	s.logger.InfoContext(ctx, "enrollment created",
		"student_id", studentID,
		"course_id", courseID,
		"curriculum_id", c.ID,
	)
	return toOverlay(doc)
}

// Get returns the overlay for a student and course, or NotFound.
func (s *Service) Get(ctx context.Context, studentID, courseID string) (*Overlay, error) {
	const op = "enrollment.Get"
	doc, err := s.docs.FindByKey(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Errorf(apperr.KindNotFound, op, "no enrollment for student %q in course %q", studentID, courseID)
		}
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	o, err := toOverlay(doc)
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	return o, nil
}

// Dereference merges the referenced curriculum with the overlay's
// customizations. An overlay without a curriculum reference, or whose
// curriculum no longer exists, is an Integrity failure.
func (s *Service) Dereference(ctx context.Context, studentID, courseID string) (*View, error) {
	const op = "enrollment.Dereference"
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("student_id", studentID),
		attribute.String("course_id", courseID),
	))
	defer span.End()

	view, err := s.dereference(ctx, studentID, courseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Int("entries", len(view.Entries)))
	return view, nil
}

func (s *Service) dereference(ctx context.Context, studentID, courseID string) (*View, error) {
	const op = "enrollment.Dereference"
	o, err := s.Get(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	if o.SourceCurriculumID == "" {
		s.metrics.IncIntegrityFailure()
		s.logger.WarnContext(ctx, "overlay has no curriculum reference",
			"student_id", studentID,
			"course_id", courseID,
		)
		return nil, apperr.Errorf(apperr.KindIntegrity, op, "overlay %q has no curriculum reference", o.ID)
	}

	c, err := s.curricula.Get(ctx, o.SourceCurriculumID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.metrics.IncIntegrityFailure()
			s.logger.WarnContext(ctx, "overlay references a missing curriculum",
				"student_id", studentID,
				"course_id", courseID,
				"curriculum_id", o.SourceCurriculumID,
			)
			return nil, apperr.E(apperr.KindIntegrity, op, err)
		}
		return nil, err
	}
	return buildView(o, c), nil
}

// ApplyCustomization merges patch into the stored customizations under the
// key's lock. Entries merge by order and field; other top-level keys are
// replaced.
func (s *Service) ApplyCustomization(ctx context.Context, studentID, courseID string, patch Customizations) (*Overlay, error) {
	const op = "enrollment.ApplyCustomization"
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("student_id", studentID),
		attribute.String("course_id", courseID),
		attribute.Int("patch_entries", len(patch.Entries)),
	))
	defer span.End()

	o, err := s.applyCustomization(ctx, studentID, courseID, patch)
	if err != nil {
		s.metrics.IncCustomization("rejected")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		return nil, err
	}
	s.metrics.IncCustomization("applied")
	return o, nil
}

// ApplyCustomizationJSON validates a raw JSON patch and applies it.
func (s *Service) ApplyCustomizationJSON(ctx context.Context, studentID, courseID string, raw []byte) (*Overlay, error) {
	patch, err := ParsePatch(raw)
	if err != nil {
		s.metrics.IncCustomization("rejected")
		return nil, apperr.E(apperr.KindValidation, "enrollment.ApplyCustomization", err)
	}
	return s.ApplyCustomization(ctx, studentID, courseID, patch)
}

func (s *Service) applyCustomization(ctx context.Context, studentID, courseID string, patch Customizations) (*Overlay, error) {
	const op = "enrollment.ApplyCustomization"

	waitStart := time.Now()
	unlock, err := s.locker.Lock(ctx, keylock.Key(lockScope, studentID, courseID))
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	defer unlock()
	s.metrics.ObserveLockWait(waitStart)

	doc, err := s.docs.FindByKey(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Errorf(apperr.KindNotFound, op, "no enrollment for student %q in course %q", studentID, courseID)
		}
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	r, current, err := decodeRecord(doc.Data)
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}

	merged := current.Merge(patch)
	if err := checkCustomizations(merged); err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}
	if r.Customizations, err = encodeCustomizations(merged); err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}
	data, err := encodeRecord(r)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}

	updated, err := s.docs.Update(ctx, doc.ID, doc.Rev, data)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			return nil, apperr.E(apperr.KindConflict, op, err)
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.E(apperr.KindNotFound, op, err)
		}
		s.logger.ErrorContext(ctx, "update overlay failed",
			"student_id", studentID,
			"course_id", courseID,
			"error", err,
		)
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}

	s.logger.InfoContext(ctx, "customization applied",
		"student_id", studentID,
		"course_id", courseID,
		"entries", len(patch.Entries),
	)
	return toOverlay(updated)
}

// NextLesson returns the student's next lesson. A missing enrollment yields
// nil without error.
func (s *Service) NextLesson(ctx context.Context, studentID, courseID string, completed []string) (*curriculum.LessonEntry, error) {
	view, err := s.dereference(ctx, studentID, courseID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return view.NextLesson(completed), nil
}

// Progress reports completion for the student. A missing enrollment yields
// a zero Progress without error.
func (s *Service) Progress(ctx context.Context, studentID, courseID string, completed []string) (Progress, error) {
	view, err := s.dereference(ctx, studentID, courseID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return Progress{}, nil
		}
		return Progress{}, err
	}
	return view.Progress(completed), nil
}

// Unenroll deletes the overlay.
func (s *Service) Unenroll(ctx context.Context, studentID, courseID string) error {
	const op = "enrollment.Unenroll"

	unlock, err := s.locker.Lock(ctx, keylock.Key(lockScope, studentID, courseID))
	if err != nil {
		return apperr.E(apperr.KindUpstream, op, err)
	}
	defer unlock()

	doc, err := s.docs.FindByKey(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Errorf(apperr.KindNotFound, op, "no enrollment for student %q in course %q", studentID, courseID)
		}
		return apperr.E(apperr.KindUpstream, op, err)
	}
	if err := s.docs.Delete(ctx, doc.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.E(apperr.KindUpstream, op, err)
	}

	s.metrics.IncEnrollment("deleted")
	s.logger.InfoContext(ctx, "enrollment deleted",
		"student_id", studentID,
		"course_id", courseID,
	)
	return nil
}

func toOverlay(doc store.Document) (*Overlay, error) {
	r, c, err := decodeRecord(doc.Data)
	if err != nil {
		return nil, err
	}
	return &Overlay{
		ID:                 doc.ID,
		StudentID:          r.StudentID,
		CourseID:           r.CourseID,
		SourceCurriculumID: r.SourceCurriculumID,
		SourceVersion:      r.SourceVersion,
		Customizations:     c,
		Rev:                doc.Rev,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}, nil
}
