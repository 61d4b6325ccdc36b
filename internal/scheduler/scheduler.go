// Package scheduler produces course recommendations by gathering a
// student's curriculum view, mastery, routine context, and lesson catalog
// and handing them to the recommendation engine.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/config"
	"github.com/abhisek/pathwise/internal/curriculum"
	"github.com/abhisek/pathwise/internal/enrollment"
	"github.com/abhisek/pathwise/internal/mastery"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/recommend"
	"github.com/abhisek/pathwise/internal/routine"
)

var tracer = otel.Tracer("github.com/abhisek/pathwise/internal/scheduler")

// Views dereferences a student's curriculum.
type Views interface {
	Dereference(ctx context.Context, studentID, courseID string) (*enrollment.View, error)
}

// MasteryReader returns a student's mastery record.
type MasteryReader interface {
	Get(ctx context.Context, studentID, courseID string) (*mastery.Record, error)
}

// RoutineReader returns a student's routine context.
type RoutineReader interface {
	Get(ctx context.Context, studentID, courseID string) (*routine.Context, error)
}

// Request asks for a recommendation. Zero constraint fields take the
// service defaults; a negative AvoidRepeatWithinDays disables recency.
type Request struct {
	StudentID   string
	CourseID    string
	Completed   []string
	Constraints recommend.Constraints
}

// Service runs recommendations.
type Service struct {
	views    Views
	mastery  MasteryReader
	routines RoutineReader
	catalog  curriculum.Catalog
	engine   *recommend.Engine
	defaults recommend.Constraints
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Deps are the collaborators a Service reads from.
type Deps struct {
	Views    Views
	Mastery  MasteryReader
	Routines RoutineReader
	Catalog  curriculum.Catalog
}

// New creates a scheduler. metrics may be nil.
func New(deps Deps, engine *recommend.Engine, defaults recommend.Constraints, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		views:    deps.Views,
		mastery:  deps.Mastery,
		routines: deps.Routines,
		catalog:  deps.Catalog,
		engine:   engine,
		defaults: defaults,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EngineConfig maps the recommend section of the config file onto the
// engine's configuration.
func EngineConfig(c config.RecommendConfig) recommend.Config {
	return recommend.Config{
		Weights: recommend.Weights{
			Overdue:    c.WeightOverdue,
			LowMastery: c.WeightLowMastery,
			EarlyOrder: c.WeightEarlyOrder,
			Recent:     c.PenaltyRecent,
			TooLong:    c.PenaltyTooLong,
		},
		LowMasteryThreshold: c.LowMasteryThreshold,
		LongLessonMinutes:   c.LongLessonMinutes,
		TopN:                c.TopN,
	}
}

// DefaultConstraints returns the per-request defaults from config.
func DefaultConstraints(c config.RecommendConfig) recommend.Constraints {
	return recommend.Constraints{AvoidRepeatWithinDays: c.AvoidRepeatWithinDays}
}

// Rubric returns the engine's scoring precedence.
func (s *Service) Rubric() string {
	return s.engine.Rubric()
}

// gathered holds the collaborator results for one run.
type gathered struct {
	view    *enrollment.View
	mastery map[string]float64
	routine *routine.Context
	catalog []curriculum.Template
}

// Recommend fetches every collaborator in parallel and scores the result.
// A student who is not enrolled gets NotFound.
func (s *Service) Recommend(ctx context.Context, req Request) (*recommend.CourseRecommendation, error) {
	const op = "scheduler.Recommend"
	start := time.Now()
	defer s.metrics.ObserveRecommend(start)

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("student_id", req.StudentID),
		attribute.String("course_id", req.CourseID),
	))
	defer span.End()

	rec, err := s.recommend(ctx, req)
	if err != nil {
		s.metrics.IncRecommendation("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		level := slog.LevelWarn
		if apperr.KindOf(err) == apperr.KindUpstream {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "recommendation failed",
			"student_id", req.StudentID,
			"course_id", req.CourseID,
			"error", err,
		)
		return nil, err
	}

	result := "ok"
	if len(rec.Candidates) == 0 {
		result = "empty"
	}
	s.metrics.IncRecommendation(result)
	s.metrics.ObserveCandidates(len(rec.Candidates))
	span.SetAttributes(
		attribute.String("run_id", rec.RunID),
		attribute.Int("candidates", len(rec.Candidates)),
	)
	s.logger.DebugContext(ctx, "recommendation generated",
		"student_id", req.StudentID,
		"course_id", req.CourseID,
		"run_id", rec.RunID,
		"candidates", len(rec.Candidates),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rec, nil
}

func (s *Service) recommend(ctx context.Context, req Request) (*recommend.CourseRecommendation, error) {
	const op = "scheduler.Recommend"
	if req.StudentID == "" || req.CourseID == "" {
		return nil, apperr.Errorf(apperr.KindValidation, op, "studentId and courseId are required")
	}

	in, err := s.gather(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, err
	}

	constraints := req.Constraints
	if constraints.AvoidRepeatWithinDays == 0 {
		constraints.AvoidRepeatWithinDays = s.defaults.AvoidRepeatWithinDays
	}
	if constraints.TopN <= 0 {
		constraints.TopN = s.defaults.TopN
	}

	return s.engine.Score(recommend.Input{
		CourseID:    req.CourseID,
		View:        in.view,
		Mastery:     in.mastery,
		Routine:     in.routine,
		Catalog:     in.catalog,
		Completed:   req.Completed,
		Constraints: constraints,
		Now:         s.now(),
	})
}

// gather issues the four collaborator reads concurrently and cancels the
// rest on the first failure. Missing mastery and routine data are empty.
func (s *Service) gather(ctx context.Context, studentID, courseID string) (*gathered, error) {
	g, ctx := errgroup.WithContext(ctx)
	out := &gathered{}

	g.Go(func() error {
		view, err := s.views.Dereference(ctx, studentID, courseID)
		if err != nil {
			return err
		}
		out.view = view
		return nil
	})

	g.Go(func() error {
		rec, err := s.mastery.Get(ctx, studentID, courseID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				out.mastery = map[string]float64{}
				return nil
			}
			return err
		}
		out.mastery = rec.EMAByOutcome
		return nil
	})

	g.Go(func() error {
		rc, err := s.routines.Get(ctx, studentID, courseID)
		if err != nil {
			return err
		}
		out.routine = rc
		return nil
	})

	g.Go(func() error {
		templates, err := s.catalog.Templates(ctx, courseID)
		if err != nil {
			return err
		}
		out.catalog = templates
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
