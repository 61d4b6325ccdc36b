// Package api exposes the scheduling services over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/curriculum"
	"github.com/abhisek/pathwise/internal/enrollment"
	"github.com/abhisek/pathwise/internal/mastery"
	"github.com/abhisek/pathwise/internal/recommend"
	"github.com/abhisek/pathwise/internal/scheduler"
)

// Enrollments is the overlay store as the API uses it.
type Enrollments interface {
	CreateReference(ctx context.Context, studentID, courseID string, c *curriculum.AuthoredCurriculum) (*enrollment.Overlay, error)
	Dereference(ctx context.Context, studentID, courseID string) (*enrollment.View, error)
	ApplyCustomizationJSON(ctx context.Context, studentID, courseID string, raw []byte) (*enrollment.Overlay, error)
	NextLesson(ctx context.Context, studentID, courseID string, completed []string) (*curriculum.LessonEntry, error)
	Progress(ctx context.Context, studentID, courseID string, completed []string) (enrollment.Progress, error)
	Unenroll(ctx context.Context, studentID, courseID string) error
}

// Curricula resolves the curriculum an enrollment should reference.
type Curricula interface {
	Get(ctx context.Context, id string) (*curriculum.AuthoredCurriculum, error)
	Latest(ctx context.Context, courseID string) (*curriculum.AuthoredCurriculum, error)
}

// Mastery is the mastery tracker as the API uses it.
type Mastery interface {
	Get(ctx context.Context, studentID, courseID string) (*mastery.Record, error)
	UpdateOutcomeEMA(ctx context.Context, studentID, courseID, outcomeID string, rawScore float64) (*mastery.Record, error)
	BatchUpdateEMAs(ctx context.Context, studentID, courseID string, updates map[string]float64) (*mastery.Record, error)
	RecordEvidence(ctx context.Context, studentID, courseID, outcomeID string, score float64) (*mastery.Record, error)
}

// Recommender produces course recommendations.
type Recommender interface {
	Recommend(ctx context.Context, req scheduler.Request) (*recommend.CourseRecommendation, error)
}

// Handler serves the student-course endpoints.
type Handler struct {
	enrollments Enrollments
	curricula   Curricula
	mastery     Mastery
	recommender Recommender
	logger      *slog.Logger
}

// New constructs a Handler.
func New(enrollments Enrollments, curricula Curricula, m Mastery, rec Recommender, logger *slog.Logger) *Handler {
	return &Handler{
		enrollments: enrollments,
		curricula:   curricula,
		mastery:     m,
		recommender: rec,
		logger:      logger,
	}
}

// Register mounts the student-course endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/students/{studentID}/courses/{courseID}", func(r chi.Router) {
		r.Get("/recommendation", h.handleRecommend)
		r.Get("/progress", h.handleProgress)
		r.Get("/next", h.handleNext)
		r.Put("/enrollment", h.handleEnroll)
		r.Get("/enrollment", h.handleGetEnrollment)
		r.Delete("/enrollment", h.handleUnenroll)
		r.Patch("/customizations", h.handleCustomize)
		r.Get("/mastery", h.handleGetMastery)
		r.Post("/mastery", h.handleUpdateMastery)
	})
}

// HealthFunc reports whether the service's backends are reachable.
type HealthFunc func(ctx context.Context) error

// NewRouter builds the full HTTP handler: API routes, /healthz and
// /metrics. health and gatherer may be nil.
func NewRouter(h *Handler, health HealthFunc, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				h.logger.WarnContext(r.Context(), "health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	h.Register(r)
	return r
}

type key struct {
	studentID string
	courseID  string
}

func keyOf(r *http.Request) key {
	return key{
		studentID: chi.URLParam(r, "studentID"),
		courseID:  chi.URLParam(r, "courseID"),
	}
}

// completedParam parses ?completed=a,b,c.
func completedParam(r *http.Request) []string {
	raw := r.URL.Query().Get("completed")
	if raw == "" {
		return nil
	}
	var out []string
	for _, ref := range strings.Split(raw, ",") {
		if ref = strings.TrimSpace(ref); ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

func intParam(r *http.Request, name string) (int, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, apperr.Errorf(apperr.KindValidation, "api.intParam", "query parameter %q must be an integer", name)
	}
	return n, true, nil
}

// fail logs err at a level matching its kind and writes the error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, k key, err error) {
	level := slog.LevelWarn
	switch apperr.KindOf(err) {
	case apperr.KindUpstream, "":
		level = slog.LevelError
	case apperr.KindNotFound, apperr.KindValidation:
		level = slog.LevelDebug
	}
	h.logger.Log(r.Context(), level, msg,
		"request_id", middleware.GetReqID(r.Context()),
		"student_id", k.studentID,
		"course_id", k.courseID,
		"error", err,
	)
	writeError(w, err)
}

func (h *Handler) handleRecommend(w http.ResponseWriter, r *http.Request) {
	k := keyOf(r)
	req := scheduler.Request{
		StudentID: k.studentID,
		CourseID:  k.courseID,
		Completed: completedParam(r),
	}
	top, _, err := intParam(r, "top")
	if err != nil {
		h.fail(w, r, "invalid recommendation request", k, err)
		return
	}
	req.Constraints.TopN = top
	days, ok, err := intParam(r, "avoidRepeatDays")
	if err != nil {
		h.fail(w, r, "invalid recommendation request", k, err)
		return
	}
	if ok {
		req.Constraints.AvoidRepeatWithinDays = days
		if days == 0 {
			req.Constraints.AvoidRepeatWithinDays = -1
		}
	}

	rec, err := h.recommender.Recommend(r.Context(), req)
	if err != nil {
		h.fail(w, r, "recommendation failed", k, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	k := keyOf(r)
	p, err := h.enrollments.Progress(r.Context(), k.studentID, k.courseID, completedParam(r))
	if err != nil {
		h.fail(w, r, "progress failed", k, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type nextResponse struct {
	NextLesson *curriculum.LessonEntry `json:"nextLesson"`
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	k := keyOf(r)
	next, err := h.enrollments.NextLesson(r.Context(), k.studentID, k.courseID, completedParam(r))
	if err != nil {
		h.fail(w, r, "next lesson failed", k, err)
		return
	}
	writeJSON(w, http.StatusOK, nextResponse{NextLesson: next})
}

type enrollRequest struct {
	CurriculumID string `json:"curriculumId,omitempty"`
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	const op = "api.Enroll"
	k := keyOf(r)
	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "invalid enrollment request", k, err)
		return
	}

	var (
		c   *curriculum.AuthoredCurriculum
		err error
	)
	if req.CurriculumID != "" {
		c, err = h.curricula.Get(r.Context(), req.CurriculumID)
	} else {
		c, err = h.curricula.Latest(r.Context(), k.courseID)
	}
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			err = apperr.E(apperr.KindValidation, op, err)
		}
		h.fail(w, r, "resolve curriculum failed", k, err)
		return
	}

	o, err := h.enrollments.CreateReference(r.Context(), k.studentID, k.courseID, c)
	if err != nil {
		h.fail(w, r, "enrollment failed", k, err)
		return
	}
	h.logger.InfoContext(r.Context(), "student enrolled",
		"request_id", middleware.GetReqID(r.Context()),
		"student_id", k.studentID,
		"course_id", k.courseID,
		"curriculum_id", c.ID,
	)
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	k := keyOf(r)
	view, err := h.enrollments.Dereference(r.Context(), k.studentID, k.courseID)
	if err != nil {
		h.fail(w, r, "dereference failed", k, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	k := keyOf(r)
	if err := h.enrollments.Unenroll(r.Context(), k.studentID, k.courseID); err != nil {
		h.fail(w, r, "unenroll failed", k, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCustomize(w http.ResponseWriter, r *http.Request) {
	k := keyOf(r)
	body, err := readBody(r)
	if err != nil {
		h.fail(w, r, "invalid customization request", k, err)
		return
	}
	o, err := h.enrollments.ApplyCustomizationJSON(r.Context(), k.studentID, k.courseID, body)
	if err != nil {
		h.fail(w, r, "customization failed", k, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) handleGetMastery(w http.ResponseWriter, r *http.Request) {
	k := keyOf(r)
	rec, err := h.mastery.Get(r.Context(), k.studentID, k.courseID)
	if err != nil {
		h.fail(w, r, "get mastery failed", k, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// masteryRequest is either a batch of updates or a single outcome score.
// Smooth folds a single score into the existing EMA instead of replacing it.
type masteryRequest struct {
	Updates   map[string]float64 `json:"updates,omitempty"`
	OutcomeID string             `json:"outcomeId,omitempty"`
	Score     *float64           `json:"score,omitempty"`
	Smooth    bool               `json:"smooth,omitempty"`
}

func (h *Handler) handleUpdateMastery(w http.ResponseWriter, r *http.Request) {
	const op = "api.UpdateMastery"
	k := keyOf(r)
	var req masteryRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "invalid mastery request", k, err)
		return
	}

	var (
		rec *mastery.Record
		err error
	)
	ctx := r.Context()
	switch {
	case len(req.Updates) > 0 && req.OutcomeID != "":
		err = apperr.Errorf(apperr.KindValidation, op, "send either updates or outcomeId, not both")
	case len(req.Updates) > 0:
		rec, err = h.mastery.BatchUpdateEMAs(ctx, k.studentID, k.courseID, req.Updates)
	case req.OutcomeID != "" && req.Score != nil && req.Smooth:
		rec, err = h.mastery.RecordEvidence(ctx, k.studentID, k.courseID, req.OutcomeID, *req.Score)
	case req.OutcomeID != "" && req.Score != nil:
		rec, err = h.mastery.UpdateOutcomeEMA(ctx, k.studentID, k.courseID, req.OutcomeID, *req.Score)
	default:
		err = apperr.Errorf(apperr.KindValidation, op, "request needs updates or outcomeId and score")
	}
	if err != nil {
		h.fail(w, r, "mastery update failed", k, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
