package mastery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/docschema"
	"github.com/abhisek/pathwise/internal/keylock"
	"github.com/abhisek/pathwise/internal/metrics"
	"github.com/abhisek/pathwise/internal/store"
)

const lockScope = "mastery"

// Record is the mastery state for one (student, course) pair.
type Record struct {
	ID           string             `json:"id,omitempty"`
	StudentID    string             `json:"studentId"`
	CourseID     string             `json:"courseId"`
	EMAByOutcome map[string]float64 `json:"emaByOutcome"`
	Rev          int64              `json:"rev,omitempty"`
	UpdatedAt    time.Time          `json:"updatedAt,omitzero"`
}

// EMA returns the stored value for outcomeID.
func (r *Record) EMA(outcomeID string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.EMAByOutcome[outcomeID]
	return v, ok
}

// Tracker is the Mastery Tracker backed by the document store.
type Tracker struct {
	docs    *store.Collection
	locker  keylock.Locker
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
}

// NewTracker creates a tracker. Zero config fields take their defaults.
func NewTracker(s *store.Store, locker keylock.Locker, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.Prior == 0 {
		cfg.Prior = def.Prior
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = def.Alpha
	}
	return &Tracker{
		docs:    s.Mastery(),
		locker:  locker,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
	}
}

// Get returns the record for a student and course, or NotFound.
func (t *Tracker) Get(ctx context.Context, studentID, courseID string) (*Record, error) {
	const op = "mastery.Get"
	doc, err := t.docs.FindByKey(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Errorf(apperr.KindNotFound, op, "no mastery record for student %q in course %q", studentID, courseID)
		}
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	rec, err := toRecord(doc)
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	return rec, nil
}

// GetOutcomeEMA returns the stored EMA for one outcome. ok is false when
// either the record or the outcome is absent.
func (t *Tracker) GetOutcomeEMA(ctx context.Context, studentID, courseID, outcomeID string) (float64, bool, error) {
	rec, err := t.Get(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	v, ok := rec.EMA(outcomeID)
	return v, ok, nil
}

// Upsert replaces the record's EMA map, creating the record if needed.
// Values are not clamped here; out-of-range values fail validation.
func (t *Tracker) Upsert(ctx context.Context, rec Record) (*Record, error) {
	const op = "mastery.Upsert"
	if rec.StudentID == "" || rec.CourseID == "" {
		return nil, apperr.Errorf(apperr.KindValidation, op, "studentId and courseId are required")
	}
	out, err := t.write(ctx, op, rec.StudentID, rec.CourseID, "", func(map[string]float64) map[string]float64 {
		return maps.Clone(rec.EMAByOutcome)
	})
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "mastery record upserted",
		"student_id", rec.StudentID,
		"course_id", rec.CourseID,
		"outcomes", len(out.EMAByOutcome),
	)
	return out, nil
}

// UpdateOutcomeEMA sets one outcome to clamp(rawScore).
func (t *Tracker) UpdateOutcomeEMA(ctx context.Context, studentID, courseID, outcomeID string, rawScore float64) (*Record, error) {
	return t.batchUpdate(ctx, "mastery.UpdateOutcomeEMA", "single", studentID, courseID, map[string]float64{outcomeID: rawScore})
}

// BatchUpdateEMAs clamps every value in updates and merges them into the
// record in a single write. Outcomes not in updates are kept.
func (t *Tracker) BatchUpdateEMAs(ctx context.Context, studentID, courseID string, updates map[string]float64) (*Record, error) {
	return t.batchUpdate(ctx, "mastery.BatchUpdateEMAs", "batch", studentID, courseID, updates)
}

func (t *Tracker) batchUpdate(ctx context.Context, op, kind, studentID, courseID string, updates map[string]float64) (*Record, error) {
	if err := checkKeys(studentID, courseID, updates); err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}

	clamped := make(map[string]float64, len(updates))
	nClamped := 0
	for id, raw := range updates {
		v, changed := Clamp(raw)
		if changed {
			nClamped++
		}
		clamped[id] = v
	}

	rec, err := t.write(ctx, op, studentID, courseID, seedKey(updates), func(ema map[string]float64) map[string]float64 {
		maps.Copy(ema, clamped)
		return ema
	})
	if err != nil {
		return nil, err
	}

	t.metrics.AddMasteryUpdates(kind, len(clamped))
	t.metrics.AddClamped(nClamped)
	t.logger.InfoContext(ctx, "mastery updated",
		"student_id", studentID,
		"course_id", courseID,
		"outcomes", len(clamped),
		"clamped", nClamped,
	)
	return rec, nil
}

// RecordEvidence folds one observed score into the outcome's EMA:
// alpha*clamp(score) + (1-alpha)*previous, where a missing previous value
// is the prior.
func (t *Tracker) RecordEvidence(ctx context.Context, studentID, courseID, outcomeID string, score float64) (*Record, error) {
	const op = "mastery.RecordEvidence"
	if err := checkKeys(studentID, courseID, map[string]float64{outcomeID: score}); err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}
	if _, changed := Clamp(score); changed {
		t.metrics.AddClamped(1)
	}

	rec, err := t.write(ctx, op, studentID, courseID, outcomeID, func(ema map[string]float64) map[string]float64 {
		prev, ok := ema[outcomeID]
		if !ok {
			prev = t.cfg.Prior
		}
		ema[outcomeID] = Smooth(prev, score, t.cfg.Alpha)
		return ema
	})
	if err != nil {
		return nil, err
	}

	t.metrics.AddMasteryUpdates("evidence", 1)
	t.logger.InfoContext(ctx, "mastery evidence recorded",
		"student_id", studentID,
		"course_id", courseID,
		"outcome_id", outcomeID,
		"ema", rec.EMAByOutcome[outcomeID],
	)
	return rec, nil
}

// write runs the read-modify-write under the key lock. A missing record is
// created, seeded with {seed: prior} when seed is non-empty, before mutate
// runs. The stored revision guards against writers outside the lock.
func (t *Tracker) write(
	ctx context.Context,
	op, studentID, courseID, seed string,
	mutate func(map[string]float64) map[string]float64,
) (*Record, error) {
	waitStart := time.Now()
	unlock, err := t.locker.Lock(ctx, keylock.Key(lockScope, studentID, courseID))
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	defer unlock()
	t.metrics.ObserveLockWait(waitStart)

	doc, err := t.docs.FindByKey(ctx, studentID, courseID)
	exists := true
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, apperr.E(apperr.KindUpstream, op, err)
		}
		exists = false
	}

	var ema map[string]float64
	if exists {
		current, err := toRecord(doc)
		if err != nil {
			return nil, apperr.E(apperr.KindUpstream, op, err)
		}
		ema = current.EMAByOutcome
	} else {
		ema = make(map[string]float64)
		if seed != "" {
			ema[seed] = t.cfg.Prior
		}
	}

	ema = mutate(ema)
	data, err := encodeRecord(studentID, courseID, ema)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}

	if exists {
		doc, err = t.docs.Update(ctx, doc.ID, doc.Rev, data)
	} else {
		doc, err = t.docs.Create(ctx, store.Document{StudentID: studentID, CourseID: courseID, Data: data})
	}
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.E(apperr.KindConflict, op, err)
		}
		t.logger.ErrorContext(ctx, "write mastery record failed",
			"student_id", studentID,
			"course_id", courseID,
			"error", err,
		)
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}

	rec, err := toRecord(doc)
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	return rec, nil
}

func checkKeys(studentID, courseID string, updates map[string]float64) error {
	if studentID == "" || courseID == "" {
		return errors.New("studentId and courseId are required")
	}
	if len(updates) == 0 {
		return errors.New("no outcome updates")
	}
	for id := range updates {
		if id == "" {
			return errors.New("empty outcome id")
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Storage boundary
// ---------------------------------------------------------------------------

var recordSchema = &docschema.Schema{
	Name: "mastery-record",
	Definition: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"studentId":    map[string]any{"type": "string", "minLength": 1},
			"courseId":     map[string]any{"type": "string", "minLength": 1},
			"emaByOutcome": map[string]any{"type": "string"},
		},
		"required": []any{"studentId", "courseId", "emaByOutcome"},
	},
}

// EMASchema bounds every stored EMA to [0,1].
var EMASchema = &docschema.Schema{
	Name: "mastery-ema",
	Definition: map[string]any{
		"type":          "object",
		"propertyNames": map[string]any{"minLength": 1},
		"additionalProperties": map[string]any{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
	},
}

// record is the stored shape; the EMA map is kept as serialized text.
type record struct {
	StudentID    string `json:"studentId"`
	CourseID     string `json:"courseId"`
	EMAByOutcome string `json:"emaByOutcome"`
}

func encodeRecord(studentID, courseID string, ema map[string]float64) ([]byte, error) {
	if ema == nil {
		ema = map[string]float64{}
	}
	inner, err := json.Marshal(ema)
	if err != nil {
		return nil, fmt.Errorf("marshal ema map: %w", err)
	}
	if err := docschema.Validate(EMASchema, inner); err != nil {
		return nil, err
	}
	return json.Marshal(record{StudentID: studentID, CourseID: courseID, EMAByOutcome: string(inner)})
}

func toRecord(doc store.Document) (*Record, error) {
	if err := docschema.Validate(recordSchema, doc.Data); err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal(doc.Data, &r); err != nil {
		return nil, fmt.Errorf("decode mastery record: %w", err)
	}
	if err := docschema.Validate(EMASchema, []byte(r.EMAByOutcome)); err != nil {
		return nil, err
	}
	ema := map[string]float64{}
	if err := json.Unmarshal([]byte(r.EMAByOutcome), &ema); err != nil {
		return nil, fmt.Errorf("decode ema map: %w", err)
	}
	return &Record{
		ID:           doc.ID,
		StudentID:    r.StudentID,
		CourseID:     r.CourseID,
		EMAByOutcome: ema,
		Rev:          doc.Rev,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}
