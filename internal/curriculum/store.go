package curriculum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/pathwise/internal/apperr"
	"github.com/abhisek/pathwise/internal/store"
)

// Reader resolves curriculum documents by id.
type Reader interface {
	Get(ctx context.Context, id string) (*AuthoredCurriculum, error)
}

// Catalog lists the lesson templates available for a course.
type Catalog interface {
	Templates(ctx context.Context, courseID string) ([]Template, error)
}

// record is the stored shape of a curriculum. Entries are kept compressed.
type record struct {
	ID                 string         `json:"id"`
	CourseID           string         `json:"courseId"`
	Version            string         `json:"version"`
	Status             Status         `json:"status"`
	EntriesZ           []byte         `json:"entriesZ"`
	EntryCount         int            `json:"entryCount"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	AccessibilityNotes string         `json:"accessibilityNotes,omitempty"`
	PublishedAt        time.Time      `json:"publishedAt,omitzero"`
}

// Store is the Curriculum Reference Store and lesson catalog backed by the
// document store.
type Store struct {
	curricula *store.Collection
	templates *store.Collection
	codec     *Codec
	now       func() time.Time
}

// NewStore creates a curriculum store.
func NewStore(s *store.Store, codec *Codec) *Store {
	return &Store{
		curricula: s.Curricula(),
		templates: s.LessonTemplates(),
		codec:     codec,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the curriculum with the given id, entries decompressed and
// sorted by order.
func (s *Store) Get(ctx context.Context, id string) (*AuthoredCurriculum, error) {
	const op = "curriculum.Get"
	doc, err := s.curricula.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Errorf(apperr.KindNotFound, op, "curriculum %q", id)
		}
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	c, err := s.decode(doc)
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	return c, nil
}

// Latest returns the highest published version for a course.
func (s *Store) Latest(ctx context.Context, courseID string) (*AuthoredCurriculum, error) {
	const op = "curriculum.Latest"
	docs, err := s.curricula.List(ctx, store.Filter{CourseID: courseID})
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}

	var best *AuthoredCurriculum
	for _, doc := range docs {
		c, err := s.decode(doc)
		if err != nil {
			return nil, apperr.E(apperr.KindUpstream, op, err)
		}
		if c.Status != StatusPublished {
			continue
		}
		if best == nil || CompareVersions(c.Version, best.Version) > 0 {
			best = c
		}
	}
	if best == nil {
		return nil, apperr.Errorf(apperr.KindNotFound, op, "no published curriculum for course %q", courseID)
	}
	return best, nil
}

// Versions lists every stored curriculum for a course, oldest first.
func (s *Store) Versions(ctx context.Context, courseID string) ([]*AuthoredCurriculum, error) {
	docs, err := s.curricula.List(ctx, store.Filter{CourseID: courseID})
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, "curriculum.Versions", err)
	}
	out := make([]*AuthoredCurriculum, 0, len(docs))
	for _, doc := range docs {
		c, err := s.decode(doc)
		if err != nil {
			return nil, apperr.E(apperr.KindUpstream, "curriculum.Versions", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Publish stores c as a published, immutable version. The document id is
// always "<courseId>@<version>", so the store's unique id enforces one
// publication per (course, version); a second publish fails with Conflict.
// A caller-supplied ID must equal the derived one.
func (s *Store) Publish(ctx context.Context, c AuthoredCurriculum) (*AuthoredCurriculum, error) {
	const op = "curriculum.Publish"
	if c.CourseID == "" {
		return nil, apperr.Errorf(apperr.KindValidation, op, "courseId is required")
	}
	version, err := NormalizeVersion(c.Version)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}
	c.Version = version
	if err := validateEntries(c.Entries); err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}
	id := c.CourseID + "@" + c.Version
	if c.ID != "" && c.ID != id {
		return nil, apperr.Errorf(apperr.KindValidation, op, "curriculum id %q must be %q", c.ID, id)
	}
	c.ID = id

	entries := append([]LessonEntry(nil), c.Entries...)
	SortEntries(entries)
	c.Entries = entries
	c.Status = StatusPublished
	c.PublishedAt = s.now()

	blob, err := s.codec.Compress(entries)
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, op, err)
	}
	data, err := json.Marshal(record{
		ID:                 c.ID,
		CourseID:           c.CourseID,
		Version:            c.Version,
		Status:             c.Status,
		EntriesZ:           blob,
		EntryCount:         len(entries),
		Metadata:           c.Metadata,
		AccessibilityNotes: c.AccessibilityNotes,
		PublishedAt:        c.PublishedAt,
	})
	if err != nil {
		return nil, apperr.E(apperr.KindValidation, op, fmt.Errorf("marshal curriculum: %w", err))
	}

	if _, err := s.curricula.Create(ctx, store.Document{
		ID:       c.ID,
		CourseID: c.CourseID,
		Data:     data,
	}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Errorf(apperr.KindConflict, op, "course %q version %s already published", c.CourseID, c.Version)
		}
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	return &c, nil
}

func (s *Store) decode(doc store.Document) (*AuthoredCurriculum, error) {
	var r record
	if err := json.Unmarshal(doc.Data, &r); err != nil {
		return nil, fmt.Errorf("parse curriculum %q: %w", doc.ID, err)
	}
	entries, err := s.codec.Decompress(r.EntriesZ)
	if err != nil {
		return nil, fmt.Errorf("curriculum %q: %w", doc.ID, err)
	}
	if len(entries) != r.EntryCount {
		return nil, fmt.Errorf("curriculum %q: decoded %d entries, want %d", doc.ID, len(entries), r.EntryCount)
	}
	SortEntries(entries)
	return &AuthoredCurriculum{
		ID:                 r.ID,
		CourseID:           r.CourseID,
		Version:            r.Version,
		Status:             r.Status,
		Entries:            entries,
		Metadata:           r.Metadata,
		AccessibilityNotes: r.AccessibilityNotes,
		PublishedAt:        r.PublishedAt,
	}, nil
}

// Templates returns a course's lesson catalog.
func (s *Store) Templates(ctx context.Context, courseID string) ([]Template, error) {
	const op = "curriculum.Templates"
	docs, err := s.templates.List(ctx, store.Filter{CourseID: courseID})
	if err != nil {
		return nil, apperr.E(apperr.KindUpstream, op, err)
	}
	out := make([]Template, 0, len(docs))
	for _, doc := range docs {
		var t Template
		if err := json.Unmarshal(doc.Data, &t); err != nil {
			return nil, apperr.E(apperr.KindUpstream, op, fmt.Errorf("parse template %q: %w", doc.ID, err))
		}
		out = append(out, t)
	}
	return out, nil
}

// PutTemplates adds or replaces templates in a course's catalog. New
// templates are written with the store's chunked batch create.
func (s *Store) PutTemplates(ctx context.Context, courseID string, templates []Template) error {
	const op = "curriculum.PutTemplates"

	existing, err := s.templates.List(ctx, store.Filter{CourseID: courseID})
	if err != nil {
		return apperr.E(apperr.KindUpstream, op, err)
	}
	revs := make(map[string]int64, len(existing))
	for _, d := range existing {
		revs[d.ID] = d.Rev
	}

	var fresh []store.Document
	for _, t := range templates {
		if t.ID == "" {
			return apperr.Errorf(apperr.KindValidation, op, "template without id")
		}
		t.CourseID = courseID
		data, err := json.Marshal(t)
		if err != nil {
			return apperr.E(apperr.KindValidation, op, err)
		}
		docID := templateDocID(courseID, t.ID)
		if rev, ok := revs[docID]; ok {
			if _, err := s.templates.Update(ctx, docID, rev, data); err != nil {
				return apperr.E(apperr.KindUpstream, op, err)
			}
			continue
		}
		fresh = append(fresh, store.Document{ID: docID, CourseID: courseID, Data: data})
	}

	if _, err := s.templates.CreateMany(ctx, fresh); err != nil {
		return apperr.E(apperr.KindUpstream, op, err)
	}
	return nil
}

func templateDocID(courseID, templateID string) string {
	return courseID + "/" + templateID
}
