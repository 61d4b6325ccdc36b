package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when no document matches the id or key.
	ErrNotFound = errors.New("store: document not found")
	// ErrConflict is returned when a write loses a revision race or a
	// keyed document already exists.
	ErrConflict = errors.New("store: revision conflict")
)

// Document is one raw JSON-shaped record in a collection. Data is stored as
// serialized text and parsed by the owning package.
type Document struct {
	ID        string
	StudentID string
	CourseID  string
	Data      json.RawMessage
	Rev       int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	StudentID string
	CourseID  string
	Limit     int // max results (0 = unlimited)
}

// Collection is a table of documents sharing the same column layout.
type Collection struct {
	name  string
	store *Store
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Name returns the collection's table name.
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) builder() *entsql.DialectBuilder {
	return entsql.Dialect(c.store.dialect)
}

// List returns documents matching f, oldest first.
func (c *Collection) List(ctx context.Context, f Filter) ([]Document, error) {
	sel := c.builder().Select(documentColumns...).From(entsql.Table(c.name))

	var preds []*entsql.Predicate
	if f.StudentID != "" {
		preds = append(preds, entsql.EQ(colStudentID, f.StudentID))
	}
	if f.CourseID != "" {
		preds = append(preds, entsql.EQ(colCourseID, f.CourseID))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	sel.OrderBy(colCreatedAt, colID)
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}

	query, args := sel.Query()
	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.name, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.name, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", c.name, err)
	}
	return docs, nil
}

// Get returns the document with the given id.
func (c *Collection) Get(ctx context.Context, id string) (Document, error) {
	return c.queryOne(ctx, entsql.EQ(colID, id))
}

// FindByKey returns the document for a (student, course) pair.
func (c *Collection) FindByKey(ctx context.Context, studentID, courseID string) (Document, error) {
	return c.queryOne(ctx, entsql.And(
		entsql.EQ(colStudentID, studentID),
		entsql.EQ(colCourseID, courseID),
	))
}

func (c *Collection) queryOne(ctx context.Context, pred *entsql.Predicate) (Document, error) {
	query, args := c.builder().
		Select(documentColumns...).
		From(entsql.Table(c.name)).
		Where(pred).
		Limit(1).
		Query()

	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Document{}, fmt.Errorf("query %s: %w", c.name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Document{}, fmt.Errorf("query %s: %w", c.name, err)
		}
		return Document{}, ErrNotFound
	}
	doc, err := scanDocument(rows)
	if err != nil {
		return Document{}, fmt.Errorf("scan %s: %w", c.name, err)
	}
	return doc, nil
}

// Create inserts doc at revision 1. An empty ID is replaced by a new UUID.
func (c *Collection) Create(ctx context.Context, doc Document) (Document, error) {
	doc = c.prepare(doc)
	if err := c.insert(ctx, c.store.db, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// CreateMany inserts docs in chunks of the configured size, pausing between
// chunks. Each chunk commits on its own; on failure the documents created
// by earlier chunks are returned with the error.
func (c *Collection) CreateMany(ctx context.Context, docs []Document) ([]Document, error) {
	size := c.store.cfg.ChunkSize
	created := make([]Document, 0, len(docs))

	for start := 0; start < len(docs); start += size {
		if start > 0 && c.store.cfg.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return created, ctx.Err()
			case <-time.After(c.store.cfg.ChunkDelay):
			}
		}

		end := min(start+size, len(docs))
		chunk := make([]Document, 0, end-start)
		for _, d := range docs[start:end] {
			chunk = append(chunk, c.prepare(d))
		}

		if err := c.insertChunk(ctx, chunk); err != nil {
			return created, err
		}
		created = append(created, chunk...)
	}
	return created, nil
}

func (c *Collection) insertChunk(ctx context.Context, chunk []Document) error {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s batch: %w", c.name, err)
	}
	for _, doc := range chunk {
		if err := c.insert(ctx, tx, doc); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s batch: %w", c.name, err)
	}
	return nil
}

func (c *Collection) prepare(doc Document) Document {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if len(doc.Data) == 0 {
		doc.Data = json.RawMessage("{}")
	}
	now := c.store.now()
	doc.Rev = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return doc
}

func (c *Collection) insert(ctx context.Context, ex execer, doc Document) error {
	query, args := c.builder().
		Insert(c.name).
		Columns(documentColumns...).
		Values(doc.ID, doc.StudentID, doc.CourseID, string(doc.Data), doc.Rev,
			formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt)).
		Query()

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create %s document: %w", c.name, ErrConflict)
		}
		return fmt.Errorf("create %s document: %w", c.name, err)
	}
	return nil
}

// Update replaces the data of document id if its stored revision still
// equals rev, and bumps the revision. A missing document yields ErrNotFound;
// a stale rev yields ErrConflict.
func (c *Collection) Update(ctx context.Context, id string, rev int64, data json.RawMessage) (Document, error) {
	query, args := c.builder().
		Update(c.name).
		Set(colData, string(data)).
		Set(colRev, rev+1).
		Set(colUpdatedAt, formatTime(c.store.now())).
		Where(entsql.And(entsql.EQ(colID, id), entsql.EQ(colRev, rev))).
		Query()

	res, err := c.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Document{}, fmt.Errorf("update %s document: %w", c.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Document{}, fmt.Errorf("update %s document: %w", c.name, err)
	}
	if n == 0 {
		if _, err := c.Get(ctx, id); err != nil {
			return Document{}, err
		}
		return Document{}, ErrConflict
	}
	return c.Get(ctx, id)
}

// Delete removes document id.
func (c *Collection) Delete(ctx context.Context, id string) error {
	query, args := c.builder().
		Delete(c.name).
		Where(entsql.EQ(colID, id)).
		Query()

	res, err := c.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete %s document: %w", c.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s document: %w", c.name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		doc                  Document
		data                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&doc.ID, &doc.StudentID, &doc.CourseID, &data, &doc.Rev, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}
	doc.Data = json.RawMessage(data)

	var err error
	if doc.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Document{}, fmt.Errorf("parse created_at: %w", err)
	}
	if doc.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return Document{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return doc, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
