package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"

	// Postgres driver registered as "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"
	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Config holds document store settings.
type Config struct {
	// DSN is a SQLite file path or URI, or a postgres:// URL.
	DSN string
	// ChunkSize bounds each CreateMany batch.
	ChunkSize int
	// ChunkDelay is the pause between CreateMany batches.
	ChunkDelay time.Duration
}

// DefaultConfig returns sensible defaults for the store client.
func DefaultConfig() Config {
	return Config{
		ChunkSize:  10,
		ChunkDelay: 200 * time.Millisecond,
	}
}

// Store holds the database handle and hands out document collections.
type Store struct {
	db      *sql.DB
	drv     *entsql.Driver
	dialect string
	cfg     Config
	now     func() time.Time
}

// Open connects to the database named by cfg.DSN, applies pragmas when the
// backend is SQLite, and creates any missing collection tables.
func Open(cfg Config) (*Store, error) {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = def.ChunkDelay
	}

	driverName, dialectName := "sqlite", dialect.SQLite
	if isPostgresDSN(cfg.DSN) {
		driverName, dialectName = "pgx", dialect.Postgres
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dialectName == dialect.SQLite {
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
	}

	s := &Store{
		db:      db,
		drv:     entsql.OpenDB(dialectName, db),
		dialect: dialectName,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(s.drv)
	if err != nil {
		return err
	}
	return m.Create(ctx, Tables...)
}

// DB returns the underlying *sql.DB for raw queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the ent dialect name of the backend.
func (s *Store) Dialect() string {
	return s.dialect
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.drv.Close()
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Curricula returns the published curriculum collection.
func (s *Store) Curricula() *Collection { return s.collection(CollectionCurricula) }

// LessonTemplates returns the lesson catalog collection.
func (s *Store) LessonTemplates() *Collection { return s.collection(CollectionLessonTemplates) }

// Enrollments returns the enrollment overlay collection.
func (s *Store) Enrollments() *Collection { return s.collection(CollectionEnrollments) }

// Mastery returns the mastery record collection.
func (s *Store) Mastery() *Collection { return s.collection(CollectionMastery) }

// Routines returns the routine context collection.
func (s *Store) Routines() *Collection { return s.collection(CollectionRoutines) }

func (s *Store) collection(name string) *Collection {
	return &Collection{name: name, store: s}
}

// applyPragmas configures SQLite for optimal single-user performance.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// DefaultDBPath resolves the database file path in priority order:
// 1. PATHWISE_DB environment variable
// 2. $XDG_DATA_HOME/pathwise/pathwise.db
// 3. ~/.local/share/pathwise/pathwise.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv("PATHWISE_DB"); p != "" {
		if isPostgresDSN(p) {
			return p, nil
		}
		return p, EnsureDir(p)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	p := filepath.Join(dataHome, "pathwise", "pathwise.db")
	return p, EnsureDir(p)
}

// EnsureDir creates the parent directory of path if it doesn't exist.
// Postgres URLs are left alone.
func EnsureDir(path string) error {
	if isPostgresDSN(path) || strings.HasPrefix(path, "file::memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}
