// Package feedback records reader ratings of generated answers in a local
// SQLite database. SQLite keeps the feedback trail independent of the
// vector index: wiping and re-ingesting the corpus never loses ratings.
package feedback

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/docsrag/docsrag/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Rating values accepted by Record. The table carries a matching CHECK
// constraint so unknown values can't sneak in through another writer.
const (
	RatingUp   = "up"
	RatingDown = "down"
)

// ErrInvalidRating indicates a rating other than "up" or "down".
var ErrInvalidRating = errors.New("invalid rating")

// Entry is one recorded feedback row.
type Entry struct {
	ID        int64
	CreatedAt time.Time
	Query     string
	Answer    string
	Rating    string
	Comment   string
}

// Store persists feedback entries. Safe for concurrent use; database/sql
// serializes access to the single SQLite connection pool.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

// Open opens (creating if needed) the feedback database at dbPath and
// applies pending migrations.
func Open(dbPath string, logger log.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating feedback database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening feedback database: %w", err)
	}

	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func migrateSchema(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	// Don't Close(): WithInstance doesn't own the connection, and closing
	// the migrate handle can disturb its state.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying feedback migrations: %w", err)
	}
	return nil
}

// Record stores one rating. Comment may be empty.
func (s *Store) Record(ctx context.Context, query, answer, rating, comment string) error {
	if rating != RatingUp && rating != RatingDown {
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidRating, rating, RatingUp, RatingDown)
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (created_at, query, answer, rating, comment) VALUES (?, ?, ?, ?, ?)`,
		createdAt, query, answer, rating, nullable(comment),
	)
	if err != nil {
		return fmt.Errorf("recording feedback: %w", err)
	}

	s.logger.Info("feedback_received",
		"rating", rating,
		"query_preview", preview(query, 120))
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be at least 1, got %d", limit)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, query, answer, rating, COALESCE(comment, '')
		 FROM feedback ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &createdAt, &e.Query, &e.Answer, &e.Rating, &e.Comment); err != nil {
			return nil, fmt.Errorf("scanning feedback row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading feedback rows: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// preview truncates s to at most n bytes without splitting a UTF-8 rune.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
