// Package store implements the domain persistence interfaces on SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"autopilot/internal/domain"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Options tunes the database handle.
type Options struct {
	BusyRetries int
	BusyBackoff time.Duration
	Logger      *slog.Logger
	// Now overrides the clock; tests use it to age reservations.
	Now func() time.Time
}

// DB is the shared SQLite handle. It implements every store interface in
// domain; the job queue reuses it for its own tables.
type DB struct {
	db      *sql.DB
	retries int
	backoff time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, opts Options) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	if opts.BusyRetries <= 0 {
		opts.BusyRetries = 5
	}
	if opts.BusyBackoff <= 0 {
		opts.BusyBackoff = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	now := func() time.Time { return time.Now().UTC() }
	if opts.Now != nil {
		now = func() time.Time { return opts.Now().UTC() }
	}
	return &DB{
		db:      db,
		retries: opts.BusyRetries,
		backoff: opts.BusyBackoff,
		logger:  opts.Logger,
		now:     now,
	}, nil
}

// Close closes the underlying connection pool.
func (s *DB) Close() error {
	return s.db.Close()
}

// SQL exposes the raw handle for packages that own additional tables.
func (s *DB) SQL() *sql.DB { return s.db }

// Now returns the store clock in UTC.
func (s *DB) Now() time.Time { return s.now() }

// WithRetry runs fn, retrying while SQLite reports the database as locked.
// The wait grows linearly with the attempt number.
func (s *DB) WithRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		s.logger.Warn("database busy, retrying", "op", op, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return domain.NewDomainError(op, domain.ErrStoreLocked, err.Error())
}

// Tx runs fn inside a transaction, with busy retry around the whole unit.
func (s *DB) Tx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.WithRetry(ctx, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func isBusy(err error) bool {
	if errors.Is(err, domain.ErrStoreLocked) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// FormatTime renders t in the stored timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp. Malformed values yield the zero time.
func ParseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatTime(t time.Time) string { return FormatTime(t) }

// nullTime stores the zero time as NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) time.Time { return ParseTime(s) }

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

type rowScanner interface {
	Scan(dest ...any) error
}
