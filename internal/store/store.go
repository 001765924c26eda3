// Package store persists users, sessions, the color catalog and per-user
// inventory, wishlist and project data in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnknownColor = errors.New("unknown color_id")
)

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) unix() int64 {
	return s.now().Unix()
}

// Ping checks that the database answers queries.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS user (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		username TEXT UNIQUE,
		avatar_url TEXT,
		avatar_key TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_key (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
		hashed_password TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_user_key_user ON user_key(user_id);

	CREATE TABLE IF NOT EXISTS session (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
		active_expires INTEGER NOT NULL,
		idle_expires INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_user ON session(user_id);

	CREATE TABLE IF NOT EXISTS brand (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS line (
		id TEXT PRIMARY KEY,
		brand_id TEXT NOT NULL REFERENCES brand(id),
		slug TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS color (
		id TEXT PRIMARY KEY,
		line_id TEXT NOT NULL REFERENCES line(id),
		code TEXT NOT NULL,
		full_code TEXT,
		name TEXT,
		hex TEXT,
		status TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_color_code ON color(code COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS inventory (
		user_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
		color_id TEXT NOT NULL REFERENCES color(id),
		qty INTEGER NOT NULL DEFAULT 0,
		notes TEXT,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, color_id)
	);

	CREATE TABLE IF NOT EXISTS wishlist (
		user_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
		color_id TEXT NOT NULL REFERENCES color(id),
		desired_qty INTEGER NOT NULL DEFAULT 1,
		notes TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, color_id)
	);

	CREATE TABLE IF NOT EXISTS project (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES user(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		pdf_name TEXT,
		pdf_size INTEGER NOT NULL DEFAULT 0,
		pdf_path TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_project_user ON project(user_id, created_at);

	CREATE TABLE IF NOT EXISTS project_color (
		project_id TEXT NOT NULL REFERENCES project(id) ON DELETE CASCADE,
		color_id TEXT NOT NULL REFERENCES color(id),
		created_at INTEGER NOT NULL,
		PRIMARY KEY (project_id, color_id)
	);
	CREATE INDEX IF NOT EXISTS idx_project_color_color ON project_color(color_id);

	CREATE TABLE IF NOT EXISTS stash (
		user_id TEXT PRIMARY KEY REFERENCES user(id) ON DELETE CASCADE,
		codes TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isConstraint(err error, kind string) bool {
	return err != nil && strings.Contains(err.Error(), kind+" constraint failed")
}

// colorErr maps a failed foreign key on color_id to ErrUnknownColor.
func colorErr(err error, colorID string) error {
	if isConstraint(err, "FOREIGN KEY") {
		return fmt.Errorf("%w: %s", ErrUnknownColor, colorID)
	}
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func ptr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
