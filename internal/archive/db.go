// Package archive persists finished conversations to SQLite for audit.
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, pure Go, the
// default) and "sqlite3" (github.com/mattn/go-sqlite3, requires cgo).
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

// ErrNotFound is returned when an archived conversation does not exist.
var ErrNotFound = errors.New("archived conversation not found")

// Store wraps an SQLite connection holding archived conversations.
type Store struct {
	conn   *sql.DB
	path   string
	driver string
	mu     sync.RWMutex

	debugLog func(format string, args ...interface{})
}

// Option configures a Store.
type Option func(*Store)

// WithDriver selects the database/sql driver name.
func WithDriver(driver string) Option {
	return func(s *Store) {
		if driver != "" {
			s.driver = driver
		}
	}
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(s *Store) {
		if fn != nil {
			s.debugLog = fn
		}
	}
}

// Open opens the archive at path and applies pending migrations.
// Parent directories are created as needed. WAL mode is enabled for
// concurrent readers.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:     path,
		driver:   DriverModernc,
		debugLog: func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.driver != DriverModernc && s.driver != DriverCgo {
		return nil, fmt.Errorf("open archive: unsupported driver %q", s.driver)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	conn, err := sql.Open(s.driver, path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// One connection keeps per-connection pragmas in force.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s.conn = conn
	if err := s.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	s.debugLog("[archive.Open] opened %s with driver %s", path, s.driver)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// Driver returns the database/sql driver in use.
func (s *Store) Driver() string {
	return s.driver
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Conversations},
		{2, migrationV2Tasks},
		{3, migrationV3Audit},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Conversations = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	request TEXT NOT NULL,
	status TEXT NOT NULL,
	plan_type TEXT NOT NULL,
	plan TEXT,
	outcome TEXT,
	confidence REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	archived_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);
CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	position INTEGER NOT NULL,
	title TEXT NOT NULL,
	type TEXT NOT NULL,
	role TEXT,
	status TEXT NOT NULL,
	failure_reason TEXT,
	blocked_reason TEXT,
	record TEXT NOT NULL,
	PRIMARY KEY (conversation_id, id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const migrationV3Audit = `
CREATE TABLE IF NOT EXISTS conflicts (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	subject TEXT NOT NULL,
	type TEXT NOT NULL,
	resolution TEXT NOT NULL,
	escalate INTEGER NOT NULL DEFAULT 0,
	winner_id TEXT,
	record TEXT NOT NULL,
	detected_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conflicts_conversation ON conflicts(conversation_id);

CREATE TABLE IF NOT EXISTS adaptations (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	plan_id TEXT,
	trigger_name TEXT NOT NULL,
	status TEXT NOT NULL,
	impact REAL NOT NULL DEFAULT 0,
	approval_required INTEGER NOT NULL DEFAULT 0,
	record TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_adaptations_conversation ON adaptations(conversation_id);
`

// transaction runs fn within a transaction.
func (s *Store) transaction(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
