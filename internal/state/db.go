// Package state provides SQLite-based persistence for Helmsman.
// It owns the relational schema, the triggers that maintain the
// materialized task columns, and the dependency-closure queries.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/outerlook/helmsman/pkg/models"
)

// EventHooks receives notifications after selected rows are committed.
// The hooks feed the domain-event recorder; they are best-effort and
// must never block.
type EventHooks struct {
	// TaskStatusChanged fires after a task's status column changes.
	TaskStatusChanged func(task models.Task, previous models.TaskStatus)
	// WorkspaceCreated fires after a workspace row is inserted.
	WorkspaceCreated func(workspace models.Workspace)
}

// DB wraps an SQLite database connection with Helmsman-specific operations.
type DB struct {
	conn  *sql.DB
	path  string
	mu    sync.RWMutex
	hooks EventHooks
}

// sqliteTimeLayout is a fixed-width UTC timestamp format so that
// lexicographic ordering in SQL matches chronological ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The in-memory database must not be shared across pooled
	// connections; a single connection keeps it alive and also keeps
	// write semantics predictable for the file-backed case.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenInMemory opens a fresh in-memory database and applies migrations.
// It is intended for tests.
func OpenInMemory() (*DB, error) {
	db, err := Open(":memory:")
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SetEventHooks installs the commit notification hooks.
// Must be called before concurrent use of the database.
func (db *DB) SetEventHooks(hooks EventHooks) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.hooks = hooks
}

func (db *DB) eventHooks() EventHooks {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.hooks
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
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
	return t.UTC().Format(sqliteTimeLayout)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		// Rows written by older versions used RFC3339.
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullableString converts a *string into a driver-friendly value.
func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// nullableTime converts a *time.Time into a driver-friendly value.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// nullableInt64 converts a *int64 into a driver-friendly value.
func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullableBool converts a *bool into a driver-friendly value.
func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	if *v {
		return 1
	}
	return 0
}
