// Package statedb persists the terminal registry: which panes exist, which
// vendor CLI and agent profile each one runs, and the last observed status.
// Conversation content is never stored; the pane scrollback is the only
// source of truth for responses.
package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database for terminal registry persistence.
// Thread-safe for concurrent use from multiple goroutines within one process.
// Multiple OS processes can safely read/write via WAL mode + busy timeout.
type StateDB struct {
	db *sql.DB
}

// TerminalRow represents a registered pane.
type TerminalRow struct {
	ID          string
	SessionName string
	WindowName  string
	Vendor      string
	Profile     string
	Status      string
	CreatedAt   time.Time
	LastSeen    time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy
// timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS terminals (
			id           TEXT PRIMARY KEY,
			session_name TEXT NOT NULL,
			window_name  TEXT NOT NULL,
			vendor       TEXT NOT NULL,
			profile      TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'ERROR',
			created_at   INTEGER NOT NULL,
			last_seen    INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("statedb: create terminals: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// SaveTerminal inserts or replaces a terminal row.
func (s *StateDB) SaveTerminal(row *TerminalRow) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO terminals
		(id, session_name, window_name, vendor, profile, status, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.SessionName, row.WindowName, row.Vendor, row.Profile,
		row.Status, row.CreatedAt.Unix(), row.LastSeen.Unix())
	if err != nil {
		return fmt.Errorf("statedb: save terminal %s: %w", row.ID, err)
	}
	return nil
}

// GetTerminal returns one terminal row, or sql.ErrNoRows if absent.
func (s *StateDB) GetTerminal(id string) (*TerminalRow, error) {
	row := s.db.QueryRow(`
		SELECT id, session_name, window_name, vendor, profile, status, created_at, last_seen
		FROM terminals WHERE id = ?
	`, id)
	return scanTerminal(row)
}

// ListTerminals returns all terminal rows ordered by creation time.
func (s *StateDB) ListTerminals() ([]*TerminalRow, error) {
	rows, err := s.db.Query(`
		SELECT id, session_name, window_name, vendor, profile, status, created_at, last_seen
		FROM terminals ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("statedb: list terminals: %w", err)
	}
	defer rows.Close()

	var out []*TerminalRow
	for rows.Next() {
		t, err := scanTerminal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateStatus records the latest observed status and bumps last_seen.
func (s *StateDB) UpdateStatus(id, status string) error {
	res, err := s.db.Exec(`
		UPDATE terminals SET status = ?, last_seen = ? WHERE id = ?
	`, status, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("statedb: update status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("statedb: update status: terminal %s not registered", id)
	}
	return nil
}

// DeleteTerminal removes a terminal row. Deleting an absent row is not an
// error.
func (s *StateDB) DeleteTerminal(id string) error {
	if _, err := s.db.Exec(`DELETE FROM terminals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("statedb: delete terminal %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTerminal(row scanner) (*TerminalRow, error) {
	var t TerminalRow
	var created, seen int64
	if err := row.Scan(&t.ID, &t.SessionName, &t.WindowName, &t.Vendor,
		&t.Profile, &t.Status, &created, &seen); err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(created, 0)
	t.LastSeen = time.Unix(seen, 0)
	return &t, nil
}
