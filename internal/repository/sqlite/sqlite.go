// Package sqlite implements the repository interfaces using SQLite as the
// storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code — no C compiler needed, works everywhere
// Go works.
//
// CONCURRENCY MODEL:
// SQLite allows exactly one writer at a time. We lean into that instead of
// fighting it: the pool is capped at a single connection, so every statement
// — including multi-statement transactions — serializes at the database.
// Combined with conditional UPDATEs (predicate and mutation in one
// statement), that gives the credit ledger its atomicity guarantees without
// any application-level locking.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	// Blank import: the driver registers itself with database/sql under the
	// name "sqlite" at init time.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and exposes the typed repositories.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/promptmarket.db" → file-based database (persistent)
//   - ":memory:"             → in-memory database (tests, lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// One connection, period. SQLite serializes writers anyway; a larger
	// pool only buys SQLITE_BUSY errors under write contention. A single
	// connection also makes ":memory:" databases behave — every connection
	// in a pool would otherwise get its own empty in-memory database.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Wait up to 5s for a lock instead of failing immediately.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Users returns the user repository backed by this database.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

// Guests returns the guest-session repository backed by this database.
func (db *DB) Guests() *GuestDB {
	return &GuestDB{conn: db.conn}
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS keeps it idempotent.
//
// The CHECK (credits >= 0) constraints are the last line of defence for the
// non-negative balance invariant: even a buggy statement cannot push a
// balance below zero — SQLite rejects the write instead.
//
// All timestamps are stored in UTC (the repositories normalize with .UTC()
// before writing) so that string comparison of stored values orders the same
// way the instants do.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                   TEXT PRIMARY KEY,
			email                TEXT NOT NULL UNIQUE,
			password_hash        TEXT NOT NULL,
			credits              INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
			last_daily_credit_at DATETIME,
			created_at           DATETIME NOT NULL,
			updated_at           DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS guest_sessions (
			id                   TEXT PRIMARY KEY,
			access_token         TEXT NOT NULL,
			session_secret       TEXT NOT NULL,
			fingerprint          TEXT NOT NULL,
			credits              INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
			last_daily_credit_at DATETIME,
			expires_at           DATETIME NOT NULL,
			created_at           DATETIME NOT NULL,
			updated_at           DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_guest_sessions_expires_at
			ON guest_sessions(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating guest_sessions table: %w", err)
	}

	return nil
}

// startOfDayUTC truncates t to midnight UTC of its calendar day. This is the
// boundary the daily grant predicate compares against — "one grant per UTC
// calendar day", not "one grant per 24 hours".
func startOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
