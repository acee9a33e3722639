// Package store provides the SQLite-backed persistence for occurrences
// and reminders. Every multi-statement mutation runs inside a short
// transaction so that check-then-transition sequences are atomic.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed storage for occurrences and reminders.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dbPath and ensures the
// schema exists.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS occurrences (
			event_id      TEXT    NOT NULL,
			start_utc     INTEGER NOT NULL,
			end_utc       INTEGER NOT NULL,
			all_day       INTEGER NOT NULL,
			dropped       INTEGER NOT NULL DEFAULT 0,
			last_seen_utc INTEGER NOT NULL,
			PRIMARY KEY (event_id, start_utc)
		);

		CREATE TABLE IF NOT EXISTS rule_reminders (
			id            INTEGER PRIMARY KEY,
			event_id      TEXT    NOT NULL,
			occ_start_utc INTEGER NOT NULL,
			rule_name     TEXT    NOT NULL,
			trigger_utc   INTEGER NOT NULL,
			requires_ack  INTEGER NOT NULL,
			created_utc   INTEGER NOT NULL,
			acked_utc     INTEGER NULL,
			fired_utc     INTEGER NULL,
			cancelled_utc INTEGER NULL,
			FOREIGN KEY (event_id, occ_start_utc) REFERENCES occurrences(event_id, start_utc)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS ux_rule_reminders_occ_rule
			ON rule_reminders(event_id, occ_start_utc, rule_name);

		CREATE INDEX IF NOT EXISTS ix_rule_reminders_trigger
			ON rule_reminders(trigger_utc);

		CREATE TABLE IF NOT EXISTS custom_reminders (
			id            INTEGER PRIMARY KEY,
			event_id      TEXT    NOT NULL,
			occ_start_utc INTEGER NOT NULL,
			trigger_utc   INTEGER NOT NULL,
			requires_ack  INTEGER NOT NULL,
			created_utc   INTEGER NOT NULL,
			acked_utc     INTEGER NULL,
			fired_utc     INTEGER NULL,
			cancelled_utc INTEGER NULL,
			FOREIGN KEY (event_id, occ_start_utc) REFERENCES occurrences(event_id, start_utc)
		);

		CREATE INDEX IF NOT EXISTS ix_custom_reminders_trigger
			ON custom_reminders(trigger_utc);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
