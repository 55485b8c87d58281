// Package store is the persisted identity directory: identities, the
// friendships of each local identity, and sync checkpoints.
package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the profile's netid.db connection.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the SQLite file at path in WAL mode with foreign keys on.
// The schema is not touched; call Migrate before use.
func Open(path string) (*DB, error) {
	opts := url.Values{}
	opts.Set("_journal_mode", "WAL")
	opts.Set("_busy_timeout", "5000")
	opts.Set("_foreign_keys", "on")

	conn, err := sql.Open("sqlite3", path+"?"+opts.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	return &DB{DB: conn, path: path}, nil
}

// Path is the database file.
func (db *DB) Path() string { return db.path }

// withTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) withTx(op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}
