// Package store provides SQLite-backed persistence for workspaced: the
// per-workspace event log, workspace snapshots, auth handshake sessions and
// the dev identity users.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the workspaced store.
const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
    id                TEXT PRIMARY KEY,
    owner_id          TEXT NOT NULL,
    name              TEXT NOT NULL,
    data              TEXT NOT NULL,
    base_data         TEXT NOT NULL,
    doc_version       INTEGER NOT NULL,
    event_version     INTEGER NOT NULL,
    max_event_version INTEGER NOT NULL,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workspaces_owner ON workspaces(owner_id);

CREATE TABLE IF NOT EXISTS events (
    workspace_id    TEXT NOT NULL REFERENCES workspaces(id),
    version         INTEGER NOT NULL,
    actor_id        TEXT NOT NULL,
    timestamp_ns    INTEGER NOT NULL,
    patches         TEXT NOT NULL,
    PRIMARY KEY (workspace_id, version)
);

CREATE TABLE IF NOT EXISTS auth_sessions (
    code        TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    token       TEXT,
    expires_at  INTEGER,
    created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_auth_sessions_status ON auth_sessions(status, created_at);

CREATE TABLE IF NOT EXISTS users (
    id              TEXT PRIMARY KEY,
    email           TEXT NOT NULL UNIQUE,
    password_hash   BLOB NOT NULL,
    created_at      INTEGER NOT NULL
);
`

// Store represents the SQLite store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and applies
// the schema. Transactions are opened immediate so that concurrent
// mutations of the same workspace serialize at the database rather than
// failing mid-transaction.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
