// Package store provides SQLite-backed persistence for the Conductor Engine.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS events (
	event_id     TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}',
	sender       TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	received_at  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS orchestrations (
	id              TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL UNIQUE,
	status          TEXT NOT NULL DEFAULT 'pending',
	task_id         TEXT NOT NULL DEFAULT '',
	worker_id       TEXT NOT NULL DEFAULT '',
	triage_json     TEXT NOT NULL DEFAULT '',
	validation_json TEXT NOT NULL DEFAULT '',
	result_json     TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL DEFAULT 0,
	updated_at      INTEGER NOT NULL DEFAULT 0,
	completed_at    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_orchestrations_status ON orchestrations(status);
CREATE INDEX IF NOT EXISTS idx_orchestrations_event ON orchestrations(event_id);

CREATE TABLE IF NOT EXISTS tasks (
	task_id      TEXT PRIMARY KEY,
	event_id     TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	instructions TEXT NOT NULL DEFAULT '',
	context_json TEXT NOT NULL DEFAULT '{}',
	timeout_sec  INTEGER NOT NULL DEFAULT 7200,
	max_retries  INTEGER NOT NULL DEFAULT 3,
	capabilities TEXT NOT NULL DEFAULT '[]',
	created_at   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_event ON tasks(event_id);

CREATE TABLE IF NOT EXISTS task_attempts (
	attempt_id        TEXT PRIMARY KEY,
	orchestration_id  TEXT NOT NULL,
	task_id           TEXT NOT NULL,
	worker_id         TEXT NOT NULL DEFAULT '',
	number            INTEGER NOT NULL DEFAULT 1,
	outcome           TEXT NOT NULL DEFAULT '',
	validation_status TEXT NOT NULL DEFAULT '',
	strategy          TEXT NOT NULL DEFAULT '',
	started_at        INTEGER NOT NULL DEFAULT 0,
	ended_at          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_attempts_orchestration ON task_attempts(orchestration_id, number);

CREATE TABLE IF NOT EXISTS worker_sessions (
	worker_id        TEXT PRIMARY KEY,
	task_id          TEXT NOT NULL,
	env_handle       TEXT NOT NULL DEFAULT '',
	agent_session_id TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'initializing',
	result_json      TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL DEFAULT 0,
	last_activity    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_task ON worker_sessions(task_id, status);

CREATE TABLE IF NOT EXISTS audit_records (
	id          TEXT PRIMARY KEY,
	event_id    TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	detail_json TEXT NOT NULL DEFAULT '{}',
	severity    TEXT NOT NULL DEFAULT 'info',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_records(event_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
