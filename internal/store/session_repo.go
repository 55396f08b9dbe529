package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// SessionRepo mirrors the worker manager's in-memory session table for audit
// and post-mortem inspection. The in-memory table is authoritative while the
// process is alive.
type SessionRepo struct{}

const sessionCols = `worker_id, task_id, env_handle, agent_session_id, status, result_json, created_at, last_activity`

// Create inserts a new worker session record.
func (r *SessionRepo) Create(ctx context.Context, db *sql.DB, s domain.WorkerSession) error {
	result, err := marshalResult(s.Result)
	if err != nil {
		return err
	}

	const q = `INSERT INTO worker_sessions (` + sessionCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		s.WorkerID,
		s.TaskID,
		s.EnvHandle,
		s.AgentSessionID,
		string(s.Status),
		result,
		s.CreatedAtUnix,
		s.LastActivityUnix,
	)
	if err != nil {
		return fmt.Errorf("create worker session: %w", err)
	}
	return nil
}

// Update persists the mutable fields of a session record.
func (r *SessionRepo) Update(ctx context.Context, db *sql.DB, s domain.WorkerSession) error {
	result, err := marshalResult(s.Result)
	if err != nil {
		return err
	}

	const q = `UPDATE worker_sessions SET
		agent_session_id = ?,
		status = ?,
		result_json = ?,
		last_activity = ?
	WHERE worker_id = ?`
	res, err := db.ExecContext(ctx, q,
		s.AgentSessionID,
		string(s.Status),
		result,
		s.LastActivityUnix,
		s.WorkerID,
	)
	if err != nil {
		return fmt.Errorf("update worker session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

// Rename relocates a session row from a placeholder id to its confirmed id.
// Part of the identity remap; the primary key update makes the move atomic
// at the storage layer.
func (r *SessionRepo) Rename(ctx context.Context, db *sql.DB, oldID, newID string) error {
	const q = `UPDATE worker_sessions SET worker_id = ? WHERE worker_id = ?`
	res, err := db.ExecContext(ctx, q, newID, oldID)
	if err != nil {
		return fmt.Errorf("rename worker session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

// GetByID retrieves a session by worker id.
func (r *SessionRepo) GetByID(ctx context.Context, db *sql.DB, workerID string) (*domain.WorkerSession, error) {
	const q = `SELECT ` + sessionCols + ` FROM worker_sessions WHERE worker_id = ?`

	row := db.QueryRowContext(ctx, q, workerID)
	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("get worker session: %w", err)
	}
	return s, nil
}

// Delete removes a session record. Used by the janitor after the retention
// window expires.
func (r *SessionRepo) Delete(ctx context.Context, db *sql.DB, workerID string) error {
	const q = `DELETE FROM worker_sessions WHERE worker_id = ?`
	if _, err := db.ExecContext(ctx, q, workerID); err != nil {
		return fmt.Errorf("delete worker session: %w", err)
	}
	return nil
}

func marshalResult(res *domain.WorkerResult) (string, error) {
	if res == nil {
		return "", nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshal worker result: %w", err)
	}
	return string(b), nil
}

func scanSession(row rowScanner) (*domain.WorkerSession, error) {
	var s domain.WorkerSession
	var status, result string
	err := row.Scan(&s.WorkerID, &s.TaskID, &s.EnvHandle, &s.AgentSessionID,
		&status, &result, &s.CreatedAtUnix, &s.LastActivityUnix)
	if err != nil {
		return nil, err
	}
	s.Status = domain.WorkerStatus(status)
	if result != "" {
		s.Result = &domain.WorkerResult{}
		if err := json.Unmarshal([]byte(result), s.Result); err != nil {
			return nil, fmt.Errorf("unmarshal worker result: %w", err)
		}
	}
	return &s, nil
}
