package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// AttemptRepo handles persistence for TaskAttempt records.
type AttemptRepo struct{}

// Create inserts a new attempt record.
func (r *AttemptRepo) Create(ctx context.Context, db *sql.DB, a domain.TaskAttempt) error {
	const q = `INSERT INTO task_attempts (attempt_id, orchestration_id, task_id, worker_id, number, outcome, validation_status, strategy, started_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		a.AttemptID,
		a.OrchestrationID,
		a.TaskID,
		a.WorkerID,
		a.Number,
		a.Outcome,
		string(a.ValidationStatus),
		string(a.Strategy),
		a.StartedAtUnix,
		a.EndedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

// Finish records the outcome of an attempt.
func (r *AttemptRepo) Finish(ctx context.Context, db *sql.DB, a domain.TaskAttempt) error {
	const q = `UPDATE task_attempts SET
		worker_id = ?,
		outcome = ?,
		validation_status = ?,
		strategy = ?,
		ended_at = ?
	WHERE attempt_id = ?`
	res, err := db.ExecContext(ctx, q,
		a.WorkerID,
		a.Outcome,
		string(a.ValidationStatus),
		string(a.Strategy),
		a.EndedAtUnix,
		a.AttemptID,
	)
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrStoreWrite
	}
	return nil
}

// ListByOrchestration returns all attempts for an orchestration in order.
func (r *AttemptRepo) ListByOrchestration(ctx context.Context, db *sql.DB, orchestrationID string) ([]domain.TaskAttempt, error) {
	const q = `SELECT attempt_id, orchestration_id, task_id, worker_id, number, outcome, validation_status, strategy, started_at, ended_at
FROM task_attempts WHERE orchestration_id = ? ORDER BY number ASC`

	rows, err := db.QueryContext(ctx, q, orchestrationID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.TaskAttempt
	for rows.Next() {
		var a domain.TaskAttempt
		var vs, strategy string
		if err := rows.Scan(&a.AttemptID, &a.OrchestrationID, &a.TaskID, &a.WorkerID,
			&a.Number, &a.Outcome, &vs, &strategy, &a.StartedAtUnix, &a.EndedAtUnix); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.ValidationStatus = domain.ValidationStatus(vs)
		a.Strategy = domain.RetryStrategy(strategy)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
