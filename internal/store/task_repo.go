package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// TaskRepo handles persistence for Task records.
type TaskRepo struct{}

// Create inserts a new task record.
func (r *TaskRepo) Create(ctx context.Context, db *sql.DB, t domain.Task) error {
	caps, err := json.Marshal(t.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	const q = `INSERT INTO tasks (task_id, event_id, description, instructions, context_json, timeout_sec, max_retries, capabilities, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		t.TaskID,
		t.EventID,
		t.Description,
		t.Instructions,
		t.ContextJSON,
		t.TimeoutSec,
		t.MaxRetries,
		string(caps),
		t.CreatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by its ID.
func (r *TaskRepo) GetByID(ctx context.Context, db *sql.DB, taskID string) (*domain.Task, error) {
	const q = `SELECT task_id, event_id, description, instructions, context_json, timeout_sec, max_retries, capabilities, created_at
FROM tasks WHERE task_id = ?`

	row := db.QueryRowContext(ctx, q, taskID)

	var t domain.Task
	var caps string
	err := row.Scan(&t.TaskID, &t.EventID, &t.Description, &t.Instructions,
		&t.ContextJSON, &t.TimeoutSec, &t.MaxRetries, &caps, &t.CreatedAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	if err := json.Unmarshal([]byte(caps), &t.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	return &t, nil
}

// ListByEvent returns all tasks minted for an event, oldest first. Retries
// produce multiple tasks per event.
func (r *TaskRepo) ListByEvent(ctx context.Context, db *sql.DB, eventID string) ([]*domain.Task, error) {
	const q = `SELECT task_id, event_id, description, instructions, context_json, timeout_sec, max_retries, capabilities, created_at
FROM tasks WHERE event_id = ? ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by event: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		var t domain.Task
		var caps string
		if err := rows.Scan(&t.TaskID, &t.EventID, &t.Description, &t.Instructions,
			&t.ContextJSON, &t.TimeoutSec, &t.MaxRetries, &caps, &t.CreatedAtUnix); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if err := json.Unmarshal([]byte(caps), &t.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}
