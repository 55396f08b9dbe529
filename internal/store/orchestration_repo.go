package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// OrchestrationRepo handles persistence for OrchestrationState records.
// Triage, validation, and result are stored as embedded JSON columns since
// they are never queried independently.
type OrchestrationRepo struct{}

const orchestrationCols = `id, event_id, status, task_id, worker_id, triage_json, validation_json, result_json, created_at, updated_at, completed_at`

// Create inserts a new orchestration record.
func (r *OrchestrationRepo) Create(ctx context.Context, db *sql.DB, o domain.OrchestrationState) error {
	triage, validation, result, err := marshalEmbedded(o)
	if err != nil {
		return err
	}

	const q = `INSERT INTO orchestrations (` + orchestrationCols + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		o.ID,
		o.EventID,
		string(o.Status),
		o.TaskID,
		o.WorkerID,
		triage,
		validation,
		result,
		o.CreatedAtUnix,
		o.UpdatedAtUnix,
		o.CompletedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create orchestration: %w", err)
	}
	return nil
}

// Update persists the full mutable portion of an orchestration record.
// The orchestrator calls this after every status transition.
func (r *OrchestrationRepo) Update(ctx context.Context, db *sql.DB, o domain.OrchestrationState) error {
	triage, validation, result, err := marshalEmbedded(o)
	if err != nil {
		return err
	}

	const q = `UPDATE orchestrations SET
		status = ?,
		task_id = ?,
		worker_id = ?,
		triage_json = ?,
		validation_json = ?,
		result_json = ?,
		updated_at = ?,
		completed_at = ?
	WHERE id = ?`
	res, err := db.ExecContext(ctx, q,
		string(o.Status),
		o.TaskID,
		o.WorkerID,
		triage,
		validation,
		result,
		o.UpdatedAtUnix,
		o.CompletedAtUnix,
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("update orchestration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOrchestrationNotFound
	}
	return nil
}

// GetByID retrieves an orchestration by its ID.
func (r *OrchestrationRepo) GetByID(ctx context.Context, db *sql.DB, id string) (*domain.OrchestrationState, error) {
	const q = `SELECT ` + orchestrationCols + ` FROM orchestrations WHERE id = ?`
	return scanOrchestration(db.QueryRowContext(ctx, q, id))
}

// GetByEventID retrieves the orchestration created for an incoming event.
func (r *OrchestrationRepo) GetByEventID(ctx context.Context, db *sql.DB, eventID string) (*domain.OrchestrationState, error) {
	const q = `SELECT ` + orchestrationCols + ` FROM orchestrations WHERE event_id = ?`
	return scanOrchestration(db.QueryRowContext(ctx, q, eventID))
}

// ListByStatus returns orchestrations with the given status, oldest first.
func (r *OrchestrationRepo) ListByStatus(ctx context.Context, db *sql.DB, status domain.OrchestrationStatus) ([]*domain.OrchestrationState, error) {
	const q = `SELECT ` + orchestrationCols + ` FROM orchestrations WHERE status = ? ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, q, string(status))
	if err != nil {
		return nil, fmt.Errorf("list orchestrations by status: %w", err)
	}
	return collectOrchestrations(rows)
}

// ListActive returns all orchestrations in a non-terminal status, oldest
// first. Used by crash recovery to discover in-flight work.
func (r *OrchestrationRepo) ListActive(ctx context.Context, db *sql.DB) ([]*domain.OrchestrationState, error) {
	const q = `SELECT ` + orchestrationCols + ` FROM orchestrations
WHERE status NOT IN ('completed', 'failed', 'escalated')
ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list active orchestrations: %w", err)
	}
	return collectOrchestrations(rows)
}

func marshalEmbedded(o domain.OrchestrationState) (triage, validation, result string, err error) {
	if o.Triage != nil {
		b, err := json.Marshal(o.Triage)
		if err != nil {
			return "", "", "", fmt.Errorf("marshal triage: %w", err)
		}
		triage = string(b)
	}
	if o.Validation != nil {
		b, err := json.Marshal(o.Validation)
		if err != nil {
			return "", "", "", fmt.Errorf("marshal validation: %w", err)
		}
		validation = string(b)
	}
	if o.Result != nil {
		b, err := json.Marshal(o.Result)
		if err != nil {
			return "", "", "", fmt.Errorf("marshal result: %w", err)
		}
		result = string(b)
	}
	return triage, validation, result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrchestrationRow(row rowScanner) (*domain.OrchestrationState, error) {
	var o domain.OrchestrationState
	var status, triage, validation, result string
	err := row.Scan(&o.ID, &o.EventID, &status, &o.TaskID, &o.WorkerID,
		&triage, &validation, &result,
		&o.CreatedAtUnix, &o.UpdatedAtUnix, &o.CompletedAtUnix)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrchestrationStatus(status)

	if triage != "" {
		o.Triage = &domain.TriageDecision{}
		if err := json.Unmarshal([]byte(triage), o.Triage); err != nil {
			return nil, fmt.Errorf("unmarshal triage: %w", err)
		}
	}
	if validation != "" {
		o.Validation = &domain.ValidationResult{}
		if err := json.Unmarshal([]byte(validation), o.Validation); err != nil {
			return nil, fmt.Errorf("unmarshal validation: %w", err)
		}
	}
	if result != "" {
		o.Result = &domain.WorkerResult{}
		if err := json.Unmarshal([]byte(result), o.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &o, nil
}

func scanOrchestration(row *sql.Row) (*domain.OrchestrationState, error) {
	o, err := scanOrchestrationRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrOrchestrationNotFound
		}
		return nil, fmt.Errorf("get orchestration: %w", err)
	}
	return o, nil
}

func collectOrchestrations(rows *sql.Rows) ([]*domain.OrchestrationState, error) {
	defer rows.Close()

	var out []*domain.OrchestrationState
	for rows.Next() {
		o, err := scanOrchestrationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan orchestration: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
