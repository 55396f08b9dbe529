package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// AuditRepo handles persistence for AuditRecord entries.
type AuditRepo struct{}

// Record inserts an audit record.
func (r *AuditRepo) Record(ctx context.Context, db *sql.DB, rec domain.AuditRecord) error {
	const q = `INSERT INTO audit_records (id, event_id, category, actor, action, detail_json, severity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	detail := rec.DetailJSON
	if detail == "" {
		detail = "{}"
	}
	_, err := db.ExecContext(ctx, q,
		rec.ID,
		rec.EventID,
		rec.Category,
		rec.Actor,
		rec.Action,
		detail,
		rec.Severity,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListByEvent returns audit records for an event's orchestration in order.
func (r *AuditRepo) ListByEvent(ctx context.Context, db *sql.DB, eventID string) ([]domain.AuditRecord, error) {
	const q = `SELECT id, event_id, category, actor, action, detail_json, severity, created_at
FROM audit_records WHERE event_id = ? ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Category, &rec.Actor,
			&rec.Action, &rec.DetailJSON, &rec.Severity, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
