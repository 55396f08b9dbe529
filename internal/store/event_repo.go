package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// EventRepo handles persistence for IncomingEvent records.
type EventRepo struct{}

// Create inserts a new incoming event. Events are append-only.
func (r *EventRepo) Create(ctx context.Context, db *sql.DB, ev domain.IncomingEvent) error {
	const q = `INSERT INTO events (event_id, type, payload_json, sender, subject, received_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		ev.ID,
		string(ev.Type),
		ev.PayloadJSON,
		ev.Sender,
		ev.Subject,
		ev.ReceivedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepo) GetByID(ctx context.Context, db *sql.DB, eventID string) (*domain.IncomingEvent, error) {
	const q = `SELECT event_id, type, payload_json, sender, subject, received_at
FROM events WHERE event_id = ?`

	row := db.QueryRowContext(ctx, q, eventID)

	var ev domain.IncomingEvent
	var typ string
	err := row.Scan(&ev.ID, &typ, &ev.PayloadJSON, &ev.Sender, &ev.Subject, &ev.ReceivedAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	ev.Type = domain.EventType(typ)
	return &ev, nil
}
