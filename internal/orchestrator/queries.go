package orchestrator

import (
	"context"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// GetByID returns one orchestration by its id.
func (e *Engine) GetByID(ctx context.Context, id string) (*domain.OrchestrationState, error) {
	return e.Orchestrations.GetByID(ctx, e.DB, id)
}

// GetByEventID returns the orchestration created for an event.
func (e *Engine) GetByEventID(ctx context.Context, eventID string) (*domain.OrchestrationState, error) {
	return e.Orchestrations.GetByEventID(ctx, e.DB, eventID)
}

// ListByStatus returns orchestrations in the given status, oldest first.
func (e *Engine) ListByStatus(ctx context.Context, status domain.OrchestrationStatus) ([]*domain.OrchestrationState, error) {
	return e.Orchestrations.ListByStatus(ctx, e.DB, status)
}

// ListActive returns all non-terminal orchestrations, oldest first.
func (e *Engine) ListActive(ctx context.Context) ([]*domain.OrchestrationState, error) {
	return e.Orchestrations.ListActive(ctx, e.DB)
}

// AttemptHistory returns the attempt history for an orchestration.
func (e *Engine) AttemptHistory(ctx context.Context, orchestrationID string) ([]domain.TaskAttempt, error) {
	return e.Attempts.ListByOrchestration(ctx, e.DB, orchestrationID)
}
