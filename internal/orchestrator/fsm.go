// Package orchestrator implements the supervisor state machine that drives
// an incoming event from arrival to resolution.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// validTransitions defines the legal orchestration status transitions.
// Each key is a source status, and the value is the set of valid targets.
var validTransitions = map[domain.OrchestrationStatus]map[domain.OrchestrationStatus]bool{
	domain.StatusPending: {
		domain.StatusTriaging: true,
	},
	domain.StatusTriaging: {
		domain.StatusCompleted: true, // triage said ignore
		domain.StatusEscalated: true,
		domain.StatusPending:   true, // triage said defer
		domain.StatusSpawning:  true,
	},
	domain.StatusSpawning: {
		domain.StatusRunning:  true,
		domain.StatusRetrying: true, // provisioning failed, budget remains
		domain.StatusFailed:   true,
	},
	domain.StatusRunning: {
		domain.StatusValidating: true,
		domain.StatusFailed:     true,
	},
	domain.StatusValidating: {
		domain.StatusFinalizing: true,
		domain.StatusRetrying:   true,
		domain.StatusFailed:     true,
		domain.StatusEscalated:  true,
	},
	domain.StatusRetrying: {
		domain.StatusSpawning: true,
		domain.StatusRunning:  true, // same worker, no respawn
		domain.StatusFailed:   true,
	},
	domain.StatusFinalizing: {
		domain.StatusCompleted: true,
	},
}

// IsValidTransition checks if a status transition is legal.
func IsValidTransition(from, to domain.OrchestrationStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// transition moves o to the target status and persists the record before
// returning. Persistence failure propagates: the durable record is the
// crash-recovery invariant, so the engine never proceeds past a write it
// could not make.
func (e *Engine) transition(ctx context.Context, o *domain.OrchestrationState, to domain.OrchestrationStatus) error {
	if !IsValidTransition(o.Status, to) {
		return domain.NewConductorError(
			domain.ErrInvalidTransition.Code,
			fmt.Sprintf("illegal transition %s -> %s", o.Status, to),
		)
	}

	now := time.Now().Unix()
	o.Status = to
	o.UpdatedAtUnix = now
	if domain.IsTerminalStatus(to) {
		o.CompletedAtUnix = now
	}

	if err := e.Orchestrations.Update(ctx, e.DB, *o); err != nil {
		return fmt.Errorf("persist transition to %s: %w", to, err)
	}
	return nil
}
