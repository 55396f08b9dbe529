package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// Resume re-drives every non-terminal orchestration found at startup. Live
// worker sessions did not survive the restart, so an interrupted attempt
// counts as consumed and the remaining retry budget continues from there.
func (e *Engine) Resume(ctx context.Context) error {
	active, err := e.Orchestrations.ListActive(ctx, e.DB)
	if err != nil {
		return err
	}

	for _, o := range active {
		ev, err := e.Events.GetByID(ctx, e.DB, o.EventID)
		if err != nil {
			log.Printf("orchestrator: resume %s: load event: %v", o.ID, err)
			continue
		}
		if err := e.resumeOne(ctx, o, *ev); err != nil {
			log.Printf("orchestrator: resume %s: %v", o.ID, err)
		}
	}
	return nil
}

func (e *Engine) resumeOne(ctx context.Context, o *domain.OrchestrationState, ev domain.IncomingEvent) error {
	switch o.Status {
	case domain.StatusPending:
		return e.drive(ctx, o, ev)

	case domain.StatusTriaging:
		return e.route(ctx, o, ev)

	case domain.StatusFinalizing:
		// The result validated before the crash; only delivery remains.
		if err := e.Notifier.Respond(ctx, ev, *o.Result); err != nil {
			log.Printf("orchestrator: resume respond for %s: %v", o.ID, err)
		}
		return e.transition(ctx, o, domain.StatusCompleted)
	}

	// Mid-attempt statuses: spawning, running, validating, retrying.
	task, err := e.Tasks.GetByID(ctx, e.DB, o.TaskID)
	if err != nil {
		return err
	}
	used, err := e.closeDanglingAttempt(ctx, o)
	if err != nil {
		return err
	}

	if o.Status == domain.StatusRunning {
		if err := e.transition(ctx, o, domain.StatusValidating); err != nil {
			return err
		}
	}

	if o.Status == domain.StatusValidating && o.Result != nil {
		// Re-validate the persisted result rather than burning an attempt
		// on work that may already be good.
		vr := e.Validator.Validate(ctx, *task, *o.Result)
		o.Validation = &vr
		if vr.Status == domain.ValidationValid {
			return e.finalize(ctx, o, ev)
		}
	}

	if used >= task.MaxRetries+1 {
		if err := e.transition(ctx, o, domain.StatusFailed); err != nil {
			return err
		}
		return e.notifyFailure(ctx, o, ev, "retry budget exhausted before restart")
	}

	if o.Status != domain.StatusRetrying {
		if err := e.transition(ctx, o, domain.StatusRetrying); err != nil {
			return err
		}
	}
	return e.runAttempts(ctx, o, ev, *task, used+1)
}

// closeDanglingAttempt finishes an attempt record left open by the crash and
// returns the number of attempts consumed so far.
func (e *Engine) closeDanglingAttempt(ctx context.Context, o *domain.OrchestrationState) (int, error) {
	attempts, err := e.Attempts.ListByOrchestration(ctx, e.DB, o.ID)
	if err != nil {
		return 0, err
	}
	if n := len(attempts); n > 0 && attempts[n-1].EndedAtUnix == 0 {
		last := attempts[n-1]
		last.Outcome = "interrupted"
		last.EndedAtUnix = time.Now().Unix()
		if err := e.Attempts.Finish(ctx, e.DB, last); err != nil {
			return 0, err
		}
	}
	return len(attempts), nil
}
