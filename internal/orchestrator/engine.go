package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/conductor-engine/internal/domain"
	"github.com/anthropics/conductor-engine/internal/judge"
	"github.com/anthropics/conductor-engine/internal/notify"
	"github.com/anthropics/conductor-engine/internal/review"
	"github.com/anthropics/conductor-engine/internal/store"
	"github.com/anthropics/conductor-engine/internal/triage"
	"github.com/anthropics/conductor-engine/internal/worker"
)

// WorkerPool is the slice of the worker manager the engine drives. The
// concrete implementation is worker.Manager.
type WorkerPool interface {
	Spawn(ctx context.Context, task domain.Task) (string, error)
	RunConversation(ctx context.Context, workerID, kickoff string, conductor worker.ConductorFunc) (*domain.WorkerResult, error)
	SendCommand(ctx context.Context, workerID, payload string) (string, error)
	GetStatus(workerID string) (domain.WorkerStatus, *domain.WorkerResult, error)
	ListActive() []string
	Kill(ctx context.Context, workerID string) error
}

// Engine drives orchestrations from incoming event to terminal status.
type Engine struct {
	DB             *sql.DB
	Events         *store.EventRepo
	Orchestrations *store.OrchestrationRepo
	Tasks          *store.TaskRepo
	Attempts       *store.AttemptRepo
	AuditRepo      *store.AuditRepo

	Triager    *triage.Triager
	Validator  *review.Validator
	Strategist *review.StrategyPicker
	Judge      judge.Judge

	Workers  WorkerPool
	Notifier notify.Notifier
	Mailer   notify.Mailer
	Texter   notify.Texter

	// MaxRetries is the per-task retry budget: a task gets MaxRetries+1
	// attempts in total.
	MaxRetries int
}

// NewEngine wires an Engine over the given collaborators.
func NewEngine(db *sql.DB, j judge.Judge, pool WorkerPool, notifier notify.Notifier, mailer notify.Mailer, texter notify.Texter, maxRetries int) *Engine {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Engine{
		DB:             db,
		Events:         &store.EventRepo{},
		Orchestrations: &store.OrchestrationRepo{},
		Tasks:          &store.TaskRepo{},
		Attempts:       &store.AttemptRepo{},
		AuditRepo:      &store.AuditRepo{},
		Triager:        triage.NewTriager(j),
		Validator:      review.NewValidator(j),
		Strategist:     review.NewStrategyPicker(j),
		Judge:          j,
		Workers:        pool,
		Notifier:       notifier,
		Mailer:         mailer,
		Texter:         texter,
		MaxRetries:     maxRetries,
	}
}

// HandleEvent ingests one incoming event and drives its orchestration to a
// terminal status. Replaying an event id returns the existing orchestration
// rather than creating a duplicate; a deferred (pending) orchestration
// re-enters triage on redelivery.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.IncomingEvent) (*domain.OrchestrationState, error) {
	existing, err := e.Orchestrations.GetByEventID(ctx, e.DB, ev.ID)
	if err == nil {
		if existing.Status != domain.StatusPending {
			return existing, nil
		}
		// Deferred earlier; redelivery triages again.
		if err := e.drive(ctx, existing, ev); err != nil {
			return existing, err
		}
		return existing, nil
	}
	if err != domain.ErrOrchestrationNotFound {
		return nil, err
	}

	now := time.Now().Unix()
	if ev.ReceivedAtUnix == 0 {
		ev.ReceivedAtUnix = now
	}
	if err := e.Events.Create(ctx, e.DB, ev); err != nil {
		return nil, err
	}

	o := &domain.OrchestrationState{
		ID:            "orc-" + uuid.NewString(),
		EventID:       ev.ID,
		Status:        domain.StatusPending,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if err := e.Orchestrations.Create(ctx, e.DB, *o); err != nil {
		return nil, err
	}

	if err := e.drive(ctx, o, ev); err != nil {
		return o, err
	}
	return o, nil
}

// drive runs one orchestration from pending through triage to a terminal
// status.
func (e *Engine) drive(ctx context.Context, o *domain.OrchestrationState, ev domain.IncomingEvent) error {
	if err := e.transition(ctx, o, domain.StatusTriaging); err != nil {
		return err
	}
	return e.route(ctx, o, ev)
}

// route applies the triage decision. It assumes o is in the triaging status.
func (e *Engine) route(ctx context.Context, o *domain.OrchestrationState, ev domain.IncomingEvent) error {
	decision := e.Triager.Decide(ctx, ev)
	o.Triage = &decision
	e.audit(ctx, ev.ID, "triage", "event_triaged", "info",
		fmt.Sprintf(`{"action":%q,"confidence":%.2f}`, decision.Action, decision.Confidence))

	switch decision.Action {
	case domain.TriageIgnore:
		return e.transition(ctx, o, domain.StatusCompleted)

	case domain.TriageDefer:
		// Left pending; redelivery or Resume triages again.
		return e.transition(ctx, o, domain.StatusPending)

	case domain.TriageEscalate:
		return e.escalate(ctx, o, ev, decision.Reason)

	case domain.TriageAct:
		task := e.buildTask(ev, decision)
		if err := e.Tasks.Create(ctx, e.DB, task); err != nil {
			return err
		}
		o.TaskID = task.TaskID
		return e.runAttempts(ctx, o, ev, task, 1)
	}
	return e.escalate(ctx, o, ev, fmt.Sprintf("unhandled triage action %q", decision.Action))
}

// runAttempts executes the spawn/converse/validate cycle until the result
// validates, the strategy escalates, or the retry budget runs out. The entry
// status must be triaging or retrying.
func (e *Engine) runAttempts(ctx context.Context, o *domain.OrchestrationState, ev domain.IncomingEvent, task domain.Task, startNumber int) error {
	maxAttempts := task.MaxRetries + 1

	// workerID carries a still-live worker between attempts when the
	// same_worker strategy applies; kickoff is the corrective message for
	// that continuation.
	var workerID, kickoff string

	for n := startNumber; n <= maxAttempts; n++ {
		attempt := domain.TaskAttempt{
			AttemptID:       "att-" + uuid.NewString(),
			OrchestrationID: o.ID,
			TaskID:          task.TaskID,
			Number:          n,
			StartedAtUnix:   time.Now().Unix(),
		}
		if err := e.Attempts.Create(ctx, e.DB, attempt); err != nil {
			return err
		}

		if workerID == "" {
			if err := e.transition(ctx, o, domain.StatusSpawning); err != nil {
				return err
			}
			id, err := e.Workers.Spawn(ctx, task)
			if err != nil {
				log.Printf("orchestrator: spawn for %s attempt %d: %v", o.ID, n, err)
				attempt.Outcome = "spawn_failed"
				attempt.EndedAtUnix = time.Now().Unix()
				if ferr := e.Attempts.Finish(ctx, e.DB, attempt); ferr != nil {
					return ferr
				}
				if n == maxAttempts {
					if terr := e.transition(ctx, o, domain.StatusFailed); terr != nil {
						return terr
					}
					return e.notifyFailure(ctx, o, ev, "provisioning failed on every attempt")
				}
				if terr := e.transition(ctx, o, domain.StatusRetrying); terr != nil {
					return terr
				}
				continue
			}
			workerID = id
		}

		o.WorkerID = workerID
		if err := e.transition(ctx, o, domain.StatusRunning); err != nil {
			return err
		}

		result, err := e.Workers.RunConversation(ctx, workerID, kickoff, e.conductorFor(ev, task))
		kickoff = ""
		if err != nil {
			// Timeouts and agent failures become a failed result so the
			// normal validation/strategy path decides what happens next.
			result = &domain.WorkerResult{
				Success: false,
				Summary: fmt.Sprintf("worker did not finish: %v", err),
			}
			_ = e.Workers.Kill(ctx, workerID)
			workerID = ""
		}
		attempt.WorkerID = o.WorkerID
		o.Result = result

		if err := e.transition(ctx, o, domain.StatusValidating); err != nil {
			return err
		}
		vr := e.Validator.Validate(ctx, task, *result)
		o.Validation = &vr
		attempt.ValidationStatus = vr.Status

		if vr.Status == domain.ValidationValid {
			attempt.Outcome = "valid"
			attempt.EndedAtUnix = time.Now().Unix()
			if err := e.Attempts.Finish(ctx, e.DB, attempt); err != nil {
				return err
			}
			if workerID != "" {
				_ = e.Workers.Kill(ctx, workerID)
			}
			return e.finalize(ctx, o, ev)
		}

		strategy := e.Strategist.Pick(ctx, task, vr)
		attempt.Strategy = strategy
		attempt.Outcome = string(vr.Status)
		attempt.EndedAtUnix = time.Now().Unix()
		if err := e.Attempts.Finish(ctx, e.DB, attempt); err != nil {
			return err
		}
		e.audit(ctx, ev.ID, "validation", "attempt_rejected", "warning",
			fmt.Sprintf(`{"attempt":%d,"status":%q,"strategy":%q}`, n, vr.Status, strategy))

		if strategy == domain.RetryEscalate {
			if workerID != "" {
				_ = e.Workers.Kill(ctx, workerID)
			}
			return e.escalate(ctx, o, ev, escalationReason(vr))
		}

		if n == maxAttempts {
			if workerID != "" {
				_ = e.Workers.Kill(ctx, workerID)
			}
			if err := e.transition(ctx, o, domain.StatusFailed); err != nil {
				return err
			}
			return e.notifyFailure(ctx, o, ev, "retry budget exhausted")
		}

		if err := e.transition(ctx, o, domain.StatusRetrying); err != nil {
			return err
		}

		// same_worker only skips the respawn when the session survived and
		// the result was at least partial; an invalid result means the
		// session's approach is wrong, so it restarts regardless.
		if strategy == domain.RetrySameWorker && workerID != "" && vr.Status == domain.ValidationPartial {
			kickoff = correctiveMessage(vr)
			continue
		}

		if workerID != "" {
			_ = e.Workers.Kill(ctx, workerID)
			workerID = ""
		}
		task = e.reviseTask(task, vr, strategy)
		if err := e.Tasks.Create(ctx, e.DB, task); err != nil {
			return err
		}
		o.TaskID = task.TaskID
	}

	// Unreachable: the loop exits through a terminal transition.
	return domain.ErrRetriesExhausted
}

// finalize delivers the validated result and completes the orchestration.
func (e *Engine) finalize(ctx context.Context, o *domain.OrchestrationState, ev domain.IncomingEvent) error {
	if err := e.transition(ctx, o, domain.StatusFinalizing); err != nil {
		return err
	}
	if err := e.Notifier.Respond(ctx, ev, *o.Result); err != nil {
		log.Printf("orchestrator: respond for %s: %v", o.ID, err)
	}
	return e.transition(ctx, o, domain.StatusCompleted)
}

// escalate hands the event to a human and marks the orchestration escalated.
func (e *Engine) escalate(ctx context.Context, o *domain.OrchestrationState, ev domain.IncomingEvent, reason string) error {
	if err := e.Notifier.Escalate(ctx, ev, reason); err != nil {
		log.Printf("orchestrator: escalate for %s: %v", o.ID, err)
	}
	e.audit(ctx, ev.ID, "escalation", "orchestration_escalated", "warning",
		fmt.Sprintf(`{"reason":%q}`, reason))
	return e.transition(ctx, o, domain.StatusEscalated)
}

// notifyFailure tells the operator about a failed orchestration. The status
// is already failed; notification problems are logged, not propagated.
func (e *Engine) notifyFailure(ctx context.Context, o *domain.OrchestrationState, ev domain.IncomingEvent, reason string) error {
	if err := e.Notifier.Escalate(ctx, ev, "orchestration failed: "+reason); err != nil {
		log.Printf("orchestrator: failure notice for %s: %v", o.ID, err)
	}
	return nil
}

// priorityTimeout maps triage priority to the task's hard timeout.
func priorityTimeout(p domain.Priority) int {
	switch p {
	case domain.PriorityUrgent:
		return 600
	case domain.PriorityHigh:
		return 1800
	case domain.PriorityMedium:
		return 3600
	}
	return 7200
}

// buildTask mints the initial task for an actionable event.
func (e *Engine) buildTask(ev domain.IncomingEvent, decision domain.TriageDecision) domain.Task {
	desc := decision.TaskType
	if desc == "" {
		desc = ev.Subject
	}
	if desc == "" {
		desc = fmt.Sprintf("handle %s event %s", ev.Type, ev.ID)
	}
	return domain.Task{
		TaskID:        "tsk-" + uuid.NewString(),
		EventID:       ev.ID,
		Description:   desc,
		Instructions:  buildInstructions(ev, decision),
		ContextJSON:   ev.PayloadJSON,
		TimeoutSec:    priorityTimeout(decision.Priority),
		MaxRetries:    e.MaxRetries,
		CreatedAtUnix: time.Now().Unix(),
	}
}

func buildInstructions(ev domain.IncomingEvent, decision domain.TriageDecision) string {
	return fmt.Sprintf(`You are an autonomous worker handling a delegated task.

Task: %s
Triage notes: %s

Originating request (%s from %s, subject %q):
%s

Carry the task out completely. If you are blocked on a question or need
approval for a risky action, say so and include the marker APPROVAL_REQUIRED
when approval is what you need. When finished, reply with a single JSON
object: {"success": true|false, "summary": "...", "artifacts": ["path", ...], "detail": "..."}.
`, decision.TaskType, decision.Reason, ev.Type, ev.Sender, ev.Subject, ev.PayloadJSON)
}

// reviseTask mints a follow-up task whose instructions carry the validation
// feedback forward. split_task additionally directs the worker to decompose
// the work inside its own session.
func (e *Engine) reviseTask(task domain.Task, vr domain.ValidationResult, strategy domain.RetryStrategy) domain.Task {
	revised := task
	revised.TaskID = "tsk-" + uuid.NewString()
	revised.CreatedAtUnix = time.Now().Unix()

	feedback := "\n\nA previous attempt at this task was rejected:\n" + issueLines(vr.Issues)
	if strategy == domain.RetrySplitTask {
		feedback += "\nThe task appears too large for one pass. Break it into smaller subtasks and complete them one at a time before reporting the combined result."
	} else {
		feedback += "\nAddress these problems with a fresh approach."
	}
	revised.Instructions = task.Instructions + feedback
	return revised
}

// correctiveMessage is sent into a surviving session after a partial result.
func correctiveMessage(vr domain.ValidationResult) string {
	return "Your result was incomplete. Fix the following and report a revised final result:\n" + issueLines(vr.Issues)
}

func issueLines(issues []domain.ValidationIssue) string {
	if len(issues) == 0 {
		return "- (no specific issues recorded)\n"
	}
	var out string
	for _, issue := range issues {
		out += fmt.Sprintf("- [%s] %s\n", issue.Severity, issue.Description)
	}
	return out
}

func escalationReason(vr domain.ValidationResult) string {
	return fmt.Sprintf("validation returned %s (confidence %.2f): %s",
		vr.Status, vr.Confidence, issueLines(vr.Issues))
}

func (e *Engine) audit(ctx context.Context, eventID, category, action, severity, detail string) {
	_ = e.AuditRepo.Record(ctx, e.DB, domain.AuditRecord{
		ID:         "aud-" + uuid.NewString(),
		EventID:    eventID,
		Category:   category,
		Actor:      "orchestrator",
		Action:     action,
		DetailJSON: detail,
		Severity:   severity,
		CreatedAt:  time.Now().Unix(),
	})
}
