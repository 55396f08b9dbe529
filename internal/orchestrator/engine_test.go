package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/conductor-engine/internal/domain"
	"github.com/anthropics/conductor-engine/internal/judge"
	"github.com/anthropics/conductor-engine/internal/notify"
	"github.com/anthropics/conductor-engine/internal/store"
	"github.com/anthropics/conductor-engine/internal/worker"
)

// routingJudge answers each judge role with a fixed reply.
type routingJudge struct {
	triage     string
	validation string
	strategy   string
	conductor  string
}

func (j *routingJudge) Complete(ctx context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "triage step"):
		return j.triage, nil
	case strings.Contains(prompt, "validation step"):
		return j.validation, nil
	case strings.Contains(prompt, "retry-strategy step"):
		return j.strategy, nil
	}
	return j.conductor, nil
}

// fakePool scripts worker lifecycle outcomes per call.
type fakePool struct {
	mu        sync.Mutex
	spawnErrs []error
	spawns    int
	convs     int
	results   []*domain.WorkerResult
	convErrs  []error
	kills     []string
	active    map[string]bool
}

func (p *fakePool) Spawn(ctx context.Context, task domain.Task) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.spawns
	p.spawns++
	if i < len(p.spawnErrs) && p.spawnErrs[i] != nil {
		return "", p.spawnErrs[i]
	}
	id := fmt.Sprintf("w%d", p.spawns)
	if p.active == nil {
		p.active = make(map[string]bool)
	}
	p.active[id] = true
	return id, nil
}

func (p *fakePool) RunConversation(ctx context.Context, workerID, kickoff string, conductor worker.ConductorFunc) (*domain.WorkerResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.convs
	p.convs++
	if i < len(p.convErrs) && p.convErrs[i] != nil {
		return nil, p.convErrs[i]
	}
	if i < len(p.results) {
		return p.results[i], nil
	}
	return &domain.WorkerResult{Success: true, Summary: "done"}, nil
}

func (p *fakePool) SendCommand(ctx context.Context, workerID, payload string) (string, error) {
	return "", nil
}

func (p *fakePool) GetStatus(workerID string) (domain.WorkerStatus, *domain.WorkerResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active[workerID] {
		return "", nil, domain.ErrWorkerNotFound
	}
	return domain.WorkerRunning, nil, nil
}

func (p *fakePool) ListActive() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id := range p.active {
		out = append(out, id)
	}
	return out
}

func (p *fakePool) Kill(ctx context.Context, workerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills = append(p.kills, workerID)
	delete(p.active, workerID)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	responds  []domain.WorkerResult
	escalates []string
}

func (f *fakeNotifier) Respond(ctx context.Context, ev domain.IncomingEvent, result domain.WorkerResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responds = append(f.responds, result)
	return nil
}

func (f *fakeNotifier) Escalate(ctx context.Context, ev domain.IncomingEvent, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalates = append(f.escalates, reason)
	return nil
}

const (
	triageAction   = `{"action": "action", "confidence": 0.9, "reason": "actionable", "task_type": "ops", "priority": "high"}`
	triageIgnore   = `{"action": "ignore", "confidence": 0.95, "reason": "spam"}`
	validationOK   = `{"status": "valid", "confidence": 0.9, "issues": []}`
	validationBad  = `{"status": "invalid", "confidence": 0.9, "issues": [{"severity": "error", "description": "nothing was done"}]}`
	strategySame   = `{"strategy": "same_worker"}`
	strategyWorker = `{"strategy": "new_worker"}`
	strategyEsc    = `{"strategy": "escalate"}`
)

func newTestEngine(t *testing.T, j judge.Judge, pool *fakePool, n *fakeNotifier) *Engine {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewEngine(db, j, pool, n, notify.LogMailer{}, notify.LogTexter{}, 3)
}

func testEvent(id string) domain.IncomingEvent {
	return domain.IncomingEvent{
		ID:          id,
		Type:        domain.EventEmail,
		Sender:      "user@example.com",
		Subject:     "please restart the batch job",
		PayloadJSON: `{"body": "the nightly batch job is stuck"}`,
	}
}

func TestHandleEvent_IgnoreCompletesWithoutWork(t *testing.T) {
	pool := &fakePool{}
	eng := newTestEngine(t, &routingJudge{triage: triageIgnore}, pool, &fakeNotifier{})
	ctx := context.Background()

	o, err := eng.HandleEvent(ctx, testEvent("evt-ig"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if o.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed", o.Status)
	}
	if o.TaskID != "" {
		t.Errorf("TaskID = %q, want empty", o.TaskID)
	}
	if pool.spawns != 0 {
		t.Errorf("spawns = %d, want 0", pool.spawns)
	}

	tasks, err := eng.Tasks.ListByEvent(ctx, eng.DB, "evt-ig")
	if err != nil {
		t.Fatalf("ListByEvent: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("tasks = %d, want 0", len(tasks))
	}
}

func TestHandleEvent_ValidResultCompletes(t *testing.T) {
	pool := &fakePool{
		results: []*domain.WorkerResult{
			{Success: true, Summary: "batch job restarted, queue draining"},
		},
	}
	notifier := &fakeNotifier{}
	eng := newTestEngine(t, &routingJudge{triage: triageAction, validation: validationOK}, pool, notifier)
	ctx := context.Background()

	o, err := eng.HandleEvent(ctx, testEvent("evt-ok"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if o.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed", o.Status)
	}
	if pool.spawns != 1 {
		t.Errorf("spawns = %d, want 1", pool.spawns)
	}
	if len(pool.kills) != 1 {
		t.Errorf("kills = %v, want one", pool.kills)
	}
	if len(notifier.responds) != 1 || notifier.responds[0].Summary != "batch job restarted, queue draining" {
		t.Errorf("responds = %+v", notifier.responds)
	}

	attempts, err := eng.AttemptHistory(ctx, o.ID)
	if err != nil {
		t.Fatalf("AttemptHistory: %v", err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != "valid" {
		t.Errorf("attempts = %+v", attempts)
	}

	// Task timeout follows the triaged priority.
	task, err := eng.Tasks.GetByID(ctx, eng.DB, o.TaskID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if task.TimeoutSec != 1800 {
		t.Errorf("TimeoutSec = %d, want 1800 for high priority", task.TimeoutSec)
	}
}

func TestHandleEvent_InvalidExhaustsFourAttempts(t *testing.T) {
	pool := &fakePool{}
	notifier := &fakeNotifier{}
	eng := newTestEngine(t, &routingJudge{
		triage:     triageAction,
		validation: validationBad,
		strategy:   strategySame,
	}, pool, notifier)
	ctx := context.Background()

	o, err := eng.HandleEvent(ctx, testEvent("evt-bad"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if o.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want failed", o.Status)
	}
	// Invalid results restart the worker even under same_worker, so every
	// attempt spawns.
	if pool.spawns != 4 {
		t.Errorf("spawns = %d, want 4", pool.spawns)
	}

	attempts, _ := eng.AttemptHistory(ctx, o.ID)
	if len(attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(attempts))
	}
	if len(notifier.escalates) == 0 {
		t.Error("operator was not told about the failure")
	}

	// Each respawn minted a fresh task carrying the feedback forward.
	tasks, _ := eng.Tasks.ListByEvent(ctx, eng.DB, "evt-bad")
	if len(tasks) != 4 {
		t.Errorf("tasks = %d, want 4", len(tasks))
	}
	last := tasks[len(tasks)-1]
	if !strings.Contains(last.Instructions, "nothing was done") {
		t.Errorf("revised instructions missing feedback: %q", last.Instructions)
	}
}

func TestHandleEvent_PartialKeepsSameWorker(t *testing.T) {
	pool := &fakePool{
		results: []*domain.WorkerResult{
			{Success: true, Summary: "restarted job, still verifying output"},
			{Success: true, Summary: "output verified complete"},
		},
	}
	// First validation is partial with only a warning; later ones are valid.
	j := &switchingJudge{
		inner: &routingJudge{
			triage:     triageAction,
			validation: `{"status": "partial", "confidence": 0.6, "issues": [{"severity": "warning", "description": "verification pending"}]}`,
		},
		validAfter: 1,
	}
	eng := newTestEngine(t, j, pool, &fakeNotifier{})
	ctx := context.Background()

	o, err := eng.HandleEvent(ctx, testEvent("evt-part"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if o.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed", o.Status)
	}
	// The partial verdict continued in the same session: one spawn, two
	// conversations.
	if pool.spawns != 1 {
		t.Errorf("spawns = %d, want 1", pool.spawns)
	}
	if pool.convs != 2 {
		t.Errorf("conversations = %d, want 2", pool.convs)
	}
}

// switchingJudge answers validation prompts partial first, then valid.
type switchingJudge struct {
	inner      *routingJudge
	validAfter int
	seen       int
}

func (s *switchingJudge) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "validation step") {
		s.seen++
		if s.seen > s.validAfter {
			return validationOK, nil
		}
	}
	return s.inner.Complete(ctx, prompt)
}

func TestHandleEvent_NeedsHumanEscalates(t *testing.T) {
	pool := &fakePool{}
	notifier := &fakeNotifier{}
	// Validation judge talks prose, which must never validate.
	eng := newTestEngine(t, &routingJudge{
		triage:     triageAction,
		validation: "looks good to me, ship it",
	}, pool, notifier)

	o, err := eng.HandleEvent(context.Background(), testEvent("evt-esc"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if o.Status != domain.StatusEscalated {
		t.Errorf("Status = %q, want escalated", o.Status)
	}
	if len(notifier.escalates) != 1 {
		t.Errorf("escalates = %v, want one", notifier.escalates)
	}
	if o.Validation == nil || o.Validation.Status != domain.ValidationNeedsHuman {
		t.Errorf("Validation = %+v, want needs_human", o.Validation)
	}
}

func TestHandleEvent_TriageEscalate(t *testing.T) {
	notifier := &fakeNotifier{}
	eng := newTestEngine(t, &routingJudge{triage: "cannot classify this"}, &fakePool{}, notifier)

	o, err := eng.HandleEvent(context.Background(), testEvent("evt-tresc"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if o.Status != domain.StatusEscalated {
		t.Errorf("Status = %q, want escalated", o.Status)
	}
	if o.Triage == nil || o.Triage.Confidence != 0 {
		t.Errorf("Triage = %+v, want confidence 0", o.Triage)
	}
}

func TestHandleEvent_SpawnFailuresThenSuccess(t *testing.T) {
	pool := &fakePool{
		spawnErrs: []error{errors.New("quota"), errors.New("quota"), nil},
		results: []*domain.WorkerResult{
			{Success: true, Summary: "done and verified"},
		},
	}
	eng := newTestEngine(t, &routingJudge{triage: triageAction, validation: validationOK}, pool, &fakeNotifier{})

	o, err := eng.HandleEvent(context.Background(), testEvent("evt-spawn"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if o.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed", o.Status)
	}

	attempts, _ := eng.AttemptHistory(context.Background(), o.ID)
	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}
	if attempts[0].Outcome != "spawn_failed" || attempts[1].Outcome != "spawn_failed" {
		t.Errorf("attempt outcomes = %q, %q, want spawn_failed twice", attempts[0].Outcome, attempts[1].Outcome)
	}
	if attempts[2].Outcome != "valid" {
		t.Errorf("third attempt outcome = %q, want valid", attempts[2].Outcome)
	}
}

func TestHandleEvent_AllSpawnsFail(t *testing.T) {
	pool := &fakePool{
		spawnErrs: []error{errors.New("q"), errors.New("q"), errors.New("q"), errors.New("q")},
	}
	notifier := &fakeNotifier{}
	eng := newTestEngine(t, &routingJudge{triage: triageAction}, pool, notifier)

	o, err := eng.HandleEvent(context.Background(), testEvent("evt-nospawn"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if o.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want failed", o.Status)
	}
	if pool.spawns != 4 {
		t.Errorf("spawns = %d, want 4", pool.spawns)
	}
}

func TestHandleEvent_WorkerTimeoutBecomesFailedResult(t *testing.T) {
	pool := &fakePool{
		convErrs: []error{domain.ErrWorkerTimeout},
	}
	notifier := &fakeNotifier{}
	eng := newTestEngine(t, &routingJudge{
		triage:   triageAction,
		strategy: strategyEsc,
	}, pool, notifier)

	o, err := eng.HandleEvent(context.Background(), testEvent("evt-to"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	// Declared failure trips the deterministic validation phase, and the
	// scripted strategy escalates.
	if o.Status != domain.StatusEscalated {
		t.Errorf("Status = %q, want escalated", o.Status)
	}
	if o.Result == nil || o.Result.Success {
		t.Errorf("Result = %+v, want synthesized failure", o.Result)
	}
	if len(pool.kills) != 1 {
		t.Errorf("kills = %v, want the timed-out worker killed", pool.kills)
	}
}

func TestHandleEvent_Idempotent(t *testing.T) {
	pool := &fakePool{
		results: []*domain.WorkerResult{{Success: true, Summary: "all good here"}},
	}
	eng := newTestEngine(t, &routingJudge{triage: triageAction, validation: validationOK}, pool, &fakeNotifier{})
	ctx := context.Background()

	first, err := eng.HandleEvent(ctx, testEvent("evt-dup"))
	if err != nil {
		t.Fatalf("first HandleEvent: %v", err)
	}
	second, err := eng.HandleEvent(ctx, testEvent("evt-dup"))
	if err != nil {
		t.Fatalf("second HandleEvent: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("replay created a new orchestration: %s vs %s", second.ID, first.ID)
	}
	if pool.spawns != 1 {
		t.Errorf("spawns = %d, want 1 across replays", pool.spawns)
	}
}

func TestHandleEvent_DeferredRetriagesOnRedelivery(t *testing.T) {
	j := &routingJudge{triage: `{"action": "defer", "confidence": 0.8, "reason": "out of hours"}`}
	pool := &fakePool{}
	eng := newTestEngine(t, j, pool, &fakeNotifier{})
	ctx := context.Background()

	o, err := eng.HandleEvent(ctx, testEvent("evt-def"))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if o.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending after defer", o.Status)
	}

	// Redelivery with a changed triage verdict completes the event.
	j.triage = triageIgnore
	o2, err := eng.HandleEvent(ctx, testEvent("evt-def"))
	if err != nil {
		t.Fatalf("redelivery HandleEvent: %v", err)
	}
	if o2.ID != o.ID {
		t.Errorf("redelivery created a new orchestration")
	}
	if o2.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed after retriage", o2.Status)
	}
}

func TestResume_FinishesFinalizing(t *testing.T) {
	pool := &fakePool{}
	notifier := &fakeNotifier{}
	eng := newTestEngine(t, &routingJudge{}, pool, notifier)
	ctx := context.Background()

	ev := testEvent("evt-res")
	if err := eng.Events.Create(ctx, eng.DB, ev); err != nil {
		t.Fatalf("Create event: %v", err)
	}
	o := domain.OrchestrationState{
		ID:      "orc-res",
		EventID: ev.ID,
		Status:  domain.StatusFinalizing,
		Result:  &domain.WorkerResult{Success: true, Summary: "work finished"},
	}
	if err := eng.Orchestrations.Create(ctx, eng.DB, o); err != nil {
		t.Fatalf("Create orchestration: %v", err)
	}

	if err := eng.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	got, err := eng.GetByID(ctx, "orc-res")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if len(notifier.responds) != 1 {
		t.Errorf("responds = %d, want 1", len(notifier.responds))
	}
}

func TestResume_PendingRetriages(t *testing.T) {
	pool := &fakePool{}
	eng := newTestEngine(t, &routingJudge{triage: triageIgnore}, pool, &fakeNotifier{})
	ctx := context.Background()

	ev := testEvent("evt-resp")
	if err := eng.Events.Create(ctx, eng.DB, ev); err != nil {
		t.Fatalf("Create event: %v", err)
	}
	o := domain.OrchestrationState{ID: "orc-p", EventID: ev.ID, Status: domain.StatusPending}
	if err := eng.Orchestrations.Create(ctx, eng.DB, o); err != nil {
		t.Fatalf("Create orchestration: %v", err)
	}

	if err := eng.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	got, _ := eng.GetByID(ctx, "orc-p")
	if got.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
}

func TestResume_InterruptedAttemptContinues(t *testing.T) {
	pool := &fakePool{
		results: []*domain.WorkerResult{{Success: true, Summary: "recovered and finished"}},
	}
	eng := newTestEngine(t, &routingJudge{triage: triageAction, validation: validationOK}, pool, &fakeNotifier{})
	ctx := context.Background()

	ev := testEvent("evt-int")
	if err := eng.Events.Create(ctx, eng.DB, ev); err != nil {
		t.Fatalf("Create event: %v", err)
	}
	task := domain.Task{
		TaskID:     "tsk-int",
		EventID:    ev.ID,
		MaxRetries: 3,
		TimeoutSec: 600,
	}
	if err := eng.Tasks.Create(ctx, eng.DB, task); err != nil {
		t.Fatalf("Create task: %v", err)
	}
	o := domain.OrchestrationState{
		ID:      "orc-int",
		EventID: ev.ID,
		TaskID:  task.TaskID,
		Status:  domain.StatusSpawning,
	}
	if err := eng.Orchestrations.Create(ctx, eng.DB, o); err != nil {
		t.Fatalf("Create orchestration: %v", err)
	}
	if err := eng.Attempts.Create(ctx, eng.DB, domain.TaskAttempt{
		AttemptID:       "att-int",
		OrchestrationID: o.ID,
		TaskID:          task.TaskID,
		Number:          1,
	}); err != nil {
		t.Fatalf("Create attempt: %v", err)
	}

	if err := eng.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	got, _ := eng.GetByID(ctx, "orc-int")
	if got.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}

	attempts, _ := eng.AttemptHistory(ctx, o.ID)
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	if attempts[0].Outcome != "interrupted" {
		t.Errorf("first attempt outcome = %q, want interrupted", attempts[0].Outcome)
	}
}
