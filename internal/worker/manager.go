// Package worker owns ephemeral worker sessions: provisioning, identity
// remapping, message relay, termination, and stale-session cleanup. The
// session table lives here and is reachable only through Manager operations.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/anthropics/conductor-engine/internal/agent"
	"github.com/anthropics/conductor-engine/internal/domain"
	"github.com/anthropics/conductor-engine/internal/sandbox"
	"github.com/anthropics/conductor-engine/internal/store"
)

// Config holds tunable parameters for the manager.
type Config struct {
	Template          string
	SpawnTries        int
	SpawnBackoffBase  time.Duration
	ProvisionTimeout  time.Duration
	RetentionWindow   time.Duration
	ReadinessProbeCmd string
}

// session is one tracked worker. Observers and transcript live on the
// session struct, so the identity remap moves them implicitly with the
// table entry.
type session struct {
	ws         domain.WorkerSession
	task       domain.Task
	env        sandbox.Environment
	deadline   time.Time
	transcript []string
	observers  []chan string

	// sendMu serializes conversation turns: no two in-flight messages to
	// the same agent session.
	sendMu sync.Mutex

	purgeAt time.Time
}

// Manager is the worker lifecycle manager.
type Manager struct {
	DB          *sql.DB
	SessionRepo *store.SessionRepo
	AuditRepo   *store.AuditRepo
	Provisioner sandbox.Provisioner
	Runner      agent.Runner
	Config      Config

	mu       sync.Mutex
	sessions map[string]*session // live sessions by current id
	aliases  map[string]string   // placeholder id -> confirmed id after remap
	order    []string            // live ids in spawn order
	retired  map[string]*session // killed sessions inside the retention window
}

// NewManager creates a Manager with sensible defaults for zero-value config
// fields.
func NewManager(db *sql.DB, p sandbox.Provisioner, r agent.Runner, cfg Config) *Manager {
	if cfg.SpawnTries == 0 {
		cfg.SpawnTries = 3
	}
	if cfg.SpawnBackoffBase == 0 {
		cfg.SpawnBackoffBase = 5 * time.Second
	}
	if cfg.ProvisionTimeout == 0 {
		cfg.ProvisionTimeout = 60 * time.Second
	}
	if cfg.RetentionWindow == 0 {
		cfg.RetentionWindow = 15 * time.Minute
	}
	return &Manager{
		DB:          db,
		SessionRepo: &store.SessionRepo{},
		AuditRepo:   &store.AuditRepo{},
		Provisioner: p,
		Runner:      r,
		Config:      cfg,
		sessions:    make(map[string]*session),
		aliases:     make(map[string]string),
		retired:     make(map[string]*session),
	}
}

// spawnBackOff yields attempt*base waits: with the default base, 5s after
// the first failure and 10s after the second.
type spawnBackOff struct {
	base    time.Duration
	attempt int
}

func (b *spawnBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.base
}

func (b *spawnBackOff) Reset() { b.attempt = 0 }

// Spawn provisions an isolated environment for the task and registers a
// placeholder session derived from the environment handle. The placeholder
// id stays authoritative until the agent's first reply carries its real
// session id. Each failed provisioning attempt tears its partial
// environment down before the next try.
func (m *Manager) Spawn(ctx context.Context, task domain.Task) (string, error) {
	provision := func() (sandbox.Environment, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, m.Config.ProvisionTimeout)
		defer cancel()

		env, err := m.Provisioner.Create(attemptCtx, m.Config.Template, sandbox.CreateOpts{
			TimeoutSec: int(m.Config.ProvisionTimeout.Seconds()),
		})
		if err != nil {
			return nil, err
		}
		if m.Config.ReadinessProbeCmd != "" {
			if err := sandbox.WaitReady(attemptCtx, env, m.Config.ReadinessProbeCmd, m.Config.ProvisionTimeout); err != nil {
				_ = env.Kill()
				return nil, err
			}
		}
		return env, nil
	}

	env, err := backoff.Retry(ctx, provision,
		backoff.WithBackOff(&spawnBackOff{base: m.Config.SpawnBackoffBase}),
		backoff.WithMaxTries(uint(m.Config.SpawnTries)),
	)
	if err != nil {
		return "", domain.WrapConductorError(domain.ErrSpawnFailed.Code,
			fmt.Sprintf("provisioning failed after %d attempts", m.Config.SpawnTries), err)
	}

	now := time.Now()
	s := &session{
		ws: domain.WorkerSession{
			WorkerID:         "wkr-" + env.Handle(),
			TaskID:           task.TaskID,
			EnvHandle:        env.Handle(),
			Status:           domain.WorkerInitializing,
			CreatedAtUnix:    now.Unix(),
			LastActivityUnix: now.Unix(),
		},
		task:     task,
		env:      env,
		deadline: now.Add(time.Duration(task.TimeoutSec) * time.Second),
	}

	m.mu.Lock()
	m.sessions[s.ws.WorkerID] = s
	m.order = append(m.order, s.ws.WorkerID)
	m.mu.Unlock()

	if err := m.SessionRepo.Create(ctx, m.DB, s.ws); err != nil {
		m.removeLocked(s.ws.WorkerID)
		_ = env.Kill()
		return "", fmt.Errorf("persist worker session: %w", err)
	}

	m.audit(ctx, task.EventID, "worker", "worker_spawned", "info",
		fmt.Sprintf(`{"worker_id":%q,"task_id":%q}`, s.ws.WorkerID, task.TaskID))

	return s.ws.WorkerID, nil
}

// resolve returns the live session for id, following the placeholder alias
// if the identity remap has already committed. Callers must hold m.mu.
func (m *Manager) resolve(id string) *session {
	if s, ok := m.sessions[id]; ok {
		return s
	}
	if real, ok := m.aliases[id]; ok {
		return m.sessions[real]
	}
	return nil
}

// resolveAny also searches retired sessions. Callers must hold m.mu.
func (m *Manager) resolveAny(id string) *session {
	if s := m.resolve(id); s != nil {
		return s
	}
	if s, ok := m.retired[id]; ok {
		return s
	}
	if real, ok := m.aliases[id]; ok {
		return m.retired[real]
	}
	return nil
}

// remap relocates every reference from the placeholder id to the confirmed
// id in one critical section: table entry, active index, and alias. The
// observer list and transcript move with the session struct itself, so no
// subscriber misses a message across the swap.
func (m *Manager) remap(ctx context.Context, placeholder, confirmed string) {
	if placeholder == confirmed || confirmed == "" {
		return
	}

	m.mu.Lock()
	s, ok := m.sessions[placeholder]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, placeholder)
	s.ws.WorkerID = confirmed
	s.ws.AgentSessionID = confirmed
	m.sessions[confirmed] = s
	m.aliases[placeholder] = confirmed
	for i, id := range m.order {
		if id == placeholder {
			m.order[i] = confirmed
		}
	}
	m.mu.Unlock()

	if err := m.SessionRepo.Rename(ctx, m.DB, placeholder, confirmed); err != nil {
		log.Printf("worker: rename session %s -> %s: %v", placeholder, confirmed, err)
	}
	m.audit(ctx, s.task.EventID, "worker", "worker_remapped", "info",
		fmt.Sprintf(`{"placeholder":%q,"confirmed":%q}`, placeholder, confirmed))
}

// GetStatus returns the worker's status and, when done, its result. Killed
// workers remain queryable for the retention window.
func (m *Manager) GetStatus(workerID string) (domain.WorkerStatus, *domain.WorkerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.resolveAny(workerID)
	if s == nil {
		return "", nil, domain.ErrWorkerNotFound
	}
	return s.ws.Status, s.ws.Result, nil
}

// relaySnapshot is the set of session fields a relay reads outside the
// table lock, taken as a unit under m.mu so a concurrent identity remap is
// observed either entirely or not at all.
type relaySnapshot struct {
	workerID  string
	sessionID string
	env       sandbox.Environment
	timeout   int
	fresh     bool
}

func (m *Manager) snapshot(s *session) relaySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return relaySnapshot{
		workerID:  s.ws.WorkerID,
		sessionID: s.ws.AgentSessionID,
		env:       s.env,
		timeout:   s.task.TimeoutSec,
		fresh:     s.ws.AgentSessionID == "" && len(s.transcript) == 0,
	}
}

// SendCommand relays one message into the worker's agent session and
// returns the reply text. Turns are strictly sequential per worker.
func (m *Manager) SendCommand(ctx context.Context, workerID, payload string) (string, error) {
	m.mu.Lock()
	s := m.resolve(workerID)
	m.mu.Unlock()
	if s == nil {
		return "", domain.ErrWorkerNotFound
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	snap := m.snapshot(s)
	reply, err := m.Runner.SendToSession(ctx, snap.env, snap.sessionID, payload, agent.Opts{
		BypassPermissions: true,
		TimeoutSec:        snap.timeout,
	})
	if err != nil {
		return "", err
	}

	m.recordOutput(ctx, s, reply)
	return reply.Text, nil
}

// recordOutput appends a worker output line to the transcript, fans it out
// to observers, and bumps the activity timestamp.
func (m *Manager) recordOutput(ctx context.Context, s *session, reply agent.Reply) {
	m.mu.Lock()
	s.transcript = append(s.transcript, reply.Text)
	s.ws.LastActivityUnix = time.Now().Unix()
	ws := s.ws
	observers := append([]chan string(nil), s.observers...)
	m.mu.Unlock()

	for _, ch := range observers {
		select {
		case ch <- reply.Text:
		default:
			// Slow observers drop messages rather than stall the relay.
		}
	}

	if err := m.SessionRepo.Update(ctx, m.DB, ws); err != nil {
		log.Printf("worker: persist session %s: %v", ws.WorkerID, err)
	}
}

// Subscribe registers an observer for a worker's transcript. The returned
// cancel function unsubscribes. Subscriptions survive the identity remap.
func (m *Manager) Subscribe(workerID string) (<-chan string, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.resolve(workerID)
	if s == nil {
		return nil, nil, domain.ErrWorkerNotFound
	}

	ch := make(chan string, 16)
	s.observers = append(s.observers, ch)

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, o := range s.observers {
			if o == ch {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				break
			}
		}
	}
	return ch, cancel, nil
}

// Transcript returns a copy of the worker's transcript so far.
func (m *Manager) Transcript(workerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.resolveAny(workerID)
	if s == nil {
		return nil, domain.ErrWorkerNotFound
	}
	return append([]string(nil), s.transcript...), nil
}

// ListActive returns the ids of live workers in spawn order.
func (m *Manager) ListActive() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Kill tears down a worker's environment and retires its bookkeeping.
// Calling it for an unknown or already-killed worker is a no-op. The
// retired session stays queryable until the retention window elapses.
func (m *Manager) Kill(ctx context.Context, workerID string) error {
	m.mu.Lock()
	s := m.resolve(workerID)
	if s == nil {
		m.mu.Unlock()
		return nil
	}
	id := s.ws.WorkerID
	delete(m.sessions, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if s.ws.Status != domain.WorkerDone && s.ws.Status != domain.WorkerError {
		s.ws.Status = domain.WorkerError
	}
	s.purgeAt = time.Now().Add(m.Config.RetentionWindow)
	m.retired[id] = s
	ws := s.ws
	observers := s.observers
	s.observers = nil
	m.mu.Unlock()

	for _, ch := range observers {
		close(ch)
	}

	// The environment may already be gone; treat that as terminated.
	if err := s.env.Kill(); err != nil {
		log.Printf("worker: kill env %s: %v", ws.EnvHandle, err)
	}

	if err := m.SessionRepo.Update(ctx, m.DB, ws); err != nil {
		log.Printf("worker: persist killed session %s: %v", id, err)
	}
	m.audit(ctx, s.task.EventID, "worker", "worker_killed", "info",
		fmt.Sprintf(`{"worker_id":%q}`, id))
	return nil
}

// setStatus updates a live session's status under the table lock.
func (m *Manager) setStatus(ctx context.Context, s *session, status domain.WorkerStatus) {
	m.mu.Lock()
	s.ws.Status = status
	s.ws.LastActivityUnix = time.Now().Unix()
	ws := s.ws
	m.mu.Unlock()

	if err := m.SessionRepo.Update(ctx, m.DB, ws); err != nil {
		log.Printf("worker: persist session %s: %v", ws.WorkerID, err)
	}
}

// removeLocked drops a session from the live table without retiring it.
func (m *Manager) removeLocked(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) audit(ctx context.Context, eventID, category, action, severity, detail string) {
	_ = m.AuditRepo.Record(ctx, m.DB, domain.AuditRecord{
		ID:         "aud-" + uuid.NewString(),
		EventID:    eventID,
		Category:   category,
		Actor:      "worker-manager",
		Action:     action,
		DetailJSON: detail,
		Severity:   severity,
		CreatedAt:  time.Now().Unix(),
	})
}
