package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// JanitorConfig holds tunable parameters for the cleanup loop.
type JanitorConfig struct {
	CheckInterval time.Duration
}

// Janitor guarantees eventual termination of every spawned environment: it
// kills live workers past their hard deadline and purges retired sessions
// whose retention window has elapsed.
type Janitor struct {
	Manager  *Manager
	Config   JanitorConfig
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewJanitor creates a Janitor with sensible defaults for zero-value config
// fields.
func NewJanitor(m *Manager, cfg JanitorConfig) *Janitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	return &Janitor{
		Manager: m,
		Config:  cfg,
		stopCh:  make(chan struct{}),
	}
}

// Sweep performs one cleanup pass and returns the ids of workers it killed.
func (j *Janitor) Sweep(ctx context.Context, now time.Time) []string {
	m := j.Manager

	m.mu.Lock()
	var expired []string
	events := make(map[string]string)
	for id, s := range m.sessions {
		if now.After(s.deadline) {
			expired = append(expired, id)
			events[id] = s.task.EventID
		}
	}
	var purge []string
	for id, s := range m.retired {
		if now.After(s.purgeAt) {
			purge = append(purge, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		log.Printf("worker: janitor killing %s past deadline", id)
		m.audit(ctx, events[id], "janitor", "deadline_kill", "warning", fmt.Sprintf(`{"worker_id":%q}`, id))
		_ = m.Kill(ctx, id)
	}

	for _, id := range purge {
		m.mu.Lock()
		s, ok := m.retired[id]
		if ok {
			delete(m.retired, id)
			for alias, target := range m.aliases {
				if target == id {
					delete(m.aliases, alias)
				}
			}
		}
		m.mu.Unlock()
		if ok {
			// The grace window is over: drop the transcript and the
			// session row. The audit trail remains for diagnosis.
			s.transcript = nil
			if err := m.SessionRepo.Delete(ctx, m.DB, id); err != nil {
				log.Printf("worker: purge session %s: %v", id, err)
			}
		}
	}

	return expired
}

// Start spawns a goroutine that sweeps periodically until Stop or ctx
// cancellation.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Config.CheckInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-j.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.Sweep(ctx, time.Now())
			}
		}
	}()
}

// Stop signals the sweep goroutine to stop. Safe to call multiple times.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}
