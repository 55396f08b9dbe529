package worker

import (
	"context"
	"testing"
	"time"

	"github.com/anthropics/conductor-engine/internal/domain"
)

func TestSweep_KillsExpiredWorkers(t *testing.T) {
	env := &fakeEnv{handle: "abc"}
	m := newTestManager(t, &fakeProvisioner{envs: []*fakeEnv{env}}, &fakeRunner{}, Config{})
	ctx := context.Background()

	task := testTask()
	task.TimeoutSec = 60
	id, err := m.Spawn(ctx, task)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	j := NewJanitor(m, JanitorConfig{})

	// Before the deadline nothing happens.
	if killed := j.Sweep(ctx, time.Now()); len(killed) != 0 {
		t.Errorf("Sweep killed %v before deadline", killed)
	}

	killed := j.Sweep(ctx, time.Now().Add(2*time.Minute))
	if len(killed) != 1 || killed[0] != id {
		t.Errorf("Sweep killed %v, want [%s]", killed, id)
	}
	if env.killCount() == 0 {
		t.Error("environment not torn down")
	}
	if len(m.ListActive()) != 0 {
		t.Errorf("ListActive = %v, want empty", m.ListActive())
	}
}

func TestSweep_PurgesRetiredSessions(t *testing.T) {
	env := &fakeEnv{handle: "abc"}
	m := newTestManager(t, &fakeProvisioner{envs: []*fakeEnv{env}}, &fakeRunner{}, Config{
		RetentionWindow: time.Minute,
	})
	ctx := context.Background()

	id, _ := m.Spawn(ctx, testTask())
	if err := m.Kill(ctx, id); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	j := NewJanitor(m, JanitorConfig{})

	// Inside the retention window the session is still queryable.
	j.Sweep(ctx, time.Now())
	if _, _, err := m.GetStatus(id); err != nil {
		t.Fatalf("GetStatus inside retention window: %v", err)
	}

	// Past the window the bookkeeping is purged, session row included.
	j.Sweep(ctx, time.Now().Add(2*time.Minute))
	if _, _, err := m.GetStatus(id); err != domain.ErrWorkerNotFound {
		t.Errorf("GetStatus after purge: err = %v, want ErrWorkerNotFound", err)
	}
	if _, err := m.SessionRepo.GetByID(ctx, m.DB, id); err != domain.ErrWorkerNotFound {
		t.Errorf("session row after purge: err = %v, want ErrWorkerNotFound", err)
	}
}

func TestJanitor_StopIdempotent(t *testing.T) {
	m := newTestManager(t, &fakeProvisioner{}, &fakeRunner{}, Config{})
	j := NewJanitor(m, JanitorConfig{CheckInterval: time.Millisecond})
	j.Start(context.Background())
	j.Stop()
	j.Stop()
}
