package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/conductor-engine/internal/agent"
	"github.com/anthropics/conductor-engine/internal/domain"
)

// Turn is the conductor's response to one worker output.
type Turn struct {
	// Reply is forwarded into the worker's session unless Terminal is set.
	Reply string
	// Terminal ends the conversation.
	Terminal bool
	// Notified marks that the conductor's reply carried an outward
	// notification. A final notification without an explicit kill still
	// terminates the worker (the manager kills it as a safety net).
	Notified bool
}

// ConductorFunc is the conductor's side of the conversation: it receives the
// worker's latest output and decides the next turn.
type ConductorFunc func(ctx context.Context, workerID, output string) (Turn, error)

// approvalMarker in worker output flags that the worker is blocked on an
// approval rather than an ordinary question.
const approvalMarker = "APPROVAL_REQUIRED"

// RunConversation drives the conductor-worker conversation until a terminal
// turn, the worker's hard timeout, or the session disappearing. kickoff is
// the first message into the session; when empty, a fresh session is started
// with the task instructions. It returns the worker's result extracted from
// its final output.
func (m *Manager) RunConversation(ctx context.Context, workerID string, kickoff string, conductor ConductorFunc) (*domain.WorkerResult, error) {
	m.mu.Lock()
	s := m.resolve(workerID)
	m.mu.Unlock()
	if s == nil {
		return nil, domain.ErrWorkerNotFound
	}

	ctx, cancel := context.WithDeadline(ctx, s.deadline)
	defer cancel()

	snap := m.snapshot(s)
	opts := agent.Opts{
		BypassPermissions: true,
		TimeoutSec:        snap.timeout,
	}

	s.sendMu.Lock()
	var (
		reply agent.Reply
		err   error
	)
	if snap.fresh {
		msg := kickoff
		if msg == "" {
			msg = s.task.Instructions
		}
		reply, err = m.Runner.StartSession(ctx, snap.env, msg, opts)
	} else {
		reply, err = m.Runner.SendToSession(ctx, snap.env, snap.sessionID, kickoff, opts)
	}
	s.sendMu.Unlock()
	if err != nil {
		return nil, m.conversationFailed(ctx, s, err)
	}

	// The first reply carries the agent's real session id: commit the
	// identity remap before anything else observes the worker.
	m.remap(ctx, snap.workerID, reply.SessionID)
	m.setStatus(ctx, s, domain.WorkerRunning)
	m.recordOutput(ctx, s, reply)

	for {
		snap = m.snapshot(s)
		if strings.Contains(reply.Text, approvalMarker) {
			m.setStatus(ctx, s, domain.WorkerWaitingApproval)
		} else {
			m.setStatus(ctx, s, domain.WorkerWaitingAnswer)
		}

		turn, err := conductor(ctx, snap.workerID, reply.Text)
		if err != nil {
			return nil, m.conversationFailed(ctx, s, err)
		}

		if turn.Terminal {
			result := ParseWorkerResult(reply.Text)
			m.mu.Lock()
			s.ws.Status = domain.WorkerDone
			s.ws.Result = &result
			s.ws.LastActivityUnix = time.Now().Unix()
			ws := s.ws
			m.mu.Unlock()
			_ = m.SessionRepo.Update(ctx, m.DB, ws)

			if turn.Notified {
				// Final notification sent without an explicit kill:
				// terminate the worker anyway.
				_ = m.Kill(ctx, snap.workerID)
			}
			return &result, nil
		}

		m.setStatus(ctx, s, domain.WorkerRunning)

		s.sendMu.Lock()
		reply, err = m.Runner.SendToSession(ctx, snap.env, snap.sessionID, turn.Reply, opts)
		s.sendMu.Unlock()
		if err != nil {
			return nil, m.conversationFailed(ctx, s, err)
		}
		m.recordOutput(ctx, s, reply)
	}
}

// conversationFailed classifies a conversation error and marks the session.
func (m *Manager) conversationFailed(ctx context.Context, s *session, err error) error {
	m.mu.Lock()
	gone := m.resolve(s.ws.WorkerID) == nil
	m.mu.Unlock()
	if gone {
		// Killed out from under us mid-conversation.
		return domain.ErrWorkerNotFound
	}

	m.setStatus(ctx, s, domain.WorkerError)
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrWorkerTimeout
	}
	return err
}
