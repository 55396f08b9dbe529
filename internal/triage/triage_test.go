package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/conductor-engine/internal/domain"
)

type fakeJudge struct {
	reply string
	err   error
}

func (f *fakeJudge) Complete(ctx context.Context, prompt string) (string, error) {
	return f.reply, f.err
}

func testEvent() domain.IncomingEvent {
	return domain.IncomingEvent{
		ID:      "evt-1",
		Type:    domain.EventEmail,
		Sender:  "ops@example.com",
		Subject: "backup failed",
	}
}

func TestDecide_Action(t *testing.T) {
	tr := NewTriager(&fakeJudge{
		reply: `{"action": "action", "confidence": 0.85, "reason": "server issue", "task_type": "incident", "priority": "high"}`,
	})
	d := tr.Decide(context.Background(), testEvent())

	if d.Action != domain.TriageAct {
		t.Errorf("Action = %q, want action", d.Action)
	}
	if d.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", d.Confidence)
	}
	if d.Priority != domain.PriorityHigh {
		t.Errorf("Priority = %q, want high", d.Priority)
	}
}

func TestDecide_JudgeUnavailable(t *testing.T) {
	tr := NewTriager(&fakeJudge{err: errors.New("boom")})
	d := tr.Decide(context.Background(), testEvent())

	if d.Action != domain.TriageEscalate {
		t.Errorf("Action = %q, want escalate", d.Action)
	}
	if d.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", d.Confidence)
	}
}

func TestDecide_MalformedOutput(t *testing.T) {
	for _, reply := range []string{
		"sorry, I'm not sure what to do",
		`{"action": "launch_missiles"}`,
		`{"action": 42}`,
	} {
		tr := NewTriager(&fakeJudge{reply: reply})
		d := tr.Decide(context.Background(), testEvent())
		if d.Action != domain.TriageEscalate {
			t.Errorf("reply %q: Action = %q, want escalate", reply, d.Action)
		}
		if d.Confidence != 0 {
			t.Errorf("reply %q: Confidence = %v, want 0", reply, d.Confidence)
		}
	}
}

func TestDecide_ConfidenceClamped(t *testing.T) {
	tr := NewTriager(&fakeJudge{reply: `{"action": "ignore", "confidence": 7.5}`})
	d := tr.Decide(context.Background(), testEvent())
	if d.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1", d.Confidence)
	}
}

func TestDecide_ProseWrappedJSON(t *testing.T) {
	tr := NewTriager(&fakeJudge{
		reply: "Looking at this event, I'd say:\n{\"action\": \"defer\", \"confidence\": 0.6, \"reason\": \"out of hours\"}\nHope that helps.",
	})
	d := tr.Decide(context.Background(), testEvent())
	if d.Action != domain.TriageDefer {
		t.Errorf("Action = %q, want defer", d.Action)
	}
}
