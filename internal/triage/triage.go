// Package triage classifies incoming events into ignore/action/defer/escalate.
package triage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/conductor-engine/internal/domain"
	"github.com/anthropics/conductor-engine/internal/judge"
)

// Triager makes the judged decision about whether an event requires action.
type Triager struct {
	Judge judge.Judge
}

// NewTriager creates a Triager backed by the given judge.
func NewTriager(j judge.Judge) *Triager {
	return &Triager{Judge: j}
}

// escalateDefault is returned whenever the judge fails or produces output we
// cannot decode. Escalation is the safe floor: a human sees the event.
func escalateDefault(reason string) domain.TriageDecision {
	return domain.TriageDecision{
		Action:     domain.TriageEscalate,
		Confidence: 0,
		Reason:     reason,
	}
}

var validActions = map[domain.TriageAction]bool{
	domain.TriageIgnore:   true,
	domain.TriageAct:      true,
	domain.TriageDefer:    true,
	domain.TriageEscalate: true,
}

// Decide classifies the event. It never returns an error: judge failures and
// malformed judge output both map to escalate with confidence 0.
func (t *Triager) Decide(ctx context.Context, ev domain.IncomingEvent) domain.TriageDecision {
	out, err := t.Judge.Complete(ctx, buildPrompt(ev))
	if err != nil {
		return escalateDefault(fmt.Sprintf("judge unavailable: %v", err))
	}

	payload, ok := judge.ExtractJSON(out)
	if !ok {
		return escalateDefault("judge output contained no JSON object")
	}

	var raw struct {
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
		TaskType   string  `json:"task_type"`
		Priority   string  `json:"priority"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return escalateDefault(fmt.Sprintf("judge output did not decode: %v", err))
	}

	action := domain.TriageAction(raw.Action)
	if !validActions[action] {
		return escalateDefault(fmt.Sprintf("judge returned unknown action %q", raw.Action))
	}

	return domain.TriageDecision{
		Action:     action,
		Confidence: judge.ClampConfidence(raw.Confidence),
		Reason:     raw.Reason,
		TaskType:   raw.TaskType,
		Priority:   domain.Priority(raw.Priority),
	}
}

func buildPrompt(ev domain.IncomingEvent) string {
	return fmt.Sprintf(`You are the triage step of an autonomous task conductor.
Classify the incoming event below. Respond with a single JSON object:
{"action": "ignore"|"action"|"defer"|"escalate", "confidence": 0.0-1.0, "reason": "...", "task_type": "...", "priority": "urgent"|"high"|"medium"|"low"}

Guidelines:
- "ignore": spam, automated noise, or anything requiring no response.
- "action": a concrete request this system can carry out autonomously.
- "defer": legitimate but cannot be acted on yet.
- "escalate": needs a human decision.

Event:
  id: %s
  channel: %s
  sender: %s
  subject: %s
  payload: %s
`, ev.ID, ev.Type, ev.Sender, ev.Subject, ev.PayloadJSON)
}
