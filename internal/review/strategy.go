package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/conductor-engine/internal/domain"
	"github.com/anthropics/conductor-engine/internal/judge"
)

// StrategyPicker derives the corrective action after a failed validation.
type StrategyPicker struct {
	Judge judge.Judge
}

// NewStrategyPicker creates a StrategyPicker backed by the given judge.
func NewStrategyPicker(j judge.Judge) *StrategyPicker {
	return &StrategyPicker{Judge: j}
}

// Pick chooses a retry strategy for a non-valid validation result.
// needs_human always escalates; a partial result with no error-severity
// issues continues in the same worker; everything else asks the judge,
// defaulting to escalate on any failure.
func (p *StrategyPicker) Pick(ctx context.Context, task domain.Task, vr domain.ValidationResult) domain.RetryStrategy {
	if vr.Status == domain.ValidationNeedsHuman {
		return domain.RetryEscalate
	}

	if vr.Status == domain.ValidationPartial && !hasErrorIssue(vr.Issues) {
		return domain.RetrySameWorker
	}

	out, err := p.Judge.Complete(ctx, buildStrategyPrompt(task, vr))
	if err != nil {
		return domain.RetryEscalate
	}

	payload, ok := judge.ExtractJSON(out)
	if !ok {
		return domain.RetryEscalate
	}

	var raw struct {
		Strategy string `json:"strategy"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.RetryEscalate
	}

	if s := domain.RetryStrategy(raw.Strategy); validStrategies[s] {
		return s
	}
	return domain.RetryEscalate
}

func hasErrorIssue(issues []domain.ValidationIssue) bool {
	for _, issue := range issues {
		if issue.Severity == "error" {
			return true
		}
	}
	return false
}

func buildStrategyPrompt(task domain.Task, vr domain.ValidationResult) string {
	var issues []string
	for _, issue := range vr.Issues {
		issues = append(issues, fmt.Sprintf("[%s] %s", issue.Severity, issue.Description))
	}

	return fmt.Sprintf(`You are the retry-strategy step of an autonomous task conductor.
A worker's result failed validation. Choose how to retry. Respond with a single JSON object:
{"strategy": "same_worker"|"new_worker"|"split_task"|"escalate"}

- "same_worker": the worker is close; send corrective instructions to the existing session.
- "new_worker": start over with a fresh worker and a revised approach.
- "split_task": the task is too large; decompose it into subtasks.
- "escalate": a human must take over.

Task: %s
Validation status: %s (confidence %.2f)
Issues:
%s
`, task.Description, vr.Status, vr.Confidence, strings.Join(issues, "\n"))
}
