// Package review judges worker results against their originating task and
// picks a corrective strategy when a result falls short.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/conductor-engine/internal/domain"
	"github.com/anthropics/conductor-engine/internal/judge"
)

// Validator grades a worker result in two phases: a deterministic sanity
// pass that rejects obviously broken results without a judge call, then a
// judged deep validation.
type Validator struct {
	Judge judge.Judge
}

// NewValidator creates a Validator backed by the given judge.
func NewValidator(j judge.Judge) *Validator {
	return &Validator{Judge: j}
}

// failurePhrases are summary fragments that indicate the worker gave up or
// failed even when it declared success.
var failurePhrases = []string{
	"unable to",
	"could not",
	"cannot complete",
	"failed to",
	"gave up",
	"not possible",
	"i can't",
	"i cannot",
	"ran out of",
}

// Validate grades result against task. It never returns an error: anything
// that prevents a verdict maps to needs_human with confidence 0, so
// unparseable judge output can never pass as valid.
func (v *Validator) Validate(ctx context.Context, task domain.Task, result domain.WorkerResult) domain.ValidationResult {
	if vr, decided := sanityCheck(result); decided {
		return vr
	}
	return v.deepValidate(ctx, task, result)
}

// sanityCheck is the deterministic phase. It reports invalid for results
// that no judge needs to look at.
func sanityCheck(result domain.WorkerResult) (domain.ValidationResult, bool) {
	if !result.Success {
		return invalidResult("worker declared failure", "error"), true
	}
	if strings.TrimSpace(result.Summary) == "" && len(result.Artifacts) == 0 {
		return invalidResult("worker declared success with empty summary and no artifacts", "error"), true
	}

	summary := strings.ToLower(result.Summary)
	for _, phrase := range failurePhrases {
		if strings.Contains(summary, phrase) {
			return invalidResult(fmt.Sprintf("summary contains failure language (%q)", phrase), "warning"), true
		}
	}
	return domain.ValidationResult{}, false
}

func invalidResult(desc, severity string) domain.ValidationResult {
	return domain.ValidationResult{
		Status:     domain.ValidationInvalid,
		Confidence: 1,
		Issues: []domain.ValidationIssue{
			{Severity: severity, Description: desc},
		},
	}
}

func needsHumanDefault(reason string) domain.ValidationResult {
	return domain.ValidationResult{
		Status:            domain.ValidationNeedsHuman,
		Confidence:        0,
		Issues:            []domain.ValidationIssue{{Severity: "error", Description: reason}},
		SuggestedStrategy: domain.RetryEscalate,
	}
}

var validStatuses = map[domain.ValidationStatus]bool{
	domain.ValidationValid:      true,
	domain.ValidationPartial:    true,
	domain.ValidationInvalid:    true,
	domain.ValidationNeedsHuman: true,
}

var validStrategies = map[domain.RetryStrategy]bool{
	domain.RetrySameWorker: true,
	domain.RetryNewWorker:  true,
	domain.RetrySplitTask:  true,
	domain.RetryEscalate:   true,
}

// deepValidate is the judged phase.
func (v *Validator) deepValidate(ctx context.Context, task domain.Task, result domain.WorkerResult) domain.ValidationResult {
	out, err := v.Judge.Complete(ctx, buildValidationPrompt(task, result))
	if err != nil {
		return needsHumanDefault(fmt.Sprintf("judge unavailable: %v", err))
	}

	payload, ok := judge.ExtractJSON(out)
	if !ok {
		return needsHumanDefault("judge output contained no JSON object")
	}

	var raw struct {
		Status     string  `json:"status"`
		Confidence float64 `json:"confidence"`
		Issues     []struct {
			Severity    string `json:"severity"`
			Description string `json:"description"`
		} `json:"issues"`
		SuggestedStrategy string `json:"suggested_strategy"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return needsHumanDefault(fmt.Sprintf("judge output did not decode: %v", err))
	}

	status := domain.ValidationStatus(raw.Status)
	if !validStatuses[status] {
		return needsHumanDefault(fmt.Sprintf("judge returned unknown status %q", raw.Status))
	}

	vr := domain.ValidationResult{
		Status:     status,
		Confidence: judge.ClampConfidence(raw.Confidence),
	}
	for _, issue := range raw.Issues {
		vr.Issues = append(vr.Issues, domain.ValidationIssue{
			Severity:    issue.Severity,
			Description: issue.Description,
		})
	}
	if s := domain.RetryStrategy(raw.SuggestedStrategy); validStrategies[s] {
		vr.SuggestedStrategy = s
	}
	return vr
}

func buildValidationPrompt(task domain.Task, result domain.WorkerResult) string {
	artifacts := strings.Join(result.Artifacts, ", ")
	return fmt.Sprintf(`You are the validation step of an autonomous task conductor.
Judge whether the worker's result satisfies the task. Respond with a single JSON object:
{"status": "valid"|"partial"|"invalid"|"needs_human", "confidence": 0.0-1.0, "issues": [{"severity": "error"|"warning"|"info", "description": "..."}], "suggested_strategy": "same_worker"|"new_worker"|"split_task"|"escalate"}

Task:
  description: %s
  instructions: %s

Worker result:
  summary: %s
  artifacts: %s
  detail: %s
`, task.Description, task.Instructions, result.Summary, artifacts, result.Detail)
}
