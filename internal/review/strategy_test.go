package review

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/conductor-engine/internal/domain"
)

func TestPick_NeedsHumanAlwaysEscalates(t *testing.T) {
	j := &fakeJudge{reply: `{"strategy": "new_worker"}`}
	p := NewStrategyPicker(j)

	s := p.Pick(context.Background(), testTask(), domain.ValidationResult{Status: domain.ValidationNeedsHuman})
	if s != domain.RetryEscalate {
		t.Errorf("strategy = %q, want escalate", s)
	}
	if j.calls != 0 {
		t.Errorf("judge called %d times, want 0", j.calls)
	}
}

func TestPick_PartialWithoutErrorsKeepsWorker(t *testing.T) {
	j := &fakeJudge{reply: `{"strategy": "escalate"}`}
	p := NewStrategyPicker(j)

	vr := domain.ValidationResult{
		Status: domain.ValidationPartial,
		Issues: []domain.ValidationIssue{{Severity: "warning", Description: "one set unchecked"}},
	}
	s := p.Pick(context.Background(), testTask(), vr)
	if s != domain.RetrySameWorker {
		t.Errorf("strategy = %q, want same_worker", s)
	}
	if j.calls != 0 {
		t.Errorf("judge called %d times, want 0", j.calls)
	}
}

func TestPick_PartialWithErrorAsksJudge(t *testing.T) {
	j := &fakeJudge{reply: `{"strategy": "new_worker"}`}
	p := NewStrategyPicker(j)

	vr := domain.ValidationResult{
		Status: domain.ValidationPartial,
		Issues: []domain.ValidationIssue{{Severity: "error", Description: "wrong host"}},
	}
	s := p.Pick(context.Background(), testTask(), vr)
	if s != domain.RetryNewWorker {
		t.Errorf("strategy = %q, want new_worker", s)
	}
	if j.calls != 1 {
		t.Errorf("judge called %d times, want 1", j.calls)
	}
}

func TestPick_InvalidUsesJudge(t *testing.T) {
	p := NewStrategyPicker(&fakeJudge{reply: `{"strategy": "split_task"}`})
	vr := domain.ValidationResult{Status: domain.ValidationInvalid}
	if s := p.Pick(context.Background(), testTask(), vr); s != domain.RetrySplitTask {
		t.Errorf("strategy = %q, want split_task", s)
	}
}

func TestPick_DefaultsToEscalate(t *testing.T) {
	vr := domain.ValidationResult{Status: domain.ValidationInvalid}

	for name, j := range map[string]*fakeJudge{
		"judge error":      {err: errors.New("down")},
		"no json":          {reply: "hmm, tough call"},
		"unknown strategy": {reply: `{"strategy": "try_harder"}`},
		"bad json":         {reply: `{"strategy": }`},
	} {
		p := NewStrategyPicker(j)
		if s := p.Pick(context.Background(), testTask(), vr); s != domain.RetryEscalate {
			t.Errorf("%s: strategy = %q, want escalate", name, s)
		}
	}
}
