package review

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/conductor-engine/internal/domain"
)

type fakeJudge struct {
	reply string
	err   error
	calls int
}

func (f *fakeJudge) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func testTask() domain.Task {
	return domain.Task{
		TaskID:       "tsk-1",
		EventID:      "evt-1",
		Description:  "verify backups",
		Instructions: "verify all three backup sets",
	}
}

func TestValidate_DeclaredFailureSkipsJudge(t *testing.T) {
	j := &fakeJudge{reply: `{"status": "valid"}`}
	v := NewValidator(j)

	vr := v.Validate(context.Background(), testTask(), domain.WorkerResult{Success: false, Summary: "it broke"})
	if vr.Status != domain.ValidationInvalid {
		t.Errorf("Status = %q, want invalid", vr.Status)
	}
	if j.calls != 0 {
		t.Errorf("judge called %d times, want 0", j.calls)
	}
}

func TestValidate_EmptySuccessIsInvalid(t *testing.T) {
	j := &fakeJudge{}
	v := NewValidator(j)

	vr := v.Validate(context.Background(), testTask(), domain.WorkerResult{Success: true, Summary: "   "})
	if vr.Status != domain.ValidationInvalid {
		t.Errorf("Status = %q, want invalid", vr.Status)
	}
	if j.calls != 0 {
		t.Errorf("judge called %d times, want 0", j.calls)
	}
}

func TestValidate_FailureLanguageInSummary(t *testing.T) {
	v := NewValidator(&fakeJudge{})

	vr := v.Validate(context.Background(), testTask(), domain.WorkerResult{
		Success: true,
		Summary: "I was unable to reach the backup host, so I stopped.",
	})
	if vr.Status != domain.ValidationInvalid {
		t.Errorf("Status = %q, want invalid", vr.Status)
	}
}

func TestValidate_JudgedValid(t *testing.T) {
	v := NewValidator(&fakeJudge{
		reply: `{"status": "valid", "confidence": 0.95, "issues": []}`,
	})

	vr := v.Validate(context.Background(), testTask(), domain.WorkerResult{
		Success: true,
		Summary: "all three backup sets verified, checksums match",
	})
	if vr.Status != domain.ValidationValid {
		t.Errorf("Status = %q, want valid", vr.Status)
	}
	if vr.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", vr.Confidence)
	}
}

func TestValidate_JudgedPartialWithIssues(t *testing.T) {
	v := NewValidator(&fakeJudge{
		reply: `{"status": "partial", "confidence": 0.7, "issues": [{"severity": "warning", "description": "third set unchecked"}], "suggested_strategy": "same_worker"}`,
	})

	vr := v.Validate(context.Background(), testTask(), domain.WorkerResult{
		Success: true,
		Summary: "verified two of three backup sets",
	})
	if vr.Status != domain.ValidationPartial {
		t.Errorf("Status = %q, want partial", vr.Status)
	}
	if len(vr.Issues) != 1 || vr.Issues[0].Severity != "warning" {
		t.Errorf("Issues = %+v", vr.Issues)
	}
	if vr.SuggestedStrategy != domain.RetrySameWorker {
		t.Errorf("SuggestedStrategy = %q, want same_worker", vr.SuggestedStrategy)
	}
}

func TestValidate_MalformedJudgeOutputNeverValid(t *testing.T) {
	result := domain.WorkerResult{Success: true, Summary: "looks good to me"}

	for _, reply := range []string{
		"everything looks fine!",
		`{"status": "excellent"}`,
		`{"status": }`,
	} {
		v := NewValidator(&fakeJudge{reply: reply})
		vr := v.Validate(context.Background(), testTask(), result)
		if vr.Status == domain.ValidationValid {
			t.Errorf("reply %q: got valid, malformed output must never validate", reply)
		}
		if vr.Status != domain.ValidationNeedsHuman {
			t.Errorf("reply %q: Status = %q, want needs_human", reply, vr.Status)
		}
		if vr.Confidence != 0 {
			t.Errorf("reply %q: Confidence = %v, want 0", reply, vr.Confidence)
		}
	}
}

func TestValidate_JudgeErrorNeedsHuman(t *testing.T) {
	v := NewValidator(&fakeJudge{err: errors.New("judge down")})
	vr := v.Validate(context.Background(), testTask(), domain.WorkerResult{Success: true, Summary: "done"})
	if vr.Status != domain.ValidationNeedsHuman {
		t.Errorf("Status = %q, want needs_human", vr.Status)
	}
	if vr.SuggestedStrategy != domain.RetryEscalate {
		t.Errorf("SuggestedStrategy = %q, want escalate", vr.SuggestedStrategy)
	}
}
