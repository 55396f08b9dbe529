package worker

import (
	"testing"
)

func TestParseWorkerResult_Structured(t *testing.T) {
	r := ParseWorkerResult(`Done! {"success": false, "summary": "disk full", "artifacts": [], "detail": "df shows 100%"}`)
	if r.Success {
		t.Error("Success = true, want false")
	}
	if r.Summary != "disk full" || r.Detail != "df shows 100%" {
		t.Errorf("result = %+v", r)
	}
}

func TestParseWorkerResult_PlainText(t *testing.T) {
	r := ParseWorkerResult("  restarted the service and verified it  ")
	if !r.Success {
		t.Error("plain text should default to success")
	}
	if r.Summary != "restarted the service and verified it" {
		t.Errorf("Summary = %q", r.Summary)
	}
}

func TestParseWorkerResult_JSONWithoutSuccessField(t *testing.T) {
	text := `{"summary": "did things"}`
	r := ParseWorkerResult(text)
	// Without an explicit success flag the whole text is a plain summary.
	if !r.Success {
		t.Error("Success = false, want true")
	}
	if r.Summary != text {
		t.Errorf("Summary = %q", r.Summary)
	}
}
