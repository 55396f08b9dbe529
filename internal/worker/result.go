package worker

import (
	"encoding/json"
	"strings"

	"github.com/anthropics/conductor-engine/internal/domain"
	"github.com/anthropics/conductor-engine/internal/judge"
)

// ParseWorkerResult extracts a structured result from a worker's final
// output. Workers are asked to finish with a JSON object
// {"success": bool, "summary": "...", "artifacts": [...]}; output without
// one is treated as a plain-text success summary so that validation, not
// parsing, decides whether the work holds up.
func ParseWorkerResult(text string) domain.WorkerResult {
	if payload, ok := judge.ExtractJSON(text); ok {
		var raw struct {
			Success   *bool    `json:"success"`
			Summary   string   `json:"summary"`
			Artifacts []string `json:"artifacts"`
			Detail    string   `json:"detail"`
		}
		if err := json.Unmarshal(payload, &raw); err == nil && raw.Success != nil {
			return domain.WorkerResult{
				Success:   *raw.Success,
				Summary:   raw.Summary,
				Artifacts: raw.Artifacts,
				Detail:    raw.Detail,
			}
		}
	}

	return domain.WorkerResult{
		Success: true,
		Summary: strings.TrimSpace(text),
	}
}
