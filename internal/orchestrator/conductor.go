package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/conductor-engine/internal/command"
	"github.com/anthropics/conductor-engine/internal/domain"
	"github.com/anthropics/conductor-engine/internal/judge"
	"github.com/anthropics/conductor-engine/internal/worker"
)

// conductorFor builds the conversation callback driving one worker. The
// callback ends the conversation when the worker reports a structured
// result; otherwise it asks the judge to craft the next reply, executes any
// control commands embedded in that reply, and forwards the rest.
func (e *Engine) conductorFor(ev domain.IncomingEvent, task domain.Task) worker.ConductorFunc {
	return func(ctx context.Context, workerID, output string) (worker.Turn, error) {
		if hasStructuredResult(output) {
			return worker.Turn{Terminal: true}, nil
		}

		reply := e.craftReply(ctx, task, output)

		cmds, issues := command.Parse(reply, e.Workers.ListActive())
		for _, issue := range issues {
			e.audit(ctx, ev.ID, "command", "parse_issue", "warning",
				fmt.Sprintf(`{"line":%d,"reason":%q}`, issue.Line, issue.Reason))
		}
		notified, terminal := e.execute(ctx, ev, workerID, cmds)
		if terminal {
			return worker.Turn{Terminal: true, Notified: notified}, nil
		}

		if strings.TrimSpace(reply) == "" {
			reply = "Continue with the task."
		}
		return worker.Turn{Reply: reply}, nil
	}
}

// hasStructuredResult reports whether the worker's output contains a final
// result object (a JSON object with a boolean "success" field).
func hasStructuredResult(text string) bool {
	payload, ok := judge.ExtractJSON(text)
	if !ok {
		return false
	}
	var raw struct {
		Success *bool `json:"success"`
	}
	return json.Unmarshal(payload, &raw) == nil && raw.Success != nil
}

// craftReply asks the judge what to say to the worker next. Judge failures
// fall back to a neutral nudge so a flaky judge never wedges a conversation.
func (e *Engine) craftReply(ctx context.Context, task domain.Task, output string) string {
	out, err := e.Judge.Complete(ctx, buildConductorPrompt(task, output))
	if err != nil {
		return "Continue with the task."
	}
	return strings.TrimSpace(out)
}

func buildConductorPrompt(task domain.Task, output string) string {
	return fmt.Sprintf(`You are the conductor supervising an autonomous worker.
The worker just said the text below. Answer its questions, grant or deny
approvals, and keep it moving toward completing the task. Be brief.

You may also issue control commands, each on its own line:
  SPAWN_WORKER: <instructions for a helper worker>
  SPAWN_PRIVILEGED_WORKER: <instructions, elevated permissions>
  SEND_EMAIL: <to> | <subject> | <body>
  SEND_SMS: <to> | <message>
  DELIVER_FILE: <to> | <comma-separated paths> | <subject> | <message>
  LIST_WORKERS
  KILL_WORKER: <worker id, or * for all>
Only issue SEND_EMAIL/SEND_SMS/DELIVER_FILE when the work is done and the
result should go back to the requester.

Task: %s

Worker said:
%s
`, task.Description, output)
}
