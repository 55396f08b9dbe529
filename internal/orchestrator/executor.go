package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/conductor-engine/internal/command"
	"github.com/anthropics/conductor-engine/internal/domain"
)

// execute runs a parsed command batch in order. It reports whether any
// outward notification was delivered and whether the batch terminates the
// current worker's conversation (an explicit kill of that worker, or a
// final notification). Failures of individual commands are logged and do
// not stop the batch.
func (e *Engine) execute(ctx context.Context, ev domain.IncomingEvent, currentWorkerID string, cmds []command.Command) (notified, terminal bool) {
	for _, c := range cmds {
		switch c.Kind {
		case command.KindSpawnWorker:
			e.spawnHelper(ctx, ev, c.Instructions, false)

		case command.KindSpawnPrivileged:
			e.spawnHelper(ctx, ev, c.Instructions, true)

		case command.KindSendEmail:
			if err := e.Mailer.Send(ctx, c.To, c.Subject, c.Body, nil); err != nil {
				log.Printf("orchestrator: send email to %s: %v", c.To, err)
				continue
			}
			e.audit(ctx, ev.ID, "notify", "email_sent", "info",
				fmt.Sprintf(`{"to":%q,"subject":%q}`, c.To, c.Subject))
			notified = true

		case command.KindSendSMS:
			if err := e.Texter.Send(ctx, c.To, c.Message); err != nil {
				log.Printf("orchestrator: send sms to %s: %v", c.To, err)
				continue
			}
			e.audit(ctx, ev.ID, "notify", "sms_sent", "info",
				fmt.Sprintf(`{"to":%q}`, c.To))
			notified = true

		case command.KindDeliverFile:
			if err := e.Mailer.Send(ctx, c.To, c.Subject, c.Message, c.Paths); err != nil {
				log.Printf("orchestrator: deliver files to %s: %v", c.To, err)
				continue
			}
			e.audit(ctx, ev.ID, "notify", "files_delivered", "info",
				fmt.Sprintf(`{"to":%q,"paths":%d}`, c.To, len(c.Paths)))
			notified = true

		case command.KindListWorkers:
			log.Printf("orchestrator: active workers: %s", strings.Join(e.Workers.ListActive(), ", "))

		case command.KindKillWorker:
			if _, _, err := e.Workers.GetStatus(c.WorkerID); err != nil {
				log.Printf("orchestrator: kill unknown worker %s, skipped", c.WorkerID)
				continue
			}
			if err := e.Workers.Kill(ctx, c.WorkerID); err != nil {
				log.Printf("orchestrator: kill worker %s: %v", c.WorkerID, err)
				continue
			}
			if c.WorkerID == currentWorkerID {
				terminal = true
			}
		}
	}
	if notified {
		// A final outward notification ends the conversation even without
		// an explicit kill.
		terminal = true
	}
	return notified, terminal
}

// spawnHelper launches an auxiliary worker requested by the conductor. The
// helper runs its own conversation concurrently; its result is logged and
// audited rather than validated, since the primary worker owns the task
// outcome.
func (e *Engine) spawnHelper(ctx context.Context, ev domain.IncomingEvent, instructions string, privileged bool) {
	task := domain.Task{
		TaskID:        "tsk-" + uuid.NewString(),
		EventID:       ev.ID,
		Description:   "helper task",
		Instructions:  instructions,
		TimeoutSec:    priorityTimeout(domain.PriorityMedium),
		MaxRetries:    0,
		CreatedAtUnix: time.Now().Unix(),
	}
	if privileged {
		task.Capabilities = []string{"privileged"}
	}
	if err := e.Tasks.Create(ctx, e.DB, task); err != nil {
		log.Printf("orchestrator: persist helper task: %v", err)
		return
	}

	id, err := e.Workers.Spawn(ctx, task)
	if err != nil {
		log.Printf("orchestrator: spawn helper: %v", err)
		return
	}
	e.audit(ctx, ev.ID, "worker", "helper_spawned", "info",
		fmt.Sprintf(`{"worker_id":%q,"privileged":%t}`, id, privileged))

	go func() {
		result, err := e.Workers.RunConversation(context.WithoutCancel(ctx), id, "", e.conductorFor(ev, task))
		if err != nil {
			log.Printf("orchestrator: helper %s: %v", id, err)
			_ = e.Workers.Kill(context.WithoutCancel(ctx), id)
			return
		}
		log.Printf("orchestrator: helper %s finished: success=%t %s", id, result.Success, result.Summary)
		_ = e.Workers.Kill(context.WithoutCancel(ctx), id)
	}()
}
