// Package notify routes final results and escalations back to the outside
// world over the channel the originating event arrived on.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/anthropics/conductor-engine/internal/domain"
)

// Mailer delivers outbound email. Attachment paths refer to files inside
// the conductor's filesystem.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string, attachments []string) error
}

// Texter delivers outbound SMS.
type Texter interface {
	Send(ctx context.Context, to, message string) error
}

// Notifier dispatches channel-appropriate replies and escalations.
type Notifier interface {
	Respond(ctx context.Context, ev domain.IncomingEvent, result domain.WorkerResult) error
	Escalate(ctx context.Context, ev domain.IncomingEvent, reason string) error
}

// Dispatcher routes by the event's channel: email events get email replies,
// SMS events get SMS replies, webhook/API/scheduled events get none (their
// callers read the orchestration record instead).
type Dispatcher struct {
	Mailer       Mailer
	Texter       Texter
	OperatorAddr string
}

// NewDispatcher creates a Dispatcher. OperatorAddr is the escalation target.
func NewDispatcher(mailer Mailer, texter Texter, operatorAddr string) *Dispatcher {
	return &Dispatcher{Mailer: mailer, Texter: texter, OperatorAddr: operatorAddr}
}

// Respond sends the final result to the original requester.
func (d *Dispatcher) Respond(ctx context.Context, ev domain.IncomingEvent, result domain.WorkerResult) error {
	switch ev.Type {
	case domain.EventEmail:
		subject := "Re: " + ev.Subject
		if ev.Subject == "" {
			subject = "Task completed"
		}
		if err := d.Mailer.Send(ctx, ev.Sender, subject, result.Summary, result.Artifacts); err != nil {
			return domain.WrapConductorError(domain.ErrNotifyFailed.Code, "email response", err)
		}
		return nil
	case domain.EventSMS:
		if err := d.Texter.Send(ctx, ev.Sender, result.Summary); err != nil {
			return domain.WrapConductorError(domain.ErrNotifyFailed.Code, "sms response", err)
		}
		return nil
	case domain.EventWebhook, domain.EventScheduled, domain.EventAPI:
		// No push channel; the caller polls the orchestration record.
		return nil
	}
	return domain.ErrNoChannel
}

// Escalate notifies the operator channel that an event needs a human.
func (d *Dispatcher) Escalate(ctx context.Context, ev domain.IncomingEvent, reason string) error {
	subject := fmt.Sprintf("Escalation: event %s (%s)", ev.ID, ev.Type)
	body := fmt.Sprintf("Event from %s needs human attention.\n\nReason: %s\n\nPayload:\n%s",
		ev.Sender, reason, ev.PayloadJSON)
	if err := d.Mailer.Send(ctx, d.OperatorAddr, subject, body, nil); err != nil {
		return domain.WrapConductorError(domain.ErrNotifyFailed.Code, "escalation", err)
	}
	return nil
}

// LogMailer writes outbound email to the process log. It is the default
// Mailer when no delivery provider is configured.
type LogMailer struct{}

// Send logs the email instead of delivering it.
func (LogMailer) Send(_ context.Context, to, subject, body string, attachments []string) error {
	log.Printf("notify: email to=%s subject=%q attachments=%d body=%q", to, subject, len(attachments), body)
	return nil
}

// LogTexter writes outbound SMS to the process log.
type LogTexter struct{}

// Send logs the SMS instead of delivering it.
func (LogTexter) Send(_ context.Context, to, message string) error {
	log.Printf("notify: sms to=%s body=%q", to, message)
	return nil
}
