// Package command implements the conductor's plain-text control protocol.
// The conductor interleaves marker-prefixed command lines with ordinary
// conversational text; Parse extracts the commands and ignores the rest.
package command

// Kind identifies a command variant.
type Kind string

const (
	KindSpawnWorker     Kind = "spawn_worker"
	KindSpawnPrivileged Kind = "spawn_privileged_worker"
	KindSendEmail       Kind = "send_email"
	KindSendSMS         Kind = "send_sms"
	KindDeliverFile     Kind = "deliver_file"
	KindListWorkers     Kind = "list_workers"
	KindKillWorker      Kind = "kill_worker"
)

// Command is one parsed control action. Only the fields relevant to the
// Kind are populated.
type Command struct {
	Kind Kind

	// Spawn commands.
	Instructions string

	// Outbound delivery commands.
	To      string
	Subject string
	Body    string
	Message string
	Paths   []string

	// Kill command.
	WorkerID string
}

// IsTerminal reports whether executing this command ends the conductor's
// conversation with the worker that produced the current output: an explicit
// kill, or an outward notification that implies the work is finished.
func (c Command) IsTerminal() bool {
	switch c.Kind {
	case KindKillWorker, KindSendEmail, KindSendSMS, KindDeliverFile:
		return true
	}
	return false
}

// IsNotification reports whether the command sends something to the outside
// world on the requester's behalf.
func (c Command) IsNotification() bool {
	switch c.Kind {
	case KindSendEmail, KindSendSMS, KindDeliverFile:
		return true
	}
	return false
}

// ParseIssue describes a command line that matched a marker but carried a
// malformed payload. Issues never abort the rest of the batch.
type ParseIssue struct {
	Line   int
	Text   string
	Reason string
}
