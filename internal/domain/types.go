// Package domain defines the core types for the Conductor Engine.
package domain

// EventType tags the channel an incoming event arrived on.
type EventType string

const (
	EventEmail     EventType = "email"
	EventSMS       EventType = "sms"
	EventWebhook   EventType = "webhook"
	EventScheduled EventType = "scheduled"
	EventAPI       EventType = "api"
)

// IncomingEvent is the immutable record of an external trigger.
// Created on ingress, never mutated, retained for audit.
type IncomingEvent struct {
	ID             string
	Type           EventType
	PayloadJSON    string
	Sender         string
	Subject        string
	ReceivedAtUnix int64
}

// TriageAction is the decision made about an incoming event.
type TriageAction string

const (
	TriageIgnore   TriageAction = "ignore"
	TriageAct      TriageAction = "action"
	TriageDefer    TriageAction = "defer"
	TriageEscalate TriageAction = "escalate"
)

// Priority influences task timeouts.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// TriageDecision is the judged classification of an incoming event.
type TriageDecision struct {
	Action     TriageAction
	Confidence float64
	Reason     string
	TaskType   string
	Priority   Priority
}

// Task is one unit of delegated work. A retry may mint a new task id
// carrying forward instructions amended with validation feedback.
type Task struct {
	TaskID        string
	EventID       string
	Description   string
	Instructions  string
	ContextJSON   string
	TimeoutSec    int
	MaxRetries    int
	Capabilities  []string
	CreatedAtUnix int64
}

// WorkerStatus is the lifecycle state of an ephemeral worker session.
type WorkerStatus string

const (
	WorkerInitializing    WorkerStatus = "initializing"
	WorkerRunning         WorkerStatus = "running"
	WorkerWaitingAnswer   WorkerStatus = "waiting_for_answer"
	WorkerWaitingApproval WorkerStatus = "waiting_for_approval"
	WorkerDone            WorkerStatus = "done"
	WorkerError           WorkerStatus = "error"
)

// WorkerResult is what a worker reports when it finishes.
type WorkerResult struct {
	Success   bool
	Summary   string
	Artifacts []string
	Detail    string
}

// WorkerSession describes one ephemeral execution session. The worker id is
// provisional (derived from the environment handle) until the first agent
// message carrying the real session id arrives.
type WorkerSession struct {
	WorkerID         string
	TaskID           string
	EnvHandle        string
	AgentSessionID   string
	Status           WorkerStatus
	Result           *WorkerResult
	CreatedAtUnix    int64
	LastActivityUnix int64
}

// OrchestrationStatus is the top-level status of one event's handling.
type OrchestrationStatus string

const (
	StatusPending    OrchestrationStatus = "pending"
	StatusTriaging   OrchestrationStatus = "triaging"
	StatusSpawning   OrchestrationStatus = "spawning"
	StatusRunning    OrchestrationStatus = "running"
	StatusValidating OrchestrationStatus = "validating"
	StatusRetrying   OrchestrationStatus = "retrying"
	StatusFinalizing OrchestrationStatus = "finalizing"
	StatusCompleted  OrchestrationStatus = "completed"
	StatusFailed     OrchestrationStatus = "failed"
	StatusEscalated  OrchestrationStatus = "escalated"
)

// IsTerminalStatus reports whether an orchestration status is final.
func IsTerminalStatus(s OrchestrationStatus) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusEscalated
}

// ValidationStatus grades a worker result against its task.
type ValidationStatus string

const (
	ValidationValid      ValidationStatus = "valid"
	ValidationPartial    ValidationStatus = "partial"
	ValidationInvalid    ValidationStatus = "invalid"
	ValidationNeedsHuman ValidationStatus = "needs_human"
)

// ValidationIssue is one problem found during validation.
type ValidationIssue struct {
	Severity    string
	Description string
}

// ValidationResult is the verdict on a worker result.
type ValidationResult struct {
	Status            ValidationStatus
	Confidence        float64
	Issues            []ValidationIssue
	SuggestedStrategy RetryStrategy
}

// RetryStrategy is the corrective action chosen after a failed validation.
type RetryStrategy string

const (
	RetrySameWorker RetryStrategy = "same_worker"
	RetryNewWorker  RetryStrategy = "new_worker"
	RetrySplitTask  RetryStrategy = "split_task"
	RetryEscalate   RetryStrategy = "escalate"
)

// TaskAttempt records one spawn/execute/validate cycle.
type TaskAttempt struct {
	AttemptID        string
	OrchestrationID  string
	TaskID           string
	WorkerID         string
	Number           int
	Outcome          string
	ValidationStatus ValidationStatus
	Strategy         RetryStrategy
	StartedAtUnix    int64
	EndedAtUnix      int64
}

// OrchestrationState tracks the full lifecycle of one incoming event.
// Mutated only by the orchestrator and persisted after every transition.
type OrchestrationState struct {
	ID              string
	EventID         string
	Status          OrchestrationStatus
	TaskID          string
	WorkerID        string
	Attempts        []TaskAttempt
	Triage          *TriageDecision
	Validation      *ValidationResult
	Result          *WorkerResult
	CreatedAtUnix   int64
	UpdatedAtUnix   int64
	CompletedAtUnix int64
}

// AuditRecord logs lifecycle and security events, correlated by the
// originating event id.
type AuditRecord struct {
	ID         string
	EventID    string
	Category   string
	Actor      string
	Action     string
	DetailJSON string
	Severity   string
	CreatedAt  int64
}
