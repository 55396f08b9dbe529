package domain

import "fmt"

// ConductorError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type ConductorError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *ConductorError) Error() string {
	return fmt.Sprintf("conductor error %d: %s", e.Code, e.Message)
}

// NewConductorError creates a new ConductorError.
func NewConductorError(code int, msg string) *ConductorError {
	return &ConductorError{Code: code, Message: msg}
}

// WrapConductorError creates a ConductorError that includes a cause.
func WrapConductorError(code int, msg string, cause error) *ConductorError {
	return &ConductorError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Orchestration errors (-32010 to -32039) ----

var (
	ErrInvalidTransition     = &ConductorError{Code: -32010, Message: "invalid orchestration status transition"}
	ErrOrchestrationNotFound = &ConductorError{Code: -32011, Message: "orchestration not found"}
	ErrOrchestrationDone     = &ConductorError{Code: -32012, Message: "orchestration already in terminal status"}
	ErrDuplicateEvent        = &ConductorError{Code: -32013, Message: "event already has an orchestration"}
	ErrRetriesExhausted      = &ConductorError{Code: -32014, Message: "retry budget exhausted"}
	ErrEventNotFound         = &ConductorError{Code: -32015, Message: "incoming event not found"}
	ErrTaskNotFound          = &ConductorError{Code: -32016, Message: "task not found"}
)

// ---- Worker lifecycle errors (-32040 to -32069) ----

var (
	ErrWorkerNotFound    = &ConductorError{Code: -32040, Message: "worker not found"}
	ErrWorkerTimeout     = &ConductorError{Code: -32041, Message: "worker exceeded timeout"}
	ErrSpawnFailed       = &ConductorError{Code: -32042, Message: "worker spawn failed after retries"}
	ErrWorkerAlreadyDone = &ConductorError{Code: -32043, Message: "worker is already in terminal state"}
	ErrWorkerBusy        = &ConductorError{Code: -32044, Message: "worker already has a message in flight"}
)

// ---- Agent / sandbox errors (-32070 to -32099) ----

var (
	ErrAgentFailed     = &ConductorError{Code: -32070, Message: "agent session exited with failure"}
	ErrSessionNotFound = &ConductorError{Code: -32071, Message: "agent session not found"}
	ErrProvisionFailed = &ConductorError{Code: -32072, Message: "environment provisioning failed"}
	ErrEnvNotReady     = &ConductorError{Code: -32073, Message: "environment readiness probe timed out"}
	ErrEnvVanished     = &ConductorError{Code: -32074, Message: "environment no longer exists"}
)

// ---- Judge errors (-32100 to -32129) ----

var (
	ErrJudgeUnavailable = &ConductorError{Code: -32100, Message: "judge service unavailable"}
	ErrJudgeMalformed   = &ConductorError{Code: -32101, Message: "judge returned unparseable output"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit     = &ConductorError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery    = &ConductorError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite    = &ConductorError{Code: -32132, Message: "store write failed"}
	ErrConfigInvalid = &ConductorError{Code: -32133, Message: "invalid configuration"}
)

// ---- Notification errors (-32160 to -32189) ----

var (
	ErrNotifyFailed = &ConductorError{Code: -32160, Message: "notification delivery failed"}
	ErrNoChannel    = &ConductorError{Code: -32161, Message: "event type has no reply channel"}
)
