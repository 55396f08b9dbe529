// Package ipc provides the HTTP API for the Conductor Engine.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/conductor-engine/internal/domain"
	"github.com/anthropics/conductor-engine/internal/orchestrator"
	"github.com/anthropics/conductor-engine/internal/worker"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Engine  *orchestrator.Engine
	Workers *worker.Manager
}

// IngestRequest is the body for POST /api/v1/events.
type IngestRequest struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
}

// IngestResponse acknowledges an accepted event.
type IngestResponse struct {
	EventID string `json:"event_id"`
}

// WorkerSummary is one row of GET /api/v1/workers.
type WorkerSummary struct {
	WorkerID string              `json:"worker_id"`
	Status   domain.WorkerStatus `json:"status"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var validEventTypes = map[domain.EventType]bool{
	domain.EventEmail:     true,
	domain.EventSMS:       true,
	domain.EventWebhook:   true,
	domain.EventScheduled: true,
	domain.EventAPI:       true,
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// IngestEvent handles POST /api/v1/events. The orchestration runs in the
// background; callers poll the orchestration endpoints for the outcome.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if !validEventTypes[domain.EventType(req.Type)] {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: fmt.Sprintf("unknown event type %q", req.Type)})
		return
	}
	if req.EventID == "" {
		req.EventID = "evt-" + uuid.NewString()
	}

	ev := domain.IncomingEvent{
		ID:             req.EventID,
		Type:           domain.EventType(req.Type),
		PayloadJSON:    req.Payload,
		Sender:         req.Sender,
		Subject:        req.Subject,
		ReceivedAtUnix: time.Now().Unix(),
	}

	go func() {
		if _, err := h.Engine.HandleEvent(context.WithoutCancel(r.Context()), ev); err != nil {
			log.Printf("ipc: handle event %s: %v", ev.ID, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, IngestResponse{EventID: ev.ID})
}

// GetOrchestration handles GET /api/v1/orchestrations/{id}.
func (h *Handler) GetOrchestration(w http.ResponseWriter, r *http.Request) {
	state, err := h.Engine.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetOrchestrationByEvent handles GET /api/v1/events/{eventID}/orchestration.
func (h *Handler) GetOrchestrationByEvent(w http.ResponseWriter, r *http.Request) {
	state, err := h.Engine.GetByEventID(r.Context(), r.PathValue("eventID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ListOrchestrations handles GET /api/v1/orchestrations?status=S and
// GET /api/v1/orchestrations/active.
func (h *Handler) ListOrchestrations(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "status query parameter is required"})
		return
	}
	list, err := h.Engine.ListByStatus(r.Context(), domain.OrchestrationStatus(status))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*domain.OrchestrationState{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ListActiveOrchestrations handles GET /api/v1/orchestrations/active.
func (h *Handler) ListActiveOrchestrations(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*domain.OrchestrationState{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ListAttempts handles GET /api/v1/orchestrations/{id}/attempts.
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.Engine.AttemptHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if attempts == nil {
		attempts = []domain.TaskAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// ListWorkers handles GET /api/v1/workers.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	summaries := []WorkerSummary{}
	for _, id := range h.Workers.ListActive() {
		status, _, err := h.Workers.GetStatus(id)
		if err != nil {
			continue
		}
		summaries = append(summaries, WorkerSummary{WorkerID: id, Status: status})
	}
	writeJSON(w, http.StatusOK, summaries)
}

// KillWorker handles DELETE /api/v1/workers/{workerID}. Manager.Kill is a
// no-op for unknown ids, so existence is checked first to get a real 404.
func (h *Handler) KillWorker(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("workerID")
	if _, _, err := h.Workers.GetStatus(workerID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Workers.Kill(r.Context(), workerID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTranscript handles GET /api/v1/workers/{workerID}/transcript.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	transcript, err := h.Workers.Transcript(r.PathValue("workerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if transcript == nil {
		transcript = []string{}
	}
	writeJSON(w, http.StatusOK, transcript)
}

// StreamTranscript handles GET /api/v1/workers/{workerID}/stream (SSE). It
// replays the transcript so far, then relays new output until the client
// disconnects or the worker is killed.
func (h *Handler) StreamTranscript(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("workerID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	ch, cancel, err := h.Workers.Subscribe(workerID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	transcript, err := h.Workers.Transcript(workerID)
	if err != nil {
		writeSSEError(w, flusher, err)
		return
	}
	for _, line := range transcript {
		writeSSELine(w, flusher, line)
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, open := <-ch:
			if !open {
				return
			}
			writeSSELine(w, flusher, line)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var cErr *domain.ConductorError
	if errors.As(err, &cErr) {
		status := http.StatusInternalServerError
		switch cErr.Code {
		case domain.ErrOrchestrationNotFound.Code,
			domain.ErrEventNotFound.Code,
			domain.ErrTaskNotFound.Code,
			domain.ErrWorkerNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrDuplicateEvent.Code:
			status = http.StatusConflict
		case domain.ErrInvalidTransition.Code, domain.ErrOrchestrationDone.Code:
			status = http.StatusUnprocessableEntity
		case domain.ErrConfigInvalid.Code:
			status = http.StatusBadRequest
		}
		writeJSON(w, status, APIError{Code: cErr.Code, Message: cErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSELine(w http.ResponseWriter, f http.Flusher, line string) {
	data, _ := json.Marshal(line)
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}
