package ipc

import (
	"context"
	"net/http"
	"strings"
)

// Server wraps an HTTP server with conductor-specific routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	mux := http.NewServeMux()

	// Health endpoint.
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Event ingress.
	mux.HandleFunc("POST /api/v1/events", h.IngestEvent)
	mux.HandleFunc("GET /api/v1/events/{eventID}/orchestration", h.GetOrchestrationByEvent)

	// Orchestration endpoints.
	mux.HandleFunc("GET /api/v1/orchestrations", h.ListOrchestrations)
	mux.HandleFunc("GET /api/v1/orchestrations/active", h.ListActiveOrchestrations)
	mux.HandleFunc("GET /api/v1/orchestrations/{id}", h.GetOrchestration)
	mux.HandleFunc("GET /api/v1/orchestrations/{id}/attempts", h.ListAttempts)

	// Worker endpoints.
	mux.HandleFunc("GET /api/v1/workers", h.ListWorkers)
	mux.HandleFunc("DELETE /api/v1/workers/{workerID}", h.KillWorker)
	mux.HandleFunc("GET /api/v1/workers/{workerID}/transcript", h.GetTranscript)
	mux.HandleFunc("GET /api/v1/workers/{workerID}/stream", h.StreamTranscript)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: corsMiddleware(mux),
	}

	return &Server{
		httpServer: srv,
	}
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// FormatListenURL turns a listen address into a browsable URL.
func FormatListenURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// corsMiddleware adds CORS headers for local dashboard access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
