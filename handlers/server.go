// Package handlers exposes the analysis service over HTTP: two analyze
// endpoints, health, and Prometheus metrics.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conductor/pkg/logx"
)

// Server wires the analyzers into HTTP routes.
type Server struct {
	assistant AssistantAnalyzer
	direct    DirectAnalyzer
	apiKey    string
	logger    *logx.Logger
	done      chan struct{}
}

// NewServer creates a Server. apiKey is the shared key clients must present
// in X-API-Key; empty disables the check.
func NewServer(assistant AssistantAnalyzer, direct DirectAnalyzer, apiKey string) *Server {
	return &Server{
		assistant: assistant,
		direct:    direct,
		apiKey:    apiKey,
		logger:    logx.NewLogger("http"),
		done:      make(chan struct{}),
	}
}

// Done is closed once the server has finished its graceful drain. Callers
// that cancel the StartServer context should wait on it before exiting.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/analyze", s.requireKey(s.handleDirectAnalyze))
	mux.HandleFunc("/analyze/assistant", s.requireKey(s.handleAssistantAnalyze))
}

// StartServer runs the HTTP server until ctx is cancelled, then drains it
// gracefully for up to shutdownTimeout.
func (s *Server) StartServer(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("🌐 Starting analysis server on %s", addr)

	// Start server in a goroutine (non-blocking).
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error: %v", err)
		}
	}()

	// Start graceful shutdown handler in background.
	go func() {
		defer close(s.done)
		<-ctx.Done()
		s.logger.Info("Shutting down analysis server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown failed: %v", err)
		}
	}()

	return nil
}

// requireKey wraps a handler with the shared-key check. A server configured
// without a key passes every request through.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			s.writeError(w, newRequestID(), http.StatusBadRequest, "missing API credential", "set the X-API-Key header")
			return
		}
		if key != s.apiKey {
			s.logger.Warn("Rejected request from %s with a bad API key", r.RemoteAddr)
			s.writeError(w, newRequestID(), http.StatusUnauthorized, "invalid API credential", "")
			return
		}

		next(w, r)
	}
}

// errorResponse is the uniform error envelope for every endpoint.
type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, requestID string, status int, message, details string) {
	s.writeJSON(w, status, errorResponse{
		Error:     message,
		Details:   details,
		RequestID: requestID,
	})
}
