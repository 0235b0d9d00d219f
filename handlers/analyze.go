package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"conductor/pkg/analyzer"
	"conductor/pkg/extract"
	"conductor/pkg/runerrors"
)

// AssistantAnalyzer is the assistant-backed analysis entrypoint the server
// dispatches to.
type AssistantAnalyzer interface {
	AnalyzeScript(ctx context.Context, req analyzer.Request) (*analyzer.Response, error)
}

// DirectAnalyzer is the stateless analysis entrypoint.
type DirectAnalyzer interface {
	Analyze(ctx context.Context, req analyzer.Request) (*extract.Analysis, error)
}

func newRequestID() string {
	return uuid.NewString()
}

// analyzeRequest is the body both analyze endpoints accept. assistant_id is
// ignored on the direct endpoint.
type analyzeRequest struct {
	Content     string `json:"content"`
	Filename    string `json:"filename,omitempty"`
	AssistantID string `json:"assistant_id,omitempty"`
}

type assistantResponse struct {
	Analysis    *extract.Analysis `json:"analysis"`
	ThreadID    string            `json:"threadId"`
	AssistantID string            `json:"assistantId"`
}

type directResponse struct {
	Analysis *extract.Analysis `json:"analysis"`
}

// handleAssistantAnalyze implements POST /analyze/assistant. The optional
// X-Session-Id header keeps follow-up requests on the same thread.
func (s *Server) handleAssistantAnalyze(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()

	if r.Method != http.MethodPost {
		s.writeError(w, requestID, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	if s.assistant == nil {
		s.writeError(w, requestID, http.StatusServiceUnavailable, "assistant analysis not configured", "")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, requestID, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	sessionKey := r.Header.Get("X-Session-Id")
	s.logger.Info("📥 [%s] Assistant analysis requested (file=%q session=%q)", requestID, req.Filename, sessionKey)

	resp, err := s.assistant.AnalyzeScript(r.Context(), analyzer.Request{
		RequestID:   requestID,
		Content:     req.Content,
		Filename:    req.Filename,
		AssistantID: req.AssistantID,
		SessionKey:  sessionKey,
	})
	if err != nil {
		s.logger.Warn("[%s] Analysis failed: %v", requestID, err)
		s.writeError(w, requestID, runerrors.HTTPStatus(err), "analysis failed", err.Error())
		return
	}

	s.logger.Info("✅ [%s] Analysis completed (thread %s)", requestID, resp.ThreadID)
	s.writeJSON(w, http.StatusOK, assistantResponse{
		Analysis:    resp.Analysis,
		ThreadID:    resp.ThreadID,
		AssistantID: resp.AssistantID,
	})
}

// handleDirectAnalyze implements POST /analyze: one stateless analysis, no
// thread continuity.
func (s *Server) handleDirectAnalyze(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()

	if r.Method != http.MethodPost {
		s.writeError(w, requestID, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	if s.direct == nil {
		s.writeError(w, requestID, http.StatusServiceUnavailable, "direct analysis not configured", "")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, requestID, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	s.logger.Info("📥 [%s] Direct analysis requested (file=%q)", requestID, req.Filename)

	analysis, err := s.direct.Analyze(r.Context(), analyzer.Request{
		RequestID: requestID,
		Content:   req.Content,
		Filename:  req.Filename,
	})
	if err != nil {
		s.logger.Warn("[%s] Analysis failed: %v", requestID, err)
		s.writeError(w, requestID, runerrors.HTTPStatus(err), "analysis failed", err.Error())
		return
	}

	s.logger.Info("✅ [%s] Analysis completed", requestID)
	s.writeJSON(w, http.StatusOK, directResponse{Analysis: analysis})
}
