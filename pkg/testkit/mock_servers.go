// Package testkit provides mock HTTP servers emulating the remote agent APIs
// the service talks to, so orchestration code can be tested end to end
// without network access or credentials.
package testkit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"conductor/pkg/assistants"
)

// ScriptedRun describes how the mock advances a run through its lifecycle.
type ScriptedRun struct {
	// Statuses are returned by successive status reads. The last one repeats
	// once the script is exhausted; an empty script completes immediately.
	Statuses []assistants.RunStatus
	// ToolCalls are attached whenever a requires_action status is returned.
	ToolCalls []assistants.ToolCall
	// FinalReply is served as the newest assistant message in the thread.
	FinalReply string
	// LastError is attached to runs that reach the failed status.
	LastError *assistants.RunError
}

// AssistantsServer emulates the v2 assistants HTTP surface with a scripted
// run lifecycle. Point a client at URL() and drive it normally; every run
// started against the server replays the same script.
type AssistantsServer struct {
	server *httptest.Server

	mu           sync.Mutex
	script       ScriptedRun
	poll         int
	reads        int
	lastStatus   assistants.RunStatus
	submitted    [][]assistants.ToolOutput
	userMessages []assistants.MessageRequest
	uploads      []assistants.File
	assistantSeq int
	threadSeq    int
	messageSeq   int
	runSeq       int
	fileSeq      int
}

// NewAssistantsServer starts a mock server that plays back the given script.
func NewAssistantsServer(script ScriptedRun) *AssistantsServer {
	s := &AssistantsServer{script: script}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the server's base URL.
func (s *AssistantsServer) URL() string {
	return s.server.URL
}

// Close shuts the server down.
func (s *AssistantsServer) Close() {
	s.server.Close()
}

// SubmittedOutputs returns every tool output batch the server received.
func (s *AssistantsServer) SubmittedOutputs() [][]assistants.ToolOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]assistants.ToolOutput, len(s.submitted))
	copy(out, s.submitted)
	return out
}

// UserMessages returns every message appended to a thread, oldest first.
func (s *AssistantsServer) UserMessages() []assistants.MessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]assistants.MessageRequest, len(s.userMessages))
	copy(out, s.userMessages)
	return out
}

// Uploads returns every file the server accepted.
func (s *AssistantsServer) Uploads() []assistants.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]assistants.File, len(s.uploads))
	copy(out, s.uploads)
	return out
}

// RunsStarted returns how many runs were created.
func (s *AssistantsServer) RunsStarted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runSeq
}

// StatusReads returns how many times a run status was read.
func (s *AssistantsServer) StatusReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *AssistantsServer) handle(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeAPIError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "assistants" && r.Method == http.MethodPost:
		s.createAssistant(w, r)
	case len(parts) == 2 && parts[0] == "assistants" && r.Method == http.MethodGet:
		s.retrieveAssistant(w, parts[1])
	case len(parts) == 2 && parts[0] == "assistants" && r.Method == http.MethodPost:
		s.updateAssistant(w, r, parts[1])
	case len(parts) == 1 && parts[0] == "threads" && r.Method == http.MethodPost:
		s.createThread(w, r)
	case len(parts) == 2 && parts[0] == "threads" && r.Method == http.MethodGet:
		writeJSON(w, assistants.Thread{ID: parts[1], Object: "thread"})
	case len(parts) == 3 && parts[0] == "threads" && parts[2] == "messages" && r.Method == http.MethodPost:
		s.addMessage(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "threads" && parts[2] == "messages" && r.Method == http.MethodGet:
		s.listMessages(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "threads" && parts[2] == "runs" && r.Method == http.MethodPost:
		s.createRun(w, r, parts[1])
	case len(parts) == 4 && parts[0] == "threads" && parts[2] == "runs" && r.Method == http.MethodGet:
		s.retrieveRun(w, parts[1], parts[3])
	case len(parts) == 5 && parts[0] == "threads" && parts[2] == "runs" && parts[4] == "submit_tool_outputs" && r.Method == http.MethodPost:
		s.submitToolOutputs(w, r, parts[1], parts[3])
	case len(parts) == 5 && parts[0] == "threads" && parts[2] == "runs" && parts[4] == "cancel" && r.Method == http.MethodPost:
		s.cancelRun(w, parts[1], parts[3])
	case len(parts) == 1 && parts[0] == "files" && r.Method == http.MethodPost:
		s.uploadFile(w, r)
	default:
		writeAPIError(w, http.StatusNotFound, "no such endpoint: "+r.Method+" "+r.URL.Path)
	}
}

func (s *AssistantsServer) createAssistant(w http.ResponseWriter, r *http.Request) {
	var cfg assistants.AssistantConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	s.assistantSeq++
	id := fmt.Sprintf("asst_mock_%d", s.assistantSeq)
	s.mu.Unlock()

	writeJSON(w, assistants.Assistant{
		ID:           id,
		Object:       "assistant",
		Name:         cfg.Name,
		Model:        cfg.Model,
		Instructions: cfg.Instructions,
		Tools:        cfg.Tools,
		Metadata:     cfg.Metadata,
	})
}

func (s *AssistantsServer) retrieveAssistant(w http.ResponseWriter, id string) {
	writeJSON(w, assistants.Assistant{
		ID:     id,
		Object: "assistant",
		Name:   "mock assistant",
		Model:  "gpt-mock",
	})
}

func (s *AssistantsServer) updateAssistant(w http.ResponseWriter, r *http.Request, id string) {
	var cfg assistants.AssistantConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	writeJSON(w, assistants.Assistant{
		ID:           id,
		Object:       "assistant",
		Name:         cfg.Name,
		Model:        cfg.Model,
		Instructions: cfg.Instructions,
		Tools:        cfg.Tools,
		Metadata:     cfg.Metadata,
	})
}

func (s *AssistantsServer) createThread(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && err != io.EOF {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	s.threadSeq++
	id := fmt.Sprintf("thread_mock_%d", s.threadSeq)
	s.mu.Unlock()

	writeJSON(w, assistants.Thread{ID: id, Object: "thread", Metadata: payload.Metadata})
}

func (s *AssistantsServer) addMessage(w http.ResponseWriter, r *http.Request, threadID string) {
	var req assistants.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	s.messageSeq++
	id := fmt.Sprintf("msg_mock_%d", s.messageSeq)
	s.userMessages = append(s.userMessages, req)
	s.mu.Unlock()

	writeJSON(w, assistants.Message{
		ID:       id,
		Object:   "thread.message",
		ThreadID: threadID,
		Role:     req.Role,
		Content: []assistants.ContentPart{
			{Type: "text", Text: &assistants.TextContent{Value: req.Content}},
		},
	})
}

// listMessages serves the thread newest first: the scripted reply, then the
// recorded user messages in reverse arrival order.
func (s *AssistantsServer) listMessages(w http.ResponseWriter, r *http.Request, threadID string) {
	s.mu.Lock()
	var data []assistants.Message
	if s.script.FinalReply != "" {
		data = append(data, assistants.Message{
			ID:       "msg_mock_reply",
			Object:   "thread.message",
			ThreadID: threadID,
			Role:     "assistant",
			Content: []assistants.ContentPart{
				{Type: "text", Text: &assistants.TextContent{Value: s.script.FinalReply}},
			},
		})
	}
	for i := len(s.userMessages) - 1; i >= 0; i-- {
		data = append(data, assistants.Message{
			ID:       fmt.Sprintf("msg_mock_%d", i+1),
			Object:   "thread.message",
			ThreadID: threadID,
			Role:     s.userMessages[i].Role,
			Content: []assistants.ContentPart{
				{Type: "text", Text: &assistants.TextContent{Value: s.userMessages[i].Content}},
			},
		})
	}
	s.mu.Unlock()

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			writeAPIError(w, http.StatusBadRequest, "invalid limit: "+limitStr)
			return
		}
		if len(data) > limit {
			data = data[:limit]
		}
	}

	writeJSON(w, map[string]any{"object": "list", "data": data})
}

func (s *AssistantsServer) createRun(w http.ResponseWriter, r *http.Request, threadID string) {
	var req assistants.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AssistantID == "" {
		writeAPIError(w, http.StatusBadRequest, "assistant_id is required")
		return
	}

	s.mu.Lock()
	s.runSeq++
	id := fmt.Sprintf("run_mock_%d", s.runSeq)
	s.poll = 0
	s.lastStatus = assistants.RunStatusQueued
	s.mu.Unlock()

	writeJSON(w, assistants.Run{
		ID:          id,
		Object:      "thread.run",
		ThreadID:    threadID,
		AssistantID: req.AssistantID,
		Status:      assistants.RunStatusQueued,
	})
}

func (s *AssistantsServer) retrieveRun(w http.ResponseWriter, threadID, runID string) {
	s.mu.Lock()
	s.reads++

	status := assistants.RunStatusCompleted
	if len(s.script.Statuses) > 0 {
		idx := s.poll
		if idx >= len(s.script.Statuses) {
			idx = len(s.script.Statuses) - 1
		}
		status = s.script.Statuses[idx]
		if s.poll < len(s.script.Statuses) {
			s.poll++
		}
	}
	s.lastStatus = status

	run := assistants.Run{
		ID:          runID,
		Object:      "thread.run",
		ThreadID:    threadID,
		AssistantID: "asst_mock_1",
		Status:      status,
	}
	if status == assistants.RunStatusRequiresAction {
		run.RequiredAction = &assistants.RequiredAction{
			Type: "submit_tool_outputs",
			SubmitToolOutputs: &assistants.SubmitToolOutputsAction{
				ToolCalls: s.script.ToolCalls,
			},
		}
	}
	if status == assistants.RunStatusFailed {
		run.LastError = s.script.LastError
	}
	s.mu.Unlock()

	writeJSON(w, run)
}

func (s *AssistantsServer) submitToolOutputs(w http.ResponseWriter, r *http.Request, threadID, runID string) {
	var payload struct {
		ToolOutputs []assistants.ToolOutput `json:"tool_outputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.mu.Lock()
	if s.lastStatus != assistants.RunStatusRequiresAction {
		s.mu.Unlock()
		writeAPIError(w, http.StatusBadRequest, fmt.Sprintf("run %s is not waiting on tool outputs", runID))
		return
	}
	s.submitted = append(s.submitted, payload.ToolOutputs)
	s.lastStatus = assistants.RunStatusInProgress
	s.mu.Unlock()

	writeJSON(w, assistants.Run{
		ID:       runID,
		Object:   "thread.run",
		ThreadID: threadID,
		Status:   assistants.RunStatusInProgress,
	})
}

func (s *AssistantsServer) cancelRun(w http.ResponseWriter, threadID, runID string) {
	s.mu.Lock()
	s.lastStatus = assistants.RunStatusCancelling
	s.mu.Unlock()

	writeJSON(w, assistants.Run{
		ID:       runID,
		Object:   "thread.run",
		ThreadID: threadID,
		Status:   assistants.RunStatusCancelling,
	})
}

func (s *AssistantsServer) uploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	purpose := r.FormValue("purpose")
	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer func() { _ = file.Close() }()

	size, err := io.Copy(io.Discard, file)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "unreadable file part")
		return
	}

	s.mu.Lock()
	s.fileSeq++
	uploaded := assistants.File{
		ID:       fmt.Sprintf("file_mock_%d", s.fileSeq),
		Object:   "file",
		Bytes:    size,
		Filename: header.Filename,
		Purpose:  purpose,
	}
	s.uploads = append(s.uploads, uploaded)
	s.mu.Unlock()

	writeJSON(w, uploaded)
}

// MockResponsesServer creates an httptest server that emulates the responses
// endpoint of the OpenAI API, returning reply as the output text of every
// response.
func MockResponsesServer(reply string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify it's a responses endpoint
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}

		// Verify method
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// Parse the request
		var request struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		response := map[string]any{
			"id":     "resp_mock_12345",
			"object": "response",
			"status": "completed",
			"model":  request.Model,
			"output": []map[string]any{
				{
					"type":   "message",
					"id":     "msg_mock_12345",
					"role":   "assistant",
					"status": "completed",
					"content": []map[string]any{
						{"type": "output_text", "text": reply, "annotations": []any{}},
					},
				},
			},
			"usage": map[string]any{
				"input_tokens":  100,
				"output_tokens": 200,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}
