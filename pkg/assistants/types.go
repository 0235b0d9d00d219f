// Package assistants implements the thread/run orchestration protocol used by
// OpenAI-compatible conversational agent APIs: persistent agents, threads of
// messages, and polled runs that can pause mid-flight to request tool calls.
package assistants

import "strings"

// Assistant is a persistent remote agent: a model plus instructions and a
// declared tool manifest.
type Assistant struct {
	ID           string            `json:"id"`
	Object       string            `json:"object,omitempty"`
	CreatedAt    int64             `json:"created_at,omitempty"`
	Name         string            `json:"name"`
	Model        string            `json:"model"`
	Instructions string            `json:"instructions,omitempty"`
	Tools        []ToolSpec        `json:"tools,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AssistantConfig is the payload for creating or updating an assistant.
type AssistantConfig struct {
	Name         string            `json:"name,omitempty"`
	Model        string            `json:"model,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Tools        []ToolSpec        `json:"tools,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ToolSpec declares a tool in an assistant's manifest.
type ToolSpec struct {
	Type     string        `json:"type"`
	Function *FunctionSpec `json:"function,omitempty"`
}

// FunctionSpec describes a callable function tool. Parameters holds a JSON
// schema object; any value that marshals to one is accepted.
type FunctionSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Thread is a persistent conversation container.
type Thread struct {
	ID        string            `json:"id"`
	Object    string            `json:"object,omitempty"`
	CreatedAt int64             `json:"created_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Message is a single entry in a thread. Content arrives as typed parts.
type Message struct {
	ID          string        `json:"id"`
	Object      string        `json:"object,omitempty"`
	CreatedAt   int64         `json:"created_at,omitempty"`
	ThreadID    string        `json:"thread_id,omitempty"`
	Role        string        `json:"role"`
	Content     []ContentPart `json:"content"`
	AssistantID string        `json:"assistant_id,omitempty"`
	RunID       string        `json:"run_id,omitempty"`
}

// ContentPart is one typed segment of message content.
type ContentPart struct {
	Type string       `json:"type"`
	Text *TextContent `json:"text,omitempty"`
}

// TextContent is the body of a text content part.
type TextContent struct {
	Value string `json:"value"`
}

// Text concatenates the message's text parts. Non-text parts are skipped.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Type == "text" && part.Text != nil {
			sb.WriteString(part.Text.Value)
		}
	}
	return sb.String()
}

// MessageRequest is the payload for appending a message to a thread.
type MessageRequest struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment links an uploaded file to a message for tool consumption.
type Attachment struct {
	FileID string     `json:"file_id"`
	Tools  []ToolSpec `json:"tools,omitempty"`
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run lifecycle states.
const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether the status is a final state the poll loop can exit on.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	case RunStatusQueued, RunStatusInProgress, RunStatusRequiresAction, RunStatusCancelling:
		return false
	}
	return false
}

// Run is one execution of an assistant against a thread.
type Run struct {
	ID             string          `json:"id"`
	Object         string          `json:"object,omitempty"`
	ThreadID       string          `json:"thread_id"`
	AssistantID    string          `json:"assistant_id"`
	Status         RunStatus       `json:"status"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	LastError      *RunError       `json:"last_error,omitempty"`
}

// RequiredAction describes what a paused run is waiting for.
type RequiredAction struct {
	Type              string                   `json:"type"`
	SubmitToolOutputs *SubmitToolOutputsAction `json:"submit_tool_outputs,omitempty"`
}

// SubmitToolOutputsAction carries the batch of tool calls the run is blocked on.
type SubmitToolOutputsAction struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolCall is a single function invocation requested by the agent.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolOutput is the result of one tool call, keyed by the call's id.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// RunError is the structured failure info attached to a terminal run.
type RunError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// RunRequest is the payload for starting a run on a thread.
type RunRequest struct {
	AssistantID  string `json:"assistant_id"`
	Instructions string `json:"instructions,omitempty"`
}

// File is an uploaded file handle usable as a message attachment.
type File struct {
	ID       string `json:"id"`
	Object   string `json:"object,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
}
