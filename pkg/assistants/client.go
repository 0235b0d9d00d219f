package assistants

import (
	"context"
	"io"
)

// Client is the protocol surface the orchestration layers depend on. The
// production implementation is RESTClient; tests substitute scripted fakes.
type Client interface {
	// CreateAssistant registers a new persistent agent.
	CreateAssistant(ctx context.Context, cfg AssistantConfig) (*Assistant, error)
	// RetrieveAssistant fetches an agent by id.
	RetrieveAssistant(ctx context.Context, assistantID string) (*Assistant, error)
	// UpdateAssistant patches an existing agent's instructions, tools, or metadata.
	UpdateAssistant(ctx context.Context, assistantID string, cfg AssistantConfig) (*Assistant, error)

	// CreateThread opens a new conversation container.
	CreateThread(ctx context.Context, metadata map[string]string) (*Thread, error)
	// RetrieveThread fetches a thread by id, validating it still exists.
	RetrieveThread(ctx context.Context, threadID string) (*Thread, error)

	// AddMessage appends a message to a thread.
	AddMessage(ctx context.Context, threadID string, req MessageRequest) (*Message, error)
	// ListMessages returns the most recent messages in a thread, newest first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error)

	// CreateRun starts an assistant execution against a thread.
	CreateRun(ctx context.Context, threadID string, req RunRequest) (*Run, error)
	// RetrieveRun reads the current state of a run.
	RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error)
	// SubmitToolOutputs unblocks a run paused on requires_action.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)
	// CancelRun requests cancellation of an in-flight run.
	CancelRun(ctx context.Context, threadID, runID string) (*Run, error)

	// UploadFile stores a file for use as a message attachment.
	UploadFile(ctx context.Context, filename, purpose string, content io.Reader) (*File, error)
}

// ToolResolver turns a batch of requested tool calls into outputs. Exactly one
// output per input call is required; implementations contain per-call failures
// inside the output payload rather than failing the batch.
type ToolResolver interface {
	ResolveAll(ctx context.Context, calls []ToolCall) ([]ToolOutput, error)
}
