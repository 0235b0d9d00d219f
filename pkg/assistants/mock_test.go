package assistants

import (
	"context"
	"errors"
	"io"
)

var errUnexpectedCall = errors.New("unexpected client call")

// mockClient implements Client with overridable behavior per method. Methods
// without an override fail loudly so tests only exercise expected calls.
type mockClient struct {
	createAssistantFn   func(ctx context.Context, cfg AssistantConfig) (*Assistant, error)
	retrieveAssistantFn func(ctx context.Context, assistantID string) (*Assistant, error)
	updateAssistantFn   func(ctx context.Context, assistantID string, cfg AssistantConfig) (*Assistant, error)
	createThreadFn      func(ctx context.Context, metadata map[string]string) (*Thread, error)
	retrieveThreadFn    func(ctx context.Context, threadID string) (*Thread, error)
	addMessageFn        func(ctx context.Context, threadID string, req MessageRequest) (*Message, error)
	listMessagesFn      func(ctx context.Context, threadID string, limit int) ([]Message, error)
	createRunFn         func(ctx context.Context, threadID string, req RunRequest) (*Run, error)
	retrieveRunFn       func(ctx context.Context, threadID, runID string) (*Run, error)
	submitToolOutputsFn func(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error)
	cancelRunFn         func(ctx context.Context, threadID, runID string) (*Run, error)
	uploadFileFn        func(ctx context.Context, filename, purpose string, content io.Reader) (*File, error)
}

func (m *mockClient) CreateAssistant(ctx context.Context, cfg AssistantConfig) (*Assistant, error) {
	if m.createAssistantFn == nil {
		return nil, errUnexpectedCall
	}
	return m.createAssistantFn(ctx, cfg)
}

func (m *mockClient) RetrieveAssistant(ctx context.Context, assistantID string) (*Assistant, error) {
	if m.retrieveAssistantFn == nil {
		return nil, errUnexpectedCall
	}
	return m.retrieveAssistantFn(ctx, assistantID)
}

func (m *mockClient) UpdateAssistant(ctx context.Context, assistantID string, cfg AssistantConfig) (*Assistant, error) {
	if m.updateAssistantFn == nil {
		return nil, errUnexpectedCall
	}
	return m.updateAssistantFn(ctx, assistantID, cfg)
}

func (m *mockClient) CreateThread(ctx context.Context, metadata map[string]string) (*Thread, error) {
	if m.createThreadFn == nil {
		return nil, errUnexpectedCall
	}
	return m.createThreadFn(ctx, metadata)
}

func (m *mockClient) RetrieveThread(ctx context.Context, threadID string) (*Thread, error) {
	if m.retrieveThreadFn == nil {
		return nil, errUnexpectedCall
	}
	return m.retrieveThreadFn(ctx, threadID)
}

func (m *mockClient) AddMessage(ctx context.Context, threadID string, req MessageRequest) (*Message, error) {
	if m.addMessageFn == nil {
		return nil, errUnexpectedCall
	}
	return m.addMessageFn(ctx, threadID, req)
}

func (m *mockClient) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	if m.listMessagesFn == nil {
		return nil, errUnexpectedCall
	}
	return m.listMessagesFn(ctx, threadID, limit)
}

func (m *mockClient) CreateRun(ctx context.Context, threadID string, req RunRequest) (*Run, error) {
	if m.createRunFn == nil {
		return nil, errUnexpectedCall
	}
	return m.createRunFn(ctx, threadID, req)
}

func (m *mockClient) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	if m.retrieveRunFn == nil {
		return nil, errUnexpectedCall
	}
	return m.retrieveRunFn(ctx, threadID, runID)
}

func (m *mockClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error) {
	if m.submitToolOutputsFn == nil {
		return nil, errUnexpectedCall
	}
	return m.submitToolOutputsFn(ctx, threadID, runID, outputs)
}

func (m *mockClient) CancelRun(ctx context.Context, threadID, runID string) (*Run, error) {
	if m.cancelRunFn == nil {
		return nil, errUnexpectedCall
	}
	return m.cancelRunFn(ctx, threadID, runID)
}

func (m *mockClient) UploadFile(ctx context.Context, filename, purpose string, content io.Reader) (*File, error) {
	if m.uploadFileFn == nil {
		return nil, errUnexpectedCall
	}
	return m.uploadFileFn(ctx, filename, purpose, content)
}
