package assistants

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"conductor/pkg/logx"
	"conductor/pkg/runerrors"
)

// betaHeader opts requests into the v2 assistants surface.
const betaHeader = "assistants=v2"

// RESTClient implements Client over the HTTP API.
type RESTClient struct {
	baseURL string
	apiKey  string
	logger  *logx.Logger
	client  *http.Client
}

// NewRESTClient creates a client for the given API endpoint. The timeout
// bounds each individual HTTP request, not whole runs.
func NewRESTClient(baseURL, apiKey string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logx.NewLogger("agent-api"),
		client:  &http.Client{Timeout: timeout},
	}
}

// do performs a JSON request and decodes the response into out (if non-nil).
func (c *RESTClient) do(ctx context.Context, method, path string, body, out any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", betaHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("%s %s", method, url)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// apiError converts a non-2xx response into a classified error.
func (c *RESTClient) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return runerrors.NewAPIError(resp.StatusCode, envelope.Error.Code, envelope.Error.Message)
	}
	return runerrors.NewAPIError(resp.StatusCode, "", strings.TrimSpace(string(body)))
}

// CreateAssistant registers a new persistent agent.
func (c *RESTClient) CreateAssistant(ctx context.Context, cfg AssistantConfig) (*Assistant, error) {
	var assistant Assistant
	if err := c.do(ctx, http.MethodPost, "/assistants", cfg, &assistant); err != nil {
		return nil, err
	}
	c.logger.Info("Created assistant %s (%s)", assistant.ID, assistant.Name)
	return &assistant, nil
}

// RetrieveAssistant fetches an agent by id.
func (c *RESTClient) RetrieveAssistant(ctx context.Context, assistantID string) (*Assistant, error) {
	var assistant Assistant
	if err := c.do(ctx, http.MethodGet, "/assistants/"+assistantID, nil, &assistant); err != nil {
		return nil, err
	}
	return &assistant, nil
}

// UpdateAssistant patches an existing agent.
func (c *RESTClient) UpdateAssistant(ctx context.Context, assistantID string, cfg AssistantConfig) (*Assistant, error) {
	var assistant Assistant
	if err := c.do(ctx, http.MethodPost, "/assistants/"+assistantID, cfg, &assistant); err != nil {
		return nil, err
	}
	return &assistant, nil
}

// CreateThread opens a new conversation container.
func (c *RESTClient) CreateThread(ctx context.Context, metadata map[string]string) (*Thread, error) {
	payload := struct {
		Metadata map[string]string `json:"metadata,omitempty"`
	}{Metadata: metadata}

	var thread Thread
	if err := c.do(ctx, http.MethodPost, "/threads", payload, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// RetrieveThread fetches a thread by id.
func (c *RESTClient) RetrieveThread(ctx context.Context, threadID string) (*Thread, error) {
	var thread Thread
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID, nil, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// AddMessage appends a message to a thread.
func (c *RESTClient) AddMessage(ctx context.Context, threadID string, req MessageRequest) (*Message, error) {
	var message Message
	path := fmt.Sprintf("/threads/%s/messages", threadID)
	if err := c.do(ctx, http.MethodPost, path, req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// ListMessages returns the most recent messages in a thread, newest first.
func (c *RESTClient) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	path := fmt.Sprintf("/threads/%s/messages?order=desc", threadID)
	if limit > 0 {
		path = fmt.Sprintf("%s&limit=%d", path, limit)
	}

	var envelope struct {
		Data []Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// CreateRun starts an assistant execution against a thread.
func (c *RESTClient) CreateRun(ctx context.Context, threadID string, req RunRequest) (*Run, error) {
	var run Run
	path := fmt.Sprintf("/threads/%s/runs", threadID)
	if err := c.do(ctx, http.MethodPost, path, req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RetrieveRun reads the current state of a run.
func (c *RESTClient) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	path := fmt.Sprintf("/threads/%s/runs/%s", threadID, runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SubmitToolOutputs unblocks a run paused on requires_action.
func (c *RESTClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Run, error) {
	payload := struct {
		ToolOutputs []ToolOutput `json:"tool_outputs"`
	}{ToolOutputs: outputs}

	var run Run
	path := fmt.Sprintf("/threads/%s/runs/%s/submit_tool_outputs", threadID, runID)
	if err := c.do(ctx, http.MethodPost, path, payload, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// CancelRun requests cancellation of an in-flight run.
func (c *RESTClient) CancelRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	path := fmt.Sprintf("/threads/%s/runs/%s/cancel", threadID, runID)
	if err := c.do(ctx, http.MethodPost, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// UploadFile stores a file for use as a message attachment.
func (c *RESTClient) UploadFile(ctx context.Context, filename, purpose string, content io.Reader) (*File, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("purpose", purpose); err != nil {
		return nil, fmt.Errorf("failed to write purpose field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debug("POST %s/files (%s)", c.baseURL, filename)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.apiError(resp)
	}

	var file File
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	c.logger.Info("Uploaded file %s as %s", filename, file.ID)
	return &file, nil
}
