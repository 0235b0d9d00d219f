// Package analyzer turns raw PowerShell scripts into structured analyses by
// coordinating the assistant cache, the run lifecycle, and reply extraction.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"conductor/pkg/assistants"
	"conductor/pkg/eventlog"
	"conductor/pkg/extract"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/retry"
	"conductor/pkg/runerrors"
	"conductor/pkg/utils"
)

// Analysis modes reported to metrics and the event log.
const (
	ModeAssistant = "assistant"
	ModeDirect    = "direct"
)

// DefaultInlineTokenBudget is the largest script, in tokens, that still
// travels inline in the message body. Bigger scripts are uploaded and
// attached so thread context stays small.
const DefaultInlineTokenBudget = 8000

// Request describes one script analysis.
type Request struct {
	// RequestID correlates logs, metrics, and the event log. Optional.
	RequestID string
	// Content is the script text. Required.
	Content string
	// Filename labels the script in prompts and uploads. Optional.
	Filename string
	// AssistantID overrides the cached assistant for this request. Optional.
	AssistantID string
	// SessionKey selects the conversation thread. Empty starts a fresh one.
	SessionKey string
}

// Response carries the finished analysis plus the ids a caller needs to
// continue the same conversation.
type Response struct {
	Analysis    *extract.Analysis
	ThreadID    string
	AssistantID string
}

// Config tunes the analyzer beyond its required collaborators.
type Config struct {
	// InlineTokenBudget caps inline script size. Zero means the default.
	InlineTokenBudget int
	// Recorder receives analysis metrics. Nil means no recording.
	Recorder metrics.Recorder
	// Events receives one audit record per finished analysis. Nil disables
	// the audit trail.
	Events *eventlog.Writer
}

// Analyzer is the orchestration facade: one call per script, everything
// between the HTTP handler and the remote agent API.
type Analyzer struct {
	client   assistants.Client
	cache    *assistants.Cache
	runner   *assistants.Runner
	policy   retry.Policy
	counter  *utils.TokenCounter
	budget   int
	recorder metrics.Recorder
	events   *eventlog.Writer
	logger   *logx.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates an Analyzer. The cache, runner, and policy should share the
// same client so retries and metrics stay consistent across layers.
func New(client assistants.Client, cache *assistants.Cache, runner *assistants.Runner, policy retry.Policy, cfg Config) *Analyzer {
	logger := logx.NewLogger("analyzer")

	counter, err := utils.NewTokenCounter("gpt-4")
	if err != nil {
		logger.Warn("Tokenizer unavailable, using character estimate: %v", err)
		counter = &utils.TokenCounter{}
	}

	budget := cfg.InlineTokenBudget
	if budget <= 0 {
		budget = DefaultInlineTokenBudget
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return &Analyzer{
		client:   client,
		cache:    cache,
		runner:   runner,
		policy:   policy,
		counter:  counter,
		budget:   budget,
		recorder: recorder,
		events:   cfg.Events,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// AnalyzeScript runs one script through the assistant and returns the parsed
// analysis. Thread-safe; concurrent calls against the same session thread are
// rejected with a thread_busy error rather than queued.
func (a *Analyzer) AnalyzeScript(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	rec := eventlog.Record{
		RequestID:  req.RequestID,
		Mode:       ModeAssistant,
		SessionKey: req.SessionKey,
		Filename:   req.Filename,
	}

	resp, err := a.analyze(ctx, req, &rec)

	var analysis *extract.Analysis
	if resp != nil {
		analysis = resp.Analysis
	}
	emitOutcome(a.logger, a.recorder, a.events, rec, analysis, err, time.Since(start))
	return resp, err
}

func (a *Analyzer) analyze(ctx context.Context, req Request, rec *eventlog.Record) (*Response, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, runerrors.NewValidation("script content is required")
	}

	assistant, err := a.cache.EnsureAssistant(ctx, req.AssistantID)
	if err != nil {
		return nil, err
	}
	rec.AssistantID = assistant.ID

	threadID, err := a.cache.EnsureThread(ctx, req.SessionKey)
	if err != nil {
		return nil, err
	}
	rec.ThreadID = threadID

	release, err := a.acquireThread(threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	message, err := a.buildMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	_, err = retry.DoValue(ctx, a.policy, "message append", func(ctx context.Context) (*assistants.Message, error) {
		return a.client.AddMessage(ctx, threadID, message)
	})
	if err != nil {
		return nil, err
	}

	run, err := a.runner.Execute(ctx, threadID, assistants.RunRequest{
		AssistantID:  assistant.ID,
		Instructions: runInstructions,
	})
	if err != nil {
		return nil, err
	}
	rec.RunID = run.ID

	reply, err := a.latestReply(ctx, threadID)
	if err != nil {
		return nil, err
	}

	return &Response{
		Analysis:    extract.ParseOrExtract(reply),
		ThreadID:    threadID,
		AssistantID: assistant.ID,
	}, nil
}

// acquireThread claims exclusive use of a thread for the duration of one
// analysis. The remote API rejects a second run on a busy thread anyway;
// failing fast here gives the caller a clean typed error instead.
func (a *Analyzer) acquireThread(threadID string) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, busy := a.inFlight[threadID]; busy {
		return nil, runerrors.NewThreadBusy(threadID)
	}
	a.inFlight[threadID] = struct{}{}

	return func() {
		a.mu.Lock()
		delete(a.inFlight, threadID)
		a.mu.Unlock()
	}, nil
}

// buildMessage decides how the script travels: inline in the prompt when it
// fits the token budget, as an uploaded file_search attachment when it does
// not.
func (a *Analyzer) buildMessage(ctx context.Context, req Request) (assistants.MessageRequest, error) {
	tokens := a.counter.CountTokens(req.Content)
	if tokens <= a.budget {
		return assistants.MessageRequest{
			Role:    "user",
			Content: analysisPrompt(req.Filename, req.Content),
		}, nil
	}

	filename := req.Filename
	if filename == "" {
		filename = "script.ps1"
	}
	a.logger.Info("📎 Script %s is %d tokens (budget %d), uploading as attachment", filename, tokens, a.budget)

	file, err := retry.DoValue(ctx, a.policy, "file upload", func(ctx context.Context) (*assistants.File, error) {
		return a.client.UploadFile(ctx, filename, "assistants", strings.NewReader(req.Content))
	})
	if err != nil {
		return assistants.MessageRequest{}, err
	}

	return assistants.MessageRequest{
		Role:    "user",
		Content: attachmentPrompt(req.Filename),
		Attachments: []assistants.Attachment{{
			FileID: file.ID,
			Tools:  []assistants.ToolSpec{{Type: "file_search"}},
		}},
	}, nil
}

// latestReply fetches the newest thread message and returns its text. The
// read is single-shot, unlike the write-side calls. A completed run that
// left no assistant reply is a protocol violation.
func (a *Analyzer) latestReply(ctx context.Context, threadID string) (string, error) {
	messages, err := a.client.ListMessages(ctx, threadID, 1)
	if err != nil {
		return "", err
	}

	if len(messages) == 0 || messages[0].Role != "assistant" {
		return "", runerrors.NewProtocolViolation(fmt.Sprintf("thread %s has no assistant reply after run completion", threadID))
	}

	text := messages[0].Text()
	if strings.TrimSpace(text) == "" {
		return "", runerrors.NewProtocolViolation(fmt.Sprintf("assistant reply in thread %s has no text content", threadID))
	}
	return text, nil
}

// emitOutcome emits metrics and the audit record for one finished analysis,
// success or failure. Shared by the assistant and direct paths.
func emitOutcome(logger *logx.Logger, recorder metrics.Recorder, events *eventlog.Writer, rec eventlog.Record, analysis *extract.Analysis, err error, elapsed time.Duration) {
	rec.Status = "completed"
	rec.DurationMs = elapsed.Milliseconds()
	if err != nil {
		rec.Status = "failed"
		rec.ErrorType = runerrors.TypeOf(err).String()
	}
	if analysis != nil {
		rec.SecurityScore = analysis.SecurityScore
		rec.CodeQualityScore = analysis.CodeQualityScore
		rec.RiskScore = analysis.RiskScore
	}

	recorder.ObserveAnalysis(rec.Mode, rec.Status, rec.ErrorType, elapsed)

	if events == nil {
		return
	}
	if writeErr := events.WriteRecord(rec); writeErr != nil {
		logger.Warn("Failed to write analysis record: %v", writeErr)
	}
}
