package analyzer

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"conductor/pkg/eventlog"
	"conductor/pkg/extract"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/retry"
	"conductor/pkg/runerrors"
	"conductor/pkg/utils"
)

// directMaxOutputTokens caps the model reply. Analyses are a page of JSON;
// anything larger is the model rambling.
const directMaxOutputTokens = 4096

// DirectAnalyzer answers in a single responses-API call: no assistant, no
// thread, no tools, no stored state on the remote side. It serves callers
// that want a stateless answer and accept losing conversation continuity.
type DirectAnalyzer struct {
	client   openai.Client
	model    string
	policy   retry.Policy
	counter  *utils.TokenCounter
	budget   int
	recorder metrics.Recorder
	events   *eventlog.Writer
	logger   *logx.Logger
}

// NewDirectAnalyzer creates a DirectAnalyzer. Extra request options are
// passed to the underlying client; tests use option.WithBaseURL to point it
// at a local server.
func NewDirectAnalyzer(apiKey, model string, policy retry.Policy, cfg Config, opts ...option.RequestOption) *DirectAnalyzer {
	logger := logx.NewLogger("analyzer")

	counter, err := utils.NewTokenCounter(model)
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

	clientOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &DirectAnalyzer{
		client:   openai.NewClient(clientOpts...),
		model:    model,
		policy:   policy,
		counter:  counter,
		budget:   budget,
		recorder: recorder,
		events:   cfg.Events,
		logger:   logger,
	}
}

// Analyze runs one stateless analysis. AssistantID and SessionKey on the
// request are assistant-mode concepts and are ignored here.
func (d *DirectAnalyzer) Analyze(ctx context.Context, req Request) (*extract.Analysis, error) {
	start := time.Now()
	rec := eventlog.Record{
		RequestID: req.RequestID,
		Mode:      ModeDirect,
		Filename:  req.Filename,
	}

	analysis, err := d.analyze(ctx, req)
	emitOutcome(d.logger, d.recorder, d.events, rec, analysis, err, time.Since(start))
	return analysis, err
}

func (d *DirectAnalyzer) analyze(ctx context.Context, req Request) (*extract.Analysis, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, runerrors.NewValidation("script content is required")
	}

	content := req.Content
	if tokens := d.counter.CountTokens(content); tokens > d.budget {
		d.logger.Info("✂️ Script is %d tokens (budget %d), truncating for direct analysis", tokens, d.budget)
		content = d.counter.TruncateToTokenLimit(content, d.budget) +
			"\n# NOTE: script truncated to fit the analysis budget"
	}

	params := responses.ResponseNewParams{
		Model:           d.model,
		MaxOutputTokens: openai.Int(int64(directMaxOutputTokens)),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(directPrompt(req.Filename, content)),
		},
	}

	resp, err := retry.DoValue(ctx, d.policy, "direct analysis", func(ctx context.Context) (*responses.Response, error) {
		return d.client.Responses.New(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, runerrors.NewProtocolViolation("responses API returned an empty response")
	}

	text := resp.OutputText()
	if strings.TrimSpace(text) == "" {
		return nil, runerrors.NewProtocolViolation("model reply has no text content")
	}

	return extract.ParseOrExtract(text), nil
}
