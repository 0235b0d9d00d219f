package assistants

import (
	"context"
	"fmt"
	"math"
	"time"

	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/retry"
	"conductor/pkg/runerrors"
)

// Default poll loop tuning.
const (
	DefaultMaxTotalWait   = 300 * time.Second
	DefaultPollBaseDelay  = 500 * time.Millisecond
	DefaultPollMaxDelay   = 2 * time.Second
	DefaultReadErrorDelay = 2 * time.Second
)

// RunnerConfig tunes the poll loop that drives a run to completion.
type RunnerConfig struct {
	// MaxTotalWait is the wall-clock budget for one run, including tool calls.
	MaxTotalWait time.Duration
	// PollBaseDelay is the initial sleep between status reads.
	PollBaseDelay time.Duration
	// PollMaxDelay caps the adaptive sleep.
	PollMaxDelay time.Duration
	// ReadErrorDelay is the fixed sleep after a failed status read.
	ReadErrorDelay time.Duration
	// Recorder receives poll and run-duration metrics. Nil disables them.
	Recorder metrics.Recorder
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.MaxTotalWait <= 0 {
		c.MaxTotalWait = DefaultMaxTotalWait
	}
	if c.PollBaseDelay <= 0 {
		c.PollBaseDelay = DefaultPollBaseDelay
	}
	if c.PollMaxDelay <= 0 {
		c.PollMaxDelay = DefaultPollMaxDelay
	}
	if c.ReadErrorDelay <= 0 {
		c.ReadErrorDelay = DefaultReadErrorDelay
	}
	if c.Recorder == nil {
		c.Recorder = metrics.Nop()
	}
	return c
}

// Runner drives runs to a terminal state: it creates the run, polls its
// status with adaptive backoff, services requires_action pauses through the
// resolver, and enforces the wall-clock budget with a best-effort cancel.
type Runner struct {
	client   Client
	resolver ToolResolver
	policy   retry.Policy
	cfg      RunnerConfig
	logger   *logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner. The retry policy wraps run creation and tool
// output submission; status reads deliberately stay single-shot since the
// poll loop itself is the retry.
func NewRunner(client Client, resolver ToolResolver, policy retry.Policy, cfg RunnerConfig) *Runner {
	return &Runner{
		client:   client,
		resolver: resolver,
		policy:   policy,
		cfg:      cfg.withDefaults(),
		logger:   logx.NewLogger("run-loop"),
		now:      time.Now,
		sleep:    ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Execute starts a run on the thread and polls it until it completes. A run
// that pauses on requires_action has its tool calls resolved and submitted,
// then polling resumes immediately. Exceeding the wall-clock budget cancels
// the run (best effort) and returns a timeout error.
func (r *Runner) Execute(ctx context.Context, threadID string, req RunRequest) (*Run, error) {
	run, err := retry.DoValue(ctx, r.policy, "run create", func(ctx context.Context) (*Run, error) {
		return r.client.CreateRun(ctx, threadID, req)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("Started run %s on thread %s", run.ID, threadID)

	start := r.now()
	lastStatus := run.Status

	for {
		elapsed := r.now().Sub(start)
		if elapsed >= r.cfg.MaxTotalWait {
			r.cancelBestEffort(ctx, threadID, run.ID)
			r.cfg.Recorder.ObserveRun("timeout", elapsed)
			return nil, runerrors.NewRunTimeout(run.ID, elapsed)
		}

		current, err := r.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.cfg.Recorder.IncRunPoll("error")
			r.logger.Warn("Run %s status read failed, retrying in %s: %v", run.ID, r.cfg.ReadErrorDelay, err)
			if sleepErr := r.sleep(ctx, r.cfg.ReadErrorDelay); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		r.cfg.Recorder.IncRunPoll(string(current.Status))

		if current.Status != lastStatus {
			r.logger.Debug("Run %s: %s → %s", run.ID, lastStatus, current.Status)
			lastStatus = current.Status
		}

		switch current.Status {
		case RunStatusCompleted:
			r.logger.Info("✅ Run %s completed in %s", run.ID, elapsed.Round(time.Millisecond))
			r.cfg.Recorder.ObserveRun(string(current.Status), elapsed)
			return current, nil

		case RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
			var code, message string
			if current.LastError != nil {
				code, message = current.LastError.Code, current.LastError.Message
			}
			r.cfg.Recorder.ObserveRun(string(current.Status), elapsed)
			return nil, runerrors.NewRunTerminalFailure(string(current.Status), code, message)

		case RunStatusRequiresAction:
			if err := r.serviceToolCalls(ctx, threadID, current); err != nil {
				return nil, err
			}
			// Outputs submitted, poll again without sleeping.

		case RunStatusQueued, RunStatusInProgress, RunStatusCancelling:
			if sleepErr := r.sleep(ctx, r.pollDelay(elapsed)); sleepErr != nil {
				return nil, sleepErr
			}

		default:
			return nil, runerrors.NewProtocolViolation(fmt.Sprintf("run %s reported unknown status %q", run.ID, current.Status))
		}
	}
}

// pollDelay grows the sleep between status reads by 1.5x for every 5s of
// elapsed wall clock, capped at PollMaxDelay.
func (r *Runner) pollDelay(elapsed time.Duration) time.Duration {
	steps := math.Floor(elapsed.Seconds() / 5)
	delay := time.Duration(float64(r.cfg.PollBaseDelay) * math.Pow(1.5, steps))
	if delay > r.cfg.PollMaxDelay {
		delay = r.cfg.PollMaxDelay
	}
	return delay
}

// serviceToolCalls resolves the batch a paused run is blocked on and submits
// the outputs. The batch must carry unique call ids, and the resolved outputs
// must cover exactly those ids.
func (r *Runner) serviceToolCalls(ctx context.Context, threadID string, run *Run) error {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil || len(run.RequiredAction.SubmitToolOutputs.ToolCalls) == 0 {
		return runerrors.NewProtocolViolation(fmt.Sprintf("run %s requires action but carries no tool calls", run.ID))
	}
	calls := run.RequiredAction.SubmitToolOutputs.ToolCalls

	seen := make(map[string]struct{}, len(calls))
	for _, call := range calls {
		if _, dup := seen[call.ID]; dup {
			return runerrors.NewProtocolViolation(fmt.Sprintf("run %s repeated tool call id %s in one batch", run.ID, call.ID))
		}
		seen[call.ID] = struct{}{}
	}

	r.logger.Info("🔄 Run %s paused on %d tool call(s)", run.ID, len(calls))

	outputs, err := r.resolver.ResolveAll(ctx, calls)
	if err != nil {
		return err
	}
	if err := checkBatchIntegrity(run.ID, calls, outputs); err != nil {
		return err
	}

	_, err = retry.DoValue(ctx, r.policy, "tool output submit", func(ctx context.Context) (*Run, error) {
		return r.client.SubmitToolOutputs(ctx, threadID, run.ID, outputs)
	})
	return err
}

func checkBatchIntegrity(runID string, calls []ToolCall, outputs []ToolOutput) error {
	if len(outputs) != len(calls) {
		return runerrors.NewProtocolViolation(fmt.Sprintf("run %s resolved %d outputs for %d tool calls", runID, len(outputs), len(calls)))
	}
	want := make(map[string]struct{}, len(calls))
	for _, call := range calls {
		want[call.ID] = struct{}{}
	}
	for _, output := range outputs {
		if _, ok := want[output.ToolCallID]; !ok {
			return runerrors.NewProtocolViolation(fmt.Sprintf("run %s output references duplicate or unknown tool call id %s", runID, output.ToolCallID))
		}
		delete(want, output.ToolCallID)
	}
	return nil
}

// cancelBestEffort issues exactly one cancel request for an abandoned run.
// Errors are logged, never returned.
func (r *Runner) cancelBestEffort(ctx context.Context, threadID, runID string) {
	if _, err := r.client.CancelRun(ctx, threadID, runID); err != nil {
		r.logger.Warn("Failed to cancel run %s after timeout: %v", runID, err)
		return
	}
	r.logger.Info("Cancelled run %s after exceeding %s budget", runID, r.cfg.MaxTotalWait)
}
