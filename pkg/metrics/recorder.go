// Package metrics provides metrics recording for analysis orchestration.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording orchestration metrics.
type Recorder interface {
	// ObserveAnalysis records one finished analysis request.
	ObserveAnalysis(mode, status, errorType string, duration time.Duration)

	// ObserveRun records one run reaching the end of its poll loop.
	ObserveRun(status string, duration time.Duration)

	// IncRunPoll counts a status read inside the poll loop.
	IncRunPoll(status string)

	// IncRetry counts a retried remote call by operation name.
	IncRetry(operation string)

	// IncToolCall counts a resolved tool call by tool name and outcome.
	IncToolCall(tool, status string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveAnalysis does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveAnalysis(_, _, _ string, _ time.Duration) {
	// No-op
}

// ObserveRun does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRun(_ string, _ time.Duration) {
	// No-op
}

// IncRunPoll does nothing in the no-op recorder.
func (n *NoopRecorder) IncRunPoll(_ string) {
	// No-op
}

// IncRetry does nothing in the no-op recorder.
func (n *NoopRecorder) IncRetry(_ string) {
	// No-op
}

// IncToolCall does nothing in the no-op recorder.
func (n *NoopRecorder) IncToolCall(_, _ string) {
	// No-op
}
