package analyzer

import (
	"context"
	"strings"
	"testing"
	"time"

	"conductor/pkg/assistants"
	"conductor/pkg/eventlog"
	"conductor/pkg/retry"
	"conductor/pkg/runerrors"
	"conductor/pkg/testkit"
	"conductor/pkg/tools"
)

// fastPolicy keeps retry delays out of test wall-clock time.
var fastPolicy = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

const structuredReply = `{
	"purpose": "Removes temp files older than 7 days",
	"security_score": 85,
	"code_quality_score": 78,
	"risk_score": 20,
	"suggestions": ["Add -WhatIf support before shipping"],
	"command_details": {"Remove-Item": {"parameters": {"Path": "target path to delete"}}},
	"doc_references": [{"title": "Remove-Item", "url": "https://learn.microsoft.com/powershell/module/microsoft.powershell.management/remove-item"}]
}`

func newTestAnalyzer(server *testkit.AssistantsServer, cfg Config) *Analyzer {
	client := assistants.NewRESTClient(server.URL(), "test-key", 5*time.Second)
	cache := assistants.NewCache(client, fastPolicy, assistants.CacheConfig{
		AssistantName: "Test Analysis Assistant",
		Model:         "gpt-mock",
		Instructions:  AssistantInstructions,
	})

	registry := tools.NewRegistry(nil)
	registry.Seal()

	runner := assistants.NewRunner(client, registry, fastPolicy, assistants.RunnerConfig{
		MaxTotalWait:   5 * time.Second,
		PollBaseDelay:  time.Millisecond,
		PollMaxDelay:   2 * time.Millisecond,
		ReadErrorDelay: time.Millisecond,
	})

	return New(client, cache, runner, fastPolicy, cfg)
}

func TestAnalyzeScript_InlineFlow(t *testing.T) {
	server := testkit.NewAssistantsServer(testkit.ScriptedRun{
		Statuses:   []assistants.RunStatus{assistants.RunStatusInProgress, assistants.RunStatusCompleted},
		FinalReply: structuredReply,
	})
	defer server.Close()

	a := newTestAnalyzer(server, Config{})

	resp, err := a.AnalyzeScript(context.Background(), Request{
		RequestID:  "req-1",
		Content:    "Remove-Item -Path $env:TEMP -Recurse",
		Filename:   "cleanup.ps1",
		SessionKey: "ops-session",
	})
	if err != nil {
		t.Fatalf("AnalyzeScript failed: %v", err)
	}

	if resp.ThreadID == "" {
		t.Error("Expected a thread id in the response")
	}
	if resp.AssistantID == "" {
		t.Error("Expected an assistant id in the response")
	}
	if resp.Analysis.Purpose != "Removes temp files older than 7 days" {
		t.Errorf("Unexpected purpose: %q", resp.Analysis.Purpose)
	}
	if resp.Analysis.SecurityScore != 85 {
		t.Errorf("Expected security score 85, got %d", resp.Analysis.SecurityScore)
	}
	if resp.Analysis.RiskScore != 20 {
		t.Errorf("Expected risk score 20, got %d", resp.Analysis.RiskScore)
	}

	messages := server.UserMessages()
	if len(messages) != 1 {
		t.Fatalf("Expected 1 user message, got %d", len(messages))
	}
	if !strings.Contains(messages[0].Content, "Remove-Item -Path $env:TEMP -Recurse") {
		t.Error("Expected the script to travel inline in the message")
	}
	if len(messages[0].Attachments) != 0 {
		t.Errorf("Expected no attachments for a small script, got %d", len(messages[0].Attachments))
	}
	if len(server.Uploads()) != 0 {
		t.Errorf("Expected no uploads for a small script, got %d", len(server.Uploads()))
	}
}

func TestAnalyzeScript_EmptyContentRejected(t *testing.T) {
	server := testkit.NewAssistantsServer(testkit.ScriptedRun{})
	defer server.Close()

	a := newTestAnalyzer(server, Config{})

	_, err := a.AnalyzeScript(context.Background(), Request{Content: "   \n\t"})
	if err == nil {
		t.Fatal("Expected an error for empty content")
	}
	if !runerrors.Is(err, runerrors.ErrorTypeValidation) {
		t.Errorf("Expected a validation error, got %v", err)
	}
	if server.RunsStarted() != 0 {
		t.Errorf("Expected no runs for rejected input, got %d", server.RunsStarted())
	}
}

func TestAnalyzeScript_AttachmentFlow(t *testing.T) {
	server := testkit.NewAssistantsServer(testkit.ScriptedRun{
		Statuses:   []assistants.RunStatus{assistants.RunStatusCompleted},
		FinalReply: structuredReply,
	})
	defer server.Close()

	a := newTestAnalyzer(server, Config{InlineTokenBudget: 10})

	script := strings.Repeat("Get-Process | Where-Object { $_.CPU -gt 100 }\n", 20)
	resp, err := a.AnalyzeScript(context.Background(), Request{
		Content:  script,
		Filename: "hogs.ps1",
	})
	if err != nil {
		t.Fatalf("AnalyzeScript failed: %v", err)
	}
	if resp.Analysis == nil {
		t.Fatal("Expected an analysis")
	}

	uploads := server.Uploads()
	if len(uploads) != 1 {
		t.Fatalf("Expected 1 upload for an oversized script, got %d", len(uploads))
	}
	if uploads[0].Filename != "hogs.ps1" {
		t.Errorf("Expected upload filename hogs.ps1, got %q", uploads[0].Filename)
	}

	messages := server.UserMessages()
	if len(messages) != 1 {
		t.Fatalf("Expected 1 user message, got %d", len(messages))
	}
	if strings.Contains(messages[0].Content, "Get-Process") {
		t.Error("Expected the oversized script to be absent from the message body")
	}
	if len(messages[0].Attachments) != 1 {
		t.Fatalf("Expected 1 attachment, got %d", len(messages[0].Attachments))
	}
	attachment := messages[0].Attachments[0]
	if attachment.FileID == "" {
		t.Error("Expected the attachment to reference the uploaded file")
	}
	if len(attachment.Tools) != 1 || attachment.Tools[0].Type != "file_search" {
		t.Errorf("Expected a file_search attachment tool, got %+v", attachment.Tools)
	}
}

func TestAnalyzeScript_ThreadBusy(t *testing.T) {
	server := testkit.NewAssistantsServer(testkit.ScriptedRun{
		Statuses:   []assistants.RunStatus{assistants.RunStatusCompleted},
		FinalReply: structuredReply,
	})
	defer server.Close()

	a := newTestAnalyzer(server, Config{})

	// The first thread the server hands out. Holding its guard simulates an
	// analysis already in flight for the session.
	release, err := a.acquireThread("thread_mock_1")
	if err != nil {
		t.Fatalf("Failed to acquire idle thread: %v", err)
	}

	_, err = a.AnalyzeScript(context.Background(), Request{
		Content:    "Get-Service",
		SessionKey: "busy-session",
	})
	if !runerrors.IsThreadBusy(err) {
		t.Fatalf("Expected a thread-busy error, got %v", err)
	}
	if server.RunsStarted() != 0 {
		t.Errorf("Expected no runs while the thread is busy, got %d", server.RunsStarted())
	}

	release()

	if _, err := a.AnalyzeScript(context.Background(), Request{
		Content:    "Get-Service",
		SessionKey: "busy-session",
	}); err != nil {
		t.Fatalf("Expected the released thread to accept work: %v", err)
	}
}

func TestAcquireThread(t *testing.T) {
	a := &Analyzer{inFlight: make(map[string]struct{})}

	release, err := a.acquireThread("thread_a")
	if err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}

	if _, err := a.acquireThread("thread_a"); !runerrors.IsThreadBusy(err) {
		t.Errorf("Expected thread_busy on second acquire, got %v", err)
	}
	if _, err := a.acquireThread("thread_b"); err != nil {
		t.Errorf("Expected a different thread to acquire freely, got %v", err)
	}

	release()
	if _, err := a.acquireThread("thread_a"); err != nil {
		t.Errorf("Expected acquire after release to succeed, got %v", err)
	}
}

func TestAnalyzeScript_HeuristicFallback(t *testing.T) {
	server := testkit.NewAssistantsServer(testkit.ScriptedRun{
		Statuses: []assistants.RunStatus{assistants.RunStatusCompleted},
		FinalReply: "Purpose: Lists running services on the host.\n" +
			"Security Score: 70\n" +
			"Code Quality Score: 65\n" +
			"Risk Score: 30\n",
	})
	defer server.Close()

	a := newTestAnalyzer(server, Config{})

	resp, err := a.AnalyzeScript(context.Background(), Request{Content: "Get-Service"})
	if err != nil {
		t.Fatalf("AnalyzeScript failed: %v", err)
	}
	if resp.Analysis.Purpose != "Lists running services on the host." {
		t.Errorf("Unexpected purpose: %q", resp.Analysis.Purpose)
	}
	if resp.Analysis.SecurityScore != 70 {
		t.Errorf("Expected security score 70, got %d", resp.Analysis.SecurityScore)
	}
	if resp.Analysis.CodeQualityScore != 65 {
		t.Errorf("Expected quality score 65, got %d", resp.Analysis.CodeQualityScore)
	}
}

func TestAnalyzeScript_NoReplyIsProtocolViolation(t *testing.T) {
	server := testkit.NewAssistantsServer(testkit.ScriptedRun{
		Statuses: []assistants.RunStatus{assistants.RunStatusCompleted},
	})
	defer server.Close()

	a := newTestAnalyzer(server, Config{})

	_, err := a.AnalyzeScript(context.Background(), Request{Content: "Get-Service"})
	if !runerrors.IsProtocolViolation(err) {
		t.Fatalf("Expected a protocol violation for a reply-less run, got %v", err)
	}
}

func TestAnalyzeScript_RunFailure(t *testing.T) {
	server := testkit.NewAssistantsServer(testkit.ScriptedRun{
		Statuses:  []assistants.RunStatus{assistants.RunStatusFailed},
		LastError: &assistants.RunError{Code: "server_error", Message: "model crashed"},
	})
	defer server.Close()

	tmpDir := t.TempDir()
	events, err := eventlog.NewWriter(tmpDir, 0)
	if err != nil {
		t.Fatalf("Failed to create event log: %v", err)
	}
	defer events.Close()

	a := newTestAnalyzer(server, Config{Events: events})

	_, err = a.AnalyzeScript(context.Background(), Request{
		RequestID: "req-fail",
		Content:   "Get-Service",
	})
	if !runerrors.IsRunTerminalFailure(err) {
		t.Fatalf("Expected a terminal-failure error, got %v", err)
	}

	records, err := eventlog.ReadRecords(events.CurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read event log: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Status != "failed" {
		t.Errorf("Expected status failed, got %q", records[0].Status)
	}
	if records[0].ErrorType != "run_terminal_failure" {
		t.Errorf("Expected error type run_terminal_failure, got %q", records[0].ErrorType)
	}
}

func TestAnalyzeScript_WritesEventRecord(t *testing.T) {
	server := testkit.NewAssistantsServer(testkit.ScriptedRun{
		Statuses:   []assistants.RunStatus{assistants.RunStatusCompleted},
		FinalReply: structuredReply,
	})
	defer server.Close()

	tmpDir := t.TempDir()
	events, err := eventlog.NewWriter(tmpDir, 0)
	if err != nil {
		t.Fatalf("Failed to create event log: %v", err)
	}
	defer events.Close()

	a := newTestAnalyzer(server, Config{Events: events})

	resp, err := a.AnalyzeScript(context.Background(), Request{
		RequestID:  "req-42",
		Content:    "Remove-Item -Path $env:TEMP -Recurse",
		Filename:   "cleanup.ps1",
		SessionKey: "ops-session",
	})
	if err != nil {
		t.Fatalf("AnalyzeScript failed: %v", err)
	}

	records, err := eventlog.ReadRecords(events.CurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read event log: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.RequestID != "req-42" {
		t.Errorf("Expected request id req-42, got %q", rec.RequestID)
	}
	if rec.Mode != ModeAssistant {
		t.Errorf("Expected mode %q, got %q", ModeAssistant, rec.Mode)
	}
	if rec.Status != "completed" {
		t.Errorf("Expected status completed, got %q", rec.Status)
	}
	if rec.ThreadID != resp.ThreadID {
		t.Errorf("Expected thread id %q, got %q", resp.ThreadID, rec.ThreadID)
	}
	if rec.RunID == "" {
		t.Error("Expected a run id in the record")
	}
	if rec.SecurityScore != 85 {
		t.Errorf("Expected security score 85, got %d", rec.SecurityScore)
	}
	if rec.DurationMs < 0 {
		t.Errorf("Expected a non-negative duration, got %d", rec.DurationMs)
	}
}

func TestAnalyzeScript_SessionContinuity(t *testing.T) {
	server := testkit.NewAssistantsServer(testkit.ScriptedRun{
		Statuses:   []assistants.RunStatus{assistants.RunStatusCompleted},
		FinalReply: structuredReply,
	})
	defer server.Close()

	a := newTestAnalyzer(server, Config{})

	first, err := a.AnalyzeScript(context.Background(), Request{
		Content:    "Get-Service",
		SessionKey: "ops-session",
	})
	if err != nil {
		t.Fatalf("First analysis failed: %v", err)
	}

	second, err := a.AnalyzeScript(context.Background(), Request{
		Content:    "Restart-Service -Name Spooler",
		SessionKey: "ops-session",
	})
	if err != nil {
		t.Fatalf("Second analysis failed: %v", err)
	}

	if first.ThreadID != second.ThreadID {
		t.Errorf("Expected the session to reuse thread %s, got %s", first.ThreadID, second.ThreadID)
	}
	if len(server.UserMessages()) != 2 {
		t.Errorf("Expected 2 user messages on the thread, got %d", len(server.UserMessages()))
	}
}
