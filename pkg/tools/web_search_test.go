package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeProvider is a scriptable SearchProvider for tool-level tests.
type fakeProvider struct {
	name    string
	results []SearchResult
	err     error
	calls   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(_ context.Context, _ string, _ int) ([]SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// searchEnvelope mirrors the JSON shape Exec answers with.
type searchEnvelope struct {
	Success     bool           `json:"success"`
	Query       string         `json:"query"`
	Provider    string         `json:"provider"`
	ResultCount int            `json:"result_count"`
	Results     []SearchResult `json:"results"`
	Note        string         `json:"note"`
}

func decodeSearchResult(t *testing.T, result *ExecResult) searchEnvelope {
	t.Helper()
	var envelope searchEnvelope
	if err := json.Unmarshal([]byte(result.Content), &envelope); err != nil {
		t.Fatalf("Failed to decode tool output: %v\nOutput: %s", err, result.Content)
	}
	return envelope
}

func TestSearchInternetTool_Definition(t *testing.T) {
	tool := NewSearchInternetTool(false)

	if tool.Name() != ToolSearchInternet {
		t.Errorf("Name() = %q, want %q", tool.Name(), ToolSearchInternet)
	}

	def := tool.Definition()
	if def.Name != ToolSearchInternet {
		t.Errorf("Definition().Name = %q, want %q", def.Name, ToolSearchInternet)
	}

	// Check that query parameter is required
	if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "query" {
		t.Errorf("Expected 'query' to be required, got: %v", def.InputSchema.Required)
	}

	// Check that query property exists
	if _, ok := def.InputSchema.Properties["query"]; !ok {
		t.Error("Expected 'query' property in input schema")
	}
}

func TestSearchInternetTool_Exec_MissingQuery(t *testing.T) {
	tool := NewSearchInternetTool(false)

	// Test with missing query
	_, err := tool.Exec(context.Background(), map[string]any{})
	if err == nil {
		t.Error("Expected error for missing query parameter")
	}

	// Test with empty query
	_, err = tool.Exec(context.Background(), map[string]any{"query": ""})
	if err == nil {
		t.Error("Expected error for empty query parameter")
	}

	// Test with wrong type
	_, err = tool.Exec(context.Background(), map[string]any{"query": 123})
	if err == nil {
		t.Error("Expected error for non-string query parameter")
	}
}

// TestSearchInternetTool_DisabledInformational verifies a disabled tool still
// answers so the agent does not hit an unknown-tool error.
func TestSearchInternetTool_DisabledInformational(t *testing.T) {
	tool := NewSearchInternetTool(false)

	result, err := tool.Exec(context.Background(), map[string]any{"query": "Remove-Item safety"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	envelope := decodeSearchResult(t, result)
	if !envelope.Success {
		t.Error("Expected success=true in informational response")
	}
	if envelope.Query != "Remove-Item safety" {
		t.Errorf("Expected query echoed back, got %q", envelope.Query)
	}
	if len(envelope.Results) != 1 || envelope.Results[0].Title != "Web search not available" {
		t.Errorf("Expected informational result, got: %+v", envelope.Results)
	}
}

// TestSearchInternetTool_CapsResults verifies the tool never forwards more than
// maxSearchResults results even when a provider over-delivers.
func TestSearchInternetTool_CapsResults(t *testing.T) {
	results := make([]SearchResult, 0, 8)
	for i := 0; i < 8; i++ {
		results = append(results, SearchResult{
			Title:   fmt.Sprintf("Result %d", i),
			Snippet: "snippet",
			Link:    fmt.Sprintf("https://example.com/%d", i),
		})
	}
	primary := &fakeProvider{name: "google", results: results}
	tool := NewSearchInternetToolWithProviders(primary, nil)

	result, err := tool.Exec(context.Background(), map[string]any{"query": "execution policy"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	envelope := decodeSearchResult(t, result)
	if envelope.ResultCount != maxSearchResults {
		t.Errorf("Expected result_count %d, got %d", maxSearchResults, envelope.ResultCount)
	}
	if len(envelope.Results) != maxSearchResults {
		t.Errorf("Expected %d results, got %d", maxSearchResults, len(envelope.Results))
	}
	if envelope.Provider != "google" {
		t.Errorf("Expected provider 'google', got %q", envelope.Provider)
	}
}

// TestSearchInternetTool_FallbackOnPrimaryFailure verifies the fallback
// provider answers when the primary errors.
func TestSearchInternetTool_FallbackOnPrimaryFailure(t *testing.T) {
	primary := &fakeProvider{name: "google", err: errors.New("quota exceeded")}
	fallback := &fakeProvider{name: "duckduckgo", results: []SearchResult{
		{Title: "PowerShell", Snippet: "Task automation framework", Link: "https://example.com"},
	}}
	tool := NewSearchInternetToolWithProviders(primary, fallback)

	result, err := tool.Exec(context.Background(), map[string]any{"query": "powershell"})
	if err != nil {
		t.Fatalf("Expected fallback to answer, got error: %v", err)
	}

	envelope := decodeSearchResult(t, result)
	if primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("Expected one call to each provider, got primary=%d fallback=%d",
			primary.calls, fallback.calls)
	}
	if envelope.ResultCount != 1 {
		t.Errorf("Expected 1 result from fallback, got %d", envelope.ResultCount)
	}
}

// TestSearchInternetTool_BothProvidersFail verifies a search error surfaces as
// a handler error for the registry to contain.
func TestSearchInternetTool_BothProvidersFail(t *testing.T) {
	primary := &fakeProvider{name: "google", err: errors.New("quota exceeded")}
	fallback := &fakeProvider{name: "duckduckgo", err: errors.New("offline")}
	tool := NewSearchInternetToolWithProviders(primary, fallback)

	_, err := tool.Exec(context.Background(), map[string]any{"query": "powershell"})
	if err == nil {
		t.Fatal("Expected error when both providers fail")
	}
	if !strings.Contains(err.Error(), "search failed") {
		t.Errorf("Expected 'search failed' error, got: %v", err)
	}
}

// TestSearchInternetTool_NoResultsNote verifies an empty result set carries a
// note instead of a bare empty list.
func TestSearchInternetTool_NoResultsNote(t *testing.T) {
	primary := &fakeProvider{name: "duckduckgo"}
	tool := NewSearchInternetToolWithProviders(primary, nil)

	result, err := tool.Exec(context.Background(), map[string]any{"query": "zxqvw"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	envelope := decodeSearchResult(t, result)
	if envelope.ResultCount != 0 {
		t.Errorf("Expected 0 results, got %d", envelope.ResultCount)
	}
	if !strings.Contains(envelope.Note, "No results found") {
		t.Errorf("Expected no-results note, got %q", envelope.Note)
	}
}

func TestGoogleSearchProvider_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("key") != "test-key" {
			t.Errorf("Expected key 'test-key', got %q", query.Get("key"))
		}
		if query.Get("cx") != "test-cx" {
			t.Errorf("Expected cx 'test-cx', got %q", query.Get("cx"))
		}
		if query.Get("q") != "Remove-Item -Recurse safety" {
			t.Errorf("Expected escaped query, got %q", query.Get("q"))
		}
		if query.Get("num") != "5" {
			t.Errorf("Expected num=5, got %q", query.Get("num"))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"items": [
				{"title": "Remove-Item docs", "link": "https://learn.microsoft.com/remove-item", "snippet": "Deletes items."},
				{"title": "Recurse pitfalls", "link": "https://example.com/pitfalls", "snippet": "Common mistakes."}
			]
		}`))
	}))
	defer server.Close()

	provider := NewGoogleSearchProvider("test-key", "test-cx")
	provider.baseURL = server.URL

	results, err := provider.Search(context.Background(), "Remove-Item -Recurse safety", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Title != "Remove-Item docs" || results[0].Link != "https://learn.microsoft.com/remove-item" {
		t.Errorf("Unexpected first result: %+v", results[0])
	}
}

func TestGoogleSearchProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "Daily limit exceeded"}}`))
	}))
	defer server.Close()

	provider := NewGoogleSearchProvider("test-key", "test-cx")
	provider.baseURL = server.URL

	_, err := provider.Search(context.Background(), "anything", 5)
	if err == nil {
		t.Fatal("Expected error from API error response")
	}
	if !strings.Contains(err.Error(), "Daily limit exceeded") {
		t.Errorf("Expected API error message, got: %v", err)
	}
}

func TestDuckDuckGoProvider_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("User-Agent"), "Conductor") {
			t.Errorf("Expected Conductor User-Agent, got %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Query().Get("format") != "json" {
			t.Errorf("Expected format=json, got %q", r.URL.Query().Get("format"))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"Heading": "PowerShell",
			"AbstractText": "PowerShell is a task automation framework.",
			"AbstractURL": "https://en.wikipedia.org/wiki/PowerShell",
			"RelatedTopics": [
				{"Text": "PowerShell Core - cross-platform edition", "FirstURL": "https://example.com/core"},
				{"Text": "Windows PowerShell ISE", "FirstURL": "https://example.com/ise"}
			]
		}`))
	}))
	defer server.Close()

	provider := NewDuckDuckGoProvider()
	provider.baseURL = server.URL

	results, err := provider.Search(context.Background(), "powershell", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	// Abstract first, then related topics up to the cap.
	if len(results) != 2 {
		t.Fatalf("Expected 2 results (capped), got %d", len(results))
	}
	if results[0].Title != "PowerShell" || results[0].Link != "https://en.wikipedia.org/wiki/PowerShell" {
		t.Errorf("Unexpected abstract result: %+v", results[0])
	}
	if !strings.Contains(results[1].Snippet, "PowerShell Core") {
		t.Errorf("Expected first related topic second, got: %+v", results[1])
	}
}
