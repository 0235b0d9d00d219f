package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"conductor/pkg/config"
)

// ToolSearchInternet is the constant name for the web search tool.
const ToolSearchInternet = "search_internet"

// maxSearchResults caps how many results a search returns to the agent.
const maxSearchResults = 5

// SearchResult represents a single search result from any provider.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// SearchProvider defines the interface for web search backends.
type SearchProvider interface {
	// Name returns a human-readable name for the provider.
	Name() string
	// Search performs a web search and returns results.
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// SearchInternetTool lets the agent look up current information about
// commands, modules, and security advisories while analyzing a script.
type SearchInternetTool struct {
	provider SearchProvider
	fallback SearchProvider
}

// NewSearchInternetTool creates the web search tool. When enabled is false the
// tool stays registered but answers every query with an informational result,
// so the agent learns search is unavailable instead of hitting an unknown-tool
// error.
func NewSearchInternetTool(enabled bool) *SearchInternetTool {
	if !enabled {
		return &SearchInternetTool{}
	}

	status := config.DetectSearchAPIs()
	tool := &SearchInternetTool{fallback: NewDuckDuckGoProvider()}
	if status.Provider == config.SearchProviderGoogle {
		tool.provider = NewGoogleSearchProvider(status.GoogleAPIKey, status.GoogleCX)
	} else {
		tool.provider = tool.fallback
		tool.fallback = nil
	}
	return tool
}

// NewSearchInternetToolWithProviders creates the tool with explicit providers.
// Useful for testing or overriding the default selection.
func NewSearchInternetToolWithProviders(primary, fallback SearchProvider) *SearchInternetTool {
	return &SearchInternetTool{provider: primary, fallback: fallback}
}

// Name returns the tool name.
func (t *SearchInternetTool) Name() string {
	return ToolSearchInternet
}

// Definition returns the tool definition for the agent manifest.
func (t *SearchInternetTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: ToolSearchInternet,
		Description: "Search the internet for current information about PowerShell commands, " +
			"modules, security advisories, or best practices relevant to the script under analysis.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {
					Type:        "string",
					Description: "Search query string (e.g., 'Remove-Item -Recurse safety', 'PowerShell execution policy bypass')",
				},
			},
			Required: []string{"query"},
		},
	}
}

// Exec executes the web search tool.
func (t *SearchInternetTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("query is required and must be a string")
	}

	if t.provider == nil {
		return marshalResult(map[string]any{
			"success": true,
			"query":   query,
			"results": []SearchResult{{
				Title:   "Web search not available",
				Snippet: "Search is disabled or not configured for this deployment. Base the analysis on the script content alone.",
			}},
		})
	}

	results, err := t.provider.Search(ctx, query, maxSearchResults)
	if err != nil && t.fallback != nil {
		results, err = t.fallback.Search(ctx, query, maxSearchResults)
	}
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(results) > maxSearchResults {
		results = results[:maxSearchResults]
	}

	response := map[string]any{
		"success":      true,
		"query":        query,
		"provider":     t.provider.Name(),
		"result_count": len(results),
		"results":      results,
	}
	if len(results) == 0 {
		response["note"] = "No results found. Try a different search query or rephrase your question."
	}
	return marshalResult(response)
}

func marshalResult(response map[string]any) (*ExecResult, error) {
	content, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &ExecResult{Content: string(content)}, nil
}

// =============================================================================
// Google Custom Search Provider
// =============================================================================

// GoogleSearchProvider implements SearchProvider using Google Custom Search API.
type GoogleSearchProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cx         string
}

// NewGoogleSearchProvider creates a new Google Custom Search provider.
func NewGoogleSearchProvider(apiKey, cx string) *GoogleSearchProvider {
	return &GoogleSearchProvider{
		apiKey:  apiKey,
		cx:      cx,
		baseURL: "https://www.googleapis.com/customsearch/v1",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the provider name.
func (p *GoogleSearchProvider) Name() string {
	return "google"
}

type googleSearchItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type googleSearchError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type googleSearchResponse struct {
	Error *googleSearchError `json:"error"`
	Items []googleSearchItem `json:"items"`
}

// Search performs a web search using Google Custom Search API.
func (p *GoogleSearchProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	searchURL := fmt.Sprintf(
		"%s?key=%s&cx=%s&q=%s&num=%d",
		p.baseURL,
		url.QueryEscape(p.apiKey),
		url.QueryEscape(p.cx),
		url.QueryEscape(query),
		maxResults,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var googleResp googleSearchResponse
	if unmarshalErr := json.Unmarshal(body, &googleResp); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse response: %w", unmarshalErr)
	}
	if googleResp.Error != nil {
		return nil, fmt.Errorf("API error %d: %s", googleResp.Error.Code, googleResp.Error.Message)
	}

	results := make([]SearchResult, 0, len(googleResp.Items))
	for i := range googleResp.Items {
		item := &googleResp.Items[i]
		results = append(results, SearchResult{
			Title:   item.Title,
			Snippet: item.Snippet,
			Link:    item.Link,
		})
	}
	return results, nil
}

// =============================================================================
// DuckDuckGo Provider (Fallback)
// =============================================================================

// DuckDuckGoProvider implements SearchProvider using DuckDuckGo's Instant Answer API.
// NOTE: This is a fallback provider with limited functionality. It only returns
// encyclopedic/instant answers, not general web search results.
type DuckDuckGoProvider struct {
	httpClient *http.Client
	baseURL    string
}

// NewDuckDuckGoProvider creates a new DuckDuckGo provider.
func NewDuckDuckGoProvider() *DuckDuckGoProvider {
	return &DuckDuckGoProvider{
		baseURL: "https://api.duckduckgo.com/",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the provider name.
func (p *DuckDuckGoProvider) Name() string {
	return "duckduckgo"
}

type duckDuckGoResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
	Results []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"Results"`
}

// Search performs a search using DuckDuckGo's Instant Answer API.
func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1",
		p.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Conductor/1.0 (Script Analysis Service)")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var ddgResp duckDuckGoResponse
	if unmarshalErr := json.Unmarshal(body, &ddgResp); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse response: %w", unmarshalErr)
	}

	var results []SearchResult
	if ddgResp.AbstractText != "" {
		results = append(results, SearchResult{
			Title:   ddgResp.Heading,
			Snippet: ddgResp.AbstractText,
			Link:    ddgResp.AbstractURL,
		})
	}
	if ddgResp.Answer != "" {
		results = append(results, SearchResult{
			Title:   "Instant Answer",
			Snippet: ddgResp.Answer,
		})
	}
	for i := range ddgResp.RelatedTopics {
		topic := &ddgResp.RelatedTopics[i]
		if topic.Text != "" && len(results) < maxResults {
			results = append(results, SearchResult{
				Snippet: topic.Text,
				Link:    topic.FirstURL,
			})
		}
	}
	for i := range ddgResp.Results {
		ddgResult := &ddgResp.Results[i]
		if ddgResult.Text != "" && len(results) < maxResults {
			results = append(results, SearchResult{
				Snippet: ddgResult.Text,
				Link:    ddgResult.FirstURL,
			})
		}
	}
	return results, nil
}
