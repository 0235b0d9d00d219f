package config

import (
	"os"

	"conductor/pkg/logx"
)

// Search provider environment variable names.
// Add new providers here as they're supported.
const (
	// EnvGoogleSearchAPIKey is the environment variable for Google Custom Search API key.
	EnvGoogleSearchAPIKey = "GOOGLE_SEARCH_API_KEY"
	// EnvGoogleSearchCX is the environment variable for Google Custom Search Engine ID.
	EnvGoogleSearchCX = "GOOGLE_SEARCH_CX"
)

// SearchProviderType identifies which search provider is preferred.
type SearchProviderType string

// Search provider type constants.
const (
	SearchProviderNone       SearchProviderType = ""
	SearchProviderGoogle     SearchProviderType = "google"
	SearchProviderDuckDuckGo SearchProviderType = "duckduckgo"
)

// SearchAPIStatus contains information about available search APIs.
type SearchAPIStatus struct {
	Available    bool               // Whether any search API is available
	Provider     SearchProviderType // Preferred provider (empty if none)
	GoogleAPIKey string             // Google API key (if available)
	GoogleCX     string             // Google Custom Search Engine ID (if available)
}

// DetectSearchAPIs checks environment variables and returns status of available search APIs.
// Google Custom Search is preferred when keys are present; the DuckDuckGo instant-answer
// API needs no key and is always available as a fallback.
// This function is idempotent and can be called multiple times.
func DetectSearchAPIs() SearchAPIStatus {
	status := SearchAPIStatus{}

	// Check Google Custom Search (highest priority)
	googleAPIKey := os.Getenv(EnvGoogleSearchAPIKey)
	googleCX := os.Getenv(EnvGoogleSearchCX)
	if googleAPIKey != "" && googleCX != "" {
		status.Available = true
		status.Provider = SearchProviderGoogle
		status.GoogleAPIKey = googleAPIKey
		status.GoogleCX = googleCX
		return status
	}

	// Keyless fallback.
	status.Available = true
	status.Provider = SearchProviderDuckDuckGo
	return status
}

// IsSearchEnabled determines if web search should be enabled based on config.
// Returns false only when config explicitly disables search (search.enabled = false);
// otherwise search is on, falling back to the keyless provider when Google keys
// are missing. Logs a warning in the fallback case so operators know result
// quality is degraded.
func IsSearchEnabled(cfg *Config) bool {
	logger := logx.NewLogger("config")

	if cfg != nil && cfg.Search != nil && cfg.Search.Enabled != nil && !*cfg.Search.Enabled {
		return false
	}

	status := DetectSearchAPIs()
	if status.Provider != SearchProviderGoogle {
		logger.Warn("Web search using keyless fallback provider. Set %s and %s for better results.",
			EnvGoogleSearchAPIKey, EnvGoogleSearchCX)
	}
	return true
}

// GetSearchProvider returns the preferred search provider type.
func GetSearchProvider() SearchProviderType {
	return DetectSearchAPIs().Provider
}
