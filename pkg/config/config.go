// Package config provides JSON configuration loading with environment variable
// substitution and overrides for the conductor service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// AgentAPIConfig describes the remote conversational-agent API endpoint.
type AgentAPIConfig struct {
	BaseURL            string `json:"base_url"`
	APIKey             string `json:"api_key"`
	Model              string `json:"model"`
	AssistantName      string `json:"assistant_name"`
	DefaultAssistantID string `json:"default_assistant_id,omitempty"`
	RequestTimeoutSec  int    `json:"request_timeout_sec"`
}

// RunConfig tunes the run poll loop. All values are milliseconds.
type RunConfig struct {
	MaxTotalWaitMs   int `json:"max_total_wait_ms"`
	PollBaseDelayMs  int `json:"poll_base_delay_ms"`
	PollMaxDelayMs   int `json:"poll_max_delay_ms"`
	ReadErrorDelayMs int `json:"read_error_delay_ms"`
}

// RetryConfig tunes the backoff wrapper around remote calls.
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts"`
	BaseDelayMs int `json:"base_delay_ms"`
	MaxDelayMs  int `json:"max_delay_ms"`
}

// ServerConfig describes the HTTP edge.
type ServerConfig struct {
	Host                       string `json:"host"`
	Port                       int    `json:"port"`
	APIKey                     string `json:"api_key,omitempty"` // inbound X-API-Key expectation, empty disables the check
	GracefulShutdownTimeoutSec int    `json:"graceful_shutdown_timeout_sec"`
}

// SearchConfig controls the web search tool. A nil Enabled means auto-detect.
type SearchConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// AnalyzerConfig tunes prompt construction and the direct analysis path.
type AnalyzerConfig struct {
	DirectModel       string `json:"direct_model"`
	InlineTokenBudget int    `json:"inline_token_budget"`
}

// Config is the root configuration for the conductor service.
type Config struct {
	AgentAPI    AgentAPIConfig `json:"agent_api"`
	Run         RunConfig      `json:"run"`
	Retry       RetryConfig    `json:"retry"`
	Server      ServerConfig   `json:"server"`
	Search      *SearchConfig  `json:"search,omitempty"`
	Analyzer    AnalyzerConfig `json:"analyzer"`
	EventLogDir string         `json:"event_log_dir"`
	CatalogPath string         `json:"catalog_path,omitempty"`
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfig loads and validates configuration from a JSON file with environment
// variable substitution (${VAR} placeholders) and environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Replace environment variable placeholders.
	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1] // Remove ${ and }
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match // Return original if env var not found
	})

	var config Config
	if err := json.Unmarshal([]byte(dataStr), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	applyEnvOverrides(&config)
	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets flat environment variables override config fields,
// keyed by the upper-cased json tag path: SERVER_PORT, AGENT_API_API_KEY, ...
func applyEnvOverrides(config *Config) {
	v := reflect.ValueOf(config).Elem()
	applyEnvOverridesRecursive(v, v.Type(), "")
}

func applyEnvOverridesRecursive(v reflect.Value, t reflect.Type, prefix string) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		jsonTag := fieldType.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}
		fieldName := strings.Split(jsonTag, ",")[0]
		envKey := strings.ToUpper(prefix + fieldName)

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, field.Type(), envKey+"_")
			continue
		}

		if envValue := os.Getenv(envKey); envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		if val, err := parseInt(envValue); err == nil {
			field.SetInt(int64(val))
		}
	case reflect.Float64:
		if val, err := parseFloat(envValue); err == nil {
			field.SetFloat(val)
		}
	}
}

func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	if err != nil {
		return 0, fmt.Errorf("failed to parse int from '%s': %w", s, err)
	}
	return result, nil
}

func parseFloat(s string) (float64, error) {
	var result float64
	_, err := fmt.Sscanf(s, "%f", &result)
	if err != nil {
		return 0, fmt.Errorf("failed to parse float from '%s': %w", s, err)
	}
	return result, nil
}

// applyDefaults sets default values for missing configuration.
func applyDefaults(config *Config) {
	if config.AgentAPI.BaseURL == "" {
		config.AgentAPI.BaseURL = "https://api.openai.com/v1"
	}
	if config.AgentAPI.Model == "" {
		config.AgentAPI.Model = "gpt-4o"
	}
	if config.AgentAPI.AssistantName == "" {
		config.AgentAPI.AssistantName = "PowerShell Analysis Assistant"
	}
	if config.AgentAPI.RequestTimeoutSec == 0 {
		config.AgentAPI.RequestTimeoutSec = 60
	}

	if config.Run.MaxTotalWaitMs == 0 {
		config.Run.MaxTotalWaitMs = 300000 // 5 minutes
	}
	if config.Run.PollBaseDelayMs == 0 {
		config.Run.PollBaseDelayMs = 500
	}
	if config.Run.PollMaxDelayMs == 0 {
		config.Run.PollMaxDelayMs = 2000
	}
	if config.Run.ReadErrorDelayMs == 0 {
		config.Run.ReadErrorDelayMs = 2000
	}

	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 5
	}
	if config.Retry.BaseDelayMs == 0 {
		config.Retry.BaseDelayMs = 1000
	}
	if config.Retry.MaxDelayMs == 0 {
		config.Retry.MaxDelayMs = 10000
	}

	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8000
	}
	if config.Server.GracefulShutdownTimeoutSec == 0 {
		config.Server.GracefulShutdownTimeoutSec = 30
	}

	if config.Analyzer.DirectModel == "" {
		config.Analyzer.DirectModel = "gpt-4o"
	}
	if config.Analyzer.InlineTokenBudget == 0 {
		config.Analyzer.InlineTokenBudget = 8000
	}

	if config.EventLogDir == "" {
		config.EventLogDir = "logs"
	}
}

func validateConfig(config *Config) error {
	if config.AgentAPI.APIKey == "" {
		return fmt.Errorf("agent_api.api_key is required")
	}
	if strings.Contains(config.AgentAPI.APIKey, "${") {
		return fmt.Errorf("agent_api.api_key contains an unresolved placeholder; is the environment variable set?")
	}
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", config.Server.Port)
	}
	if config.Run.MaxTotalWaitMs < 0 || config.Retry.MaxAttempts < 0 {
		return fmt.Errorf("negative budgets are not allowed")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GracefulShutdownTimeout returns the shutdown drain budget.
func (s *ServerConfig) GracefulShutdownTimeout() time.Duration {
	return time.Duration(s.GracefulShutdownTimeoutSec) * time.Second
}

// RequestTimeout returns the per-request timeout for remote API calls.
func (a *AgentAPIConfig) RequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeoutSec) * time.Second
}

// MaxTotalWait returns the wall-clock budget for a single run.
func (r *RunConfig) MaxTotalWait() time.Duration {
	return time.Duration(r.MaxTotalWaitMs) * time.Millisecond
}

// PollBaseDelay returns the initial poll sleep.
func (r *RunConfig) PollBaseDelay() time.Duration {
	return time.Duration(r.PollBaseDelayMs) * time.Millisecond
}

// PollMaxDelay returns the poll sleep cap.
func (r *RunConfig) PollMaxDelay() time.Duration {
	return time.Duration(r.PollMaxDelayMs) * time.Millisecond
}

// ReadErrorDelay returns the fixed wait after a transient poll read failure.
func (r *RunConfig) ReadErrorDelay() time.Duration {
	return time.Duration(r.ReadErrorDelayMs) * time.Millisecond
}

// BaseDelay returns the initial backoff delay.
func (r *RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff delay cap.
func (r *RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}
