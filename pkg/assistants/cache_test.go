package assistants

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/runerrors"
)

func cacheConfig() CacheConfig {
	return CacheConfig{
		AssistantName: "PowerShell Analysis Assistant",
		Model:         "gpt-4o",
		Instructions:  "Analyze scripts.",
		Tools: []ToolSpec{
			{Type: "function", Function: &FunctionSpec{Name: "search_internet"}},
		},
		Metadata: map[string]string{"type": "powershell_expert", "version": "2.0"},
	}
}

func TestEnsureAssistantCreatesOnce(t *testing.T) {
	creates := 0
	var gotCfg AssistantConfig
	client := &mockClient{
		createAssistantFn: func(ctx context.Context, cfg AssistantConfig) (*Assistant, error) {
			creates++
			gotCfg = cfg
			return &Assistant{ID: "asst_new", Name: cfg.Name, Model: cfg.Model, Tools: cfg.Tools}, nil
		},
	}

	cache := NewCache(client, testPolicy(1), cacheConfig())

	first, err := cache.EnsureAssistant(context.Background(), "")
	require.NoError(t, err)
	second, err := cache.EnsureAssistant(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, creates, "assistant must be provisioned once and reused")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "PowerShell Analysis Assistant", gotCfg.Name)
	assert.Equal(t, "gpt-4o", gotCfg.Model)
	require.Len(t, gotCfg.Tools, 1)
	assert.Equal(t, "search_internet", gotCfg.Tools[0].Function.Name)
}

func TestEnsureAssistantReusesConfiguredID(t *testing.T) {
	retrieves, updates := 0, 0
	var updateCfg AssistantConfig
	client := &mockClient{
		retrieveAssistantFn: func(ctx context.Context, assistantID string) (*Assistant, error) {
			retrieves++
			assert.Equal(t, "asst_cfg", assistantID)
			return &Assistant{ID: assistantID, Name: "stale name"}, nil
		},
		updateAssistantFn: func(ctx context.Context, assistantID string, cfg AssistantConfig) (*Assistant, error) {
			updates++
			updateCfg = cfg
			return &Assistant{ID: assistantID, Name: cfg.Name, Tools: cfg.Tools}, nil
		},
	}

	cfg := cacheConfig()
	cfg.DefaultAssistantID = "asst_cfg"
	cache := NewCache(client, testPolicy(1), cfg)

	assistant, err := cache.EnsureAssistant(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "asst_cfg", assistant.ID)

	_, err = cache.EnsureAssistant(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, retrieves)
	assert.Equal(t, 1, updates, "stored assistant gets its manifest refreshed once")
	assert.Equal(t, "Analyze scripts.", updateCfg.Instructions)
}

func TestEnsureAssistantExplicitOverride(t *testing.T) {
	client := &mockClient{
		retrieveAssistantFn: func(ctx context.Context, assistantID string) (*Assistant, error) {
			return &Assistant{ID: assistantID}, nil
		},
		updateAssistantFn: func(ctx context.Context, assistantID string, cfg AssistantConfig) (*Assistant, error) {
			return &Assistant{ID: assistantID}, nil
		},
	}

	cfg := cacheConfig()
	cfg.DefaultAssistantID = "asst_cfg"
	cache := NewCache(client, testPolicy(1), cfg)

	assistant, err := cache.EnsureAssistant(context.Background(), "asst_override")
	require.NoError(t, err)
	assert.Equal(t, "asst_override", assistant.ID, "explicit id takes precedence over the configured default")
}

func TestEnsureAssistantExplicitRetrieveFailurePropagates(t *testing.T) {
	creates := 0
	client := &mockClient{
		retrieveAssistantFn: func(ctx context.Context, assistantID string) (*Assistant, error) {
			return nil, runerrors.NewAPIError(404, "not_found", "assistant not found")
		},
		createAssistantFn: func(ctx context.Context, cfg AssistantConfig) (*Assistant, error) {
			creates++
			return &Assistant{ID: "asst_new"}, nil
		},
	}

	cache := NewCache(client, testPolicy(2), cacheConfig())

	_, err := cache.EnsureAssistant(context.Background(), "asst_typo")
	require.Error(t, err)
	assert.True(t, runerrors.IsRetryExhausted(err))
	assert.Zero(t, creates, "an explicitly named assistant must not be silently replaced")
}

func TestEnsureAssistantDefaultRetrieveFailureCreatesReplacement(t *testing.T) {
	retrieves, creates := 0, 0
	client := &mockClient{
		retrieveAssistantFn: func(ctx context.Context, assistantID string) (*Assistant, error) {
			retrieves++
			return nil, runerrors.NewAPIError(404, "not_found", "assistant not found")
		},
		createAssistantFn: func(ctx context.Context, cfg AssistantConfig) (*Assistant, error) {
			creates++
			return &Assistant{ID: "asst_replacement", Name: cfg.Name}, nil
		},
	}

	cfg := cacheConfig()
	cfg.DefaultAssistantID = "asst_gone"
	cache := NewCache(client, testPolicy(1), cfg)

	first, err := cache.EnsureAssistant(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "asst_replacement", first.ID, "a vanished default falls through to creation")
	assert.Equal(t, 1, retrieves)
	assert.Equal(t, 1, creates)

	second, err := cache.EnsureAssistant(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "the replacement is cached for later calls")
	assert.Equal(t, 1, retrieves, "the dead default must not be retried on every call")
	assert.Equal(t, 1, creates)
}

func TestEnsureThreadCachesPerSession(t *testing.T) {
	creates := 0
	var gotMetadata map[string]string
	client := &mockClient{
		createThreadFn: func(ctx context.Context, metadata map[string]string) (*Thread, error) {
			creates++
			gotMetadata = metadata
			return &Thread{ID: "thread_" + metadata["session_id"], Metadata: metadata}, nil
		},
		retrieveThreadFn: func(ctx context.Context, threadID string) (*Thread, error) {
			return &Thread{ID: threadID}, nil
		},
	}

	cache := NewCache(client, testPolicy(1), cacheConfig())

	first, err := cache.EnsureThread(context.Background(), "sess-1")
	require.NoError(t, err)
	second, err := cache.EnsureThread(context.Background(), "sess-1")
	require.NoError(t, err)
	other, err := cache.EnsureThread(context.Background(), "sess-2")
	require.NoError(t, err)

	assert.Equal(t, first, second, "same session reuses its thread")
	assert.NotEqual(t, first, other, "distinct sessions get distinct threads")
	assert.Equal(t, 2, creates)

	assert.Equal(t, "sess-2", gotMetadata["session_id"])
	assert.Equal(t, "conductor", gotMetadata["client"])
	assert.NotEmpty(t, gotMetadata["created_at"])
}

func TestEnsureThreadRecreatesInvalidCached(t *testing.T) {
	creates := 0
	client := &mockClient{
		createThreadFn: func(ctx context.Context, metadata map[string]string) (*Thread, error) {
			creates++
			if creates == 1 {
				return &Thread{ID: "thread_old"}, nil
			}
			return &Thread{ID: "thread_new"}, nil
		},
		retrieveThreadFn: func(ctx context.Context, threadID string) (*Thread, error) {
			return nil, runerrors.NewAPIError(404, "not_found", "thread not found")
		},
	}

	cache := NewCache(client, testPolicy(1), cacheConfig())

	first, err := cache.EnsureThread(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "thread_old", first)

	second, err := cache.EnsureThread(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "thread_new", second, "a vanished thread is replaced on next use")
	assert.Equal(t, 2, creates)
}

func TestEnsureThreadGeneratesSessionID(t *testing.T) {
	creates := 0
	sessions := make(map[string]bool)
	client := &mockClient{
		createThreadFn: func(ctx context.Context, metadata map[string]string) (*Thread, error) {
			creates++
			require.NotEmpty(t, metadata["session_id"])
			sessions[metadata["session_id"]] = true
			return &Thread{ID: metadata["session_id"]}, nil
		},
	}

	cache := NewCache(client, testPolicy(1), cacheConfig())

	first, err := cache.EnsureThread(context.Background(), "")
	require.NoError(t, err)
	second, err := cache.EnsureThread(context.Background(), "")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "anonymous requests each get a fresh thread")
	assert.Equal(t, 2, creates)
	assert.Len(t, sessions, 2)
}
