package assistants

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/pkg/logx"
	"conductor/pkg/retry"
)

// threadClientTag identifies threads created by this service in API metadata.
const threadClientTag = "conductor"

// CacheConfig carries the identity used when provisioning the assistant.
type CacheConfig struct {
	AssistantName      string
	Model              string
	Instructions       string
	Tools              []ToolSpec
	DefaultAssistantID string
	Metadata           map[string]string
}

// Cache provisions and reuses the expensive remote entities: one assistant per
// configured identity and one thread per session key. Remote calls happen
// outside the lock, so concurrent first requests for the same session may
// race; the first stored winner is reused and the loser's thread is abandoned.
type Cache struct {
	client Client
	policy retry.Policy
	logger *logx.Logger
	cfg    CacheConfig

	mu         sync.Mutex
	assistants map[string]*Assistant // by assistant id
	createdID  string                // id of the assistant we created ourselves
	threads    map[string]string     // session key -> thread id
}

// NewCache creates an entity cache over the given client. The retry policy
// wraps provisioning calls (retrieve, create, update).
func NewCache(client Client, policy retry.Policy, cfg CacheConfig) *Cache {
	return &Cache{
		client:     client,
		policy:     policy,
		logger:     logx.NewLogger("entity-cache"),
		cfg:        cfg,
		assistants: make(map[string]*Assistant),
		threads:    make(map[string]string),
	}
}

// EnsureAssistant returns a ready assistant, provisioning it on first use.
// An explicit overrideID takes precedence over the configured default id;
// when an id is known the assistant is retrieved and its instructions and
// tool manifest refreshed, otherwise a new assistant is created. Retrieval
// failures for an explicitly requested id propagate to the caller; a
// configured default that has gone away is replaced with a fresh assistant.
func (c *Cache) EnsureAssistant(ctx context.Context, overrideID string) (*Assistant, error) {
	id := overrideID
	if id == "" {
		id = c.cfg.DefaultAssistantID
	}

	c.mu.Lock()
	if id != "" {
		if cached, ok := c.assistants[id]; ok {
			c.mu.Unlock()
			return cached, nil
		}
	}
	if overrideID == "" && c.createdID != "" {
		cached := c.assistants[c.createdID]
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	manifest := AssistantConfig{
		Name:         c.cfg.AssistantName,
		Model:        c.cfg.Model,
		Instructions: c.cfg.Instructions,
		Tools:        c.cfg.Tools,
		Metadata:     c.cfg.Metadata,
	}

	var assistant *Assistant
	var err error
	if id != "" {
		assistant, err = retry.DoValue(ctx, c.policy, "assistant retrieve", func(ctx context.Context) (*Assistant, error) {
			return c.client.RetrieveAssistant(ctx, id)
		})
		switch {
		case err == nil:
			// Refresh instructions and tool manifest so a stale stored
			// assistant picks up the current tool set.
			assistant, err = retry.DoValue(ctx, c.policy, "assistant update", func(ctx context.Context) (*Assistant, error) {
				return c.client.UpdateAssistant(ctx, id, manifest)
			})
			if err != nil {
				return nil, err
			}
			c.logger.Info("Reusing assistant %s", assistant.ID)
		case overrideID != "":
			// The caller named this assistant; deciding for them would hide
			// a typo or a revoked id.
			return nil, err
		default:
			c.logger.Warn("Configured assistant %s unavailable, creating a replacement: %v", id, err)
			assistant = nil
		}
	}
	created := false
	if assistant == nil {
		assistant, err = retry.DoValue(ctx, c.policy, "assistant create", func(ctx context.Context) (*Assistant, error) {
			return c.client.CreateAssistant(ctx, manifest)
		})
		if err != nil {
			return nil, err
		}
		created = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.assistants[assistant.ID]; ok {
		return existing, nil
	}
	c.assistants[assistant.ID] = assistant
	if created && c.createdID == "" {
		c.createdID = assistant.ID
	}
	return assistant, nil
}

// EnsureThread returns the thread id for a session, creating the thread on
// first use. An empty sessionID gets a generated one, producing a fresh
// single-use thread. Cached threads are revalidated against the API and
// recreated if they have gone away.
func (c *Cache) EnsureThread(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
		c.logger.Debug("No session id supplied, generated %s", sessionID)
	}

	c.mu.Lock()
	threadID, ok := c.threads[sessionID]
	c.mu.Unlock()

	if ok {
		_, err := c.client.RetrieveThread(ctx, threadID)
		if err == nil {
			return threadID, nil
		}
		c.logger.Warn("Cached thread %s for session %s no longer valid, recreating: %v", threadID, sessionID, err)
		c.mu.Lock()
		delete(c.threads, sessionID)
		c.mu.Unlock()
	}

	metadata := map[string]string{
		"session_id": sessionID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"client":     threadClientTag,
	}
	thread, err := retry.DoValue(ctx, c.policy, "thread create", func(ctx context.Context) (*Thread, error) {
		return c.client.CreateThread(ctx, metadata)
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if winner, ok := c.threads[sessionID]; ok {
		return winner, nil
	}
	c.threads[sessionID] = thread.ID
	c.logger.Info("Created thread %s for session %s", thread.ID, sessionID)
	return thread.ID, nil
}
