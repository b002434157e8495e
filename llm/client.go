package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/attacklens/attacklens/taskerr"
)

// Client wraps a provider with the circuit breaker and response cache.
type Client struct {
	provider Provider
	breaker  *CircuitBreaker
	cache    ResponseCache
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCache replaces the response cache.
func WithCache(cache ResponseCache) ClientOption {
	return func(c *Client) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns a client over the provider with a fresh breaker and an
// in-memory cache.
func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		breaker:  NewCircuitBreaker(),
		cache:    NewMemoryCache(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete returns a completion for the request, serving repeats from the
// cache. Cache keys hash the system and user prompts, so identical prompt
// pairs hit regardless of the surrounding request. An open breaker is a
// Transient error.
func (c *Client) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	const op = "llm.Client.Complete"

	key := CacheKey(req.Messages)
	if content, ok := c.cache.Get(ctx, key); ok {
		c.logger.Debug("llm cache hit")
		return &CompletionResponse{Content: content, Cached: true}, nil
	}

	if err := c.breaker.Allow(); err != nil {
		return nil, taskerr.NewTransient(op, err)
	}

	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()

	c.cache.Set(ctx, key, resp.Content)
	return resp, nil
}

// CacheKey hashes the system and user prompt contents.
func CacheKey(messages []Message) string {
	h := sha256.New()
	for _, m := range messages {
		if m.Role == RoleSystem || m.Role == RoleUser {
			h.Write([]byte(m.Role))
			h.Write([]byte{0})
			h.Write([]byte(m.Content))
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
