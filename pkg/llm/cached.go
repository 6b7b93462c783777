package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/cache"
)

// CachedClient wraps a Client with the AI-response cache. Plain completions
// with a clean stop are stored and replayed; tool calls always go to the
// provider because their results depend on live tool schemas.
type CachedClient struct {
	inner  Client
	cache  *cache.Layered
	logger *zap.Logger
}

// NewCachedClient decorates a client. A nil cache returns the client as is.
func NewCachedClient(inner Client, c *cache.Layered, logger *zap.Logger) Client {
	if c == nil {
		return inner
	}
	return &CachedClient{inner: inner, cache: c, logger: logger.Named("llm-cache")}
}

func (c *CachedClient) Name() string  { return c.inner.Name() }
func (c *CachedClient) Model() string { return c.inner.Model() }

// Complete serves from the cache when an identical prompt was answered
// before. Cache hits report zero token usage so replayed answers do not
// consume credits.
func (c *CachedClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	key := promptKey(req)
	if cached, ok := c.cache.GetAIResponse(ctx, key, c.inner.Model(), req.ConversationID); ok {
		c.logger.Debug("ai response cache hit")
		return &Completion{Content: cached, Model: c.inner.Model(), FinishReason: "stop"}, nil
	}

	completion, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if completion.FunctionCall == nil && completion.FinishReason == "stop" && completion.Content != "" {
		c.cache.SetAIResponse(ctx, key, c.inner.Model(), req.ConversationID, completion.Content)
	}
	return completion, nil
}

// CompleteWithTools bypasses the cache.
func (c *CachedClient) CompleteWithTools(ctx context.Context, req *Request) (*Completion, error) {
	return c.inner.CompleteWithTools(ctx, req)
}

// promptKey hashes the full conversational input so that distinct histories
// never collide on a shared question.
func promptKey(req *Request) string {
	h := sha256.New()
	h.Write([]byte(req.SystemPrompt))
	for _, m := range req.Messages {
		h.Write([]byte{0})
		h.Write([]byte(strings.ToLower(m.Role)))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}
