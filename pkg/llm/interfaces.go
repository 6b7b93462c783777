// Package llm provides a uniform gateway over multiple LLM provider backends.
package llm

import "context"

// Message is one turn of a chat conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request describes a completion call. Model overrides the configured model
// when set. ConversationID never reaches the provider; it scopes the
// response cache so conversations stay isolated.
type Request struct {
	Messages       []Message
	SystemPrompt   string
	MaxTokens      int
	Temperature    float64
	Model          string
	Tools          []ToolDefinition
	ConversationID string
}

// FunctionCall is a validated tool invocation returned by a provider.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Completion is the structured result of a completion call. Exactly one of
// Content or FunctionCall is meaningful when tools were offered; Content
// alone otherwise.
type Completion struct {
	Content      string
	FunctionCall *FunctionCall
	TokensIn     int
	TokensOut    int
	Model        string
	FinishReason string
}

// TotalTokens returns the combined prompt and completion token count.
func (c *Completion) TotalTokens() int {
	return c.TokensIn + c.TokensOut
}

// Provider is a single model backend. Implementations wrap one vendor SDK
// and translate its errors into *Error.
type Provider interface {
	// Complete performs one completion call without retries.
	Complete(ctx context.Context, req *Request) (*Completion, error)

	// Name identifies the provider for the ai_engine response field.
	Name() string

	// Model returns the default model name.
	Model() string
}

// Client is the gateway interface the rest of the system depends on.
// Use this for dependency injection to enable mocking in tests.
type Client interface {
	// Complete generates a completion with retries, circuit breaking, and a
	// per-call wall-time cap. It never returns an empty-content success:
	// empty content with a stop finish surfaces as ErrorTypeEmptyResponse.
	Complete(ctx context.Context, req *Request) (*Completion, error)

	// CompleteWithTools generates a completion offering the given tools and
	// validates any returned function call against its schema.
	CompleteWithTools(ctx context.Context, req *Request) (*Completion, error)

	// Name identifies the active provider.
	Name() string

	// Model returns the configured model name.
	Model() string
}

// Ensure Gateway implements Client at compile time.
var _ Client = (*Gateway)(nil)
