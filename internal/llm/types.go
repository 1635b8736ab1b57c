package llm

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_completer.go -package=mocks paperqa/internal/llm Completer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAllProvidersFailed is returned when no provider produced a completion.
	ErrAllProvidersFailed = errors.New("all providers failed")
	// ErrQuotaExhausted is returned when every provider is cooling down after a hard quota error.
	ErrQuotaExhausted = errors.New("all providers are cooling down after quota exhaustion")
)

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions holds parameters for a completion request.
type CompletionOptions struct {
	// Temperature controls the randomness of the output.
	Temperature float32

	// MaxTokens specifies the maximum number of tokens to generate.
	// If 0, no limit is applied.
	MaxTokens int

	// PreferredProvider is tried first when set; the others remain fallbacks.
	PreferredProvider string

	// UseCache allows a cached response for an identical request.
	UseCache bool
}

// Completer produces a chat completion. Implementations own retries and provider fallback;
// callers issue one logical call and treat any error as final.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
}

// Provider is one backing chat model.
type Provider interface {
	Name() string
	Model() string
	ChatWithMessages(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
}

// StatusError is returned for non-2xx replies from a model server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status %d: %s", e.Code, e.Body)
}
