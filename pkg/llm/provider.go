package llm

import "context"

// Message is one turn in a chat-style completion request.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// CompletionRequest is a provider-agnostic call to a pinned model.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the normalized result of a CompletionRequest.
type CompletionResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// ProviderClient is the boundary the gateway calls through. Every concrete
// adapter (Anthropic, langchaingo-backed local models) implements this and
// nothing else about the provider leaks into the gateway.
type ProviderClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
