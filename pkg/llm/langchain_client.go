package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// LangchainClient adapts any langchaingo llms.Model (Ollama, local
// llama.cpp servers, etc.) to ProviderClient — the "self-hosted/local
// models" path semantic_search and code_review are pinned to.
type LangchainClient struct {
	model llms.Model
}

// NewLangchainClient wraps an already-constructed langchaingo model.
func NewLangchainClient(model llms.Model) *LangchainClient {
	return &LangchainClient{model: model}
}

func (c *LangchainClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var content []llms.MessageContent
	for _, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case "system":
			role = llms.ChatMessageTypeSystem
		case "assistant":
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	resp, err := c.model.GenerateContent(ctx, content,
		llms.WithMaxTokens(req.MaxTokens),
		llms.WithTemperature(req.Temperature),
		llms.WithModel(req.Model),
	)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("langchaingo generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("langchaingo generate: empty response")
	}

	choice := resp.Choices[0]
	promptTokens, _ := choice.GenerationInfo["PromptTokens"].(int)
	completionTokens, _ := choice.GenerationInfo["CompletionTokens"].(int)

	return CompletionResponse{
		Text:             choice.Content,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}, nil
}
