package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/metrics"
	"github.com/cuemby/asaengine/pkg/types"
)

// purposeModels is the static Purpose -> ModelConfig pinning table. Every
// caller goes through a Purpose; nothing downstream ever names a model
// directly.
var purposeModels = map[types.Purpose]types.ModelConfig{
	types.PurposeFixGeneration: {
		Provider: "anthropic", Model: "claude-sonnet-4-6", Version: "2026-01",
		MaxTokensPerCall: 8192, MaxCallsPerTask: 6, Temperature: 0.2,
	},
	types.PurposeCodeAnalysis: {
		Provider: "anthropic", Model: "claude-sonnet-4-6", Version: "2026-01",
		MaxTokensPerCall: 4096, MaxCallsPerTask: 4, Temperature: 0.0,
	},
	types.PurposeBugDetection: {
		Provider: "anthropic", Model: "claude-sonnet-4-6", Version: "2026-01",
		MaxTokensPerCall: 4096, MaxCallsPerTask: 3, Temperature: 0.0,
	},
	types.PurposeTestGeneration: {
		Provider: "anthropic", Model: "claude-haiku-4-6", Version: "2026-01",
		MaxTokensPerCall: 4096, MaxCallsPerTask: 4, Temperature: 0.3,
	},
	types.PurposeCodeReview: {
		Provider: "local", Model: "local-llama-3-70b", Version: "2026-01",
		MaxTokensPerCall: 4096, MaxCallsPerTask: 2, Temperature: 0.1,
	},
	types.PurposeSemanticSearch: {
		Provider: "local", Model: "local-llama-3-70b", Version: "2026-01",
		MaxTokensPerCall: 2048, MaxCallsPerTask: 8, Temperature: 0.0,
	},
	types.PurposeBehavioralTestGeneration: {
		Provider: "anthropic", Model: "claude-haiku-4-6", Version: "2026-01",
		MaxTokensPerCall: 4096, MaxCallsPerTask: 2, Temperature: 0.2,
	},
	types.PurposeGuardian: {
		Provider: "anthropic", Model: "claude-haiku-4-6", Version: "2026-01",
		MaxTokensPerCall: 2048, MaxCallsPerTask: 3, Temperature: 0.0,
	},
}

// ModelConfigFor exposes the pinning table for callers that need to know
// a purpose's config without making a call.
func ModelConfigFor(purpose types.Purpose) (types.ModelConfig, bool) {
	cfg, ok := purposeModels[purpose]
	return cfg, ok
}

// Gateway is the sole conduit for outbound LLM calls.
type Gateway struct {
	providers map[string]ProviderClient
	breakers  map[string]*aerrors.Breaker
	store     UsageStore
	promptStore PromptStore
	prompts   *promptCache
	budgets   Budgets
	callTimeout time.Duration
	logger    zerolog.Logger

	mu         sync.Mutex
	callCounts map[string]map[types.Purpose]int // taskID -> purpose -> count
}

// NewGateway wires a Gateway from its provider adapters (keyed by the
// "provider" field of purposeModels, e.g. "anthropic", "local"), the
// durable usage/prompt stores, and the budgets to enforce.
func NewGateway(providers map[string]ProviderClient, store UsageStore, promptStore PromptStore, budgets Budgets, callTimeout time.Duration) *Gateway {
	breakers := make(map[string]*aerrors.Breaker, len(providers))
	for name := range providers {
		breakers[name] = aerrors.NewBreaker("llm:"+name, 5, 30*time.Second)
	}
	return &Gateway{
		providers:   providers,
		breakers:    breakers,
		store:       store,
		promptStore: promptStore,
		prompts:     newPromptCache(),
		budgets:     budgets,
		callTimeout: callTimeout,
		logger:      log.WithComponent("llm"),
		callCounts:  make(map[string]map[types.Purpose]int),
	}
}

// Chat issues a single completion call for purpose, after the pre-call
// budget checks, and returns the raw text. It takes no per-call metadata;
// the UsageRecords it writes carry only the fields of UsageRecordInput.
func (g *Gateway) Chat(ctx context.Context, taskID, principal string, purpose types.Purpose, messages []Message, maxTokens int, temperature float64) (string, error) {
	cfg, ok := purposeModels[purpose]
	if !ok {
		return "", aerrors.New(aerrors.KindInvalidInput, nil, map[string]string{"purpose": string(purpose)})
	}
	if maxTokens <= 0 || maxTokens > cfg.MaxTokensPerCall {
		maxTokens = cfg.MaxTokensPerCall
	}
	if temperature == 0 {
		temperature = cfg.Temperature
	}

	g.mu.Lock()
	if g.callCounts[taskID] == nil {
		g.callCounts[taskID] = make(map[types.Purpose]int)
	}
	count := g.callCounts[taskID][purpose]
	g.mu.Unlock()

	if err := g.checkBudget(ctx, taskID, principal, purpose, cfg, count); err != nil {
		return "", err
	}

	provider, ok := g.providers[cfg.Provider]
	if !ok {
		return "", fmt.Errorf("no provider client registered for %q", cfg.Provider)
	}
	breaker := g.breakers[cfg.Provider]

	var resp CompletionResponse
	op := func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()

		attemptStart := time.Now()
		r, opErr := provider.Complete(callCtx, CompletionRequest{
			Model:       cfg.Model,
			Messages:    messages,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
		g.recordAttempt(ctx, taskID, principal, purpose, cfg, r, time.Since(attemptStart), opErr)
		if opErr == nil {
			resp = r
		}
		return opErr
	}

	breakerOp := func(ctx context.Context) error {
		if breaker == nil {
			return op(ctx)
		}
		return breaker.Do(ctx, op)
	}

	err := aerrors.Retry(ctx, g.logger.With().Str("purpose", string(purpose)).Logger(), breakerOp, nil)

	g.mu.Lock()
	g.callCounts[taskID][purpose] = count + 1
	g.mu.Unlock()

	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// recordAttempt persists one UsageRecord and the matching metric
// observations for a single provider call attempt, success or failure.
// spec.md's LLM usage audit requires a row per attempt, not per Chat call,
// so a task that retries twice before succeeding leaves three rows.
func (g *Gateway) recordAttempt(ctx context.Context, taskID, principal string, purpose types.Purpose, cfg types.ModelConfig, resp CompletionResponse, latency time.Duration, attemptErr error) {
	status := "success"
	if attemptErr != nil {
		status = "error"
	}
	metrics.LLMCallsTotal.WithLabelValues(string(purpose), cfg.Model, status).Inc()
	metrics.LLMCallDuration.WithLabelValues(string(purpose)).Observe(latency.Seconds())

	usageCost := cost(cfg.Model, resp.PromptTokens, resp.CompletionTokens)
	if attemptErr == nil {
		metrics.LLMTokensTotal.WithLabelValues(string(purpose), cfg.Model).Add(float64(resp.PromptTokens + resp.CompletionTokens))
		metrics.LLMCostUSDTotal.WithLabelValues(string(purpose), cfg.Model).Add(usageCost)
	}

	record := UsageRecordInput{
		TaskID:           taskID,
		Principal:        principal,
		Purpose:          purpose,
		Model:            cfg.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		CostUSD:          usageCost,
		LatencyMS:        latency.Milliseconds(),
		Success:          attemptErr == nil,
	}
	if attemptErr != nil {
		record.ErrorText = attemptErr.Error()
	}
	if recErr := g.store.RecordUsage(ctx, record); recErr != nil {
		g.logger.Error().Err(recErr).Str("task_id", taskID).Msg("failed to persist usage record")
	}
}

// ChatWithPrompt loads a versioned prompt, renders it with vars, issues
// the call, and parses+validates the JSON response against the prompt's
// output schema.
func (g *Gateway) ChatWithPrompt(ctx context.Context, taskID, principal string, purpose types.Purpose, version string, vars map[string]any) (map[string]any, error) {
	pv, err := g.loadPrompt(ctx, purpose, version)
	if err != nil {
		return nil, err
	}

	rendered, err := renderPrompt(pv, vars)
	if err != nil {
		return nil, aerrors.New(aerrors.KindParseError, err, nil)
	}

	messages := []Message{{Role: "user", Content: rendered}}
	if pv.SystemPrompt != "" {
		messages = append([]Message{{Role: "system", Content: pv.SystemPrompt}}, messages...)
	}

	maxTokens := 0
	temperature := 0.0
	if pv.ModelConfigOverride != nil {
		maxTokens = pv.ModelConfigOverride.MaxTokensPerCall
		temperature = pv.ModelConfigOverride.Temperature
	}

	raw, err := g.Chat(ctx, taskID, principal, purpose, messages, maxTokens, temperature)
	if err != nil {
		return nil, err
	}

	return validateOutput(pv.OutputSchema, raw)
}
