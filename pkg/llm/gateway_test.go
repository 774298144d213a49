package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/asaengine/pkg/types"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	failN    int // fail the first failN calls
	response CompletionResponse
	err      error
}

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return CompletionResponse{}, f.err
	}
	return f.response, nil
}

type fakeStore struct {
	mu       sync.Mutex
	records  []UsageRecordInput
	tokens   int
	taskCost float64
	dayCost  float64
}

func (s *fakeStore) RecordUsage(ctx context.Context, rec UsageRecordInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) SumTokensForTask(ctx context.Context, taskID string) (int, error) {
	return s.tokens, nil
}

func (s *fakeStore) SumCostForTask(ctx context.Context, taskID string) (float64, error) {
	return s.taskCost, nil
}

func (s *fakeStore) SumCostForPrincipalSince(ctx context.Context, principal string, since time.Time) (float64, error) {
	return s.dayCost, nil
}

type fakePromptStore struct {
	versions map[string]*types.PromptVersion
}

func (p *fakePromptStore) LoadPromptVersion(ctx context.Context, purpose types.Purpose, version string) (*types.PromptVersion, error) {
	pv, ok := p.versions[key(purpose, version)]
	if !ok {
		return nil, assert.AnError
	}
	return pv, nil
}

func TestChatSuccessRecordsUsage(t *testing.T) {
	provider := &fakeProvider{response: CompletionResponse{Text: "fixed it", PromptTokens: 100, CompletionTokens: 50}}
	store := &fakeStore{}
	gw := NewGateway(map[string]ProviderClient{"anthropic": provider}, store, &fakePromptStore{}, Budgets{
		MaxTokensPerTask: 100000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)

	text, err := gw.Chat(context.Background(), "task-1", "alice", types.PurposeFixGeneration, []Message{{Role: "user", Content: "fix this"}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "fixed it", text)
	require.Len(t, store.records, 1)
	assert.True(t, store.records[0].Success)
	assert.Greater(t, store.records[0].CostUSD, 0.0)
}

func TestChatRejectsUnknownPurpose(t *testing.T) {
	gw := NewGateway(nil, &fakeStore{}, &fakePromptStore{}, Budgets{}, time.Second)
	_, err := gw.Chat(context.Background(), "task-1", "", types.Purpose("nonsense"), nil, 0, 0)
	require.Error(t, err)
}

func TestChatEnforcesTaskTokenBudget(t *testing.T) {
	store := &fakeStore{tokens: 999999}
	gw := NewGateway(map[string]ProviderClient{"anthropic": &fakeProvider{}}, store, &fakePromptStore{}, Budgets{
		MaxTokensPerTask: 1000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)

	_, err := gw.Chat(context.Background(), "task-1", "", types.PurposeFixGeneration, nil, 0, 0)
	require.Error(t, err)
}

func TestChatEnforcesPerPurposeCallCount(t *testing.T) {
	provider := &fakeProvider{response: CompletionResponse{Text: "ok"}}
	store := &fakeStore{}
	gw := NewGateway(map[string]ProviderClient{"local": provider}, store, &fakePromptStore{}, Budgets{
		MaxTokensPerTask: 100000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)

	cfg := purposeModels[types.PurposeSemanticSearch]
	for i := 0; i < cfg.MaxCallsPerTask; i++ {
		_, err := gw.Chat(context.Background(), "task-1", "", types.PurposeSemanticSearch, []Message{{Role: "user", Content: "q"}}, 0, 0)
		require.NoError(t, err)
	}

	_, err := gw.Chat(context.Background(), "task-1", "", types.PurposeSemanticSearch, []Message{{Role: "user", Content: "q"}}, 0, 0)
	require.Error(t, err)
}

func TestChatRetriesTransientProviderFailure(t *testing.T) {
	provider := &fakeProvider{failN: 1, err: assertTimeoutErr{}, response: CompletionResponse{Text: "ok", PromptTokens: 1, CompletionTokens: 1}}
	store := &fakeStore{}
	gw := NewGateway(map[string]ProviderClient{"anthropic": provider}, store, &fakePromptStore{}, Budgets{
		MaxTokensPerTask: 100000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)

	text, err := gw.Chat(context.Background(), "task-1", "", types.PurposeFixGeneration, []Message{{Role: "user", Content: "q"}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, provider.calls)
}

type assertTimeoutErr struct{}

func (assertTimeoutErr) Error() string { return "context deadline exceeded while calling provider" }

func TestChatWithPromptValidatesOutputSchema(t *testing.T) {
	pv := &types.PromptVersion{
		Purpose:            types.PurposeBugDetection,
		SemanticVersion:    "v1",
		SystemPrompt:       "you are a bug finder",
		UserPromptTemplate: "find the bug in {{.Code}}",
		OutputSchema:       "bug_found,confidence",
	}
	prompts := &fakePromptStore{versions: map[string]*types.PromptVersion{key(pv.Purpose, pv.SemanticVersion): pv}}
	provider := &fakeProvider{response: CompletionResponse{Text: `{"bug_found": true, "confidence": 0.9}`, PromptTokens: 10, CompletionTokens: 5}}
	store := &fakeStore{}
	gw := NewGateway(map[string]ProviderClient{"anthropic": provider}, store, prompts, Budgets{
		MaxTokensPerTask: 100000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)

	out, err := gw.ChatWithPrompt(context.Background(), "task-1", "", types.PurposeBugDetection, "v1", map[string]any{"Code": "func f() {}"})
	require.NoError(t, err)
	assert.Equal(t, true, out["bug_found"])
}

func TestChatWithPromptRejectsMissingSchemaField(t *testing.T) {
	pv := &types.PromptVersion{
		Purpose:            types.PurposeBugDetection,
		SemanticVersion:    "v1",
		UserPromptTemplate: "find the bug in {{.Code}}",
		OutputSchema:       "bug_found,confidence",
	}
	prompts := &fakePromptStore{versions: map[string]*types.PromptVersion{key(pv.Purpose, pv.SemanticVersion): pv}}
	provider := &fakeProvider{response: CompletionResponse{Text: `{"bug_found": true}`}}
	store := &fakeStore{}
	gw := NewGateway(map[string]ProviderClient{"anthropic": provider}, store, prompts, Budgets{
		MaxTokensPerTask: 100000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)

	_, err := gw.ChatWithPrompt(context.Background(), "task-1", "", types.PurposeBugDetection, "v1", map[string]any{"Code": "x"})
	require.Error(t, err)
}
