package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/asaengine/pkg/types"
)

func newSeededPromptStore() *fakePromptStore {
	store := &fakePromptStore{versions: map[string]*types.PromptVersion{}}
	for _, pv := range defaultPrompts {
		pv := pv
		store.versions[key(pv.Purpose, pv.SemanticVersion)] = &pv
	}
	return store
}

func TestGenerateBehavioralTestReturnsCommand(t *testing.T) {
	provider := &fakeProvider{response: CompletionResponse{Text: `{"test_command": "pytest tests/test_bug.py"}`}}
	gw := NewGateway(map[string]ProviderClient{"anthropic": provider}, &fakeStore{}, newSeededPromptStore(), Budgets{
		MaxTokensPerTask: 100000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)
	fa := NewFixAssistant(gw)

	cmd, err := fa.GenerateBehavioralTest(context.Background(), &types.Task{ID: "t1", RepoURL: "https://github.com/acme/widgets", BugDescription: "crash on nil"})
	require.NoError(t, err)
	assert.Equal(t, "pytest tests/test_bug.py", cmd)
}

func TestGenerateBehavioralTestRejectsMissingField(t *testing.T) {
	provider := &fakeProvider{response: CompletionResponse{Text: `{}`}}
	gw := NewGateway(map[string]ProviderClient{"anthropic": provider}, &fakeStore{}, newSeededPromptStore(), Budgets{
		MaxTokensPerTask: 100000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)
	fa := NewFixAssistant(gw)

	_, err := fa.GenerateBehavioralTest(context.Background(), &types.Task{ID: "t1", BugDescription: "crash"})
	require.Error(t, err)
}

func TestGenerateFixDecodesPatchSet(t *testing.T) {
	body := `{"patches":[{"file_path":"main.go","operation":"replace","start_line":10,"end_line":12,"replacement_text":"fixed()","description":"guard nil"}],"rationale":"add nil check","confidence":0.85,"bug_summary":"nil deref"}`
	provider := &fakeProvider{response: CompletionResponse{Text: body}}
	gw := NewGateway(map[string]ProviderClient{"anthropic": provider}, &fakeStore{}, newSeededPromptStore(), Budgets{
		MaxTokensPerTask: 100000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)
	fa := NewFixAssistant(gw)

	ps, err := fa.GenerateFix(context.Background(), &types.Task{ID: "t1", BugDescription: "crash"}, "func main() {}")
	require.NoError(t, err)
	require.Len(t, ps.Patches, 1)
	assert.Equal(t, "main.go", ps.Patches[0].FilePath)
	assert.Equal(t, types.PatchReplace, ps.Patches[0].Operation)
	assert.Equal(t, 10, ps.Patches[0].StartLine)
	assert.InDelta(t, 0.85, ps.Confidence, 0.001)
}

func TestGenerateFixRejectsMissingPatches(t *testing.T) {
	provider := &fakeProvider{response: CompletionResponse{Text: `{"rationale":"x","confidence":0.5,"bug_summary":"y"}`}}
	gw := NewGateway(map[string]ProviderClient{"anthropic": provider}, &fakeStore{}, newSeededPromptStore(), Budgets{
		MaxTokensPerTask: 100000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)
	fa := NewFixAssistant(gw)

	_, err := fa.GenerateFix(context.Background(), &types.Task{ID: "t1"}, "code")
	require.Error(t, err)
}

func TestGuardianCheckParsesAllowedAndReason(t *testing.T) {
	provider := &fakeProvider{response: CompletionResponse{Text: `{"allowed": false, "reason": "touches unrelated file"}`}}
	gw := NewGateway(map[string]ProviderClient{"anthropic": provider}, &fakeStore{}, newSeededPromptStore(), Budgets{
		MaxTokensPerTask: 100000, MaxCostPerTaskUSD: 100, MaxCostPerPrincipalPerDay: 100,
	}, time.Second)
	fa := NewFixAssistant(gw)

	allowed, reason, err := fa.GuardianCheck(context.Background(), &types.Task{ID: "t1", BugDescription: "crash"}, types.PatchSet{BugSummary: "nil deref"})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "touches unrelated file", reason)
}

func TestSeedPromptsWritesDefaultsOnce(t *testing.T) {
	store := &fakePromptStore{versions: map[string]*types.PromptVersion{}}
	writer := &trackingPromptWriter{fakePromptStore: store}

	require.NoError(t, SeedPrompts(context.Background(), writer))
	assert.Equal(t, len(defaultPrompts), writer.saves)

	require.NoError(t, SeedPrompts(context.Background(), writer))
	assert.Equal(t, len(defaultPrompts), writer.saves, "second seed call should not rewrite existing versions")
}

type trackingPromptWriter struct {
	*fakePromptStore
	saves int
}

func (w *trackingPromptWriter) SavePromptVersion(ctx context.Context, pv types.PromptVersion) error {
	w.saves++
	w.versions[key(pv.Purpose, pv.SemanticVersion)] = &pv
	return nil
}

func (w *trackingPromptWriter) LoadPromptVersion(ctx context.Context, purpose types.Purpose, version string) (*types.PromptVersion, error) {
	pv, ok := w.versions[key(purpose, version)]
	if !ok {
		return nil, nil
	}
	return pv, nil
}
