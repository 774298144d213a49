package llm

import (
	"context"

	"github.com/cuemby/asaengine/pkg/types"
)

// defaultPrompts are the v1 prompt versions FixAssistant expects to find in
// the configured PromptStore. SeedPrompts writes them if absent so a fresh
// deployment works without an out-of-band prompt-loading step.
var defaultPrompts = []types.PromptVersion{
	{
		Purpose:         types.PurposeBehavioralTestGeneration,
		SemanticVersion: promptVersionV1,
		SchemaVersion:   "1",
		SystemPrompt:    "You write a single shell command that reproduces a reported bug by failing when the bug is present and passing once it is fixed. Respond with JSON only.",
		UserPromptTemplate: `Repository: {{.RepoURL}}
Bug description: {{.BugDescription}}
Existing test command (may be empty): {{.TestCommand}}

Respond with JSON: {"test_command": "<shell command>"}`,
		OutputSchema: "test_command",
	},
	{
		Purpose:         types.PurposeFixGeneration,
		SemanticVersion: promptVersionV1,
		SchemaVersion:   "1",
		SystemPrompt:    "You generate a minimal patch set that fixes a reported bug without changing unrelated behavior. Respond with JSON only.",
		UserPromptTemplate: `Bug description: {{.BugDescription}}

Relevant code:
{{.CodeContext}}

Latest test output:
{{.TestOutput}}

Respond with JSON: {"patches": [{"file_path": "...", "operation": "replace|insert|delete", "start_line": N, "end_line": N, "replacement_text": "...", "description": "..."}], "rationale": "...", "confidence": 0.0-1.0, "bug_summary": "..."}`,
		OutputSchema: "patches,rationale,confidence,bug_summary",
	},
	{
		Purpose:         types.PurposeGuardian,
		SemanticVersion: promptVersionV1,
		SchemaVersion:   "1",
		SystemPrompt:    "You review a proposed patch set for scope creep, destructive operations, and anything unrelated to the reported bug. Respond with JSON only.",
		UserPromptTemplate: `Bug description: {{.BugDescription}}

Proposed patch summary:
{{.PatchSummary}}

Respond with JSON: {"allowed": true|false, "reason": "..."}`,
		OutputSchema: "allowed,reason",
	},
}

// PromptWriter is the subset of durable storage SeedPrompts needs.
type PromptWriter interface {
	LoadPromptVersion(ctx context.Context, purpose types.Purpose, version string) (*types.PromptVersion, error)
	SavePromptVersion(ctx context.Context, pv types.PromptVersion) error
}

// SeedPrompts writes every default prompt version that is not already
// present in store, leaving any operator-edited version untouched.
func SeedPrompts(ctx context.Context, store PromptWriter) error {
	for _, pv := range defaultPrompts {
		existing, err := store.LoadPromptVersion(ctx, pv.Purpose, pv.SemanticVersion)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := store.SavePromptVersion(ctx, pv); err != nil {
			return err
		}
	}
	return nil
}
