package llm

import (
	"context"
	"fmt"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/types"
)

// FixAssistant adapts a Gateway's generic ChatWithPrompt surface to the
// three purpose-specific calls the orchestrator's effects make, so
// pkg/orchestrator never has to know about prompt versions or JSON output
// schemas. It implements orchestrator.FixGateway by structural typing.
type FixAssistant struct {
	gateway *Gateway
}

// NewFixAssistant wraps gateway for orchestrator consumption.
func NewFixAssistant(gateway *Gateway) *FixAssistant {
	return &FixAssistant{gateway: gateway}
}

const promptVersionV1 = "v1"

// GenerateBehavioralTest asks for a self-contained shell command that
// reproduces the reported bug, such as a pytest/go test invocation the
// sandbox can execute directly.
func (f *FixAssistant) GenerateBehavioralTest(ctx context.Context, task *types.Task) (string, error) {
	out, err := f.gateway.ChatWithPrompt(ctx, task.ID, task.Principal, types.PurposeBehavioralTestGeneration, promptVersionV1, map[string]any{
		"RepoURL":        task.RepoURL,
		"BugDescription": task.BugDescription,
		"TestCommand":    task.TestCommand,
	})
	if err != nil {
		return "", err
	}
	cmd, ok := out["test_command"].(string)
	if !ok || cmd == "" {
		return "", aerrors.New(aerrors.KindLLMInvalidResponse, nil, map[string]string{"missing_field": "test_command"})
	}
	return cmd, nil
}

// GenerateFix asks for a patch set addressing the bug, grounded in
// codeContext gathered from the workspace index.
func (f *FixAssistant) GenerateFix(ctx context.Context, task *types.Task, codeContext string) (types.PatchSet, error) {
	out, err := f.gateway.ChatWithPrompt(ctx, task.ID, task.Principal, types.PurposeFixGeneration, promptVersionV1, map[string]any{
		"BugDescription": task.BugDescription,
		"CodeContext":    codeContext,
		"TestOutput":     task.LastTestOutput,
	})
	if err != nil {
		return types.PatchSet{}, err
	}
	return decodePatchSet(out)
}

// GuardianCheck asks a cheaper model to sanity-check a generated patch set
// before it is applied: scope creep, destructive operations, or edits
// outside the bug's blast radius are all grounds for rejection.
func (f *FixAssistant) GuardianCheck(ctx context.Context, task *types.Task, ps types.PatchSet) (bool, string, error) {
	out, err := f.gateway.ChatWithPrompt(ctx, task.ID, task.Principal, types.PurposeGuardian, promptVersionV1, map[string]any{
		"BugDescription": task.BugDescription,
		"PatchSummary":   summarizePatchSet(ps),
	})
	if err != nil {
		return false, "", err
	}
	allowed, _ := out["allowed"].(bool)
	reason, _ := out["reason"].(string)
	return allowed, reason, nil
}

func decodePatchSet(out map[string]any) (types.PatchSet, error) {
	rationale, _ := out["rationale"].(string)
	bugSummary, _ := out["bug_summary"].(string)
	confidence, _ := out["confidence"].(float64)

	rawPatches, ok := out["patches"].([]any)
	if !ok {
		return types.PatchSet{}, aerrors.New(aerrors.KindLLMInvalidResponse, nil, map[string]string{"missing_field": "patches"})
	}

	patches := make([]types.Patch, 0, len(rawPatches))
	for i, rp := range rawPatches {
		m, ok := rp.(map[string]any)
		if !ok {
			return types.PatchSet{}, aerrors.New(aerrors.KindLLMInvalidResponse, nil, map[string]string{"patch_index": fmt.Sprintf("%d", i)})
		}
		patches = append(patches, types.Patch{
			FilePath:        stringField(m, "file_path"),
			Operation:       types.PatchOperation(stringField(m, "operation")),
			StartLine:       intField(m, "start_line"),
			EndLine:         intField(m, "end_line"),
			ReplacementText: stringField(m, "replacement_text"),
			Description:     stringField(m, "description"),
		})
	}

	return types.PatchSet{
		Patches:    patches,
		Rationale:  rationale,
		Confidence: confidence,
		BugSummary: bugSummary,
	}, nil
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func intField(m map[string]any, key string) int {
	v, _ := m[key].(float64) // encoding/json decodes numbers as float64
	return int(v)
}

func summarizePatchSet(ps types.PatchSet) string {
	summary := ps.BugSummary
	for _, p := range ps.Patches {
		summary += fmt.Sprintf("\n- %s %s (lines %d-%d): %s", p.Operation, p.FilePath, p.StartLine, p.EndLine, p.Description)
	}
	return summary
}
