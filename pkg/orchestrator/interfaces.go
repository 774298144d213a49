package orchestrator

import (
	"context"
	"time"

	"github.com/cuemby/asaengine/pkg/types"
)

// Cloner allocates a workspace and shallow-clones a repository into it.
type Cloner interface {
	Clone(ctx context.Context, repoURL, dest string, timeout time.Duration) error
}

// Indexer builds a searchable view of a cloned workspace; an embedding
// index and a lexical fallback both satisfy this.
type Indexer interface {
	// Build indexes the workspace. degraded reports whether it fell back
	// to a simpler strategy (lexical instead of semantic) without failing
	// outright.
	Build(ctx context.Context, workspace string) (degraded bool, err error)
	// Context returns a best-effort code excerpt relevant to query, for
	// grounding a fix-generation prompt.
	Context(ctx context.Context, workspace, query string) (string, error)
}

// CommandResult is one sandboxed command's outcome.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Passed reports whether the command exited zero.
func (r CommandResult) Passed() bool { return r.ExitCode == 0 }

// SandboxRunner executes a command against a workspace under a timeout.
type SandboxRunner interface {
	RunCommand(ctx context.Context, workspace, command string, timeout time.Duration, networkDisabled bool) (CommandResult, error)
}

// FixGateway is the orchestrator's narrow view of the LLM gateway: just
// the three purpose-specific calls its effects make, so this package never
// has to know about ModelConfig, budgets, or prompt versions.
type FixGateway interface {
	GenerateBehavioralTest(ctx context.Context, task *types.Task) (testCode string, err error)
	GenerateFix(ctx context.Context, task *types.Task, codeContext string) (types.PatchSet, error)
	GuardianCheck(ctx context.Context, task *types.Task, ps types.PatchSet) (allowed bool, reason string, err error)
}

// PatchApplier validates and applies a PatchSet to a workspace.
type PatchApplier interface {
	Validate(ps *types.PatchSet, failFast bool) error
	Apply(ps *types.PatchSet) error
}

// VCSPublisher creates the fix's branch, commits the patched files, and
// opens a pull request. PR-publication failure is non-fatal to the task —
// effects.go only surfaces it as a logged metadata note.
type VCSPublisher interface {
	CreateBranch(ctx context.Context, workspace, branchName string) error
	CommitAll(ctx context.Context, workspace, message string) error
	Push(ctx context.Context, workspace, branchName string) error
	CreatePullRequest(ctx context.Context, repoURL, branchName, title, body string) (url string, err error)
}
