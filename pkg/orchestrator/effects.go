package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/metrics"
	"github.com/cuemby/asaengine/pkg/types"
)

type effectFunc func(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error)

var effects = map[types.State]effectFunc{
	types.StateInit:                  effectInit,
	types.StateCloningRepo:           effectCloningRepo,
	types.StateIndexingCode:          effectIndexingCode,
	types.StateVerifyingBugBehavior:  effectVerifyingBugBehavior,
	types.StateRunningTestsBeforeFix: effectRunningTestsBeforeFix,
	types.StateGeneratingFix:         effectGeneratingFix,
	types.StateRunningTestsAfterFix:  effectRunningTestsAfterFix,
	types.StateVerifyingFixBehavior:  effectVerifyingFixBehavior,
	types.StateCreatingPRBranch:      effectCreatingPRBranch,
}

func (o *Orchestrator) runEffect(ctx context.Context, state types.State, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error) {
	if state == types.StateQueued {
		return types.SignalSuccess, nil, nil
	}
	fn, ok := effects[state]
	if !ok {
		return types.SignalFailure, nil, fmt.Errorf("no effect registered for state %s", state)
	}
	return fn(ctx, o, task, probe)
}

func checkCancel(probe CancelProbe) error {
	if probe != nil && probe() {
		return errCancelled
	}
	return nil
}

func effectInit(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error) {
	task.WorkspacePath = filepath.Join(o.cfg.WorkspaceBase, task.ID)
	return types.SignalSuccess, nil, nil
}

func effectCloningRepo(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error) {
	if err := checkCancel(probe); err != nil {
		return "", nil, err
	}
	if err := o.cloner.Clone(ctx, task.RepoURL, task.WorkspacePath, o.cfg.GitCloneTimeout); err != nil {
		kind := aerrors.Classify(err)
		return types.SignalFailure, map[string]string{"kind": string(kind)}, aerrors.New(kind, err, map[string]string{"repo_url": task.RepoURL})
	}
	return types.SignalSuccess, nil, nil
}

func effectIndexingCode(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error) {
	if err := checkCancel(probe); err != nil {
		return "", nil, err
	}
	degraded, err := o.index.Build(ctx, task.WorkspacePath)
	if err != nil {
		return types.SignalFailure, nil, aerrors.New(aerrors.KindSandboxFailed, err, nil)
	}
	meta := map[string]string{}
	if degraded {
		meta["degraded"] = "lexical_fallback"
	}
	return types.SignalSuccess, meta, nil
}

func effectVerifyingBugBehavior(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error) {
	if err := checkCancel(probe); err != nil {
		return "", nil, err
	}
	// GenerateBehavioralTest returns a self-contained command the sandbox
	// can execute directly (e.g. a pytest invocation against a synthesized
	// test file it also writes) rather than raw test source, so no
	// separate write-then-invoke step is needed here. BehavioralTestPath
	// holds that command string so VerifyingFixBehavior can re-run the
	// identical check later.
	testCommand, err := o.gateway.GenerateBehavioralTest(ctx, task)
	if err != nil {
		return types.SignalFailure, nil, err
	}
	task.BehavioralTestPath = testCommand

	if err := checkCancel(probe); err != nil {
		return "", nil, err
	}
	timer := metrics.NewTimer()
	result, err := o.runner.RunCommand(ctx, task.WorkspacePath, testCommand, o.cfg.TestRunTimeout, o.cfg.SandboxNetworkDisabled)
	timer.ObserveDurationVec(metrics.TestRunDuration, "verify_bug_behavior")
	if err != nil {
		return types.SignalFailure, nil, aerrors.New(aerrors.KindSandboxFailed, err, nil)
	}
	if result.Passed() {
		return types.SignalBugNotFound, nil, nil
	}
	return types.SignalBugConfirmed, nil, nil
}

func effectRunningTestsBeforeFix(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error) {
	signal, meta, err := runUserTests(ctx, o, task, probe, types.SignalTestsFail, types.SignalTestsPass, "tests_before_fix")
	if err == nil && signal == types.SignalTestsPass {
		meta = map[string]string{"no_bug_observed": "true"}
	}
	return signal, meta, err
}

func effectRunningTestsAfterFix(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error) {
	return runUserTests(ctx, o, task, probe, types.SignalTestsFail, types.SignalTestsPass, "tests_after_fix")
}

func runUserTests(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe, onFail, onPass types.Signal, phase string) (types.Signal, map[string]string, error) {
	if err := checkCancel(probe); err != nil {
		return "", nil, err
	}
	timer := metrics.NewTimer()
	result, err := o.runner.RunCommand(ctx, task.WorkspacePath, task.TestCommand, o.cfg.TestRunTimeout, o.cfg.SandboxNetworkDisabled)
	timer.ObserveDurationVec(metrics.TestRunDuration, phase)
	if err != nil {
		return types.SignalFailure, nil, aerrors.New(aerrors.KindSandboxFailed, err, nil)
	}

	task.LastTestOutput = tail(result.Stdout+"\n"+result.Stderr, o.cfg.TestOutputTailBytes)

	if result.Passed() {
		return onPass, nil, nil
	}
	return onFail, nil, nil
}

func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func effectGeneratingFix(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error) {
	if err := checkCancel(probe); err != nil {
		return "", nil, err
	}
	codeContext, err := o.index.Context(ctx, task.WorkspacePath, task.BugDescription)
	if err != nil {
		return types.SignalFailure, nil, aerrors.New(aerrors.KindSandboxFailed, err, nil)
	}

	if err := checkCancel(probe); err != nil {
		return "", nil, err
	}
	ps, err := o.gateway.GenerateFix(ctx, task, codeContext)
	if err != nil {
		return types.SignalFailure, nil, err
	}

	allowed, reason, err := o.gateway.GuardianCheck(ctx, task, ps)
	if err != nil {
		return types.SignalFailure, nil, err
	}
	if !allowed {
		return types.SignalFailure, map[string]string{"guardian_reason": reason}, aerrors.New(aerrors.KindGuardianRejected, nil, map[string]string{"reason": reason})
	}

	if err := o.patcher.Validate(&ps, false); err != nil {
		return types.SignalFailure, nil, aerrors.New(aerrors.KindParseError, err, nil)
	}
	if err := o.patcher.Apply(&ps); err != nil {
		return types.SignalFailure, nil, err
	}

	meta := map[string]string{
		"patch_count": fmt.Sprintf("%d", len(ps.Patches)),
		"confidence":  fmt.Sprintf("%.2f", ps.Confidence),
	}
	return types.SignalSuccess, meta, nil
}

func effectVerifyingFixBehavior(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error) {
	if err := checkCancel(probe); err != nil {
		return "", nil, err
	}
	if task.BehavioralTestPath == "" {
		return types.SignalFixValidated, nil, nil
	}
	timer := metrics.NewTimer()
	result, err := o.runner.RunCommand(ctx, task.WorkspacePath, task.BehavioralTestPath, o.cfg.TestRunTimeout, o.cfg.SandboxNetworkDisabled)
	timer.ObserveDurationVec(metrics.TestRunDuration, "verify_fix_behavior")
	if err != nil {
		return types.SignalFixInvalid, map[string]string{"error": err.Error()}, nil
	}
	if result.Passed() {
		return types.SignalFixValidated, nil, nil
	}
	return types.SignalFixInvalid, nil, nil
}

func effectCreatingPRBranch(ctx context.Context, o *Orchestrator, task *types.Task, probe CancelProbe) (types.Signal, map[string]string, error) {
	if err := checkCancel(probe); err != nil {
		return "", nil, err
	}

	branch := fmt.Sprintf("asa/fix-%s", task.ID)
	message := fmt.Sprintf("Fix: %s", task.BugDescription)

	if err := o.vcs.CreateBranch(ctx, task.WorkspacePath, branch); err != nil {
		return types.SignalFailure, nil, aerrors.New(aerrors.KindGitAuthenticationFailed, err, nil)
	}
	if err := o.vcs.CommitAll(ctx, task.WorkspacePath, message); err != nil {
		return types.SignalFailure, nil, aerrors.New(aerrors.KindGitAuthenticationFailed, err, nil)
	}
	task.BranchName = branch

	// Push and PR-publication failures are non-fatal: the fix is preserved
	// locally and the task still completes.
	meta := map[string]string{"branch": branch}
	if err := o.vcs.Push(ctx, task.WorkspacePath, branch); err != nil {
		meta["push_error"] = err.Error()
		return types.SignalSuccess, meta, nil
	}

	prURL, err := o.vcs.CreatePullRequest(ctx, task.RepoURL, branch, message, task.BugDescription)
	if err != nil {
		meta["pr_error"] = err.Error()
		return types.SignalSuccess, meta, nil
	}
	task.PRURL = prURL
	meta["pr_url"] = prURL
	return types.SignalSuccess, meta, nil
}
