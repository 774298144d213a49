package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/types"
)

type memStore struct {
	mu       sync.Mutex
	task     *types.Task
	history  []types.StateContext
}

func (s *memStore) UpdateTask(ctx context.Context, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task = task
	return nil
}

func (s *memStore) AppendStateContext(ctx context.Context, taskID string, sc types.StateContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, sc)
	return nil
}

func (s *memStore) states() []types.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.State
	for _, sc := range s.history {
		out = append(out, sc.State)
	}
	return out
}

type stubCloner struct{ err error }

func (c stubCloner) Clone(ctx context.Context, repoURL, dest string, timeout time.Duration) error {
	return c.err
}

type stubIndexer struct{}

func (stubIndexer) Build(ctx context.Context, workspace string) (bool, error) { return false, nil }
func (stubIndexer) Context(ctx context.Context, workspace, query string) (string, error) {
	return "context", nil
}

type stubRunner struct {
	results []CommandResult
	i       int
}

func (r *stubRunner) RunCommand(ctx context.Context, workspace, command string, timeout time.Duration, networkDisabled bool) (CommandResult, error) {
	if r.i >= len(r.results) {
		return r.results[len(r.results)-1], nil
	}
	res := r.results[r.i]
	r.i++
	return res, nil
}

type stubGateway struct {
	fixCalls  int
	fixErrs   []error // per-call error, nil means success
	patchSet  types.PatchSet
}

func (g *stubGateway) GenerateBehavioralTest(ctx context.Context, task *types.Task) (string, error) {
	return "run-behavioral-test", nil
}

func (g *stubGateway) GenerateFix(ctx context.Context, task *types.Task, codeContext string) (types.PatchSet, error) {
	idx := g.fixCalls
	g.fixCalls++
	if idx < len(g.fixErrs) && g.fixErrs[idx] != nil {
		return types.PatchSet{}, g.fixErrs[idx]
	}
	return g.patchSet, nil
}

func (g *stubGateway) GuardianCheck(ctx context.Context, task *types.Task, ps types.PatchSet) (bool, string, error) {
	return true, "", nil
}

type stubPatcher struct{ err error }

func (p stubPatcher) Validate(ps *types.PatchSet, failFast bool) error { return nil }
func (p stubPatcher) Apply(ps *types.PatchSet) error                  { return p.err }

type stubVCS struct{}

func (stubVCS) CreateBranch(ctx context.Context, workspace, branch string) error { return nil }
func (stubVCS) CommitAll(ctx context.Context, workspace, message string) error  { return nil }
func (stubVCS) Push(ctx context.Context, workspace, branch string) error        { return nil }
func (stubVCS) CreatePullRequest(ctx context.Context, repoURL, branch, title, body string) (string, error) {
	return "https://example.com/pr/1", nil
}

func newTestOrchestrator(store TaskPersister, cloner Cloner, index Indexer, runner SandboxRunner, gw FixGateway, patcher PatchApplier, vcs VCSPublisher) *Orchestrator {
	return New(Config{
		BehavioralVerificationEnabled: false,
		TestOutputTailBytes:           4096,
		WorkspaceBase:                 "/tmp/asaengine-test",
		TestRunTimeout:                time.Second,
		GitCloneTimeout:               time.Second,
	}, store, cloner, index, runner, gw, patcher, vcs)
}

func TestHappyPath(t *testing.T) {
	store := &memStore{}
	runner := &stubRunner{results: []CommandResult{{ExitCode: 1}, {ExitCode: 0}}} // fail before fix, pass after
	gw := &stubGateway{patchSet: types.PatchSet{Patches: []types.Patch{{FilePath: "a.go"}}, Confidence: 0.9}}
	o := newTestOrchestrator(store, stubCloner{}, stubIndexer{}, runner, gw, stubPatcher{}, stubVCS{})

	task := &types.Task{ID: "t1", RepoURL: "https://example.com/r.git", TestCommand: "pytest", Status: types.StateQueued}
	require.NoError(t, o.Run(context.Background(), task, nil))

	assert.Equal(t, types.StateCompleted, task.Status)
	assert.Equal(t, "asa/fix-t1", task.BranchName)
	assert.Equal(t, 1, gw.fixCalls)
}

func TestRetryThenSucceed(t *testing.T) {
	store := &memStore{}
	runner := &stubRunner{results: []CommandResult{{ExitCode: 1}, {ExitCode: 0}}}
	gw := &stubGateway{
		fixErrs:  []error{aerrors.New(aerrors.KindNetworkTimeout, nil, nil), nil},
		patchSet: types.PatchSet{Patches: []types.Patch{{FilePath: "a.go"}}},
	}
	o := newTestOrchestrator(store, stubCloner{}, stubIndexer{}, runner, gw, stubPatcher{}, stubVCS{})

	task := &types.Task{ID: "t2", RepoURL: "https://example.com/r.git", TestCommand: "pytest", Status: types.StateQueued}
	require.NoError(t, o.Run(context.Background(), task, nil))

	assert.Equal(t, types.StateCompleted, task.Status)
	states := store.states()
	count := 0
	retries := 0
	for _, s := range states {
		if s == types.StateGeneratingFix {
			count++
		}
		if s == types.StateRetry {
			retries++
		}
	}
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, retries)
}

func TestRetryExhaustion(t *testing.T) {
	store := &memStore{}
	// Tests fail before fix (entering GENERATING_FIX), fix "succeeds", but
	// tests after fix always fail -> RUNNING_TESTS_AFTER_FIX retries until
	// its counter (max 1) is exhausted.
	runner := &stubRunner{results: []CommandResult{{ExitCode: 1}}}
	gw := &stubGateway{patchSet: types.PatchSet{Patches: []types.Patch{{FilePath: "a.go"}}}}
	o := newTestOrchestrator(store, stubCloner{}, stubIndexer{}, runner, gw, stubPatcher{}, stubVCS{})

	task := &types.Task{ID: "t3", RepoURL: "https://example.com/r.git", TestCommand: "pytest", Status: types.StateQueued}
	require.NoError(t, o.Run(context.Background(), task, nil))

	assert.Equal(t, types.StateFailed, task.Status)
	retries := 0
	for _, s := range store.states() {
		if s == types.StateRetry {
			retries++
		}
	}
	assert.Equal(t, 2, retries) // one retry attempt (max=1), then exhausted
}

func TestCancellationStopsBeforeNextState(t *testing.T) {
	store := &memStore{}
	runner := &stubRunner{results: []CommandResult{{ExitCode: 1}, {ExitCode: 0}}}
	gw := &stubGateway{patchSet: types.PatchSet{Patches: []types.Patch{{FilePath: "a.go"}}}}
	o := newTestOrchestrator(store, stubCloner{}, stubIndexer{}, runner, gw, stubPatcher{}, stubVCS{})

	var calls int
	probe := func() bool {
		calls++
		return calls > 2 // let QUEUED and INIT through, cancel before CLONING_REPO
	}

	task := &types.Task{ID: "t4", RepoURL: "https://example.com/r.git", TestCommand: "pytest", Status: types.StateQueued}
	require.NoError(t, o.Run(context.Background(), task, probe))

	assert.Equal(t, types.StateCancelled, task.Status)
	for _, s := range store.states() {
		assert.NotEqual(t, types.StateCloningRepo, s)
	}
}

func TestCloneFailureFailsTask(t *testing.T) {
	store := &memStore{}
	o := newTestOrchestrator(store, stubCloner{err: assertErr{}}, stubIndexer{}, &stubRunner{}, &stubGateway{}, stubPatcher{}, stubVCS{})

	task := &types.Task{ID: "t5", RepoURL: "https://example.com/r.git", TestCommand: "pytest", Status: types.StateQueued}
	require.NoError(t, o.Run(context.Background(), task, nil))
	assert.Equal(t, types.StateFailed, task.Status)
}

type assertErr struct{}

func (assertErr) Error() string { return "authentication required: 403" }
