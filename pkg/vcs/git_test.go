package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTokenInjectsCredentialsIntoURL(t *testing.T) {
	g := &GitCLI{Token: "secret-token"}
	authed, err := g.withToken("https://github.com/acme/widgets.git")
	require.NoError(t, err)
	assert.Contains(t, authed, "x-access-token:secret-token@github.com")
}

func TestWithTokenLeavesURLUnchangedWhenNoToken(t *testing.T) {
	g := &GitCLI{}
	authed, err := g.withToken("https://github.com/acme/widgets.git")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets.git", authed)
}

func TestWithTokenRejectsMalformedURL(t *testing.T) {
	g := &GitCLI{Token: "t"}
	_, err := g.withToken("://not a url")
	require.Error(t, err)
}

// newLocalRepo initializes a real git repository under a temp dir, so the
// branch/commit tests exercise the actual git binary rather than a fake.
func newLocalRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestCreateBranchAndCommitAllAgainstRealRepo(t *testing.T) {
	dir := newLocalRepo(t)
	g := &GitCLI{}
	ctx := context.Background()

	require.NoError(t, g.CreateBranch(ctx, dir, "fix-bug"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fix.txt"), []byte("patched"), 0o644))
	require.NoError(t, g.CommitAll(ctx, dir, "apply fix"))

	cmd := exec.Command("git", "log", "--oneline", "-1")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err)
	assert.Contains(t, string(out), "apply fix")
}

func TestCloneInvalidRepoURLReturnsError(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	g := &GitCLI{}
	dest := t.TempDir()
	err := g.Clone(context.Background(), "/nonexistent/repo/path", filepath.Join(dest, "clone"), 5*time.Second)
	require.Error(t, err)
}

type fakeForge struct {
	url string
	err error
}

func (f *fakeForge) CreatePullRequest(ctx context.Context, repoURL, branchName, title, body string) (string, error) {
	return f.url, f.err
}

func TestCreatePullRequestDelegatesToForge(t *testing.T) {
	g := &GitCLI{Forge: &fakeForge{url: "https://github.com/acme/widgets/pull/7"}}
	url, err := g.CreatePullRequest(context.Background(), "https://github.com/acme/widgets.git", "fix-bug", "title", "body")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", url)
}
