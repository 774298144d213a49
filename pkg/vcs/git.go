package vcs

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// GitCLI shells out to the host's git binary. It satisfies
// orchestrator.Cloner and, combined with a ForgeClient, orchestrator.VCSPublisher.
type GitCLI struct {
	// Token is injected into the clone/push URL's userinfo so git
	// authenticates without a credential helper or on-disk config.
	Token string
	Forge ForgeClient
}

// NewGitCLI builds a GitCLI authenticating with token and opening pull
// requests through forge.
func NewGitCLI(token string, forge ForgeClient) *GitCLI {
	return &GitCLI{Token: token, Forge: forge}
}

// Clone clones repoURL into dest, failing if it does not complete within
// timeout.
func (g *GitCLI) Clone(ctx context.Context, repoURL, dest string, timeout time.Duration) error {
	authed, err := g.withToken(repoURL)
	if err != nil {
		return fmt.Errorf("invalid repo url: %w", err)
	}

	out, err := g.run(ctx, "", timeout, "clone", "--depth", "1", authed, dest)
	if err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, out)
	}
	return nil
}

// CreateBranch creates and checks out a new branch in workspace.
func (g *GitCLI) CreateBranch(ctx context.Context, workspace, branchName string) error {
	out, err := g.run(ctx, workspace, 30*time.Second, "checkout", "-b", branchName)
	if err != nil {
		return fmt.Errorf("git checkout -b failed: %w: %s", err, out)
	}
	return nil
}

// CommitAll stages every change in workspace and commits it with message.
func (g *GitCLI) CommitAll(ctx context.Context, workspace, message string) error {
	if out, err := g.run(ctx, workspace, 30*time.Second, "add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %w: %s", err, out)
	}
	out, err := g.run(ctx, workspace, 30*time.Second, "-c", "user.email=asaengine@local", "-c", "user.name=asaengine", "commit", "-m", message)
	if err != nil {
		return fmt.Errorf("git commit failed: %w: %s", err, out)
	}
	return nil
}

// Push pushes branchName to the remote the workspace was cloned from,
// re-injecting the token since the clone URL's credentials are not
// persisted to the on-disk remote config by default.
func (g *GitCLI) Push(ctx context.Context, workspace, branchName string) error {
	remote, err := g.run(ctx, workspace, 10*time.Second, "remote", "get-url", "origin")
	if err != nil {
		return fmt.Errorf("git remote get-url failed: %w: %s", err, remote)
	}
	authed, err := g.withToken(strings.TrimSpace(remote))
	if err != nil {
		return fmt.Errorf("invalid remote url: %w", err)
	}

	out, err := g.run(ctx, workspace, 60*time.Second, "push", authed, branchName)
	if err != nil {
		return fmt.Errorf("git push failed: %w: %s", err, out)
	}
	return nil
}

// CreatePullRequest delegates to the configured forge client.
func (g *GitCLI) CreatePullRequest(ctx context.Context, repoURL, branchName, title, body string) (string, error) {
	return g.Forge.CreatePullRequest(ctx, repoURL, branchName, title, body)
}

func (g *GitCLI) withToken(repoURL string) (string, error) {
	if g.Token == "" {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", err
	}
	u.User = url.UserPassword("x-access-token", g.Token)
	return u.String(), nil
}

func (g *GitCLI) run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}
