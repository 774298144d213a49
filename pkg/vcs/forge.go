package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ForgeClient opens a pull request against a forge (GitHub, and whatever
// else speaks a comparable REST API) for a pushed branch.
type ForgeClient interface {
	CreatePullRequest(ctx context.Context, repoURL, branchName, title, body string) (url string, err error)
}

// GitHubForge talks to the GitHub REST API directly over net/http. No
// GitHub client library appears anywhere in the retrieval pack, and the
// pull-request surface this package needs is one endpoint, so a
// hand-rolled client is the boundary adapter rather than a gap.
type GitHubForge struct {
	Token   string
	BaseURL string // defaults to https://api.github.com
	Client  *http.Client
}

// NewGitHubForge builds a GitHubForge authenticating with token.
// baseURL is empty for github.com, or a GitHub Enterprise API root.
func NewGitHubForge(token, baseURL string) *GitHubForge {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHubForge{
		Token:   token,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type createPullRequestBody struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
}

type createPullRequestResponse struct {
	HTMLURL string `json:"html_url"`
}

// CreatePullRequest opens a PR from branchName onto the base branch "main";
// the repository's actual default branch is not looked up. repoURL must be
// an owner/repo GitHub URL.
func (f *GitHubForge) CreatePullRequest(ctx context.Context, repoURL, branchName, title, body string) (string, error) {
	ownerRepo, err := ownerRepoFromURL(repoURL)
	if err != nil {
		return "", err
	}

	reqBody, err := json.Marshal(createPullRequestBody{
		Title: title,
		Head:  branchName,
		Base:  "main",
		Body:  body,
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/repos/%s/pulls", f.BaseURL, ownerRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create pull request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var errBody bytes.Buffer
		_, _ = errBody.ReadFrom(resp.Body)
		return "", fmt.Errorf("create pull request: forge returned %d: %s", resp.StatusCode, errBody.String())
	}

	var out createPullRequestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("create pull request: invalid json response: %w", err)
	}
	return out.HTMLURL, nil
}

// ownerRepoFromURL extracts "owner/repo" from a github.com clone URL in
// either https or git@ form.
func ownerRepoFromURL(repoURL string) (string, error) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	switch {
	case strings.Contains(trimmed, "github.com/"):
		parts := strings.SplitN(trimmed, "github.com/", 2)
		if len(parts) != 2 || parts[1] == "" {
			return "", fmt.Errorf("invalid repo url: %s", repoURL)
		}
		return parts[1], nil
	case strings.Contains(trimmed, "github.com:"):
		parts := strings.SplitN(trimmed, "github.com:", 2)
		if len(parts) != 2 || parts[1] == "" {
			return "", fmt.Errorf("invalid repo url: %s", repoURL)
		}
		return parts[1], nil
	default:
		return "", fmt.Errorf("invalid repo url: %s", repoURL)
	}
}
