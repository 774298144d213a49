// Package vcs shells out to the git CLI to clone, branch, and push
// workspaces, and speaks the GitHub REST API to open pull requests. GitCLI
// satisfies the orchestrator's Cloner and VCSPublisher interfaces, handing
// pull requests to a ForgeClient such as GitHubForge, so the orchestrator
// never imports net/http or os/exec itself.
package vcs
