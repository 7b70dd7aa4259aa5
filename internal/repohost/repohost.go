// Package repohost implements the Repo Host collaborator (spec §4.8/§6
// "Repo host & git"): creating a project's repo on first use (the S6
// no-repo scenario, spec §8) and opening a pull request after a task's
// commits are pushed.
//
// No pack file calls this library directly, but its go.mod manifest is
// the pack's most common repo-host dependency (seen in jxucoder-TeleCoder,
// LiranCohen-dex, zulandar-railyard, jxucoder-OpenTL) and its public
// Repositories/PullRequests API has been stable for years, so a real
// client is used rather than a hand-rolled REST caller, the same
// risk/reward call made for internal/chat's telegram-bot-api dependency.
package repohost

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
)

// Host implements internal/executor.RepoHost and internal/flow's repo
// creation needs against the GitHub API.
type Host struct {
	client *github.Client
	org    string
	// Private is whether newly created repos default to private
	// visibility (spec §4.8 no-repo resolution creates a fresh repo for
	// a project seen for the first time).
	Private bool
}

// New returns a Host authenticated with token, creating repos under org
// (an empty org creates them under the token's own account).
func New(token, org string) *Host {
	client := github.NewClient(nil).WithAuthToken(token)
	return &Host{client: client, org: org, Private: true}
}

// CreatePrivateRepo creates a new repository named project, returning its
// clone URL, satisfying internal/executor.RepoHost (spec §8 S6).
func (h *Host) CreatePrivateRepo(ctx context.Context, project string) (string, error) {
	repo := &github.Repository{
		Name:    github.Ptr(project),
		Private: github.Ptr(h.Private),
	}
	var (
		created *github.Repository
		err     error
	)
	if h.org != "" {
		created, _, err = h.client.Repositories.Create(ctx, h.org, repo)
	} else {
		created, _, err = h.client.Repositories.Create(ctx, "", repo)
	}
	if err != nil {
		return "", fmt.Errorf("repohost: create repo %s: %w", project, err)
	}
	return created.GetCloneURL(), nil
}

// OpenPullRequest opens a PR from branch into base, returning its HTML
// URL, satisfying internal/executor.RepoHost (spec §4.8 "attempt
// pull-request creation and extract URL"). repoURL is the task's clone
// URL (task.RepoURL); owner/repo are parsed out of it rather than
// required as separate fields, since that's the only repo identifier the
// executor's post-completion step has in hand.
func (h *Host) OpenPullRequest(ctx context.Context, repoURL, branch, base string) (string, error) {
	owner, project, err := parseOwnerRepo(repoURL)
	if err != nil {
		return "", fmt.Errorf("repohost: %w", err)
	}

	pr, _, err := h.client.PullRequests.Create(ctx, owner, project, &github.NewPullRequest{
		Title: github.Ptr(titleFromBranch(branch)),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(base),
	})
	if err != nil {
		return "", fmt.Errorf("repohost: open PR for %s/%s %s->%s: %w", owner, project, branch, base, err)
	}
	return pr.GetHTMLURL(), nil
}

// parseOwnerRepo extracts "owner/repo" from a GitHub clone URL, in
// either its https or ssh form.
func parseOwnerRepo(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	trimmed = strings.TrimPrefix(trimmed, "git@github.com:")
	if i := strings.Index(trimmed, "github.com/"); i >= 0 {
		trimmed = trimmed[i+len("github.com/"):]
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("cannot parse owner/repo from %q", repoURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

func titleFromBranch(branch string) string {
	name := strings.TrimPrefix(branch, "task/")
	name = strings.ReplaceAll(name, "-", " ")
	if name == "" {
		return branch
	}
	return "Task " + name
}
