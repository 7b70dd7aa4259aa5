package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// TaskWorkspace prepares git workspaces for the Task Executor (C8, spec
// §4.8): one persistent base clone per project, fetched before each task,
// and one `git worktree add -b task/<shortid>` checkout per task, built
// on the package-level git helpers in git.go.
type TaskWorkspace struct{}

// NewTaskWorkspace returns a TaskWorkspace. It holds no state of its own;
// every operation takes the paths it needs explicitly so the executor can
// run many tasks against many projects from one instance.
func NewTaskWorkspace() *TaskWorkspace { return &TaskWorkspace{} }

// EnsureBaseClone clones repoURL into baseDir if it doesn't exist yet, or
// fetches latest if it does (spec §4.8 "Ensure a persistent base clone
// exists; fetch latest").
func (TaskWorkspace) EnsureBaseClone(repoURL, baseDir string) error {
	if isGitRepo(baseDir) {
		cmd := exec.Command("git", "fetch", "--all", "--prune")
		cmd.Dir = baseDir
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git fetch: %w\noutput: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(baseDir), 0o755); err != nil {
		return fmt.Errorf("create base clone parent dir: %w", err)
	}
	cmd := exec.Command("git", "clone", repoURL, baseDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ResolveBaseRef picks the base clone's default branch, preferring the
// caller-specified ref but falling back from main to master when the
// specified ref doesn't exist on origin (spec §4.8 "fallback to detect
// main vs master when the specified ref is missing").
func (TaskWorkspace) ResolveBaseRef(baseDir, preferred string) (string, error) {
	candidates := []string{preferred, "main", "master"}
	for _, ref := range candidates {
		if ref == "" {
			continue
		}
		if remoteRefExists(baseDir, ref) {
			return ref, nil
		}
	}
	return "", fmt.Errorf("worktree: no candidate base ref found on origin (tried %v)", candidates)
}

func remoteRefExists(repoDir, ref string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", "refs/remotes/origin/"+ref)
	cmd.Dir = repoDir
	return cmd.Run() == nil
}

// TaskBranch is the deterministic branch name for a task's worktree (spec
// §4.8 `task/<shortid>`).
func TaskBranch(shortID string) string {
	return "task/" + shortID
}

// CreateTaskWorktree adds a worktree at
// `<workspacesRoot>/<project>-<shortid>` on branch task/<shortid>, based
// on origin/<ref>. The worktree is intentionally left behind after the
// task completes (spec §4.8 "keep the worktree... let an external janitor
// prune"); see PruneWorktree for that janitor's primitive.
func (TaskWorkspace) CreateTaskWorktree(baseDir, workspacesRoot, project, shortID, ref string) (path, branch string, err error) {
	branch = TaskBranch(shortID)
	path = filepath.Join(workspacesRoot, project+"-"+shortID)

	if err := os.MkdirAll(workspacesRoot, 0o755); err != nil {
		return "", "", fmt.Errorf("create workspaces root: %w", err)
	}
	if branchExists(baseDir, branch) {
		_ = worktreePrune(baseDir)
		_ = branchDelete(baseDir, branch)
	}
	if err := worktreeAdd(baseDir, path, branch, "origin/"+ref); err != nil {
		return "", "", err
	}
	return path, branch, nil
}

// StatusPorcelain, CommitAll, PushUpstream, and DiffNameOnly below are
// thin method wrappers over the package-level git helpers of the same
// name, so internal/executor can depend on the single TaskWorkspace
// interface for every git operation it needs instead of mixing method and
// free-function calls.
func (TaskWorkspace) StatusPorcelain(dir string) (string, error) { return StatusPorcelain(dir) }
func (TaskWorkspace) CommitAll(dir, message string) error        { return CommitAll(dir, message) }
func (TaskWorkspace) PushUpstream(dir, branch string) error      { return PushUpstream(dir, branch) }
func (TaskWorkspace) DiffNameOnly(dir string) ([]string, error)  { return DiffNameOnly(dir) }

// ChownWorktree chowns path to uid:gid, used when the executor runs as
// root but the remote CLI invocation expects a non-root owner (spec §4.8
// "If the target runs as root, chown the worktree to the intended CLI
// user").
func ChownWorktree(path string, uid, gid int) error {
	return filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(p, uid, gid)
	})
}

// PruneWorktree removes a task's worktree and branch; the external janitor
// spec §4.8 mentions calls this once it decides a workspace is no longer
// needed. It is never called automatically by the executor itself.
func (TaskWorkspace) PruneWorktree(baseDir, path, branch string) error {
	if err := worktreeRemove(baseDir, path, true); err != nil {
		if err2 := os.RemoveAll(path); err2 != nil {
			return fmt.Errorf("remove worktree dir: %w (git: %v)", err2, err)
		}
	}
	_ = worktreePrune(baseDir)
	if branchExists(baseDir, branch) {
		return branchDelete(baseDir, branch)
	}
	return nil
}

// StatusPorcelain returns `git status --porcelain` output for dir.
func StatusPorcelain(dir string) (string, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git status: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// CommitAll stages every change in dir and commits with message.
func CommitAll(dir, message string) error {
	add := exec.Command("git", "add", "-A")
	add.Dir = dir
	if out, err := add.CombinedOutput(); err != nil {
		return fmt.Errorf("git add: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	commit := exec.Command("git", "commit", "-m", message)
	commit.Dir = dir
	if out, err := commit.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// PushUpstream pushes branch to origin, setting it as the upstream.
func PushUpstream(dir, branch string) error {
	cmd := exec.Command("git", "push", "-u", "origin", branch)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git push: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DiffNameOnly returns the files changed between HEAD~1 and HEAD, falling
// back to the uncommitted working-tree diff if there is no parent commit
// (spec §4.8 "compute files_changed from git diff --name-only against
// HEAD~1..HEAD or uncommitted set").
func DiffNameOnly(dir string) ([]string, error) {
	cmd := exec.Command("git", "diff", "--name-only", "HEAD~1..HEAD")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err == nil {
		return splitNonEmptyLines(string(out)), nil
	}

	cmd = exec.Command("git", "diff", "--name-only", "HEAD")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git diff: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	return splitNonEmptyLines(string(out)), nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
