// Package executor implements the Task Executor (C8, spec §4.8): a
// per-worker poll loop that claims queued tasks across its managed
// machines, prepares a per-task git worktree, runs the chosen engine
// through the Session Supervisor (internal/session), and drives
// post-completion (commit/push/PR, result persistence, chat summary).
//
// Grounded on the teacher's internal/app/watchdog.go (ticker-driven
// background loop, ctx-cancellation shutdown) for the poll loop's shape,
// and worker_manager.go's spawn/reconcile split for the claim→run→
// post-completion pipeline — neither of which the teacher has as a
// per-row atomic claim loop, since the teacher dispatches onto a fixed
// collaboration board rather than claiming rows from a shared store.
package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
	"github.com/jaakkos/stringwork-orchestrator/internal/errkind"
	"github.com/jaakkos/stringwork-orchestrator/internal/session"
	"github.com/jaakkos/stringwork-orchestrator/internal/shell"
)

// Default tuning constants named in spec §4.6/§4.8.
const (
	DefaultPollInterval  = 5 * time.Second
	DefaultMaxConcurrent = 3
	DefaultStaleAfter    = 10 * time.Minute
	memoryTopK           = 5

	resultSummaryMaxChars = 4000
	errorMessageMaxChars  = 2000
)

const behaviorRules = "Work autonomously and keep the diff minimal and focused on the task description. " +
	"Commit your changes, push the feature branch, and open a pull request if the change is appropriate to ship."

// TaskStore is the subset of internal/store's Store the executor drives a
// task's lifecycle through (spec §4.6's transition table).
type TaskStore interface {
	ClaimNextTask(ctx context.Context, workerID, machineID string) (domain.Task, bool, error)
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, message string) error
	TouchHeartbeat(ctx context.Context, id string) error
	SetWaitingInput(ctx context.Context, id string) error
	SetRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id, resultSummary, pullRequestURL string, changedFiles []string, resultJSON string) error
	SweepStaleTasks(ctx context.Context, staleAfter time.Duration) ([]string, error)
}

// RepoResolver resolves a project name to its git remote URL, implementing
// the non-no_repo steps of spec §4.8's multi-step discovery (local path →
// known-project table → repo host API); how those steps chain is the
// implementation's concern.
type RepoResolver interface {
	Resolve(ctx context.Context, project string) (repoURL string, err error)
}

// RepoHost creates a private repository for the no_repo recovery flow and
// opens pull requests during post-completion.
type RepoHost interface {
	CreatePrivateRepo(ctx context.Context, name string) (url string, err error)
	OpenPullRequest(ctx context.Context, repoURL, branch, base string) (url string, err error)
}

// NoRepoResolver asks the user, via the task's thread, whether to create a
// private repo, supply a custom name, or cancel (spec §7's no_repo flow,
// nominally a 5-minute-timeout wizard step owned by C9/C10). Executor
// falls back to unconditional auto-create through RepoHost when this is
// nil, since the conversation-flow wizard is a separate collaborator.
type NoRepoResolver interface {
	PromptCreateOrCancel(ctx context.Context, chatID, threadID, project string) (repoName string, create bool, err error)
}

// EnvSync materializes a project's .env files into a freshly created
// worktree using the shared-remote-wins / machine-local-wins precedence
// rule (spec §4.8).
type EnvSync interface {
	Materialize(ctx context.Context, project, workspaceDir, machineID string) error
}

// MemoryStore supplies the top-K memory hits folded into prompt assembly.
type MemoryStore interface {
	TopK(ctx context.Context, project, query string, k int) ([]string, error)
}

// ChatSink is the subset of the Chat Topic Facade the executor posts
// notices and summaries through.
type ChatSink interface {
	SendChatter(ctx context.Context, chatID, threadID, text string) (string, error)
}

// SessionRunner drives one session to completion; *session.Supervisor
// satisfies this. A fresh one is constructed per task (via NewSupervisor)
// since a Supervisor tracks a single live process handle.
type SessionRunner interface {
	Run(ctx context.Context, req session.RunRequest) (session.Result, error)
}

// RemoteExec runs a one-shot command on a target, used to chown a freshly
// created worktree when the executor runs as root (spec §4.8).
type RemoteExec interface {
	ExecOneShot(ctx context.Context, target shell.Target, cmd string, timeout time.Duration, outputCap int) (shell.ExecResult, error)
}

// QuestionSink records a pending ask_user question (spec §3 "Pending
// Question") so the Callback Router (C9) can resolve it when the user
// answers; *callback.QuestionStore satisfies this. Kept as a narrow
// interface here rather than importing internal/callback directly, same
// shape as RepoHost/EnvSync/MemoryStore.
type QuestionSink interface {
	Put(domain.PendingQuestion)
}

// Workspace is the git workspace-preparation and post-completion surface
// the executor drives; *worktree.TaskWorkspace satisfies it directly.
type Workspace interface {
	EnsureBaseClone(repoURL, baseDir string) error
	ResolveBaseRef(baseDir, preferred string) (string, error)
	CreateTaskWorktree(baseDir, workspacesRoot, project, shortID, ref string) (path, branch string, err error)
	StatusPorcelain(dir string) (string, error)
	CommitAll(dir, message string) error
	PushUpstream(dir, branch string) error
	DiffNameOnly(dir string) ([]string, error)
}

// MachineTarget is one SSH-reachable worker machine this executor polls,
// resolved from process configuration (host/port/user/signer) plus its
// registry-declared projects and engine-priority list.
type MachineTarget struct {
	ID             string
	Shell          shell.Target
	Projects       []string
	EnginePriority []string
}

// Config wires an Executor's dependencies and tuning knobs. Only
// Store/Workspace/Targets/NewSession are required; the rest degrade
// gracefully to no-ops when nil.
type Config struct {
	WorkerID       string
	ChatID         string
	Targets        []MachineTarget
	MaxConcurrent  int
	PollInterval   time.Duration
	StaleAfter     time.Duration
	SessionTimeout time.Duration
	DefaultRef     string
	BaseClonesRoot string
	WorkspacesRoot string
	ChownUID       int
	ChownGID       int
	Chown          bool

	Store      TaskStore
	Workspace  Workspace
	Repos      RepoResolver
	RepoHost   RepoHost
	NoRepo     NoRepoResolver
	EnvSync    EnvSync
	Memory     MemoryStore
	Chat       ChatSink
	RemoteExec RemoteExec

	// Sessions registers each running session's ReplyWriter under its
	// chat thread id so the Callback Router can inject an answered
	// ask_user reply (spec §5 "activeSessions" / §4.7 "User input
	// injection"). Questions records each ask_user prompt the same way.
	// Both degrade to no-ops when nil.
	Sessions  *session.Registry
	Questions QuestionSink

	// NewSession constructs the per-task session runner and the engine
	// command builder it should use. Split out so cmd/orchestrator can
	// wire a real session.Supervisor + GatewaySpawner and tests can wire
	// a fake.
	NewSession func(target MachineTarget, task domain.Task) (SessionRunner, session.ChatSink)

	Logger *log.Logger
}

// Executor is the per-worker Task Executor (C8).
type Executor struct {
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex
	active int
}

// New returns an Executor ready to Start, applying spec-mandated defaults
// to any unset tuning knob.
func New(cfg Config) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = session.DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "Executor: ", log.LstdFlags)
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Start runs the claim loop until ctx is cancelled. It first performs
// stale-task recovery (spec §4.8 "on startup"), then polls every
// PollInterval.
func (e *Executor) Start(ctx context.Context) {
	e.logger.Printf("Executor: started (worker=%s, poll=%s, max_concurrent=%d)",
		e.cfg.WorkerID, e.cfg.PollInterval, e.cfg.MaxConcurrent)

	e.recoverStale(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Println("Executor: stopped (context cancelled)")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// recoverStale marks any claimed|running task with a lapsed heartbeat as
// failed before the first poll, so a crashed-and-restarted worker doesn't
// leave rows stuck against it forever (spec §4.8 "Stale-task recovery on
// startup").
func (e *Executor) recoverStale(ctx context.Context) {
	ids, err := e.cfg.Store.SweepStaleTasks(ctx, e.cfg.StaleAfter)
	if err != nil {
		e.logger.Printf("Executor: stale recovery failed: %v", err)
		return
	}
	for _, id := range ids {
		e.logger.Printf("Executor: marked stale task %s failed on startup", id)
	}
}

func (e *Executor) tick(ctx context.Context) {
	for _, target := range e.cfg.Targets {
		if e.activeCount() >= e.cfg.MaxConcurrent {
			return
		}
		task, ok, err := e.cfg.Store.ClaimNextTask(ctx, e.cfg.WorkerID, target.ID)
		if err != nil {
			e.logger.Printf("Executor: claim against %s failed: %v", target.ID, err)
			continue
		}
		if !ok {
			continue
		}
		e.incActive()
		go e.run(ctx, target, task)
	}
}

func (e *Executor) activeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Executor) incActive() {
	e.mu.Lock()
	e.active++
	e.mu.Unlock()
}

func (e *Executor) decActive() {
	e.mu.Lock()
	e.active--
	e.mu.Unlock()
}

func (e *Executor) run(ctx context.Context, target MachineTarget, task domain.Task) {
	defer e.decActive()

	if err := e.cfg.Store.SetRunning(ctx, task.ID); err != nil {
		e.logger.Printf("Executor: mark task %s running: %v", task.ID, err)
	}

	path, err := e.prepareWorkspace(ctx, target, &task)
	if err != nil {
		e.failFast(ctx, task, err)
		return
	}

	prompt, err := e.assemblePrompt(ctx, task)
	if err != nil {
		e.failFast(ctx, task, err)
		return
	}

	runner, facade := e.cfg.NewSession(target, task)
	req := session.RunRequest{
		Target:    target.Shell,
		ChatID:    e.cfg.ChatID,
		ThreadID:  task.ChatThreadID,
		StreamKey: "task:" + task.ID,
		Mode:      domain.ModeStreamJSON,
		WorkDir:   path,
		Prompt:    prompt,
		Engines:   target.EnginePriority,
		Command:   BuildCommand(task.ID, prompt, target.Shell.Windows),
		Timeout:   e.cfg.SessionTimeout,
		OnHeartbeat: func(ctx context.Context) error {
			return e.cfg.Store.TouchHeartbeat(ctx, task.ID)
		},
	}
	if e.cfg.Questions != nil {
		req.OnAskUser = e.cfg.Questions.Put
	}
	_ = facade // the session runner already owns the chat sink internally

	if e.cfg.Sessions != nil {
		if rw, ok := runner.(session.ReplyWriter); ok {
			e.cfg.Sessions.Put(task.ChatThreadID, rw)
			defer e.cfg.Sessions.Remove(task.ChatThreadID)
		}
	}

	result, runErr := runner.Run(ctx, req)
	e.postCompletion(ctx, task, path, result, runErr)
}

// failFast records a workspace/programmer-error class failure (spec §7
// "Fatal workspace") without attempting the session at all.
func (e *Executor) failFast(ctx context.Context, task domain.Task, err error) {
	message := truncate(err.Error(), errorMessageMaxChars)
	e.logger.Printf("Executor: task %s failed before run: %v", task.ID, err)
	if uerr := e.cfg.Store.UpdateStatus(ctx, task.ID, domain.TaskFailed, message); uerr != nil {
		e.logger.Printf("Executor: persist failure for task %s: %v", task.ID, uerr)
	}
	if e.cfg.Chat != nil {
		_, _ = e.cfg.Chat.SendChatter(ctx, e.cfg.ChatID, task.ChatThreadID, "Task failed: "+message)
	}
}

// prepareWorkspace resolves the repo URL, ensures the base clone, creates
// the per-task worktree, chowns it if configured, and materializes .env
// files (spec §4.8 "Workspace preparation").
func (e *Executor) prepareWorkspace(ctx context.Context, target MachineTarget, task *domain.Task) (string, error) {
	repoURL := task.RepoURL
	if repoURL == "" && e.cfg.Repos != nil {
		if url, err := e.cfg.Repos.Resolve(ctx, task.Project); err == nil && url != "" {
			repoURL = url
		}
	}
	if repoURL == "" {
		url, err := e.resolveNoRepo(ctx, *task)
		if err != nil {
			return "", err
		}
		repoURL = url
	}

	baseDir := filepath.Join(e.cfg.BaseClonesRoot, task.Project)
	if err := e.cfg.Workspace.EnsureBaseClone(repoURL, baseDir); err != nil {
		return "", errkind.Wrap(errkind.Fatal, "ensure base clone", err)
	}

	ref, err := e.cfg.Workspace.ResolveBaseRef(baseDir, firstNonEmpty(task.TargetBranch, e.cfg.DefaultRef))
	if err != nil {
		return "", errkind.Wrap(errkind.Fatal, "resolve base ref", err)
	}

	shortID := shortTaskID(task.ID)
	path, _, err := e.cfg.Workspace.CreateTaskWorktree(baseDir, e.cfg.WorkspacesRoot, task.Project, shortID, ref)
	if err != nil {
		return "", errkind.Wrap(errkind.Fatal, "create task worktree", err)
	}

	if e.cfg.Chown && e.cfg.RemoteExec != nil {
		cmd := fmt.Sprintf("chown -R %d:%d %s", e.cfg.ChownUID, e.cfg.ChownGID, shellQuote(path))
		if _, err := e.cfg.RemoteExec.ExecOneShot(ctx, target.Shell, cmd, 30*time.Second, 4096); err != nil {
			e.logger.Printf("Executor: chown worktree for task %s: %v", task.ID, err)
		}
	}

	if e.cfg.EnvSync != nil {
		if err := e.cfg.EnvSync.Materialize(ctx, task.Project, path, target.ID); err != nil {
			e.logger.Printf("Executor: env materialize for task %s: %v", task.ID, err)
		}
	}

	task.RepoURL = repoURL
	return path, nil
}

// resolveNoRepo implements spec §7's no_repo recovery: prompt the user for
// create/custom-name/cancel (via NoRepoResolver, when wired), then create
// a private repo through the host API, or fail the task with a clear
// no_repo reason.
func (e *Executor) resolveNoRepo(ctx context.Context, task domain.Task) (string, error) {
	if e.cfg.NoRepo != nil {
		name, create, err := e.cfg.NoRepo.PromptCreateOrCancel(ctx, e.cfg.ChatID, task.ChatThreadID, task.Project)
		if err != nil || !create {
			return "", errkind.New(errkind.NoRepo, "no repository configured for project "+task.Project)
		}
		if e.cfg.RepoHost == nil {
			return "", errkind.New(errkind.NoRepo, "repo host not configured, cannot create "+name)
		}
		return e.cfg.RepoHost.CreatePrivateRepo(ctx, name)
	}
	if e.cfg.RepoHost != nil {
		return e.cfg.RepoHost.CreatePrivateRepo(ctx, task.Project)
	}
	return "", errkind.New(errkind.NoRepo, "no repository configured for project "+task.Project)
}

// assemblePrompt builds the verbatim-description prompt per spec §4.8
// "Prompt assembly": project identifier, description verbatim, behavior
// rules, then top-K memory hits if a memory store is present.
func (e *Executor) assemblePrompt(ctx context.Context, task domain.Task) (string, error) {
	if strings.TrimSpace(task.Description) == "" {
		return "", errkind.New(errkind.Fatal, "task description must not be empty")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n\n", task.Project)
	b.WriteString(task.Description)
	b.WriteString("\n\n")
	b.WriteString(behaviorRules)

	if e.cfg.Memory != nil {
		hits, err := e.cfg.Memory.TopK(ctx, task.Project, task.Description, memoryTopK)
		if err == nil && len(hits) > 0 {
			b.WriteString("\n\nRelevant project memory:\n")
			for _, h := range hits {
				b.WriteString("- ")
				b.WriteString(h)
				b.WriteString("\n")
			}
		}
	}
	return b.String(), nil
}

// postCompletion runs regardless of outcome: classify status, run the
// git commit/push/PR steps on success, persist the final row, and post a
// chat summary (spec §4.8 "Post-completion").
func (e *Executor) postCompletion(ctx context.Context, task domain.Task, path string, result session.Result, runErr error) {
	status, message := classifyOutcome(result, runErr)

	if status == domain.TaskWaitingInput {
		if err := e.cfg.Store.SetWaitingInput(ctx, task.ID); err != nil {
			e.logger.Printf("Executor: persist waiting_input for task %s: %v", task.ID, err)
		}
		return
	}

	var prURL string
	var changedFiles []string
	if status == domain.TaskCompleted {
		if gitErr := e.commitPushAndPR(ctx, task, path, &prURL, &changedFiles); gitErr != nil {
			e.logger.Printf("Executor: post-completion git steps for task %s: %v", task.ID, gitErr)
			message = appendMessage(message, gitErr.Error())
		}
	}

	summary := truncate(transcriptSummary(result.Transcript), resultSummaryMaxChars)
	resultJSON := encodeResultJSON(result)

	if status == domain.TaskCompleted {
		if err := e.cfg.Store.Complete(ctx, task.ID, summary, prURL, changedFiles, resultJSON); err != nil {
			e.logger.Printf("Executor: persist completion for task %s: %v", task.ID, err)
		}
	} else {
		if err := e.cfg.Store.UpdateStatus(ctx, task.ID, status, message); err != nil {
			e.logger.Printf("Executor: persist status for task %s: %v", task.ID, err)
		}
	}

	if e.cfg.Chat != nil {
		text := summaryNotice(status, prURL, changedFiles, message)
		_, _ = e.cfg.Chat.SendChatter(ctx, e.cfg.ChatID, task.ChatThreadID, text)
	}
}

// classifyOutcome maps a session Result/error onto spec §4.6's terminal
// (or waiting_input) status table.
func classifyOutcome(result session.Result, runErr error) (domain.TaskStatus, string) {
	switch {
	case runErr != nil:
		return domain.TaskFailed, truncate(runErr.Error(), errorMessageMaxChars)
	case result.TimedOut:
		return domain.TaskTimeout, "session exceeded its wall-clock timeout"
	case result.WaitingInput:
		return domain.TaskWaitingInput, ""
	case result.ExitCode != 0:
		return domain.TaskFailed, fmt.Sprintf("engine exited with code %d", result.ExitCode)
	default:
		return domain.TaskCompleted, ""
	}
}

// commitPushAndPR implements the git half of post-completion: stage and
// commit if dirty, push the feature branch, compute files_changed, and
// attempt a pull request (spec §4.8, §6 "Repo host & git").
func (e *Executor) commitPushAndPR(ctx context.Context, task domain.Task, path string, prURL *string, changedFiles *[]string) error {
	status, err := e.cfg.Workspace.StatusPorcelain(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) != "" {
		msg := fmt.Sprintf("feat: %s", truncate(task.Description, 72))
		if err := e.cfg.Workspace.CommitAll(path, msg); err != nil {
			return err
		}
	}

	branch := "task/" + shortTaskID(task.ID)
	if err := e.cfg.Workspace.PushUpstream(path, branch); err != nil {
		return err
	}

	if files, err := e.cfg.Workspace.DiffNameOnly(path); err == nil {
		*changedFiles = files
	}

	if e.cfg.RepoHost != nil {
		base := firstNonEmpty(task.TargetBranch, e.cfg.DefaultRef)
		url, err := e.cfg.RepoHost.OpenPullRequest(ctx, task.RepoURL, branch, base)
		if err != nil {
			e.logger.Printf("Executor: pull request creation for task %s: %v", task.ID, err)
		} else {
			*prURL = url
		}
	}
	return nil
}

func summaryNotice(status domain.TaskStatus, prURL string, changedFiles []string, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s", status)
	if len(changedFiles) > 0 {
		fmt.Fprintf(&b, " — %d file(s) changed", len(changedFiles))
	}
	if prURL != "" {
		fmt.Fprintf(&b, "\n%s", prURL)
	}
	if message != "" {
		fmt.Fprintf(&b, "\n%s", message)
	}
	return b.String()
}

func transcriptSummary(transcript []domain.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range transcript {
		if e.Kind != domain.EntryText && e.Kind != domain.EntryResult {
			continue
		}
		b.WriteString(e.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func encodeResultJSON(result session.Result) string {
	return fmt.Sprintf(`{"engine":%q,"exit_code":%d,"turns":%d,"total_cost_usd":%v,"total_duration_ms":%d}`,
		result.EngineUsed, result.ExitCode, result.Turns, result.TotalCostUSD, result.TotalDuration.Milliseconds())
}

func appendMessage(base, add string) string {
	if base == "" {
		return add
	}
	return base + "; " + add
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func shortTaskID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// engineContinueFlag declares engines with a native multi-turn continue
// flag (spec §4.7: Claude-family resumes via --continue; engines without
// one get the reply text appended to a fresh prompt and a fresh spawn).
var engineContinueFlag = map[string]string{
	"claude": "--continue",
}

// BuildCommand returns the CommandBuilder the Session Supervisor calls for
// every attempt of one task (spec §4.8 "Run"): the prompt is base64-
// encoded and piped into the engine with --ds --dp (dangerously-skip-
// permissions, dangerously-disable-prompts) and the task id in env. The
// spec describes writing the encoded prompt to a per-task file on the
// remote first, then `cat`-ing it; this inlines the same payload via
// printf instead of a separate remote write, since CommandBuilder is a
// pure function of (engine, mode, workDir, resume) with no side-effecting
// hook of its own — see DESIGN.md.
func BuildCommand(taskID, prompt string, windows bool) session.CommandBuilder {
	return func(engine string, mode domain.EngineMode, workDir string, resume session.ResumeState) string {
		text := prompt
		continueFlag, hasContinue := engineContinueFlag[engine]
		resuming := resume.Resumed && !hasContinue
		if resuming {
			text = fmt.Sprintf("%s\n\nUser reply (turn %d): %s", prompt, resume.Turn, resume.ReplyText)
		}

		if windows {
			return windowsCommand(engine, workDir, taskID, text, resume, continueFlag, hasContinue)
		}
		return posixCommand(engine, workDir, taskID, text, resume, continueFlag, hasContinue)
	}
}

func posixCommand(engine, workDir, taskID, text string, resume session.ResumeState, continueFlag string, hasContinue bool) string {
	if resume.Resumed && hasContinue {
		return fmt.Sprintf("cd %s && TASK_ID=%s %s %s --ds --dp", shellQuote(workDir), taskID, engine, continueFlag)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	return fmt.Sprintf("cd %s && printf '%%s' %s | base64 -d | TASK_ID=%s %s --ds --dp",
		shellQuote(workDir), encoded, taskID, engine)
}

// windowsCommand inlines the PowerShell equivalent spec §4.8 describes:
// load credentials from profile files, decode the base64 prompt, and pipe
// it to the engine with --dangerously-skip-permissions -p.
func windowsCommand(engine, workDir, taskID, text string, resume session.ResumeState, continueFlag string, hasContinue bool) string {
	if resume.Resumed && hasContinue {
		script := fmt.Sprintf(`Set-Location -Path '%s'; $env:TASK_ID='%s'; %s %s --dangerously-skip-permissions`,
			workDir, taskID, engine, continueFlag)
		return fmt.Sprintf(`powershell -NoProfile -Command "%s"`, script)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	script := fmt.Sprintf(`Set-Location -Path '%s'; $env:TASK_ID='%s'; `+
		`$env:ANTHROPIC_API_KEY=(Get-Content "$env:USERPROFILE\.anthropic\api_key" -ErrorAction SilentlyContinue); `+
		`[System.Text.Encoding]::UTF8.GetString([System.Convert]::FromBase64String('%s')) | %s --dangerously-skip-permissions -p`,
		workDir, taskID, encoded, engine)
	return fmt.Sprintf(`powershell -NoProfile -Command "%s"`, script)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
