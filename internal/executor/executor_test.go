package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
	"github.com/jaakkos/stringwork-orchestrator/internal/errkind"
	"github.com/jaakkos/stringwork-orchestrator/internal/session"
	"github.com/jaakkos/stringwork-orchestrator/internal/shell"
)

// fakeStore is a minimal in-memory TaskStore fake. Only the methods the
// tests exercise hold real behavior; the rest just record calls.
type fakeStore struct {
	mu sync.Mutex

	queue       []domain.Task
	claimed     map[string]bool
	statuses    map[string]domain.TaskStatus
	messages    map[string]string
	running     map[string]bool
	waiting     map[string]bool
	completions map[string]completion
	heartbeats  int
	sweepIDs    []string
	sweepErr    error
}

type completion struct {
	summary string
	prURL   string
	files   []string
	json    string
}

func newFakeStore(tasks ...domain.Task) *fakeStore {
	return &fakeStore{
		queue:       tasks,
		claimed:     map[string]bool{},
		statuses:    map[string]domain.TaskStatus{},
		messages:    map[string]string{},
		running:     map[string]bool{},
		waiting:     map[string]bool{},
		completions: map[string]completion{},
	}
}

func (f *fakeStore) ClaimNextTask(ctx context.Context, workerID, machineID string) (domain.Task, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.queue {
		if t.Project == "" || f.claimed[t.ID] {
			continue
		}
		f.claimed[t.ID] = true
		f.queue = append(f.queue[:i], f.queue[i+1:]...)
		return t, true, nil
	}
	return domain.Task{}, false, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	f.messages[id] = message
	return nil
}

func (f *fakeStore) TouchHeartbeat(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeStore) SetWaitingInput(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waiting[id] = true
	return nil
}

func (f *fakeStore) SetRunning(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = true
	return nil
}

func (f *fakeStore) Complete(ctx context.Context, id, resultSummary, pullRequestURL string, changedFiles []string, resultJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = domain.TaskCompleted
	f.completions[id] = completion{summary: resultSummary, prURL: pullRequestURL, files: changedFiles, json: resultJSON}
	return nil
}

func (f *fakeStore) SweepStaleTasks(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	return f.sweepIDs, f.sweepErr
}

type fakeWorkspace struct {
	mu        sync.Mutex
	baseDirs  []string
	path      string
	branch    string
	status    string
	diffFiles []string
	failClone bool
}

func (w *fakeWorkspace) EnsureBaseClone(repoURL, baseDir string) error {
	if w.failClone {
		return errFake("clone failed")
	}
	w.mu.Lock()
	w.baseDirs = append(w.baseDirs, baseDir)
	w.mu.Unlock()
	return nil
}

func (w *fakeWorkspace) ResolveBaseRef(baseDir, preferred string) (string, error) {
	return "main", nil
}

func (w *fakeWorkspace) CreateTaskWorktree(baseDir, workspacesRoot, project, shortID, ref string) (string, string, error) {
	w.path = workspacesRoot + "/" + project + "-" + shortID
	w.branch = "task/" + shortID
	return w.path, w.branch, nil
}

func (w *fakeWorkspace) StatusPorcelain(dir string) (string, error) { return w.status, nil }
func (w *fakeWorkspace) CommitAll(dir, message string) error        { return nil }
func (w *fakeWorkspace) PushUpstream(dir, branch string) error      { return nil }
func (w *fakeWorkspace) DiffNameOnly(dir string) ([]string, error)  { return w.diffFiles, nil }

type errFake string

func (e errFake) Error() string { return string(e) }

type fakeResolver struct{ url string }

func (f fakeResolver) Resolve(ctx context.Context, project string) (string, error) {
	if f.url == "" {
		return "", nil
	}
	return f.url, nil
}

type fakeRepoHost struct {
	createdName string
	prURL       string
}

func (f *fakeRepoHost) CreatePrivateRepo(ctx context.Context, name string) (string, error) {
	f.createdName = name
	return "https://git.example/" + name, nil
}

func (f *fakeRepoHost) OpenPullRequest(ctx context.Context, repoURL, branch, base string) (string, error) {
	f.prURL = "https://git.example/pr/1"
	return f.prURL, nil
}

type fakeChat struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeChat) SendChatter(ctx context.Context, chatID, threadID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return "msg-1", nil
}

type fakeMemory struct{ hits []string }

func (f fakeMemory) TopK(ctx context.Context, project, query string, k int) ([]string, error) {
	return f.hits, nil
}

type fakeRunner struct {
	result session.Result
	err    error
}

func (f fakeRunner) Run(ctx context.Context, req session.RunRequest) (session.Result, error) {
	return f.result, f.err
}

func baseTarget() MachineTarget {
	return MachineTarget{
		ID:             "m1",
		Shell:          shell.Target{Host: "h", Port: 22, User: "u"},
		Projects:       []string{"demo"},
		EnginePriority: []string{"claude"},
	}
}

func baseTask() domain.Task {
	return domain.Task{
		ID:            "a1b2c3d4e5f6",
		Project:       "demo",
		Description:   "add readme",
		ChatThreadID:  "thread-1",
		TargetBranch:  "",
	}
}

func TestTickClaimsAndRunsWithinMaxConcurrent(t *testing.T) {
	store := newFakeStore(baseTask())
	ws := &fakeWorkspace{}
	chat := &fakeChat{}

	cfg := Config{
		WorkerID:       "w1",
		ChatID:         "chat-1",
		Targets:        []MachineTarget{baseTarget()},
		MaxConcurrent:  2,
		WorkspacesRoot: "/tmp/workspaces",
		BaseClonesRoot: "/tmp/base",
		Store:          store,
		Workspace:      ws,
		Repos:          fakeResolver{url: "git@example.com:demo.git"},
		Chat:           chat,
		NewSession: func(target MachineTarget, task domain.Task) (SessionRunner, session.ChatSink) {
			return fakeRunner{result: session.Result{ExitCode: 0}}, nil
		},
	}
	e := New(cfg)
	e.tick(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		status, ok := store.statuses[baseTask().ID]
		store.mu.Unlock()
		if ok && status == domain.TaskCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for task completion, last status=%v", status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTickRespectsMaxConcurrent(t *testing.T) {
	e := New(Config{MaxConcurrent: 1})
	e.active = 1
	store := newFakeStore(baseTask())
	e.cfg.Store = store
	e.cfg.Targets = []MachineTarget{baseTarget()}

	e.tick(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.claimed) != 0 {
		t.Fatalf("expected no claim while at max concurrency, claimed=%v", store.claimed)
	}
}

func TestRecoverStaleSweepsOnStartup(t *testing.T) {
	store := newFakeStore()
	store.sweepIDs = []string{"t1", "t2"}
	e := New(Config{Store: store})
	e.recoverStale(context.Background())
}

func TestAssemblePromptRejectsEmptyDescription(t *testing.T) {
	e := New(Config{})
	task := baseTask()
	task.Description = "   "
	_, err := e.assemblePrompt(context.Background(), task)
	if err == nil {
		t.Fatalf("expected error for empty description")
	}
	if kind, ok := errkind.Of(err); !ok || kind != errkind.Fatal {
		t.Fatalf("expected fatal errkind, got %v (ok=%v)", kind, ok)
	}
}

func TestAssemblePromptIncludesMemoryHits(t *testing.T) {
	e := New(Config{Memory: fakeMemory{hits: []string{"prior note about readme"}}})
	prompt, err := e.assemblePrompt(context.Background(), baseTask())
	if err != nil {
		t.Fatalf("assemblePrompt: %v", err)
	}
	if !strings.Contains(prompt, "add readme") {
		t.Fatalf("expected description verbatim in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "prior note about readme") {
		t.Fatalf("expected memory hit folded in, got %q", prompt)
	}
}

func TestPrepareWorkspaceResolvesNoRepoViaRepoHost(t *testing.T) {
	ws := &fakeWorkspace{}
	host := &fakeRepoHost{}
	e := New(Config{
		Workspace:      ws,
		RepoHost:       host,
		WorkspacesRoot: "/tmp/workspaces",
		BaseClonesRoot: "/tmp/base",
	})
	task := baseTask()
	task.RepoURL = ""
	_, err := e.prepareWorkspace(context.Background(), baseTarget(), &task)
	if err != nil {
		t.Fatalf("prepareWorkspace: %v", err)
	}
	if host.createdName != "demo" {
		t.Fatalf("expected repo host to create repo named demo, got %q", host.createdName)
	}
}

func TestPrepareWorkspaceFailsNoRepoWithoutHost(t *testing.T) {
	ws := &fakeWorkspace{}
	e := New(Config{Workspace: ws, WorkspacesRoot: "/tmp/workspaces", BaseClonesRoot: "/tmp/base"})
	task := baseTask()
	task.RepoURL = ""
	_, err := e.prepareWorkspace(context.Background(), baseTarget(), &task)
	if err == nil {
		t.Fatalf("expected no_repo error")
	}
	if kind, ok := errkind.Of(err); !ok || kind != errkind.NoRepo {
		t.Fatalf("expected no_repo errkind, got %v (ok=%v)", kind, ok)
	}
}

func TestBuildCommandFreshTurnEncodesPrompt(t *testing.T) {
	builder := BuildCommand("task-1", "do the thing", false)
	cmd := builder("claude", domain.ModeStreamJSON, "/work/demo-abc", session.ResumeState{Turn: 1})
	if !strings.Contains(cmd, "base64 -d") {
		t.Fatalf("expected base64 decode pipe, got %q", cmd)
	}
	if !strings.Contains(cmd, "--ds --dp") {
		t.Fatalf("expected --ds --dp flags, got %q", cmd)
	}
	if strings.Contains(cmd, "--continue") {
		t.Fatalf("fresh turn should not use --continue, got %q", cmd)
	}
}

func TestBuildCommandResumedTurnUsesContinueFlagForClaude(t *testing.T) {
	builder := BuildCommand("task-1", "do the thing", false)
	cmd := builder("claude", domain.ModeStreamJSON, "/work/demo-abc", session.ResumeState{Turn: 2, Resumed: true, ReplyText: "yes"})
	if !strings.Contains(cmd, "--continue") {
		t.Fatalf("expected --continue for resumed claude turn, got %q", cmd)
	}
	if strings.Contains(cmd, "base64 -d") {
		t.Fatalf("resumed claude turn should skip prompt piping, got %q", cmd)
	}
}

func TestBuildCommandResumedTurnRebuildsPromptForNonContinueEngine(t *testing.T) {
	builder := BuildCommand("task-1", "do the thing", false)
	cmd := builder("codex", domain.ModeStreamJSON, "/work/demo-abc", session.ResumeState{Turn: 2, Resumed: true, ReplyText: "yes"})
	if !strings.Contains(cmd, "base64 -d") {
		t.Fatalf("expected fresh base64 pipe for non-continue engine, got %q", cmd)
	}
}

func TestBuildCommandWindowsVariant(t *testing.T) {
	builder := BuildCommand("task-1", "do the thing", true)
	cmd := builder("claude", domain.ModeStreamJSON, `C:\work\demo-abc`, session.ResumeState{Turn: 1})
	if !strings.Contains(cmd, "powershell") {
		t.Fatalf("expected powershell wrapper, got %q", cmd)
	}
	if !strings.Contains(cmd, "--dangerously-skip-permissions") {
		t.Fatalf("expected windows dangerously-skip-permissions flag, got %q", cmd)
	}
}

func TestClassifyOutcomeMapsResultToStatus(t *testing.T) {
	cases := []struct {
		name   string
		result session.Result
		err    error
		want   domain.TaskStatus
	}{
		{"success", session.Result{ExitCode: 0}, nil, domain.TaskCompleted},
		{"timeout", session.Result{TimedOut: true}, nil, domain.TaskTimeout},
		{"waiting", session.Result{WaitingInput: true}, nil, domain.TaskWaitingInput},
		{"nonzero-exit", session.Result{ExitCode: 1}, nil, domain.TaskFailed},
		{"run-error", session.Result{}, errFake("boom"), domain.TaskFailed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			status, _ := classifyOutcome(c.result, c.err)
			if status != c.want {
				t.Fatalf("classifyOutcome(%+v, %v) = %v, want %v", c.result, c.err, status, c.want)
			}
		})
	}
}

func TestPostCompletionCommitsPushesAndOpensPR(t *testing.T) {
	store := newFakeStore()
	ws := &fakeWorkspace{status: " M file.go", diffFiles: []string{"file.go"}}
	host := &fakeRepoHost{}
	chat := &fakeChat{}
	e := New(Config{Store: store, Workspace: ws, RepoHost: host, Chat: chat, ChatID: "chat-1"})

	task := baseTask()
	e.postCompletion(context.Background(), task, "/tmp/workspaces/demo-a1b2c3d4", session.Result{ExitCode: 0}, nil)

	store.mu.Lock()
	c, ok := store.completions[task.ID]
	store.mu.Unlock()
	if !ok {
		t.Fatalf("expected task completion to be persisted")
	}
	if c.prURL != host.prURL {
		t.Fatalf("expected pr url %q persisted, got %q", host.prURL, c.prURL)
	}
	if len(c.files) != 1 || c.files[0] != "file.go" {
		t.Fatalf("expected changed files [file.go], got %v", c.files)
	}

	chat.mu.Lock()
	defer chat.mu.Unlock()
	if len(chat.sent) != 1 || !strings.Contains(chat.sent[0], host.prURL) {
		t.Fatalf("expected chat summary to include pr url, got %v", chat.sent)
	}
}

func TestPostCompletionWaitingInputSkipsGitSteps(t *testing.T) {
	store := newFakeStore()
	ws := &fakeWorkspace{status: " M file.go"}
	e := New(Config{Store: store, Workspace: ws})

	task := baseTask()
	e.postCompletion(context.Background(), task, "/tmp/workspaces/demo-a1b2c3d4", session.Result{WaitingInput: true}, nil)

	store.mu.Lock()
	defer store.mu.Unlock()
	if !store.waiting[task.ID] {
		t.Fatalf("expected task marked waiting_input")
	}
	if _, completed := store.completions[task.ID]; completed {
		t.Fatalf("waiting_input task should not be completed")
	}
}

func TestFailFastPersistsFailureAndNotifiesChat(t *testing.T) {
	store := newFakeStore()
	chat := &fakeChat{}
	e := New(Config{Store: store, Chat: chat, ChatID: "chat-1"})

	task := baseTask()
	e.failFast(context.Background(), task, errkind.New(errkind.Fatal, "workspace exploded"))

	store.mu.Lock()
	status := store.statuses[task.ID]
	store.mu.Unlock()
	if status != domain.TaskFailed {
		t.Fatalf("expected failed status, got %v", status)
	}

	chat.mu.Lock()
	defer chat.mu.Unlock()
	if len(chat.sent) != 1 {
		t.Fatalf("expected one chat notice, got %v", chat.sent)
	}
}
