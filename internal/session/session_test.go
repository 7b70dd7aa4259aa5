package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
	"github.com/jaakkos/stringwork-orchestrator/internal/errkind"
	"github.com/jaakkos/stringwork-orchestrator/internal/shell"
)

func assistantTextLine(text string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"text","text":%q}]}}`, text)
}

func resultLine(subtype string, cost float64, durMS int64) string {
	return fmt.Sprintf(`{"type":"result","subtype":%q,"cost_usd":%v,"duration_ms":%d}`, subtype, cost, durMS)
}

type fakeHandle struct {
	mu       sync.Mutex
	written  [][]byte
	killedCh chan struct{}
	once     sync.Once
}

func newFakeHandle() *fakeHandle { return &fakeHandle{killedCh: make(chan struct{})} }

func (h *fakeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written = append(h.written, append([]byte(nil), p...))
	return len(p), nil
}

func (h *fakeHandle) Kill() error {
	h.once.Do(func() { close(h.killedCh) })
	return nil
}

func (h *fakeHandle) Tail() string { return "" }

type scriptedAttempt struct {
	stdoutLines []string
	stderr      string
	exitCode    int
	neverExit   bool
}

type fakeSpawner struct {
	mu       sync.Mutex
	attempts []scriptedAttempt
	calls    int
}

func (f *fakeSpawner) SpawnInteractive(ctx context.Context, target shell.Target, cmd string, opts shell.SpawnOptions, cb shell.Callbacks) (ProcessHandle, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()

	attempt := f.attempts[idx]
	h := newFakeHandle()
	go func() {
		for _, line := range attempt.stdoutLines {
			if cb.OnStdout != nil {
				cb.OnStdout([]byte(line + "\n"))
			}
		}
		if attempt.stderr != "" && cb.OnStderr != nil {
			cb.OnStderr([]byte(attempt.stderr))
		}
		if attempt.neverExit {
			<-h.killedCh
			time.Sleep(10 * time.Millisecond)
		}
		if cb.OnExit != nil {
			cb.OnExit(attempt.exitCode, nil)
		}
	}()
	return h, nil
}

type fakeFacade struct {
	mu     sync.Mutex
	chunks []domain.Chunk
}

func (f *fakeFacade) StreamChunk(ctx context.Context, chatID, streamKey, threadID string, chunk domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeFacade) snapshot() []domain.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Chunk, len(f.chunks))
	copy(out, f.chunks)
	return out
}

type allowAllProber struct{}

func (allowAllProber) Valid(engine string) bool { return true }

type fakeInbox struct {
	reply string
}

func (f *fakeInbox) Poll(ctx context.Context, threadID string) (string, bool, error) {
	return f.reply, true, nil
}

func baseRequest(engines []string) RunRequest {
	return RunRequest{
		Target:    shell.Target{Host: "h"},
		ChatID:    "chat",
		ThreadID:  "thread-1",
		StreamKey: "stream-1",
		Mode:      domain.ModeStreamJSON,
		WorkDir:   "/work",
		Prompt:    "do the thing",
		Engines:   engines,
		Timeout:   2 * time.Second,
		Command: func(engine string, mode domain.EngineMode, workDir string, resume ResumeState) string {
			return engine + " run"
		},
	}
}

func TestRunCompletesOnSuccessfulResult(t *testing.T) {
	spawner := &fakeSpawner{attempts: []scriptedAttempt{
		{stdoutLines: []string{assistantTextLine("done"), resultLine("success", 0.01, 500)}, exitCode: 0},
	}}
	facade := &fakeFacade{}
	sup := NewSupervisor(spawner, facade, allowAllProber{})

	res, err := sup.Run(context.Background(), baseRequest([]string{"claude"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EngineUsed != "claude" || res.ExitCode != 0 || res.Turns != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TotalCostUSD != 0.01 {
		t.Fatalf("expected cost accumulated, got %v", res.TotalCostUSD)
	}
	foundResult := false
	for _, c := range res.Transcript {
		if c.Kind == domain.EntryResult {
			foundResult = true
		}
	}
	if !foundResult {
		t.Fatalf("expected a result transcript entry")
	}
}

func TestRunFallsBackOnRetriableError(t *testing.T) {
	spawner := &fakeSpawner{attempts: []scriptedAttempt{
		{stderr: "error: rate_limit exceeded, please retry", exitCode: 1},
		{stdoutLines: []string{resultLine("success", 0.02, 1200)}, exitCode: 0},
	}}
	facade := &fakeFacade{}
	var fellBack bool
	sup := NewSupervisor(spawner, facade, allowAllProber{})
	req := baseRequest([]string{"claude", "backup"})
	req.OnFallback = func(from, to string) { fellBack = true }

	res, err := sup.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !fellBack {
		t.Fatalf("expected OnFallback to be invoked")
	}
	if res.EngineUsed != "backup" {
		t.Fatalf("expected fallback engine to finish the session, got %q", res.EngineUsed)
	}
}

func TestRunFailsWhenNoEngineLeftAfterRetriable(t *testing.T) {
	spawner := &fakeSpawner{attempts: []scriptedAttempt{
		{stderr: "401 unauthorized", exitCode: 1},
	}}
	facade := &fakeFacade{}
	sup := NewSupervisor(spawner, facade, allowAllProber{})

	_, err := sup.Run(context.Background(), baseRequest([]string{"claude"}))
	if err == nil {
		t.Fatalf("expected error when no fallback engine remains")
	}
}

func TestRunResumesOnNeedsInputHeuristic(t *testing.T) {
	spawner := &fakeSpawner{attempts: []scriptedAttempt{
		{stdoutLines: []string{assistantTextLine("Should I proceed with the deletion?")}, exitCode: 0},
		{stdoutLines: []string{resultLine("success", 0.0, 200)}, exitCode: 0},
	}}
	facade := &fakeFacade{}
	sup := NewSupervisor(spawner, facade, allowAllProber{})
	req := baseRequest([]string{"claude"})
	req.Inbox = &fakeInbox{reply: "yes"}

	res, err := sup.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Turns != 2 {
		t.Fatalf("expected a resumed second turn, got Turns=%d", res.Turns)
	}
	if res.WaitingInput {
		t.Fatalf("expected resume to complete, not remain waiting")
	}
}

func TestRunReturnsWaitingInputWhenNoInbox(t *testing.T) {
	spawner := &fakeSpawner{attempts: []scriptedAttempt{
		{stdoutLines: []string{assistantTextLine("Should I proceed with the deletion?")}, exitCode: 0},
	}}
	facade := &fakeFacade{}
	sup := NewSupervisor(spawner, facade, allowAllProber{})
	req := baseRequest([]string{"claude"})
	req.Inbox = nil

	res, err := sup.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Turns != 1 {
		t.Fatalf("expected to stop after first turn without an inbox, got %d", res.Turns)
	}
}

func TestRunTimesOutAndKillsProcess(t *testing.T) {
	spawner := &fakeSpawner{attempts: []scriptedAttempt{
		{neverExit: true, exitCode: 137},
	}}
	facade := &fakeFacade{}
	sup := NewSupervisor(spawner, facade, allowAllProber{})
	req := baseRequest([]string{"claude"})
	req.Timeout = 100 * time.Millisecond

	res, err := sup.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut=true")
	}
}

func TestRunRejectsEmptyPrompt(t *testing.T) {
	sup := NewSupervisor(&fakeSpawner{}, &fakeFacade{}, allowAllProber{})
	req := baseRequest([]string{"claude"})
	req.Prompt = ""

	_, err := sup.Run(context.Background(), req)
	if err == nil {
		t.Fatalf("expected error for empty prompt")
	}
	if kind, ok := errkind.Of(err); !ok || kind != errkind.Fatal {
		t.Fatalf("expected Fatal errkind, got %v (err=%v)", kind, err)
	}
}

func TestWriteReplyFailsWithoutActiveProcess(t *testing.T) {
	sup := NewSupervisor(&fakeSpawner{}, &fakeFacade{}, allowAllProber{})
	if err := sup.WriteReply("hello"); err == nil {
		t.Fatalf("expected error writing to an inactive supervisor")
	}
}

func TestIsRetriable(t *testing.T) {
	cases := map[string]bool{
		"HTTP 429 Too Many Requests":       true,
		"Error: insufficient_quota":        true,
		"panic: nil pointer dereference":   false,
		"rate_limit_exceeded for this key": true,
	}
	for text, want := range cases {
		if got := isRetriable(text); got != want {
			t.Errorf("isRetriable(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestNeedsInputHeuristics(t *testing.T) {
	cases := map[string]bool{
		"Should I proceed with the deletion?":                 true,
		"Please choose an option to continue":                 true,
		"waiting for your approval to proceed":                true,
		"Pick option B to continue":                            true,
		"Do you want me to allow this action?":                 true,
		"All tests passed, build complete.":                    false,
		"Committed and pushed the feature branch successfully.": false,
	}
	for text, want := range cases {
		if got := needsInput(text); got != want {
			t.Errorf("needsInput(%q) = %v, want %v", text, got, want)
		}
	}
}
