// Package session implements the Session Supervisor (C7, spec §4.7): it
// owns one logical session — task-driven or human-driven — wiring the
// Remote Shell Gateway (internal/shell), the NDJSON Decoder
// (internal/stream), the Output Scrubber (internal/scrub), and the Chat
// Topic Facade (internal/chat) together for the lifetime of one engine
// process, across engine-fallback retries and multi-turn resumes.
//
// Grounded on the teacher's internal/app/worker_manager.go
// (classifyWorkerError's substring-driven retry classification) and
// watchdog.go (timeout/stale-sweep timing), generalized from a
// single-engine worker process into the spec's engine-priority fallback
// and needs-input resume loop, neither of which the teacher has.
package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
	"github.com/jaakkos/stringwork-orchestrator/internal/errkind"
	"github.com/jaakkos/stringwork-orchestrator/internal/scrub"
	"github.com/jaakkos/stringwork-orchestrator/internal/shell"
	"github.com/jaakkos/stringwork-orchestrator/internal/stream"
)

// DefaultTimeout is the per-session wall clock default (spec §4.7).
const DefaultTimeout = 10 * time.Minute

// killGrace is how long the second-pass kill waits after the first before
// re-issuing it, approximating the spec's "SIGTERM then SIGKILL-equivalent"
// escalation atop a transport (SSH) that has no raw SIGKILL of its own.
const killGrace = 5 * time.Second

const (
	resumePollInterval = 5 * time.Second
	resumePollMax      = 30 * time.Minute
	heartbeatInterval  = 60 * time.Second
)

// retriableSubstrings are scanned (case-insensitively) against a session's
// combined stdout+stderr on nonzero exit; a match makes the failure
// engine-fallback-retriable rather than final (spec §7).
var retriableSubstrings = []string{
	"oauth token has expired",
	"authentication_error",
	"rate_limit",
	"429",
	"billing",
	"insufficient_quota",
	"quota exceeded",
	"invalid api key",
	"unauthorized",
	"overloaded",
}

// needsInputPatterns implement the §4.7 needs-input heuristic: the last
// 500 chars of non-error output ending in one of these shapes puts the
// task into waiting_input instead of treating the exit as done.
var needsInputPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?\s*$`),
	regexp.MustCompile(`(?i)(which|what|how|should i|do you want|would you)\b[^?\n]*\?\s*$`),
	regexp.MustCompile(`(?i)\b(please\s+)?(choose|select|specify|confirm|clarify)\b`),
	regexp.MustCompile(`(?i)waiting for (your|user) (approval|input|response|reply|confirmation)`),
	regexp.MustCompile(`(?i)\boption [a-d]\b`),
	regexp.MustCompile(`(?i)\b(allow|deny|permit|authorize)\b[^?\n]*\?\s*$`),
}

func isRetriable(combined string) bool {
	lower := strings.ToLower(combined)
	for _, sub := range retriableSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func needsInput(tail string) bool {
	if len(tail) > 500 {
		tail = tail[len(tail)-500:]
	}
	tail = strings.TrimRight(tail, " \t")
	for _, re := range needsInputPatterns {
		if re.MatchString(tail) {
			return true
		}
	}
	return false
}

// ProcessHandle is the subset of *shell.Handle the supervisor needs; kept
// narrow so tests can fake a spawned process without a real SSH session.
type ProcessHandle interface {
	Write(p []byte) (int, error)
	Kill() error
	Tail() string
}

// ProcessSpawner spawns one interactive remote process. *shell.Gateway is
// adapted to this interface by GatewaySpawner below since Go's interface
// satisfaction does not cover a concrete *shell.Handle return type
// standing in for ProcessHandle.
type ProcessSpawner interface {
	SpawnInteractive(ctx context.Context, target shell.Target, cmd string, opts shell.SpawnOptions, cb shell.Callbacks) (ProcessHandle, error)
}

// GatewaySpawner adapts a *shell.Gateway to ProcessSpawner.
type GatewaySpawner struct {
	Gateway *shell.Gateway
}

func (g GatewaySpawner) SpawnInteractive(ctx context.Context, target shell.Target, cmd string, opts shell.SpawnOptions, cb shell.Callbacks) (ProcessHandle, error) {
	h, err := g.Gateway.SpawnInteractive(ctx, target, cmd, opts, cb)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ChatSink is the Chat Topic Facade surface the supervisor streams chunks
// through; *chat.Facade satisfies this directly.
type ChatSink interface {
	StreamChunk(ctx context.Context, chatID, streamKey, threadID string, chunk domain.Chunk) error
}

// AuthProber reports whether engine has valid, usable credentials on the
// target machine, consulted before spawn and again on engine fallback.
type AuthProber interface {
	Valid(engine string) bool
}

// InputInbox delivers a waiting user's reply for a thread once posted,
// used by the multi-turn resume poll loop.
type InputInbox interface {
	Poll(ctx context.Context, threadID string) (text string, ok bool, err error)
}

// ResumeState tells a CommandBuilder which turn it is building a command
// for, and carries the prior turn's reply for engines with no native
// --continue equivalent.
type ResumeState struct {
	Turn      int
	Resumed   bool
	ReplyText string
}

// CommandBuilder renders the concrete engine invocation for one turn. It
// is supplied by the caller (the Task Executor) because the engine's CLI
// shape — flags, continue syntax, Windows PowerShell wrapping — is a
// workspace/engine concern, not the supervisor's (spec §4.7/§4.8).
type CommandBuilder func(engine string, mode domain.EngineMode, workDir string, resume ResumeState) string

// RunRequest describes one session to drive to completion.
type RunRequest struct {
	Target    shell.Target
	ChatID    string
	ThreadID  string
	StreamKey string
	Mode      domain.EngineMode
	WorkDir   string
	Prompt    string
	Engines   []string
	Command   CommandBuilder
	Timeout   time.Duration

	Inbox       InputInbox
	OnAskUser   func(domain.PendingQuestion)
	OnHeartbeat func(ctx context.Context) error
	OnFallback  func(from, to string)
}

// Result summarizes a completed (or abandoned) session.
type Result struct {
	EngineUsed    string
	ExitCode      int
	TimedOut      bool
	WaitingInput  bool
	Transcript    []domain.TranscriptEntry
	TotalCostUSD  float64
	TotalDuration time.Duration
	Turns         int
}

// Supervisor drives exactly one session for its lifetime; create a new
// Supervisor per session rather than reusing one across sessions, since
// it tracks the single currently-live process handle for WriteReply.
type Supervisor struct {
	spawner ProcessSpawner
	facade  ChatSink
	prober  AuthProber

	mu               sync.Mutex
	handle           ProcessHandle
	activeTranscript *[]domain.TranscriptEntry
	activeTMu        *sync.Mutex
}

// NewSupervisor returns a Supervisor wired to spawner/facade/prober.
func NewSupervisor(spawner ProcessSpawner, facade ChatSink, prober AuthProber) *Supervisor {
	return &Supervisor{spawner: spawner, facade: facade, prober: prober}
}

// WriteReply writes a user's framed answer to the currently-live process's
// stdin (spec §4.7 "User input injection"): used by the Callback Router
// when a pending ask_user question receives its keyboard answer while the
// engine process is still alive and waiting on the same turn.
func (s *Supervisor) WriteReply(text string) error {
	s.mu.Lock()
	h := s.handle
	transcript := s.activeTranscript
	tmu := s.activeTMu
	s.mu.Unlock()
	if h == nil {
		return errkind.New(errkind.Fatal, "session: no active process to write to")
	}
	_, err := h.Write(stream.EncodeUserReply(text))
	if err == nil && transcript != nil && tmu != nil {
		tmu.Lock()
		*transcript = append(*transcript, domain.TranscriptEntry{Kind: domain.EntryUserInput, Content: text, At: timeNow()})
		tmu.Unlock()
	}
	return err
}

func (s *Supervisor) setHandle(h ProcessHandle) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// setTranscriptSink records where WriteReply should append a user_input
// entry (spec §4.7 "appends a user_input transcript entry") while this
// attempt's process is live; cleared on attempt exit.
func (s *Supervisor) setTranscriptSink(transcript *[]domain.TranscriptEntry, tmu *sync.Mutex) {
	s.mu.Lock()
	s.activeTranscript = transcript
	s.activeTMu = tmu
	s.mu.Unlock()
}

// Run drives req to completion: spawn, stream, classify exit, fall back
// across req.Engines on a retriable error, and resume across turns when
// the needs-input heuristic fires, accumulating cost/duration/transcript.
func (s *Supervisor) Run(ctx context.Context, req RunRequest) (Result, error) {
	if req.Prompt == "" {
		return Result{}, errkind.New(errkind.Fatal, "session: empty prompt")
	}
	if len(req.Engines) == 0 {
		return Result{}, errkind.New(errkind.Fatal, "session: no engine configured")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	engine, ok := s.pickEngine(req.Engines, "")
	if !ok {
		return Result{}, errkind.New(errkind.Fatal, "session: no engine with valid auth")
	}

	var (
		transcript []domain.TranscriptEntry
		totalCost  float64
		totalDur   time.Duration
		turn       int
		resume     ResumeState
	)

	for {
		turn++
		resume.Turn = turn
		turnStart := len(transcript)
		attempt, err := s.runOneAttempt(ctx, req, engine, resume, timeout, &transcript, &totalCost, &totalDur)
		if err != nil {
			if attempt.retriable {
				next, ok := s.pickEngine(req.Engines, engine)
				if !ok {
					return s.result(engine, attempt, transcript, totalCost, totalDur, turn), err
				}
				if req.OnFallback != nil {
					req.OnFallback(engine, next)
				}
				_ = s.facade.StreamChunk(ctx, req.ChatID, req.StreamKey, req.ThreadID, domain.Chunk{
					Kind: domain.ChunkPassthrough,
					Text: fmt.Sprintf("Falling back from %s to %s after a retriable error", engine, next),
				})
				engine = next
				resume = ResumeState{}
				continue
			}
			return s.result(engine, attempt, transcript, totalCost, totalDur, turn), err
		}
		if attempt.timedOut {
			return s.result(engine, attempt, transcript, totalCost, totalDur, turn), nil
		}

		if !needsInput(tailText(transcript[turnStart:])) {
			return s.result(engine, attempt, transcript, totalCost, totalDur, turn), nil
		}

		if req.Inbox == nil {
			r := s.result(engine, attempt, transcript, totalCost, totalDur, turn)
			r.WaitingInput = true
			return r, nil
		}
		_ = s.facade.StreamChunk(ctx, req.ChatID, req.StreamKey, req.ThreadID, domain.Chunk{
			Kind: domain.ChunkPassthrough,
			Text: fmt.Sprintf("waiting for your reply (turn %d)", turn),
		})
		reply, got := s.awaitReply(ctx, req.Inbox, req.ThreadID)
		if !got {
			r := s.result(engine, attempt, transcript, totalCost, totalDur, turn)
			r.WaitingInput = true
			return r, nil
		}
		resume = ResumeState{Turn: turn + 1, Resumed: true, ReplyText: reply}
	}
}

type attemptOutcome struct {
	exitCode  int
	retriable bool
	timedOut  bool
}

func (s *Supervisor) runOneAttempt(ctx context.Context, req RunRequest, engine string, resume ResumeState, timeout time.Duration, transcript *[]domain.TranscriptEntry, totalCost *float64, totalDur *time.Duration) (attemptOutcome, error) {
	cmd := req.Command(engine, req.Mode, req.WorkDir, resume)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dec := stream.NewDecoder()
	var combined strings.Builder
	var mu sync.Mutex
	exitCh := make(chan attemptOutcome, 1)

	appendEntry := func(kind domain.TranscriptEntryKind, content string) {
		mu.Lock()
		*transcript = append(*transcript, domain.TranscriptEntry{Kind: kind, Content: content, At: timeNow()})
		mu.Unlock()
	}

	onStdout := func(b []byte) {
		mu.Lock()
		combined.Write(b)
		mu.Unlock()
		for _, chunk := range dec.Feed(b) {
			s.emit(ctx, req, chunk, appendEntry, totalCost, totalDur)
		}
	}
	onStderr := func(b []byte) {
		mu.Lock()
		combined.Write(b)
		mu.Unlock()
		cleaned := scrub.Scrub(b)
		if cleaned == "" {
			return
		}
		appendEntry(domain.EntryStderr, cleaned)
		_ = s.facade.StreamChunk(ctx, req.ChatID, req.StreamKey, req.ThreadID, domain.Chunk{
			Kind: domain.ChunkPassthrough,
			Text: "[stderr] " + cleaned,
		})
	}

	opts := shell.SpawnOptions{
		UsePty:  req.Mode == domain.ModeTUI,
		Timeout: timeout,
	}
	handle, err := s.spawner.SpawnInteractive(runCtx, req.Target, cmd, opts, shell.Callbacks{
		OnStdout: onStdout,
		OnStderr: onStderr,
		OnExit: func(code int, exitErr error) {
			for _, chunk := range dec.Flush() {
				s.emit(ctx, req, chunk, appendEntry, totalCost, totalDur)
			}
			mu.Lock()
			text := combined.String()
			mu.Unlock()
			exitCh <- attemptOutcome{
				exitCode:  code,
				retriable: code != 0 && isRetriable(text),
			}
		},
	})
	if err != nil {
		return attemptOutcome{}, err
	}
	s.setHandle(handle)
	defer s.setHandle(nil)
	s.setTranscriptSink(transcript, &mu)
	defer s.setTranscriptSink(nil, nil)

	_, _ = handle.Write(stream.EncodeUserReply(req.Prompt))

	stopHeartbeat := s.startHeartbeat(ctx, req.OnHeartbeat)
	defer stopHeartbeat()

	select {
	case out := <-exitCh:
		if out.retriable {
			return out, errkind.New(errkind.Retriable, "engine exited with a retriable error")
		}
		return out, nil
	case <-runCtx.Done():
		_ = handle.Kill()
		timer := time.NewTimer(killGrace)
		defer timer.Stop()
		var out attemptOutcome
		select {
		case out = <-exitCh:
		case <-timer.C:
			_ = handle.Kill()
			out = <-exitCh
		}
		out.timedOut = true
		out.retriable = false
		return out, nil
	}
}

func (s *Supervisor) emit(ctx context.Context, req RunRequest, chunk domain.Chunk, appendEntry func(domain.TranscriptEntryKind, string), totalCost *float64, totalDur *time.Duration) {
	switch chunk.Kind {
	case domain.ChunkText:
		appendEntry(domain.EntryText, chunk.Text)
	case domain.ChunkHookResponse:
		appendEntry(domain.EntryHookResponse, chunk.Text)
	case domain.ChunkAskUser:
		appendEntry(domain.EntryAskUser, chunk.Question)
		if req.OnAskUser != nil {
			req.OnAskUser(domain.PendingQuestion{
				ChatThreadID: req.ThreadID,
				ToolID:       chunk.ToolID,
				Question:     chunk.Question,
				Options:      chunk.Options,
				CreatedAt:    timeNow(),
			})
		}
	case domain.ChunkToolUse:
		appendEntry(domain.EntryToolUse, chunk.ToolSummary)
	case domain.ChunkResult:
		appendEntry(domain.EntryResult, chunk.ResultSubtype)
		*totalCost += chunk.CostUSD
		*totalDur += time.Duration(chunk.DurationMS) * time.Millisecond
	case domain.ChunkPassthrough:
		appendEntry(domain.EntryPassthrough, chunk.Text)
	}
	_ = s.facade.StreamChunk(ctx, req.ChatID, req.StreamKey, req.ThreadID, chunk)
}

func (s *Supervisor) startHeartbeat(ctx context.Context, fn func(context.Context) error) func() {
	if fn == nil {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = fn(ctx)
			}
		}
	}()
	return func() { close(stop) }
}

func (s *Supervisor) awaitReply(ctx context.Context, inbox InputInbox, threadID string) (string, bool) {
	deadline := timeNow().Add(resumePollMax)
	ticker := time.NewTicker(resumePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
			text, ok, err := inbox.Poll(ctx, threadID)
			if err == nil && ok {
				return text, true
			}
			if timeNow().After(deadline) {
				return "", false
			}
		}
	}
}

func (s *Supervisor) pickEngine(engines []string, after string) (string, bool) {
	start := 0
	if after != "" {
		for i, e := range engines {
			if e == after {
				start = i + 1
				break
			}
		}
	}
	for _, e := range engines[start:] {
		if s.prober == nil || s.prober.Valid(e) {
			return e, true
		}
	}
	return "", false
}

func (s *Supervisor) result(engine string, out attemptOutcome, transcript []domain.TranscriptEntry, cost float64, dur time.Duration, turns int) Result {
	return Result{
		EngineUsed:    engine,
		ExitCode:      out.exitCode,
		TimedOut:      out.timedOut,
		Transcript:    transcript,
		TotalCostUSD:  cost,
		TotalDuration: dur,
		Turns:         turns,
	}
}

func tailText(transcript []domain.TranscriptEntry) string {
	var recent []string
	total := 0
	for i := len(transcript) - 1; i >= 0 && total < 500; i-- {
		e := transcript[i]
		if e.Kind != domain.EntryText && e.Kind != domain.EntryPassthrough {
			continue
		}
		recent = append(recent, e.Content)
		total += len(e.Content)
	}
	var b strings.Builder
	for i := len(recent) - 1; i >= 0; i-- {
		b.WriteString(recent[i])
	}
	return b.String()
}

// timeNow is a seam so tests needing deterministic timestamps can override
// it; production code always uses the real wall clock.
var timeNow = time.Now
