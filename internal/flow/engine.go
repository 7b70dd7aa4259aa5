// Package flow implements the Conversation Flow Engine (C10, spec §4.9):
// short-lived, per-(chat,user) wizard state walking a user through
// machine → repo mode → repo (→ subfolder) → engine/mode, then either
// capturing a free-text task description or spawning a session directly.
//
// Grounded on internal/domain/session.go's pre-existing ConversationFlow/
// FlowStep/FlowKind types (spec §3 "Conversation Flow") and the teacher's
// watchdog.go/notifier.go TTL-expiry idiom for the ≈10-minute scratch-state
// lifetime — not on internal/tools/collab/workflow.go, which implements
// unrelated MCP collaboration-board tool handlers, not a wizard.
package flow

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jaakkos/stringwork-orchestrator/internal/callback"
	"github.com/jaakkos/stringwork-orchestrator/internal/chat"
	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
)

// DefaultTTL matches spec §3's "≈10 min" conversation flow lifetime.
const DefaultTTL = 10 * time.Minute

// MachineLister sources the alphabetic machine list (spec §4.9: "Machine
// selection uses a cached list from C5").
type MachineLister interface {
	ListMachines(ctx context.Context) ([]string, error)
}

// RepoLister lists a machine's subdirectories (spec §4.9: "repo selection
// lists directories from C1").
type RepoLister interface {
	ListDirs(ctx context.Context, machine, dirPath string) ([]string, error)
}

// ProjectLister is the known-projects registry fallback spec §4.9
// describes for when a directory listing isn't available.
type ProjectLister interface {
	KnownProjects(ctx context.Context) ([]string, error)
}

// TaskCreator creates a task once the wizard's free-text description
// arrives (spec §4.9: "await_description ... before create_task is
// called").
type TaskCreator interface {
	CreateTask(ctx context.Context, f domain.ConversationFlow, description string) error
}

// SessionSpawner starts a human-driven session once the session wizard
// reaches its final step (spec §4.9: "(session: spawn)").
type SessionSpawner interface {
	SpawnSession(ctx context.Context, f domain.ConversationFlow) error
}

// DefaultRepoRoot is the filesystem root the wizard starts directory browsing
// from on each machine. The spec leaves the exact root unspecified for
// the wizard (only the browse session names "the current path"); resolved
// here as a configured constant per deployment rather than a per-user
// setting, matching how EXECUTOR_TARGETS and friends are single
// environment-wide values (spec §6).
const DefaultRepoRoot = "."

// Engine drives the tf/sf wizard state machine; it satisfies
// callback.FlowEngine.
type Engine struct {
	mu    sync.Mutex
	flows map[string]*domain.ConversationFlow
	ttl   time.Duration

	RepoRoot string
	Machines MachineLister
	Repos    RepoLister
	Projects ProjectLister
	Tasks    TaskCreator
	Sessions SessionSpawner
}

// New returns an Engine wired to its collaborators.
func New(machines MachineLister, repos RepoLister, projects ProjectLister, tasks TaskCreator, sessions SessionSpawner) *Engine {
	return &Engine{
		flows:    make(map[string]*domain.ConversationFlow),
		ttl:      DefaultTTL,
		RepoRoot: DefaultRepoRoot,
		Machines: machines,
		Repos:    repos,
		Projects: projects,
		Tasks:    tasks,
		Sessions: sessions,
	}
}

func flowKey(chatID, userID string) string {
	return chatID + ":" + userID
}

func prefixFor(kind domain.FlowKind) callback.Prefix {
	if kind == domain.FlowSession {
		return callback.PrefixSessionFlow
	}
	return callback.PrefixTaskFlow
}

// getOrStart returns the live flow for (chatID,userID), starting a fresh
// one at StepSelectMachine if none exists or the old one expired. The
// bool return reports whether a fresh flow was started (so Advance can
// render the first step instead of interpreting value as an answer to a
// step that never ran).
func (e *Engine) getOrStart(chatID, userID, threadID string, kind domain.FlowKind) (*domain.ConversationFlow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := flowKey(chatID, userID)
	now := time.Now()
	if f, ok := e.flows[key]; ok && !f.Expired(now, e.ttl) {
		return f, false
	}
	f := &domain.ConversationFlow{ChatID: chatID, UserID: userID, ThreadID: threadID, Kind: kind, Step: domain.StepSelectMachine, UpdatedAt: now}
	e.flows[key] = f
	return f, true
}

func (e *Engine) save(chatID, userID string, f *domain.ConversationFlow) {
	f.UpdatedAt = time.Now()
	e.mu.Lock()
	e.flows[flowKey(chatID, userID)] = f
	e.mu.Unlock()
}

func (e *Engine) clear(chatID, userID string) {
	e.mu.Lock()
	delete(e.flows, flowKey(chatID, userID))
	e.mu.Unlock()
}

// Advance processes one wizard callback and returns the next prompt.
func (e *Engine) Advance(ctx context.Context, chatID, userID, threadID string, kind domain.FlowKind, value string) (callback.FlowReply, error) {
	f, isNew := e.getOrStart(chatID, userID, threadID, kind)
	if isNew {
		return e.renderSelectMachine(ctx, f, threadID)
	}

	switch f.Step {
	case domain.StepSelectMachine:
		return e.advanceSelectMachine(ctx, f, threadID, value)
	case domain.StepSelectRepoMode:
		return e.advanceSelectRepoMode(ctx, f, threadID, value)
	case domain.StepSelectRepo, domain.StepSelectSubfolder:
		return e.advanceSelectRepo(ctx, f, threadID, value)
	case domain.StepSelectStartMode:
		return e.advanceSelectStartMode(ctx, f, threadID, value)
	default:
		return callback.FlowReply{}, fmt.Errorf("flow: step %s has no callback to advance", f.Step)
	}
}

// SubmitDescription completes the task wizard's await_description step
// (spec §4.9: a free-text message "captured by a message router (out of
// core) before create_task is called"). Callers outside this package own
// recognizing that a thread is mid-wizard-awaiting-description; Advance
// never reaches this step via a callback.
func (e *Engine) SubmitDescription(ctx context.Context, chatID, userID, description string) error {
	e.mu.Lock()
	f, ok := e.flows[flowKey(chatID, userID)]
	e.mu.Unlock()
	if !ok || f.Step != domain.StepAwaitDesc {
		return fmt.Errorf("flow: no task wizard awaiting a description for %s/%s", chatID, userID)
	}
	if err := e.Tasks.CreateTask(ctx, *f, description); err != nil {
		return err
	}
	e.clear(chatID, userID)
	return nil
}

func (e *Engine) renderSelectMachine(ctx context.Context, f *domain.ConversationFlow, threadID string) (callback.FlowReply, error) {
	machines, err := e.Machines.ListMachines(ctx)
	if err != nil {
		return callback.FlowReply{}, err
	}
	sort.Strings(machines)
	f.CachedListing = machines
	e.save(f.ChatID, f.UserID, f)

	prefix := prefixFor(f.Kind)
	var kb chat.Keyboard
	var row []chat.InlineButton
	for i, m := range machines {
		row = append(row, chat.InlineButton{Label: m, Data: callback.Encode(prefix, threadID, strconv.Itoa(i))})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	return callback.FlowReply{Text: "Pick a machine:", Keyboard: &kb}, nil
}

func (e *Engine) advanceSelectMachine(ctx context.Context, f *domain.ConversationFlow, threadID, value string) (callback.FlowReply, error) {
	idx, ok := parseIndex(value)
	if !ok || idx < 0 || idx >= len(f.CachedListing) {
		return callback.FlowReply{}, fmt.Errorf("flow: select_machine value %q out of range", value)
	}
	f.Machine = f.CachedListing[idx]
	f.CachedListing = nil

	if f.Kind == domain.FlowTask {
		f.Step = domain.StepSelectRepoMode
		e.save(f.ChatID, f.UserID, f)
		return e.renderSelectRepoMode(threadID), nil
	}
	f.Step = domain.StepSelectRepo
	f.RepoMode = callback.ValueExisting
	f.RepoPath = e.RepoRoot
	e.save(f.ChatID, f.UserID, f)
	return e.renderSelectRepo(ctx, f, threadID)
}

func (e *Engine) renderSelectRepoMode(threadID string) callback.FlowReply {
	kb := chat.Keyboard{{
		{Label: "New repo", Data: callback.Encode(callback.PrefixTaskFlow, threadID, callback.ValueNew)},
		{Label: "Existing repo", Data: callback.Encode(callback.PrefixTaskFlow, threadID, callback.ValueExisting)},
	}}
	return callback.FlowReply{Text: "New repo, or an existing one?", Keyboard: &kb}
}

func (e *Engine) advanceSelectRepoMode(ctx context.Context, f *domain.ConversationFlow, threadID, value string) (callback.FlowReply, error) {
	switch value {
	case callback.ValueNew:
		f.RepoMode = callback.ValueNew
		f.Step = domain.StepSelectStartMode
		e.save(f.ChatID, f.UserID, f)
		return e.renderSelectStartMode(f.Kind, threadID), nil
	case callback.ValueExisting:
		f.RepoMode = callback.ValueExisting
		f.RepoPath = e.RepoRoot
		f.Step = domain.StepSelectRepo
		e.save(f.ChatID, f.UserID, f)
		return e.renderSelectRepo(ctx, f, threadID)
	default:
		return callback.FlowReply{}, fmt.Errorf("flow: select_repo_mode value %q not recognized", value)
	}
}

func (e *Engine) renderSelectRepo(ctx context.Context, f *domain.ConversationFlow, threadID string) (callback.FlowReply, error) {
	prefix := prefixFor(f.Kind)
	dirs, err := e.Repos.ListDirs(ctx, f.Machine, f.RepoPath)
	if (err != nil || len(dirs) == 0) && e.Projects != nil {
		if known, kerr := e.Projects.KnownProjects(ctx); kerr == nil {
			dirs = known
		}
	}
	f.CachedListing = dirs
	e.save(f.ChatID, f.UserID, f)

	var kb chat.Keyboard
	var row []chat.InlineButton
	for i, d := range dirs {
		row = append(row, chat.InlineButton{Label: d, Data: callback.Encode(prefix, threadID, strconv.Itoa(i))})
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	kb = append(kb, []chat.InlineButton{{Label: "Use this directory", Data: callback.Encode(prefix, threadID, callback.ValueHere)}})
	return callback.FlowReply{Text: "Pick a repo (" + f.RepoPath + "):", Keyboard: &kb}, nil
}

func (e *Engine) advanceSelectRepo(ctx context.Context, f *domain.ConversationFlow, threadID, value string) (callback.FlowReply, error) {
	if value == callback.ValueHere {
		f.Project = path.Base(f.RepoPath)
		f.CachedListing = nil
		f.Step = domain.StepSelectStartMode
		e.save(f.ChatID, f.UserID, f)
		return e.renderSelectStartMode(f.Kind, threadID), nil
	}
	idx, ok := parseIndex(value)
	if !ok || idx < 0 || idx >= len(f.CachedListing) {
		return callback.FlowReply{}, fmt.Errorf("flow: select_repo value %q out of range", value)
	}
	f.RepoPath = path.Join(f.RepoPath, f.CachedListing[idx])
	f.Step = domain.StepSelectSubfolder
	e.save(f.ChatID, f.UserID, f)
	return e.renderSelectRepo(ctx, f, threadID)
}

func (e *Engine) renderSelectStartMode(kind domain.FlowKind, threadID string) callback.FlowReply {
	kb := callback.EngineModeKeyboard(prefixFor(kind), threadID)
	return callback.FlowReply{Text: "Pick an engine and mode:", Keyboard: &kb}
}

func (e *Engine) advanceSelectStartMode(ctx context.Context, f *domain.ConversationFlow, threadID, value string) (callback.FlowReply, error) {
	engine, mode, ok := callback.DecodeEngineMode(value)
	if !ok {
		return callback.FlowReply{}, fmt.Errorf("flow: select_start_mode value %q not recognized", value)
	}
	f.Engine = engine
	f.Mode = domain.EngineMode(mode)

	if f.Kind == domain.FlowTask {
		f.Step = domain.StepAwaitDesc
		e.save(f.ChatID, f.UserID, f)
		return callback.FlowReply{Text: "Send the task description as your next message."}, nil
	}

	f.Step = domain.StepDone
	if err := e.Sessions.SpawnSession(ctx, *f); err != nil {
		return callback.FlowReply{}, err
	}
	e.clear(f.ChatID, f.UserID)
	return callback.FlowReply{Text: "Session starting...", Done: true}, nil
}

func parseIndex(value string) (int, bool) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return n, true
}
