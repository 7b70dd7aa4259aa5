package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/jaakkos/stringwork-orchestrator/internal/config"
	"github.com/jaakkos/stringwork-orchestrator/internal/difficulty"
	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
	"github.com/jaakkos/stringwork-orchestrator/internal/errkind"
	"github.com/jaakkos/stringwork-orchestrator/internal/executor"
	"github.com/jaakkos/stringwork-orchestrator/internal/session"
	"github.com/jaakkos/stringwork-orchestrator/internal/shell"
	"github.com/jaakkos/stringwork-orchestrator/internal/store"
)

// parseSSHKeyFile reads and parses an unencrypted private key file into
// an ssh.Signer for shell.Target.
func parseSSHKeyFile(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", path, err)
	}
	return signer, nil
}

// machineLister answers the wizard's machine-select step from the
// configured target list (spec §4.9 "Machine selection uses a cached
// list"); it never calls the live registry so the wizard stays usable
// even while a machine's heartbeat is briefly stale.
type machineLister struct {
	targets []config.TargetConfig
}

func (m *machineLister) ListMachines(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(m.targets))
	for _, t := range m.targets {
		names = append(names, t.MachineID)
	}
	sort.Strings(names)
	return names, nil
}

// repoLister lists a machine's subdirectories over the remote shell
// gateway via a one-shot `ls`, grounded on internal/shell.Gateway's
// ExecOneShot (C1).
type repoLister struct {
	gateway *shell.Gateway
	targets map[string]shell.Target
}

func (r *repoLister) ListDirs(ctx context.Context, machine, dirPath string) ([]string, error) {
	target, ok := r.targets[machine]
	if !ok {
		return nil, errkind.New(errkind.Fatal, "repoLister: unknown machine "+machine)
	}
	cmd := fmt.Sprintf("ls -1p %s 2>/dev/null", shQuote(dirPath))
	res, err := r.gateway.ExecOneShot(ctx, target, cmd, shell.DefaultTimeout, shell.DefaultOutputCap)
	if err != nil {
		return nil, fmt.Errorf("repoLister: list %s on %s: %w", dirPath, machine, err)
	}
	var dirs []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, "/") {
			dirs = append(dirs, strings.TrimSuffix(line, "/"))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// projectLister is the known-projects fallback spec §4.9 names for when a
// directory listing isn't available, built from every configured target's
// project list.
type projectLister struct {
	targets []config.TargetConfig
}

func (p *projectLister) KnownProjects(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, t := range p.targets {
		for _, proj := range t.Projects {
			if !seen[proj] {
				seen[proj] = true
				out = append(out, proj)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// taskCreator finalizes the task wizard by inserting a queued row pinned
// to the chosen machine, satisfying internal/flow.TaskCreator. Classifier
// estimates a starting BudgetCeiling/Priority from the free-text
// description before the row is inserted; it defaults to
// difficulty.NoOp{}, which leaves both at their zero value.
type taskCreator struct {
	store      *store.Store
	classifier difficulty.Classifier
}

func (t *taskCreator) CreateTask(ctx context.Context, f domain.ConversationFlow, description string) error {
	task := domain.Task{
		Description:     description,
		Project:         f.Project,
		EngineHint:      f.Engine,
		AssignedMachine: f.Machine,
		ChatThreadID:    f.ThreadID,
		Status:          domain.TaskQueued,
	}
	classifier := t.classifier
	if classifier == nil {
		classifier = difficulty.NoOp{}
	}
	if est, err := classifier.Classify(ctx, description); err == nil {
		task.BudgetCeiling = est.BudgetCeiling
		task.Priority = est.Priority
	}
	_, err := t.store.CreateTask(ctx, task)
	return err
}

// staticRepoResolver resolves a project name to its git remote URL from
// the statically configured project->URL map (spec §4.8 "repo
// resolution"); an unconfigured project reports errkind.NoRepo so the
// executor's no_repo recovery path takes over.
type staticRepoResolver struct {
	urls map[string]string
}

func (r *staticRepoResolver) Resolve(ctx context.Context, project string) (string, error) {
	url, ok := r.urls[project]
	if !ok || url == "" {
		return "", errkind.New(errkind.NoRepo, "no repository configured for project "+project)
	}
	return url, nil
}

// alwaysValidProber reports every engine as authenticated. Real
// credential probing would need a remote check (e.g. `claude auth
// status` over the shell gateway) per target machine and engine; that
// probe is future work, so sessions fall back on spawn-time engine
// errors instead of a pre-flight check, same degrade path the executor
// already takes when no AuthProber is attached.
type alwaysValidProber struct{}

func (alwaysValidProber) Valid(engine string) bool { return true }

// sessionSpawner launches an interactive engine session directly against
// the directory the session wizard finished browsing, bypassing the task
// queue entirely: spec §4.9 distinguishes the session flow's "(session:
// spawn)" terminal step from the task flow's queued create_task, so this
// talks straight to a fresh session.Supervisor the same way
// internal/executor.run wires one per task, just without a Task row.
type sessionSpawner struct {
	gateway  *shell.Gateway
	chat     session.ChatSink
	sessions *session.Registry
	targets  map[string]shell.Target
	chatID   string
}

func (s *sessionSpawner) SpawnSession(ctx context.Context, f domain.ConversationFlow) error {
	target, ok := s.targets[f.Machine]
	if !ok {
		return errkind.New(errkind.Fatal, "sessionSpawner: unknown machine "+f.Machine)
	}
	sup := session.NewSupervisor(session.GatewaySpawner{Gateway: s.gateway}, s.chat, alwaysValidProber{})
	if s.sessions != nil {
		s.sessions.Put(f.ThreadID, sup)
	}
	req := session.RunRequest{
		Target:    target,
		ChatID:    s.chatID,
		ThreadID:  f.ThreadID,
		StreamKey: "session:" + f.ThreadID,
		Mode:      f.Mode,
		WorkDir:   f.RepoPath,
		Prompt:    "",
		Engines:   []string{f.Engine},
		Command:   executor.BuildCommand(f.ThreadID, "", target.Windows),
		Timeout:   session.DefaultTimeout,
	}
	go func() {
		defer func() {
			if s.sessions != nil {
				s.sessions.Remove(f.ThreadID)
			}
		}()
		if _, err := sup.Run(context.Background(), req); err != nil {
			_, _ = s.chat.StreamChunk(context.Background(), s.chatID, "session:"+f.ThreadID, f.ThreadID, domain.Chunk{
				Kind: domain.ChunkText,
				Text: "Session ended with an error: " + err.Error(),
			})
		}
	}()
	return nil
}

// buildShellTargets resolves every configured TargetConfig into a
// shell.Target keyed by machine id, parsing each machine's SSH key once
// at startup.
func buildShellTargets(targets []config.TargetConfig) (map[string]shell.Target, error) {
	out := make(map[string]shell.Target, len(targets))
	for _, t := range targets {
		signer, err := parseSSHKeyFile(t.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.MachineID, err)
		}
		port := t.Port
		if port == 0 {
			port = 22
		}
		out[t.MachineID] = shell.Target{
			Host:    t.Host,
			Port:    port,
			User:    t.User,
			Signer:  signer,
			Windows: t.Windows,
		}
	}
	return out, nil
}

