// Package envsync implements the EnvSync collaborator (spec §4.8/§6 "Env
// materialization"): before a task's workspace is first used, a project's
// .env file is written into it from a shared sync store, with
// machine-specific keys allowed to override the shared value.
//
// The shared store is just a directory of decrypted "<project>.env" files
// kept current by whatever process syncs the encrypted remote (out of
// scope here); Store only watches that directory and serves from an
// in-memory cache, the same fsnotify-with-poll-fallback shape
// internal/app/notifier.go uses to watch its own signal file.
package envsync

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounceMs   = 200
	defaultPollInterval = 10 * time.Second
)

// Store materializes a project's merged .env file into a task workspace.
// SharedDir holds "<project>.env" files synced from the encrypted remote
// store; LocalDir holds per-machine overrides at
// "<machineID>/<project>.env". A key present in both wins for the shared
// copy unless it is listed in MachineSpecificKeys, in which case the
// machine's local value wins (spec §4.8: "shared keys remote-wins,
// machine-specific keys local-wins").
type Store struct {
	SharedDir           string
	LocalDir            string
	MachineSpecificKeys map[string]bool
	Logger              *log.Logger

	debounceMs   int
	pollInterval time.Duration

	mu    sync.RWMutex
	cache map[string]map[string]string // project -> shared vars

	watcher     *fsnotify.Watcher
	useFsnotify bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewStore returns a Store watching sharedDir for "<project>.env" files.
// machineSpecific may be nil, meaning every shared key is remote-wins.
func NewStore(sharedDir, localDir string, machineSpecific map[string]bool, logger *log.Logger) *Store {
	if machineSpecific == nil {
		machineSpecific = map[string]bool{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "envsync: ", log.LstdFlags)
	}
	return &Store{
		SharedDir:           sharedDir,
		LocalDir:            localDir,
		MachineSpecificKeys: machineSpecific,
		Logger:              logger,
		debounceMs:          defaultDebounceMs,
		pollInterval:        defaultPollInterval,
		cache:               map[string]map[string]string{},
		stopCh:              make(chan struct{}),
		doneCh:              make(chan struct{}),
	}
}

// Start watches SharedDir and keeps the in-memory cache warm. Returns when
// ctx is cancelled. Falls back to poll-only if fsnotify cannot attach.
func (s *Store) Start(ctx context.Context) {
	defer close(s.doneCh)

	if err := s.reloadAll(); err != nil {
		s.Logger.Printf("envsync: initial load failed: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.Logger.Printf("envsync: fsnotify init failed (%v), using poll-only", err)
		s.useFsnotify = false
	} else {
		s.watcher = watcher
		s.useFsnotify = true
		if err := watcher.Add(s.SharedDir); err != nil {
			s.Logger.Printf("envsync: fsnotify add %s failed (%v), using poll-only", s.SharedDir, err)
			_ = watcher.Close()
			s.watcher = nil
			s.useFsnotify = false
		}
	}

	if s.useFsnotify {
		defer s.watcher.Close()
		go s.watchLoop(ctx)
	}

	s.pollLoop(ctx)
}

// Stop signals Start to return. Call after cancelling the context passed
// to Start.
func (s *Store) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Store) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(time.Duration(s.debounceMs)*time.Millisecond, func() {
				if err := s.reloadAll(); err != nil {
					s.Logger.Printf("envsync: reload failed: %v", err)
				}
			})
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *Store) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.reloadAll(); err != nil {
				s.Logger.Printf("envsync: reload failed: %v", err)
			}
		}
	}
}

func (s *Store) reloadAll() error {
	entries, err := os.ReadDir(s.SharedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("envsync: read shared dir: %w", err)
	}
	next := map[string]map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".env") {
			continue
		}
		project := strings.TrimSuffix(e.Name(), ".env")
		vars, err := parseEnvFile(filepath.Join(s.SharedDir, e.Name()))
		if err != nil {
			return fmt.Errorf("envsync: parse %s: %w", e.Name(), err)
		}
		next[project] = vars
	}
	s.mu.Lock()
	s.cache = next
	s.mu.Unlock()
	return nil
}

// Materialize writes project's merged .env into workspaceDir, satisfying
// internal/executor.EnvSync (spec §4.8 "workspace preparation"). machineID
// selects the local override file at LocalDir/<machineID>/<project>.env.
func (s *Store) Materialize(ctx context.Context, project, workspaceDir, machineID string) error {
	s.mu.RLock()
	shared := s.cache[project]
	s.mu.RUnlock()

	if shared == nil {
		if err := s.reloadAll(); err != nil {
			return err
		}
		s.mu.RLock()
		shared = s.cache[project]
		s.mu.RUnlock()
	}

	var local map[string]string
	if s.LocalDir != "" && machineID != "" {
		localPath := filepath.Join(s.LocalDir, machineID, project+".env")
		if _, err := os.Stat(localPath); err == nil {
			local, err = parseEnvFile(localPath)
			if err != nil {
				return fmt.Errorf("envsync: parse local override: %w", err)
			}
		}
	}

	merged := mergeEnv(shared, local, s.MachineSpecificKeys)
	if len(merged) == 0 {
		return nil
	}

	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("envsync: prepare workspace dir: %w", err)
	}
	return writeEnvFile(filepath.Join(workspaceDir, ".env"), merged)
}

// mergeEnv combines shared and local variables: a key present in shared
// wins unless it is also in machineSpecific, in which case local wins
// (spec §4.8). Keys present only in local are always carried through.
func mergeEnv(shared, local map[string]string, machineSpecific map[string]bool) map[string]string {
	out := make(map[string]string, len(shared)+len(local))
	for k, v := range shared {
		out[k] = v
	}
	for k, v := range local {
		if _, inShared := shared[k]; inShared && !machineSpecific[k] {
			continue
		}
		out[k] = v
	}
	return out
}

func parseEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vars := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key != "" {
			vars[key] = value
		}
	}
	return vars, scanner.Err()
}

func writeEnvFile(path string, vars map[string]string) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, vars[k])
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}
