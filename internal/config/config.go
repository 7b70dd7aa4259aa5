// Package config loads the orchestrator's process configuration. It follows
// the teacher's internal/policy.Config shape (YAML with sane defaults) but
// adds an environment-variable layer for secrets that must never sit in a
// committed YAML file (chat bot token, repo-host token, engine-sync
// passphrase) plus per-deployment knobs such as the store path. SSH key
// paths are read from the YAML targets only; no environment variable
// overrides them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalStateDir returns ~/.config/stringwork-orchestrator, creating no
// directories itself.
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "stringwork-orchestrator")
}

// TargetConfig describes one SSH-reachable worker machine.
type TargetConfig struct {
	MachineID      string   `yaml:"machine_id"`
	DisplayName    string   `yaml:"display_name"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	User           string   `yaml:"user"`
	KeyPath        string   `yaml:"key_path"`
	Windows        bool     `yaml:"windows"`
	Projects       []string `yaml:"projects"`
	MaxConcurrent  int      `yaml:"max_concurrent"`
	EnginePriority []string `yaml:"engine_priority"`
}

// ChatConfig configures the chat transport collaborator.
type ChatConfig struct {
	BotToken string `yaml:"bot_token"`
	GroupID  int64  `yaml:"group_id"`
}

// StoreConfig configures the durable row store.
type StoreConfig struct {
	Path string `yaml:"path"` // sqlite file path; defaults under GlobalStateDir
}

// RepoHostConfig configures the repo-host collaborator (private repo
// auto-creation, pull-request open).
type RepoHostConfig struct {
	Token string `yaml:"token"`
	Org   string `yaml:"org"`
}

// Config is the orchestrator's full process configuration.
type Config struct {
	ExecutorEnabled       bool           `yaml:"executor_enabled"`
	ExecutorID            string         `yaml:"executor_id"`
	ExecutorMaxConcurrent int            `yaml:"executor_max_concurrent"`
	ExecutorTargets       []string       `yaml:"executor_targets"` // CSV of machine ids; empty = all
	SessionMode           string         `yaml:"session_mode"`     // stream-json | tui
	DefaultEngine         string         `yaml:"default_engine"`
	EngineSyncPassphrase  string         `yaml:"engine_sync_passphrase"`
	WorkspaceRoot         string         `yaml:"workspace_root"`
	StatusAddr            string         `yaml:"status_addr"`

	Targets  []TargetConfig `yaml:"targets"`
	Chat     ChatConfig     `yaml:"chat"`
	Store    StoreConfig    `yaml:"store"`
	RepoHost RepoHostConfig `yaml:"repo_host"`

	PollInterval       time.Duration `yaml:"-"`
	HeartbeatFresh     time.Duration `yaml:"-"`
	HeartbeatStale     time.Duration `yaml:"-"`
	StaleTaskThreshold time.Duration `yaml:"-"`
}

// Default timing constants named in spec §3–§4 (HB_FRESH, HB_STALE, STALE_TASK).
const (
	DefaultPollInterval       = 5 * time.Second
	DefaultHeartbeatFresh     = 60 * time.Second
	DefaultHeartbeatStale     = 120 * time.Second
	DefaultStaleTaskThreshold = 10 * time.Minute
	DefaultExecutorMaxConcur  = 3
)

// Default returns a Config with every spec-mandated default applied and no
// targets/credentials configured.
func Default() *Config {
	return &Config{
		ExecutorMaxConcurrent: DefaultExecutorMaxConcur,
		SessionMode:           "stream-json",
		DefaultEngine:         "claude",
		PollInterval:          DefaultPollInterval,
		HeartbeatFresh:        DefaultHeartbeatFresh,
		HeartbeatStale:        DefaultHeartbeatStale,
		StaleTaskThreshold:    DefaultStaleTaskThreshold,
	}
}

// Load reads a YAML file (if path is non-empty and exists) into a default
// Config, then applies environment-variable overrides, matching the
// precedence the teacher's LoadConfig documents for its own settings: file
// supplies structure, environment supplies secrets and per-deployment knobs.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.StoreConfigPath() == "" {
		cfg.Store.Path = filepath.Join(GlobalStateDir(), "orchestrator.sqlite")
	}
	if cfg.StatusAddr == "" {
		cfg.StatusAddr = "127.0.0.1:8787"
	}

	return cfg, nil
}

// StoreConfigPath returns the configured store path, possibly empty.
func (c *Config) StoreConfigPath() string { return c.Store.Path }

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EXECUTOR_ENABLED"); v != "" {
		cfg.ExecutorEnabled = truthy(v)
	}
	if v := os.Getenv("EXECUTOR_ID"); v != "" {
		cfg.ExecutorID = v
	}
	if v := os.Getenv("EXECUTOR_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExecutorMaxConcurrent = n
		}
	}
	if v := os.Getenv("EXECUTOR_TARGETS"); v != "" {
		cfg.ExecutorTargets = splitCSV(v)
	}
	if v := os.Getenv("SESSION_MODE"); v != "" {
		cfg.SessionMode = v
	}
	if v := os.Getenv("DEFAULT_ENGINE"); v != "" {
		cfg.DefaultEngine = v
	}
	if v := os.Getenv("ENGINE_SYNC_PASSPHRASE"); v != "" {
		cfg.EngineSyncPassphrase = v
	}
	if v := os.Getenv("CHAT_BOT_TOKEN"); v != "" {
		cfg.Chat.BotToken = v
	}
	if v := os.Getenv("CHAT_GROUP_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chat.GroupID = n
		}
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REPO_HOST_TOKEN"); v != "" {
		cfg.RepoHost.Token = v
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// TargetByID looks up a configured target by machine id.
func (c *Config) TargetByID(id string) (TargetConfig, bool) {
	for _, t := range c.Targets {
		if t.MachineID == id {
			return t, true
		}
	}
	return TargetConfig{}, false
}

// ManagedTargets returns the targets this executor instance should poll: the
// configured ExecutorTargets CSV if set, else every configured SSH target.
func (c *Config) ManagedTargets() []TargetConfig {
	if len(c.ExecutorTargets) == 0 {
		return c.Targets
	}
	wanted := make(map[string]bool, len(c.ExecutorTargets))
	for _, id := range c.ExecutorTargets {
		wanted[id] = true
	}
	var out []TargetConfig
	for _, t := range c.Targets {
		if wanted[t.MachineID] {
			out = append(out, t)
		}
	}
	return out
}
