package envsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readMerged(t *testing.T, workspaceDir string) map[string]string {
	t.Helper()
	got, err := parseEnvFile(filepath.Join(workspaceDir, ".env"))
	if err != nil {
		t.Fatalf("parse materialized .env: %v", err)
	}
	return got
}

func TestMaterializeSharedOnly(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared")
	workspace := filepath.Join(dir, "ws")
	writeFile(t, filepath.Join(shared, "widgets.env"), "API_KEY=shared-key\nREGION=us-east-1\n")

	s := NewStore(shared, "", nil, nil)
	if err := s.Materialize(context.Background(), "widgets", workspace, "machine-1"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	got := readMerged(t, workspace)
	if got["API_KEY"] != "shared-key" || got["REGION"] != "us-east-1" {
		t.Fatalf("unexpected merged vars: %+v", got)
	}
}

func TestMaterializeSharedWinsOverLocalForSharedKeys(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared")
	local := filepath.Join(dir, "local")
	workspace := filepath.Join(dir, "ws")
	writeFile(t, filepath.Join(shared, "widgets.env"), "API_KEY=remote-key\n")
	writeFile(t, filepath.Join(local, "machine-1", "widgets.env"), "API_KEY=stale-local-key\nLOCAL_PORT=8080\n")

	s := NewStore(shared, local, nil, nil)
	if err := s.Materialize(context.Background(), "widgets", workspace, "machine-1"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	got := readMerged(t, workspace)
	if got["API_KEY"] != "remote-key" {
		t.Fatalf("expected shared key to win, got %q", got["API_KEY"])
	}
	if got["LOCAL_PORT"] != "8080" {
		t.Fatalf("expected local-only key to be carried through, got %+v", got)
	}
}

func TestMaterializeMachineSpecificKeyPrefersLocal(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared")
	local := filepath.Join(dir, "local")
	workspace := filepath.Join(dir, "ws")
	writeFile(t, filepath.Join(shared, "widgets.env"), "DB_HOST=shared-host\n")
	writeFile(t, filepath.Join(local, "machine-1", "widgets.env"), "DB_HOST=machine-1-host\n")

	s := NewStore(shared, local, map[string]bool{"DB_HOST": true}, nil)
	if err := s.Materialize(context.Background(), "widgets", workspace, "machine-1"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	got := readMerged(t, workspace)
	if got["DB_HOST"] != "machine-1-host" {
		t.Fatalf("expected machine-specific key to prefer local, got %q", got["DB_HOST"])
	}
}

func TestMaterializeNoSharedFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared")
	workspace := filepath.Join(dir, "ws")
	if err := os.MkdirAll(shared, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	s := NewStore(shared, "", nil, nil)
	if err := s.Materialize(context.Background(), "unknown-project", workspace, "machine-1"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(workspace, ".env")); !os.IsNotExist(err) {
		t.Fatalf("expected no .env written, got err=%v", err)
	}
}

func TestMergeEnvPrecedence(t *testing.T) {
	shared := map[string]string{"A": "shared-a", "B": "shared-b"}
	local := map[string]string{"A": "local-a", "C": "local-c"}
	out := mergeEnv(shared, local, map[string]bool{"A": true})
	if out["A"] != "local-a" {
		t.Fatalf("machine-specific key should prefer local, got %q", out["A"])
	}
	if out["B"] != "shared-b" {
		t.Fatalf("shared-only key should survive, got %q", out["B"])
	}
	if out["C"] != "local-c" {
		t.Fatalf("local-only key should survive, got %q", out["C"])
	}
}

func TestReloadAllPicksUpSharedDirChanges(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared")
	workspace := filepath.Join(dir, "ws")
	writeFile(t, filepath.Join(shared, "widgets.env"), "API_KEY=v1\n")

	s := NewStore(shared, "", nil, nil)
	if err := s.Materialize(context.Background(), "widgets", workspace, "m1"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if got := readMerged(t, workspace); got["API_KEY"] != "v1" {
		t.Fatalf("expected v1, got %+v", got)
	}

	writeFile(t, filepath.Join(shared, "widgets.env"), "API_KEY=v2\n")
	if err := s.reloadAll(); err != nil {
		t.Fatalf("reloadAll: %v", err)
	}
	workspace2 := filepath.Join(dir, "ws2")
	if err := s.Materialize(context.Background(), "widgets", workspace2, "m1"); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if got := readMerged(t, workspace2); got["API_KEY"] != "v2" {
		t.Fatalf("expected v2 after reload, got %+v", got)
	}
}
