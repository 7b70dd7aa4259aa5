package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func TestTopKRecallsIndexedTaskSummary(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, nil)
	defer s.Close()

	if err := s.IndexTaskSummary("widgets", 1, "Fix login bug", "session expiry was off by one", "claude", "patched the expiry check and added a regression test"); err != nil {
		t.Fatalf("IndexTaskSummary: %v", err)
	}

	hits, err := s.TopK(context.Background(), "widgets", "login expiry bug", 5)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected at least one hit, got none")
	}
}

func TestTopKScopesResultsPerProject(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, nil)
	defer s.Close()

	if err := s.IndexTaskSummary("widgets", 1, "Rate limiter", "add a token bucket rate limiter", "codex", "implemented token bucket in internal/ratelimit"); err != nil {
		t.Fatalf("IndexTaskSummary widgets: %v", err)
	}
	if err := s.IndexTaskSummary("gadgets", 2, "Unrelated gadget task", "polish the widget", "gemini", "unrelated summary"); err != nil {
		t.Fatalf("IndexTaskSummary gadgets: %v", err)
	}

	hits, err := s.TopK(context.Background(), "widgets", "token bucket rate limiter", 5)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected hits scoped to widgets project")
	}

	if _, err := filepathGlobCount(filepath.Join(dir, "*-knowledge.db")); err != nil {
		t.Fatalf("glob db files: %v", err)
	}
}

func TestTopKEmptyQueryReturnsNoHits(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, nil)
	defer s.Close()

	hits, err := s.TopK(context.Background(), "widgets", "", 5)
	if err != nil {
		t.Fatalf("TopK: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits for empty query, got %v", hits)
	}
}

func filepathGlobCount(pattern string) (int, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}
