// Package memory implements the MemoryStore collaborator (spec §4.8/§6
// "Memory recall"): prompt assembly folds the top-K most relevant past
// task summaries and session notes for a project into the agent prompt.
//
// It reuses internal/knowledge's FTS5 index verbatim, with one knowledge
// database per project, since memory recall needs to scope results to a
// single project's history rather than search everything at once.
package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jaakkos/stringwork-orchestrator/internal/knowledge"
)

// Store keeps one knowledge.KnowledgeStore per project, opened lazily and
// kept open for the process lifetime.
type Store struct {
	dbDir  string
	logger *log.Logger

	mu     sync.Mutex
	stores map[string]*knowledge.KnowledgeStore
}

// NewStore returns a Store that opens "<dbDir>/<project>-knowledge.db" on
// first use for each project.
func NewStore(dbDir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "memory: ", log.LstdFlags)
	}
	return &Store{
		dbDir:  dbDir,
		logger: logger,
		stores: map[string]*knowledge.KnowledgeStore{},
	}
}

func (s *Store) storeFor(project string) (*knowledge.KnowledgeStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ks, ok := s.stores[project]; ok {
		return ks, nil
	}
	dbPath := filepath.Join(s.dbDir, sanitizeProject(project)+"-knowledge.db")
	ks, err := knowledge.NewKnowledgeStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open store for %s: %w", project, err)
	}
	s.stores[project] = ks
	return ks, nil
}

// IndexTaskSummary records a completed task's outcome so future TopK
// recalls can surface it for the same project (spec §4.8 "tasks feed
// memory back in on completion").
func (s *Store) IndexTaskSummary(project string, id int, title, description, assignedTo, resultSummary string) error {
	ks, err := s.storeFor(project)
	if err != nil {
		return err
	}
	return ks.Index(knowledge.FormatTaskSummary(id, title, description, assignedTo, resultSummary))
}

// IndexSessionNote records an interactive session note for later recall.
func (s *Store) IndexSessionNote(project string, id int, author, content, category string) error {
	ks, err := s.storeFor(project)
	if err != nil {
		return err
	}
	return ks.Index(knowledge.FormatSessionNote(id, author, content, category))
}

// TopK returns up to k snippets most relevant to query within project,
// satisfying internal/executor.MemoryStore (spec §4.8 prompt assembly).
func (s *Store) TopK(ctx context.Context, project, query string, k int) ([]string, error) {
	ks, err := s.storeFor(project)
	if err != nil {
		return nil, err
	}
	results, err := ks.Query(query, "", k)
	if err != nil {
		return nil, fmt.Errorf("memory: query %s: %w", project, err)
	}
	hits := make([]string, 0, len(results))
	for _, r := range results {
		snippet := r.Snippet
		if snippet == "" {
			snippet = r.Title
		}
		hits = append(hits, strings.TrimSpace(snippet))
	}
	return hits, nil
}

// Close closes every opened per-project database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for project, ks := range s.stores {
		if err := ks.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("memory: close store for %s: %w", project, err)
		}
	}
	s.stores = map[string]*knowledge.KnowledgeStore{}
	return firstErr
}

func sanitizeProject(project string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, project)
}
