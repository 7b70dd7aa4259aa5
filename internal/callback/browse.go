package callback

import (
	"path"
	"sync"
	"time"
)

// BrowseTTL is the idle expiry for a directory-browsing session; every
// interaction refreshes it (spec §4.9 "Browse sessions have a TTL refresh
// on every interaction").
const BrowseTTL = 10 * time.Minute

// BrowseSession is one live directory-browsing interaction: independent
// of the tf/sf wizards, it lets a user walk a machine's filesystem from
// an inline keyboard (spec §4.9 "Directory browsing session").
type BrowseSession struct {
	ChatID    string
	ThreadID  string
	MessageID string
	Machine   string
	Root      string
	Path      string
	Prompt    string
	UpdatedAt time.Time
}

// AtRoot reports whether the session's current path is its root, so
// browse:back can refuse to go further up.
func (b BrowseSession) AtRoot() bool {
	return path.Clean(b.Path) == path.Clean(b.Root)
}

// Up returns the session's current path's parent, clamped at Root.
func (b BrowseSession) Up() string {
	if b.AtRoot() {
		return b.Path
	}
	parent := path.Dir(path.Clean(b.Path))
	if len(parent) < len(path.Clean(b.Root)) {
		return b.Root
	}
	return parent
}

// Into returns the session's current path joined with a chosen child dir.
func (b BrowseSession) Into(child string) string {
	return path.Join(b.Path, child)
}

// BrowseStore is the process-local `browsingSessionMap` spec §5 describes:
// single-owner (the Callback Router drives its own browse sessions
// end-to-end, unlike pendingQuestions whose owner is the session).
type BrowseStore struct {
	mu       sync.Mutex
	byThread map[string]*BrowseSession
}

// NewBrowseStore returns an empty BrowseStore.
func NewBrowseStore() *BrowseStore {
	return &BrowseStore{byThread: make(map[string]*BrowseSession)}
}

// Start begins (or restarts) threadID's browse session at root.
func (s *BrowseStore) Start(threadID string, sess BrowseSession) *BrowseSession {
	sess.UpdatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sess
	s.byThread[threadID] = &cp
	return s.byThread[threadID]
}

// Get returns threadID's live browse session, evicting it first if its
// TTL has lapsed.
func (s *BrowseStore) Get(threadID string) (*BrowseSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byThread[threadID]
	if !ok {
		return nil, false
	}
	if time.Since(sess.UpdatedAt) > BrowseTTL {
		delete(s.byThread, threadID)
		return nil, false
	}
	return sess, true
}

// Touch refreshes threadID's TTL, per spec's "TTL refresh on every
// interaction."
func (s *BrowseStore) Touch(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byThread[threadID]; ok {
		sess.UpdatedAt = time.Now()
	}
}

// End removes threadID's browse session.
func (s *BrowseStore) End(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byThread, threadID)
}
