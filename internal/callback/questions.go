package callback

import (
	"sync"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
)

// QuestionStore is the process-local `pendingQuestions` map spec §5
// describes: single-owner (the session emitting the ask_user chunk puts
// the entry), read-and-removed by the Callback Router on answer.
type QuestionStore struct {
	mu       sync.Mutex
	byThread map[string]domain.PendingQuestion
}

// NewQuestionStore returns an empty QuestionStore.
func NewQuestionStore() *QuestionStore {
	return &QuestionStore{byThread: make(map[string]domain.PendingQuestion)}
}

// Put records pq, replacing any question already pending for its thread
// (an engine only ever has one outstanding ask_user at a time).
func (q *QuestionStore) Put(pq domain.PendingQuestion) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.byThread[pq.ChatThreadID] = pq
}

// Take removes and returns the pending question for threadID, if any.
func (q *QuestionStore) Take(threadID string) (domain.PendingQuestion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pq, ok := q.byThread[threadID]
	if ok {
		delete(q.byThread, threadID)
	}
	return pq, ok
}

// Peek returns the pending question for threadID without removing it.
func (q *QuestionStore) Peek(threadID string) (domain.PendingQuestion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pq, ok := q.byThread[threadID]
	return pq, ok
}

// Drop removes threadID's pending question without returning it, used
// when a session exits with an unanswered question still outstanding.
func (q *QuestionStore) Drop(threadID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.byThread, threadID)
}
