package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps history in process for local/dev use. Each conversation
// retains at most cap messages; older entries are dropped on append.
type InMemoryStore struct {
	mu   sync.RWMutex
	cap  int
	msgs map[string][]MessageRecord
}

func NewInMemoryStore(cap int) *InMemoryStore {
	if cap <= 0 {
		cap = 200
	}
	return &InMemoryStore{cap: cap, msgs: make(map[string][]MessageRecord)}
}

func (s *InMemoryStore) Append(_ context.Context, conversationID string, msgs []MessageRecord) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	arr := s.msgs[conversationID]
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.ConversationID = conversationID
		arr = append(arr, m)
	}
	if len(arr) > s.cap {
		arr = append([]MessageRecord(nil), arr[len(arr)-s.cap:]...)
	}
	s.msgs[conversationID] = arr
	return nil
}

func (s *InMemoryStore) History(_ context.Context, conversationID string, limit int) ([]MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.msgs[conversationID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]MessageRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgs, conversationID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
