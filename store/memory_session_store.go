package store

import (
	"context"
	"sync"
	"time"

	"github.com/BatmanBruc/bat-bot-uploader/types"
)

type memoryEntry struct {
	session   types.Session
	expiresAt time.Time
}

// MemorySessionStore is the default session backend. Entries expire lazily on read
// and are swept by the scheduler's housekeeping job.
type MemorySessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int64]memoryEntry
}

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemorySessionStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]memoryEntry),
	}
}

func (s *MemorySessionStore) Get(_ context.Context, conversationID int64) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conversationID]
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, conversationID)
		return nil, types.ErrSessionNotFound
	}
	sess := e.session
	return &sess, nil
}

func (s *MemorySessionStore) Put(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[session.ConversationID] = memoryEntry{
		session:   *session,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, conversationID)
	return nil
}

// Sweep drops expired sessions and reports how many were removed.
func (s *MemorySessionStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}
