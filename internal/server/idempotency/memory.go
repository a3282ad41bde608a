package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used in tests and in single-instance
// deployments that run without Redis.
type MemoryStore struct {
	mu    sync.Mutex
	marks map[string]time.Time
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.marks[key]; ok && expiry.After(now) {
		return false, nil
	}
	s.marks[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.marks, key)
	return nil
}
