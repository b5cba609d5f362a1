package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with a mutex-guarded map. Claims expire after
// the retention window; expired entries are purged lazily on access.
type MemoryStore struct {
	mu        sync.Mutex
	retention time.Duration
	claims    map[string]time.Time
	now       func() time.Time
}

// NewMemoryStore creates a MemoryStore. A non-positive retention falls back
// to DefaultRetention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		retention: retention,
		claims:    make(map[string]time.Time),
		now:       time.Now,
	}
}

func (s *MemoryStore) TryClaim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	if _, claimed := s.claims[key]; claimed {
		return false, nil
	}
	s.claims[key] = s.now()
	return true, nil
}

func (s *MemoryStore) ReleaseOnFailure(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}

func (s *MemoryStore) purgeLocked() {
	cutoff := s.now().Add(-s.retention)
	for key, claimedAt := range s.claims {
		if claimedAt.Before(cutoff) {
			delete(s.claims, key)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
