package storage

import (
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Entries older than ttl are treated as
// absent; a zero ttl keeps entries forever.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[Location]PredictionSnapshot
	ttl       time.Duration
	now       func() time.Time
}

// NewMemoryStore creates a MemoryStore without expiry.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTTL(0)
}

// NewMemoryStoreWithTTL creates a MemoryStore whose entries expire after ttl.
func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[Location]PredictionSnapshot),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *MemoryStore) Put(snap PredictionSnapshot) error {
	s.mu.Lock()
	s.snapshots[snap.Location] = snap
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetLatest(loc Location) (PredictionSnapshot, bool, error) {
	s.mu.RLock()
	snap, ok := s.snapshots[loc]
	s.mu.RUnlock()
	if !ok {
		return PredictionSnapshot{}, false, nil
	}
	if s.ttl > 0 && s.now().Sub(snap.GeneratedAt) > s.ttl {
		return PredictionSnapshot{}, false, nil
	}
	return snap, true, nil
}
