package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryObservationStore keeps observations in process memory.
// It is safe for concurrent use; the existence check and the insert of
// InsertIfAbsent happen under one write lock.
type MemoryObservationStore struct {
	mu   sync.RWMutex
	rows []Observation
	keys map[Key]struct{}
}

// NewMemoryObservationStore returns an empty store.
func NewMemoryObservationStore() *MemoryObservationStore {
	return &MemoryObservationStore{keys: make(map[Key]struct{})}
}

func (s *MemoryObservationStore) InsertIfAbsent(ctx context.Context, obs []Observation) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, o := range obs {
		o.Timestamp = o.Timestamp.UTC()
		k := o.Key()
		if _, exists := s.keys[k]; exists {
			continue
		}
		s.keys[k] = struct{}{}
		s.rows = append(s.rows, o)
		inserted++
	}
	return inserted, nil
}

func (s *MemoryObservationStore) All(ctx context.Context) ([]Observation, error) {
	s.mu.RLock()
	out := make([]Observation, len(s.rows))
	copy(out, s.rows)
	s.mu.RUnlock()

	sortObservations(out)
	return out, nil
}

func (s *MemoryObservationStore) ForLocation(ctx context.Context, loc Location) ([]Observation, error) {
	s.mu.RLock()
	var out []Observation
	for _, o := range s.rows {
		if o.Location() == loc {
			out = append(out, o)
		}
	}
	s.mu.RUnlock()

	sortObservations(out)
	return out, nil
}

func (s *MemoryObservationStore) DeleteLocation(ctx context.Context, loc Location) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	deleted := 0
	for _, o := range s.rows {
		if o.Location() == loc {
			delete(s.keys, o.Key())
			deleted++
			continue
		}
		kept = append(kept, o)
	}
	s.rows = kept
	return deleted, nil
}

func (s *MemoryObservationStore) DeleteAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.rows)
	s.rows = nil
	s.keys = make(map[Key]struct{})
	return n, nil
}

func sortObservations(obs []Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		a, b := obs[i], obs[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Latitude != b.Latitude {
			return a.Latitude < b.Latitude
		}
		return a.Longitude < b.Longitude
	})
}
