package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local attempt log for tests and single-instance development.
type MemoryStore struct {
	mu       sync.Mutex
	attempts []Attempt
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Window(_ context.Context, hashedKey string, endpoint Endpoint, since time.Time, n int) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var times []time.Time
	for _, a := range s.attempts {
		if a.HashedKey != hashedKey || a.Endpoint != endpoint || !a.CreatedAt.After(since) {
			continue
		}
		times = append(times, a.CreatedAt)
	}
	w := Window{Count: len(times)}
	if n < 1 {
		n = 1
	}
	if len(times) >= n {
		sort.Slice(times, func(i, j int) bool { return times[i].After(times[j]) })
		w.Nth = times[n-1]
	}
	return w, nil
}

func (s *MemoryStore) Record(_ context.Context, attempts ...Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempts...)
	return nil
}

func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.attempts[:0]
	var n int64
	for _, a := range s.attempts {
		if a.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return n, nil
}

// Len returns the number of stored attempts.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}
