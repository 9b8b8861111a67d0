package state

import (
	"sync"
	"time"
)

// Run records one recompute of the plan: the operation that triggered it
// and the shape of the schedule it produced.
type Run struct {
	ID          string
	Operation   string
	ActivityID  string
	At          time.Time
	Duration    time.Duration
	Blocks      int
	FreeMinutes int
	Warnings    int
}

// Store keeps a bounded in-memory history of recent recompute runs.
type Store struct {
	mu   sync.RWMutex
	runs []Run
	cap  int
}

// NewStore creates a run history store holding at most capacity entries.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 100
	}
	return &Store{runs: make([]Run, 0, capacity), cap: capacity}
}

// Add registers a run, dropping the oldest entry when the store is full.
func (s *Store) Add(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	if len(s.runs) > s.cap {
		s.runs = s.runs[len(s.runs)-s.cap:]
	}
}

// Recent returns a snapshot of tracked runs, newest first.
func (s *Store) Recent() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, len(s.runs))
	for i, run := range s.runs {
		out[len(s.runs)-1-i] = run
	}
	return out
}

// Prune removes entries recorded before cutoff.
func (s *Store) Prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.runs[:0]
	for _, run := range s.runs {
		if run.At.After(cutoff) {
			filtered = append(filtered, run)
		}
	}
	s.runs = filtered
}
