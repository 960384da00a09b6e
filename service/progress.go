package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Fullstackdeveloper4545/aws/config"
	"github.com/Fullstackdeveloper4545/aws/model"
)

type progressEntry struct {
	state     model.FetchJob
	expiresAt time.Time
}

// ProgressStore holds pollable job state in memory with a bounded TTL.
// Each job has a single writer (its fetch goroutine) pushing full
// snapshots; reads may happen concurrently from pollers.
type ProgressStore struct {
	mu      sync.RWMutex
	jobs    map[string]*progressEntry
	maxJobs int
	now     func() time.Time
}

// NewProgressStore creates a store bounded to cfg.MaxJobs entries.
func NewProgressStore(cfg *config.ProgressConfig) *ProgressStore {
	maxJobs := cfg.MaxJobs
	if maxJobs < 0 {
		maxJobs = 0
	}
	return &ProgressStore{
		jobs:    make(map[string]*progressEntry),
		maxJobs: maxJobs,
		now:     time.Now,
	}
}

// Set stores the latest snapshot for a job, refreshing its TTL.
func (s *ProgressStore) Set(jobID string, state model.FetchJob, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[jobID] = &progressEntry{
		state:     state,
		expiresAt: s.now().Add(ttl),
	}

	s.cleanupIfNeeded()
}

// Get returns the last known state for a job. Expired and unknown jobs
// both report absent; callers synthesize a fallback state.
func (s *ProgressStore) Get(jobID string) (model.FetchJob, bool) {
	s.mu.RLock()
	entry, ok := s.jobs[jobID]
	s.mu.RUnlock()

	if !ok {
		return model.FetchJob{}, false
	}
	if !s.now().After(entry.expiresAt) {
		return entry.state, true
	}

	// The entry looked expired under the read lock. The job's goroutine
	// may have pushed a fresh snapshot before we get the write lock, so
	// re-check before deleting.
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok = s.jobs[jobID]
	if !ok {
		return model.FetchJob{}, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.jobs, jobID)
		return model.FetchJob{}, false
	}
	return entry.state, true
}

// Count returns the number of tracked jobs, expired entries included.
func (s *ProgressStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// cleanupIfNeeded drops expired entries and, if the store still exceeds
// maxJobs, evicts the oldest jobs. Must be called with the lock held.
func (s *ProgressStore) cleanupIfNeeded() {
	now := s.now()
	for id, entry := range s.jobs {
		if now.After(entry.expiresAt) {
			delete(s.jobs, id)
		}
	}

	if s.maxJobs <= 0 || len(s.jobs) <= s.maxJobs {
		return
	}

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.jobs[ids[i]].state.CreatedAt.Before(s.jobs[ids[j]].state.CreatedAt)
	})

	removeCount := len(ids) - s.maxJobs
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning old job state",
			"job_id", ids[i],
			"created_at", s.jobs[ids[i]].state.CreatedAt,
		)
		delete(s.jobs, ids[i])
	}
}
