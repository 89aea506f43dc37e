package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// MemoryStore keeps jobs in process memory. Used for tests and the
// "memory" storage driver.
type MemoryStore struct {
	mu            sync.RWMutex
	jobs          map[string]*types.Job
	byFingerprint map[string]string
	order         []string
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory job store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:          make(map[string]*types.Job),
		byFingerprint: make(map[string]string),
		now:           time.Now,
	}
}

// FindByFingerprint returns the job for a content hash
func (s *MemoryStore) FindByFingerprint(ctx context.Context, fingerprint string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byFingerprint[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(s.jobs[id]), nil
}

// Create inserts a pending job, failing with ErrConflict on a duplicate fingerprint
func (s *MemoryStore) Create(ctx context.Context, nj types.NewJob) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byFingerprint[nj.Fingerprint]; exists {
		return nil, ErrConflict
	}

	now := s.now().UTC()
	job := &types.Job{
		ID:             uuid.New().String(),
		Fingerprint:    strings.Clone(nj.Fingerprint),
		Filename:       strings.Clone(nj.Filename),
		State:          types.StatePending,
		AnalysisPrompt: strings.Clone(nj.AnalysisPrompt),
		FileSize:       nj.FileSize,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.jobs[job.ID] = job
	s.byFingerprint[job.Fingerprint] = job.ID
	s.order = append(s.order, job.ID)

	return cloneJob(job), nil
}

// Get returns a job by id
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

// Update applies a partial update and refreshes UpdatedAt
func (s *MemoryStore) Update(ctx context.Context, id string, u types.JobUpdate) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.ExpectState != nil && job.State != *u.ExpectState {
		return nil, ErrStateMismatch
	}

	applyUpdate(job, u, s.now().UTC())
	return cloneJob(job), nil
}

// List returns jobs in creation order
func (s *MemoryStore) List(ctx context.Context, offset, limit int) ([]*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.order) || limit <= 0 {
		return []*types.Job{}, nil
	}
	end := offset + limit
	if end > len(s.order) {
		end = len(s.order)
	}

	jobs := make([]*types.Job, 0, end-offset)
	for _, id := range s.order[offset:end] {
		jobs = append(jobs, cloneJob(s.jobs[id]))
	}
	return jobs, nil
}

// ListByState returns every job currently in one of the given states
func (s *MemoryStore) ListByState(ctx context.Context, states ...types.JobState) ([]*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[types.JobState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}

	var jobs []*types.Job
	for _, id := range s.order {
		if job := s.jobs[id]; want[job.State] {
			jobs = append(jobs, cloneJob(job))
		}
	}
	return jobs, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
