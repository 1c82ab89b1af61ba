// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crowdlens/social-crawler/internal/scrape"
)

// JobStore keeps job records in a map guarded by a mutex. Transitions are
// enforced here exactly as the SQL store enforces them, so tests running
// against memory exercise the same state machine.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scrape.ScrapeJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]scrape.ScrapeJob)}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job scrape.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	job.Status = scrape.JobStatusQueued
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now().UTC()
	}
	s.jobs[job.ID] = job
	return nil
}

// ClaimJob transitions queued -> running atomically.
func (s *JobStore) ClaimJob(_ context.Context, jobID string) (scrape.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ScrapeJob{}, scrape.ErrJobNotFound
	}
	if job.Status != scrape.JobStatusQueued {
		return scrape.ScrapeJob{}, scrape.ErrNotQueued
	}
	job.Status = scrape.JobStatusRunning
	job.StartedAt = pointerTime(time.Now().UTC())
	s.jobs[jobID] = job
	return job, nil
}

// UpdateProgress overwrites the progress block of a running job.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, progress scrape.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrJobNotFound
	}
	job.Progress = progress
	s.jobs[jobID] = job
	return nil
}

// FinishJob transitions running -> completed/failed.
func (s *JobStore) FinishJob(_ context.Context, jobID string, status scrape.JobStatus, errText string) error {
	if status != scrape.JobStatusCompleted && status != scrape.JobStatusFailed {
		return errors.New("finish status must be completed or failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrJobNotFound
	}
	if job.Status != scrape.JobStatusRunning {
		return errors.New("job is not running")
	}
	job.Status = status
	job.Error = errText
	job.CompletedAt = pointerTime(time.Now().UTC())
	s.jobs[jobID] = job
	return nil
}

// CancelJob transitions queued -> cancelled. Running jobs are never
// interrupted, so anything past queued is rejected.
func (s *JobStore) CancelJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ErrJobNotFound
	}
	if job.Status != scrape.JobStatusQueued {
		return scrape.ErrNotQueued
	}
	job.Status = scrape.JobStatusCancelled
	job.CompletedAt = pointerTime(time.Now().UTC())
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.ScrapeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.ScrapeJob{}, scrape.ErrJobNotFound
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
