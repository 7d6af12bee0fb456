package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.Job
	clock crawler.Clock
}

// NewJobStore constructs a JobStore. A nil clock uses UTC wall time.
func NewJobStore(clock crawler.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]crawler.Job),
		clock: clock,
	}
}

func (s *JobStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
	}
	job.Listings = nil
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status, error text and counters for a job.
// Terminal jobs keep their status.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrNotFound)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.IsTerminal() {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// RecordListing appends a listing outcome to a job.
func (s *JobStore) RecordListing(_ context.Context, jobID string, result crawler.ListingResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("record listing for %s: %w", jobID, crawler.ErrNotFound)
	}
	job.Listings = append(job.Listings, result)
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrNotFound)
	}
	job.Listings = append([]crawler.ListingResult(nil), job.Listings...)
	return job, nil
}
