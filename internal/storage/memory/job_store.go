package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

// JobStore keeps refresh jobs in memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]catalog.RefreshJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]catalog.RefreshJob)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job catalog.RefreshJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, catalog.ErrConflict)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob applies a status change, stamping start and finish times.
func (s *JobStore) UpdateJob(_ context.Context, jobID string, update catalog.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, catalog.ErrNotFound)
	}
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	job.Status = update.Status
	job.ErrorText = update.ErrorText
	if update.Outcomes != nil {
		job.Outcomes = append([]catalog.Outcome(nil), update.Outcomes...)
	}
	if update.Status == catalog.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(at)
	}
	if isTerminal(update.Status) {
		job.Finished = pointerTime(at)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (catalog.RefreshJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return catalog.RefreshJob{}, fmt.Errorf("job %s: %w", jobID, catalog.ErrNotFound)
	}
	return cloneJob(job), nil
}

func cloneJob(job catalog.RefreshJob) catalog.RefreshJob {
	job.PIDs = append([]string(nil), job.PIDs...)
	job.Outcomes = append([]catalog.Outcome(nil), job.Outcomes...)
	return job
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status catalog.JobStatus) bool {
	switch status {
	case catalog.JobStatusSucceeded, catalog.JobStatusFailed:
		return true
	default:
		return false
	}
}
