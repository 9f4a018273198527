// Package memory provides in-memory store implementations for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// JobStore keeps jobs in a mutex-guarded map. Jobs are copied on the way
// in and out so callers never share slices with the store.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]gitmeta.Job
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]gitmeta.Job)}
}

// CreateJob stores a new job. Creating an existing ID is an error.
func (s *JobStore) CreateJob(_ context.Context, job gitmeta.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

// UpdateJob replaces a stored job. The stored log is kept as-is; log
// lines only ever grow through AppendLog, so a caller holding a stale
// job value cannot wipe lines appended since it was loaded.
func (s *JobStore) UpdateJob(_ context.Context, job gitmeta.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("update job %s: %w", job.ID, gitmeta.ErrJobNotFound)
	}
	updated := copyJob(job)
	updated.Log = existing.Log
	s.jobs[job.ID] = updated
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (gitmeta.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return gitmeta.Job{}, fmt.Errorf("get job %s: %w", jobID, gitmeta.ErrJobNotFound)
	}
	return copyJob(job), nil
}

// ListJobs returns every job ordered by submission time, oldest first.
func (s *JobStore) ListJobs(_ context.Context) ([]gitmeta.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]gitmeta.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Submitted.Equal(jobs[j].Submitted) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].Submitted.Before(jobs[j].Submitted)
	})
	return jobs, nil
}

// DeleteJob removes a job.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("delete job %s: %w", jobID, gitmeta.ErrJobNotFound)
	}
	delete(s.jobs, jobID)
	return nil
}

// AppendLog adds one rendered line to a job's log.
func (s *JobStore) AppendLog(_ context.Context, jobID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("append log for job %s: %w", jobID, gitmeta.ErrJobNotFound)
	}
	job.Log = append(job.Log, line)
	s.jobs[jobID] = job
	return nil
}

func copyJob(job gitmeta.Job) gitmeta.Job {
	out := job
	if job.Settings != nil {
		settings := *job.Settings
		out.Settings = &settings
	}
	if job.RawResult != nil {
		raw := *job.RawResult
		raw.Response = append([]byte(nil), job.RawResult.Response...)
		out.RawResult = &raw
	}
	out.RequestedFields = append([]string(nil), job.RequestedFields...)
	out.Log = append([]string(nil), job.Log...)
	if job.Repos != nil {
		out.Repos = make([]gitmeta.RepoRecord, len(job.Repos))
		copy(out.Repos, job.Repos)
	}
	return out
}
