package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvoronkov/ledgerlens/internal/jobs"
)

// Store is an in-memory job store. Data is lost on restart, which is
// acceptable: cluster passes are recomputed on the next ingestion anyway.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.ClusterPassJob
}

// NewStore creates an empty in-memory job store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*jobs.ClusterPassJob)}
}

// SaveJob saves or updates a job.
func (s *Store) SaveJob(_ context.Context, job *jobs.ClusterPassJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jobCopy := *job
	s.jobs[job.JobID] = &jobCopy
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (*jobs.ClusterPassJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	jobCopy := *job
	return &jobCopy, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(_ context.Context, status jobs.JobStatus, limit int) ([]*jobs.ClusterPassJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*jobs.ClusterPassJob
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		jobCopy := *job
		out = append(out, &jobCopy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ jobs.Store = (*Store)(nil)
