// Package jobs defines the background-job contract used to decouple the
// clustering pass from the ingestion request cycle.
package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeClusterPass runs one incremental clustering pass.
	JobTypeClusterPass JobType = "cluster_pass"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ClusterPassJob asks the worker to cluster all currently unclustered,
// embedded transactions. Submission is fire-and-forget: the ingestion
// caller never sees this job's outcome.
type ClusterPassJob struct {
	JobID string `json:"job_id"`

	// TriggeredBy records what scheduled the pass, for diagnostics
	// (an ingestion batch id, "cli", ...).
	TriggeredBy string `json:"triggered_by"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Publisher submits jobs to a queue. The in-memory implementation is the
// only one in tree; the interface leaves room for an external broker.
type Publisher interface {
	PublishClusterPass(ctx context.Context, job *ClusterPassJob) error
	Close() error
}

// Consumer pulls jobs from a queue and runs them through a handler.
type Consumer interface {
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}

// Handler executes one job. A returned error marks the job failed; it is
// logged and counted, never propagated to the submitter.
type Handler func(ctx context.Context, job *ClusterPassJob) error

// Store tracks job state for the jobs API.
type Store interface {
	SaveJob(ctx context.Context, job *ClusterPassJob) error
	GetJob(ctx context.Context, jobID string) (*ClusterPassJob, error)
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]*ClusterPassJob, error)
}
