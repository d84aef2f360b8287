package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvoronkov/ledgerlens/internal/jobs"
)

func waitForStatus(t *testing.T, store jobs.Store, jobID string, want jobs.JobStatus) *jobs.ClusterPassJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestQueueProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	done := make(chan string, 1)
	require.NoError(t, q.Start(context.Background(), func(_ context.Context, job *jobs.ClusterPassJob) error {
		done <- job.JobID
		return nil
	}))

	job := &jobs.ClusterPassJob{TriggeredBy: "test"}
	require.NoError(t, q.PublishClusterPass(context.Background(), job))
	require.NotEmpty(t, job.JobID, "publish assigns an id")

	select {
	case id := <-done:
		assert.Equal(t, job.JobID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	final := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
	assert.Empty(t, final.Error)
}

func TestQueueRecordsFailure(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	require.NoError(t, q.Start(context.Background(), func(context.Context, *jobs.ClusterPassJob) error {
		return errors.New("store unavailable")
	}))

	job := &jobs.ClusterPassJob{TriggeredBy: "test"}
	// Publishing succeeds even though the handler will fail.
	require.NoError(t, q.PublishClusterPass(context.Background(), job))

	final := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, "store unavailable", final.Error)
}

func TestQueueRejectsPublishAfterClose(t *testing.T) {
	q := NewQueue(1, 1, NewStore())
	require.NoError(t, q.Close())

	err := q.PublishClusterPass(context.Background(), &jobs.ClusterPassJob{})
	assert.Error(t, err)
}

func TestStoreListJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	base := time.Now()
	for i, status := range []jobs.JobStatus{jobs.JobStatusCompleted, jobs.JobStatusFailed, jobs.JobStatusCompleted} {
		require.NoError(t, store.SaveJob(ctx, &jobs.ClusterPassJob{
			JobID:     string(rune('a' + i)),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := store.ListJobs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].JobID, "newest first")

	completed, err := store.ListJobs(ctx, jobs.JobStatusCompleted, 10)
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	limited, err := store.ListJobs(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].JobID)
}

func TestStoreCopiesJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	job := &jobs.ClusterPassJob{JobID: "j", Status: jobs.JobStatusPending, CreatedAt: time.Now()}
	require.NoError(t, store.SaveJob(ctx, job))

	got, err := store.GetJob(ctx, "j")
	require.NoError(t, err)
	got.Status = jobs.JobStatusFailed

	again, err := store.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, again.Status, "mutating a returned job must not affect the store")
}
