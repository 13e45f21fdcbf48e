package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	queuememory "github.com/JakeFAU/quantum-catalog/internal/queue/memory"
	"github.com/JakeFAU/quantum-catalog/internal/storage/memory"
	"github.com/JakeFAU/quantum-catalog/internal/worker"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticID string

func (s staticID) NewID() (string, error) { return string(s), nil }

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, memory.NewJobStore(), nil, fixedClock{}, zap.NewNop())
	dispatch := New(queue, memory.NewJobStore(), staticID("job"), fixedClock{}, []*worker.Worker{w}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherSubmitRecordsAndQueuesJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	queue := queuememory.NewQueue(1)
	jobs := memory.NewJobStore()
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	dispatch := New(queue, jobs, staticID("job-7"), fixedClock{at}, nil, zap.NewNop())

	id, err := dispatch.Submit(ctx, catalog.JobRefresh, []string{"native.ionq"}, "admin")
	require.NoError(t, err)
	require.Equal(t, "job-7", id)

	job, err := jobs.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusQueued, job.Status)
	require.Equal(t, "admin", job.Trigger)
	require.Equal(t, at, job.Submitted)

	item, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, catalog.QueueItem{JobID: "job-7", Kind: catalog.JobRefresh, PIDs: []string{"native.ionq"}, Submitted: at.Unix()}, item)
}

func TestDispatcherSubmitMarksUnqueuedJobFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := memory.NewJobStore()
	dispatch := New(&errorQueue{err: errors.New("boom")}, jobs, staticID("job-8"), fixedClock{}, nil, zap.NewNop())

	_, err := dispatch.Submit(ctx, catalog.JobReset, nil, "cron")
	require.EqualError(t, err, "queue enqueue: boom")

	job, err := jobs.GetJob(ctx, "job-8")
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatusFailed, job.Status)
	require.Equal(t, "queue enqueue: boom", job.ErrorText)
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, catalog.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (catalog.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return catalog.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, catalog.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (catalog.QueueItem, error) {
	return catalog.QueueItem{}, nil
}
