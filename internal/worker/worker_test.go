package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/metrics"
	queuememory "github.com/JakeFAU/quantum-catalog/internal/queue/memory"
	"github.com/JakeFAU/quantum-catalog/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeReconciler struct {
	mu         sync.Mutex
	calls      []string
	filters    []catalog.ProviderFilter
	outcomes   []catalog.Outcome
	refreshErr error
	resetErr   error
}

func (r *fakeReconciler) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeReconciler) RefreshAll(_ context.Context, filter catalog.ProviderFilter) ([]catalog.Outcome, error) {
	r.record("refresh")
	r.mu.Lock()
	r.filters = append(r.filters, filter)
	r.mu.Unlock()
	return r.outcomes, r.refreshErr
}

func (r *fakeReconciler) Bootstrap(context.Context) error {
	r.record("bootstrap")
	return nil
}

func (r *fakeReconciler) Reset(context.Context) error {
	r.record("reset")
	return r.resetErr
}

func (r *fakeReconciler) history() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func runJob(t *testing.T, rec *fakeReconciler, item catalog.QueueItem) catalog.RefreshJob {
	t.Helper()
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuememory.NewQueue(1)
	jobs := memory.NewJobStore()
	require.NoError(t, jobs.CreateJob(ctx, catalog.RefreshJob{ID: item.JobID, Kind: item.Kind, Status: catalog.JobStatusQueued}))
	require.NoError(t, queue.Enqueue(ctx, item))

	w := New(queue, jobs, rec, fakeClock{now: time.Unix(100, 0).UTC()}, zap.NewNop())
	go w.Run(ctx)

	var job catalog.RefreshJob
	require.Eventually(t, func() bool {
		var err error
		job, err = jobs.GetJob(ctx, item.JobID)
		return err == nil && job.Finished != nil
	}, time.Second, 10*time.Millisecond)
	return job
}

func TestWorkerRefreshRecordsOutcomes(t *testing.T) {
	t.Parallel()

	outcomes := []catalog.Outcome{
		{PID: "native.ionq", Status: catalog.OutcomeRefreshed, Backends: 3},
		{PID: "native.rigetti", Status: catalog.OutcomeDegraded, Error: "timeout"},
	}
	rec := &fakeReconciler{outcomes: outcomes}
	job := runJob(t, rec, catalog.QueueItem{JobID: "job-1", Kind: catalog.JobRefresh, PIDs: []string{"native.ionq", "native.rigetti"}})

	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
	require.Equal(t, outcomes, job.Outcomes)
	require.NotNil(t, job.Started)
	require.Equal(t, []string{"refresh"}, rec.history())
	require.Equal(t, []string{"native.ionq", "native.rigetti"}, rec.filters[0].PIDs)
}

func TestWorkerResetRunsBeforeRefresh(t *testing.T) {
	t.Parallel()

	rec := &fakeReconciler{}
	job := runJob(t, rec, catalog.QueueItem{JobID: "job-2", Kind: catalog.JobReset})
	require.Equal(t, catalog.JobStatusSucceeded, job.Status)
	require.Equal(t, []string{"reset", "refresh"}, rec.history())
	require.Equal(t, Filter(nil), rec.filters[0])

	rec = &fakeReconciler{}
	runJob(t, rec, catalog.QueueItem{JobID: "job-3", Kind: catalog.JobBootstrap})
	require.Equal(t, []string{"bootstrap", "refresh"}, rec.history())
}

func TestWorkerMarksFailedJobsWithoutRetry(t *testing.T) {
	t.Parallel()

	rec := &fakeReconciler{resetErr: errors.New("store unavailable")}
	job := runJob(t, rec, catalog.QueueItem{JobID: "job-4", Kind: catalog.JobReset})
	require.Equal(t, catalog.JobStatusFailed, job.Status)
	require.Equal(t, "reset catalog: store unavailable", job.ErrorText)
	require.Equal(t, []string{"reset"}, rec.history())

	rec = &fakeReconciler{
		outcomes:   []catalog.Outcome{{PID: "native.ibm_quantum", Status: catalog.OutcomeFailed}},
		refreshErr: errors.New("unsupported provider"),
	}
	job = runJob(t, rec, catalog.QueueItem{JobID: "job-5", Kind: catalog.JobRefresh})
	require.Equal(t, catalog.JobStatusFailed, job.Status)
	require.Len(t, job.Outcomes, 1)
}

func TestWorkerRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	rec := &fakeReconciler{}
	job := runJob(t, rec, catalog.QueueItem{JobID: "job-6", Kind: "compact"})
	require.Equal(t, catalog.JobStatusFailed, job.Status)
	require.Empty(t, rec.history())
}

func TestFilterDefaultsToNativeProviders(t *testing.T) {
	t.Parallel()

	f := Filter(nil)
	require.NotNil(t, f.FromThirdParty)
	require.False(t, *f.FromThirdParty)
	require.Equal(t, []string{"native.ionq"}, Filter([]string{"native.ionq"}).PIDs)
}
