// Package dispatcher manages worker fan-out over the refresh queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/worker"
)

// Dispatcher records submitted jobs and fans queue work out to workers.
type Dispatcher struct {
	queue    catalog.JobQueue
	jobStore catalog.JobStore
	ids      catalog.IDGenerator
	clock    catalog.Clock
	workers  []*worker.Worker
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue catalog.JobQueue,
	jobStore catalog.JobStore,
	ids catalog.IDGenerator,
	clock catalog.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		jobStore: jobStore,
		ids:      ids,
		clock:    clock,
		workers:  workers,
		logger:   logger.Named("dispatcher"),
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit records a queued job and enqueues it. It returns as soon as the job
// is queued; the refresh itself runs on a worker.
func (d *Dispatcher) Submit(ctx context.Context, kind catalog.JobKind, pids []string, trigger string) (string, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("job id: %w", err)
	}
	now := d.clock.Now()
	job := catalog.RefreshJob{
		ID:        id,
		Kind:      kind,
		PIDs:      append([]string(nil), pids...),
		Status:    catalog.JobStatusQueued,
		Trigger:   trigger,
		Submitted: now,
	}
	if err := d.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := d.Enqueue(ctx, catalog.QueueItem{JobID: id, Kind: kind, PIDs: job.PIDs, Submitted: now.Unix()}); err != nil {
		if uerr := d.jobStore.UpdateJob(context.WithoutCancel(ctx), id, catalog.JobUpdate{
			Status:    catalog.JobStatusFailed,
			ErrorText: err.Error(),
			At:        d.clock.Now(),
		}); uerr != nil {
			d.logger.Error("mark unqueued job failed", zap.String("job_id", id), zap.Error(uerr))
		}
		return "", err
	}
	d.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("kind", string(kind)),
		zap.Strings("pids", pids),
		zap.String("trigger", trigger),
	)
	return id, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item catalog.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
