// Package worker runs queued refresh jobs against the reconciler.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/metrics"
)

// Reconciler is the part of *reconcile.Reconciler a worker drives.
type Reconciler interface {
	RefreshAll(ctx context.Context, filter catalog.ProviderFilter) ([]catalog.Outcome, error)
	Bootstrap(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Worker consumes queue items and runs one job at a time.
type Worker struct {
	queue      catalog.JobQueue
	jobStore   catalog.JobStore
	reconciler Reconciler
	clock      catalog.Clock
	logger     *zap.Logger
}

// New constructs a Worker.
func New(
	queue catalog.JobQueue,
	jobStore catalog.JobStore,
	reconciler Reconciler,
	clock catalog.Clock,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		queue:      queue,
		jobStore:   jobStore,
		reconciler: reconciler,
		clock:      clock,
		logger:     logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, catalog.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.String("kind", string(item.Kind)))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item catalog.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := w.jobStore.UpdateJob(ctx, item.JobID, catalog.JobUpdate{
		Status: catalog.JobStatusRunning,
		At:     w.clock.Now(),
	}); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	outcomes, err := w.run(ctx, item)
	status := catalog.JobStatusSucceeded
	errText := ""
	if err != nil {
		// Failed jobs are not retried; the next scheduled run starts fresh.
		status = catalog.JobStatusFailed
		errText = err.Error()
		w.logger.Error("refresh job failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	metrics.ObserveJob(string(item.Kind), string(status))

	if err := w.jobStore.UpdateJob(context.WithoutCancel(ctx), item.JobID, catalog.JobUpdate{
		Status:    status,
		ErrorText: errText,
		Outcomes:  outcomes,
		At:        w.clock.Now(),
	}); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	w.logger.Info("refresh job finished",
		zap.String("job_id", item.JobID),
		zap.String("kind", string(item.Kind)),
		zap.String("status", string(status)),
		zap.Int("providers", len(outcomes)),
	)
}

func (w *Worker) run(ctx context.Context, item catalog.QueueItem) ([]catalog.Outcome, error) {
	switch item.Kind {
	case catalog.JobReset:
		if err := w.reconciler.Reset(ctx); err != nil {
			return nil, fmt.Errorf("reset catalog: %w", err)
		}
	case catalog.JobBootstrap:
		if err := w.reconciler.Bootstrap(ctx); err != nil {
			return nil, fmt.Errorf("bootstrap catalog: %w", err)
		}
	case catalog.JobRefresh:
	default:
		return nil, fmt.Errorf("unknown job kind %q", item.Kind)
	}
	return w.reconciler.RefreshAll(ctx, Filter(item.PIDs))
}

// Filter selects the providers a job refreshes: the listed pids, or every
// native provider when none are listed.
func Filter(pids []string) catalog.ProviderFilter {
	if len(pids) > 0 {
		return catalog.ProviderFilter{PIDs: pids}
	}
	return catalog.ProviderFilter{FromThirdParty: catalog.Bool(false)}
}
