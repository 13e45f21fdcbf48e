package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan catalog.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	item := catalog.QueueItem{JobID: "job-1", Kind: catalog.JobRefresh, PIDs: []string{"native.ionq"}}
	require.NoError(t, q.Enqueue(context.Background(), item))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, item, got)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), catalog.QueueItem{JobID: "primed"}))
	require.Equal(t, 1, full.Len())
	require.EqualError(t, full.Enqueue(ctx, catalog.QueueItem{}), "enqueue canceled: context canceled")
}

func TestQueueCloseDrainsThenFails(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), catalog.QueueItem{JobID: "last"}))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), catalog.QueueItem{}), catalog.ErrQueueClosed)
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "last", item.JobID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, catalog.ErrQueueClosed)
}
