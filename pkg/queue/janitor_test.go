package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/queue/queuetest"
)

func TestJanitor(t *testing.T) {
	t.Parallel()

	t.Run("validates arguments", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewJanitor(nil, queue.DefaultQueueName, time.Minute, time.Second)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)

		_, err = queue.NewJanitor(queue.NewMemoryStorage(), queue.DefaultQueueName, 0, time.Second)
		assert.Error(t, err)
	})

	t.Run("reclaims expired leases", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		clock := queuetest.NewClock()
		storage := queue.NewMemoryStorage(queue.WithClock(clock.Now))
		observer := newRecordingObserver()

		job := &queue.Job{Kind: queue.KindOf[testPayload](), Payload: []byte(`{}`)}
		require.NoError(t, storage.CreateJob(ctx, job))
		claimed, err := storage.Claim(ctx, queue.DefaultQueueName)
		require.NoError(t, err)
		require.Equal(t, job.ID, claimed.ID)

		janitor, err := queue.NewJanitor(storage, queue.DefaultQueueName, time.Minute, 5*time.Millisecond,
			queue.WithJanitorLogger(quietLogger()),
			queue.WithJanitorObserver(observer))
		require.NoError(t, err)

		go janitor.Start()
		defer janitor.Stop()

		time.Sleep(20 * time.Millisecond)
		stored, err := storage.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StateProcessing, stored.State, "lease still fresh")

		clock.Advance(2 * time.Minute)

		reclaimed := waitForState(t, storage, job.ID, queue.StateQueued)
		assert.Equal(t, 1, reclaimed.NumResets)

		again, err := storage.Claim(ctx, queue.DefaultQueueName)
		require.NoError(t, err)
		assert.Equal(t, job.ID, again.ID)

		assert.Eventually(t, func() bool {
			observer.mu.Lock()
			defer observer.mu.Unlock()
			return observer.reclaimed == 1
		}, time.Second, 5*time.Millisecond)
	})
}
