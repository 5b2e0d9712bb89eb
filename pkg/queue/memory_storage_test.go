package queue_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/queue/queuetest"
)

func TestMemoryStorage(t *testing.T) {
	t.Parallel()

	queuetest.RunStoreSuite(t, func(t *testing.T, clock *queuetest.Clock) queue.Store {
		return queue.NewMemoryStorage(queue.WithClock(clock.Now))
	})
}

func TestMemoryStorage_CreateJobDefaults(t *testing.T) {
	t.Parallel()

	clock := queuetest.NewClock()
	storage := queue.NewMemoryStorage(queue.WithClock(clock.Now))

	job := &queue.Job{Kind: "k", Payload: json.RawMessage(`{}`)}
	require.NoError(t, storage.CreateJob(context.Background(), job))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, queue.DefaultQueueName, job.Queue)
	assert.Equal(t, queue.StateQueued, job.State)
	assert.Equal(t, clock.Now(), job.CreatedAt)
	assert.Equal(t, clock.Now(), job.ProcessAfter)

	assert.ErrorIs(t, storage.CreateJob(context.Background(), nil), queue.ErrJobNil)
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	job := &queue.Job{Kind: "k", Payload: json.RawMessage(`{"a":1}`)}
	require.NoError(t, storage.CreateJob(context.Background(), job))

	got, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	got.Payload[0] = 'X'
	got.State = queue.StateErrored

	again, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(again.Payload))
	assert.Equal(t, queue.StateQueued, again.State)
}

func TestMemoryStorage_Stats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := queue.NewMemoryStorage()

	for range 3 {
		require.NoError(t, storage.CreateJob(ctx, &queue.Job{Kind: "k", Payload: json.RawMessage(`{}`)}))
	}
	require.NoError(t, storage.CreateJob(ctx, &queue.Job{Kind: "k", Payload: json.RawMessage(`{}`), State: queue.StateScheduled}))
	_, err := storage.Claim(ctx, queue.DefaultQueueName)
	require.NoError(t, err)

	stats, err := storage.Stats(ctx, queue.DefaultQueueName)
	require.NoError(t, err)
	assert.Equal(t, map[queue.State]int{
		queue.StateQueued:     2,
		queue.StateProcessing: 1,
		queue.StateScheduled:  1,
	}, stats)
}
