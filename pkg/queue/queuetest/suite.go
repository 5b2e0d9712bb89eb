// Package queuetest holds the behavioural test suite every queue.Store implementation must pass.
package queuetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

// Factory returns a store whose notion of "now" is driven by clock.
// Subtests use unique queue names, so a factory may hand out stores sharing one database.
type Factory func(t *testing.T, clock *Clock) queue.Store

// RunStoreSuite runs the store contract against the stores built by newStore
func RunStoreSuite(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, store queue.Store, clock *Clock, q string)
	}{
		{"create job", testCreateJob},
		{"claim order", testClaimOrder},
		{"claim respects process_after and queue", testClaimEligibility},
		{"no double claim", testConcurrentClaims},
		{"heartbeat", testHeartbeat},
		{"lease scoped by queue", testLeaseQueueScope},
		{"complete", testComplete},
		{"retry then succeed", testRetryThenSucceed},
		{"dead letter", testDeadLetter},
		{"failure message is cleaned", testFailureMessageCleaned},
		{"promote fifo", testPromoteNext},
		{"fifo among equal created_at", testSameTimestampOrder},
		{"queued job is not backdated", testQueuedNotBackdated},
		{"reclaim expired", testReclaimExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := NewClock()
			store := newStore(t, clock)
			tt.fn(t, store, clock, "q-"+uuid.NewString()[:8])
		})
	}
}

func create(t *testing.T, store queue.Store, clock *Clock, q string, state queue.State) *queue.Job {
	t.Helper()

	job := &queue.Job{
		ID:           uuid.New(),
		Queue:        q,
		Kind:         "test.Kind",
		Payload:      json.RawMessage(`{"n":1}`),
		State:        state,
		CreatedAt:    clock.Now(),
		ProcessAfter: clock.Now(),
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func get(t *testing.T, store queue.Store, id uuid.UUID) *queue.Job {
	t.Helper()

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func claim(t *testing.T, store queue.Store, q string) (*queue.Job, queue.Lease) {
	t.Helper()

	job, err := store.Claim(context.Background(), q)
	require.NoError(t, err)
	lease, ok := job.Lease()
	require.True(t, ok, "claimed job must carry a lease")
	return job, lease
}

func assertTime(t *testing.T, want time.Time, got *time.Time, msg string) {
	t.Helper()

	require.NotNil(t, got, msg)
	assert.True(t, want.Equal(*got), "%s: want %s, got %s", msg, want, *got)
}

func testCreateJob(t *testing.T, store queue.Store, clock *Clock, q string) {
	ctx := context.Background()

	job := create(t, store, clock, q, queue.StateQueued)
	stored := get(t, store, job.ID)
	assert.Equal(t, q, stored.Queue)
	assert.Equal(t, "test.Kind", stored.Kind)
	assert.JSONEq(t, `{"n":1}`, string(stored.Payload))
	assert.Equal(t, queue.StateQueued, stored.State)
	assert.Nil(t, stored.LeaseToken)
	assert.Zero(t, stored.NumFailures)

	err := store.CreateJob(ctx, job)
	assert.ErrorIs(t, err, queue.ErrJobAlreadyExists)

	err = store.CreateJob(ctx, &queue.Job{Queue: q, Kind: "k", Payload: json.RawMessage(`{}`), State: queue.StateProcessing})
	assert.ErrorIs(t, err, queue.ErrInvalidState)

	_, err = store.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func testClaimOrder(t *testing.T, store queue.Store, clock *Clock, q string) {
	first := create(t, store, clock, q, queue.StateQueued)
	clock.Advance(time.Second)
	second := create(t, store, clock, q, queue.StateQueued)
	clock.Advance(time.Second)

	job, _ := claim(t, store, q)
	assert.Equal(t, first.ID, job.ID)
	assert.Equal(t, queue.StateProcessing, job.State)
	assertTime(t, clock.Now(), job.StartedAt, "started_at")
	assertTime(t, clock.Now(), job.HeartbeatAt, "heartbeat_at")

	job, _ = claim(t, store, q)
	assert.Equal(t, second.ID, job.ID)

	_, err := store.Claim(context.Background(), q)
	assert.ErrorIs(t, err, queue.ErrNoJobToClaim)
}

func testClaimEligibility(t *testing.T, store queue.Store, clock *Clock, q string) {
	ctx := context.Background()

	delayed := &queue.Job{
		ID:           uuid.New(),
		Queue:        q,
		Kind:         "test.Kind",
		Payload:      json.RawMessage(`{}`),
		State:        queue.StateQueued,
		CreatedAt:    clock.Now(),
		ProcessAfter: clock.Now().Add(time.Minute),
	}
	require.NoError(t, store.CreateJob(ctx, delayed))
	create(t, store, clock, q+"-other", queue.StateQueued)
	create(t, store, clock, q, queue.StateScheduled)

	_, err := store.Claim(ctx, q)
	assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

	clock.Advance(time.Minute)
	job, _ := claim(t, store, q)
	assert.Equal(t, delayed.ID, job.ID)
}

func testConcurrentClaims(t *testing.T, store queue.Store, clock *Clock, q string) {
	const jobs, claimants = 20, 8

	for range jobs {
		create(t, store, clock, q, queue.StateQueued)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]int)
		wg      sync.WaitGroup
	)
	for range claimants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.Claim(context.Background(), q)
				if err != nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func testHeartbeat(t *testing.T, store queue.Store, clock *Clock, q string) {
	ctx := context.Background()

	create(t, store, clock, q, queue.StateQueued)
	job, lease := claim(t, store, q)

	clock.Advance(10 * time.Second)
	alive, err := store.Heartbeat(ctx, lease)
	require.NoError(t, err)
	assert.True(t, alive)
	assertTime(t, clock.Now(), get(t, store, job.ID).HeartbeatAt, "heartbeat_at")

	alive, err = store.Heartbeat(ctx, queue.Lease{JobID: job.ID, Token: uuid.New()})
	require.NoError(t, err)
	assert.False(t, alive, "foreign token")

	alive, err = store.Heartbeat(ctx, queue.Lease{JobID: uuid.New(), Token: lease.Token})
	require.NoError(t, err)
	assert.False(t, alive, "unknown job")
}

func testComplete(t *testing.T, store queue.Store, clock *Clock, q string) {
	ctx := context.Background()

	create(t, store, clock, q, queue.StateQueued)
	job, lease := claim(t, store, q)

	err := store.Complete(ctx, queue.Lease{JobID: job.ID, Token: uuid.New()}, nil)
	assert.ErrorIs(t, err, queue.ErrStaleLease)

	clock.Advance(time.Second)
	require.NoError(t, store.Complete(ctx, lease, json.RawMessage(`{"ok":true}`)))

	stored := get(t, store, job.ID)
	assert.Equal(t, queue.StateCompleted, stored.State)
	assert.Nil(t, stored.LeaseToken)
	assertTime(t, clock.Now(), stored.FinishedAt, "finished_at")
	assert.JSONEq(t, `{"ok":true}`, string(stored.Result))

	err = store.Complete(ctx, lease, nil)
	assert.ErrorIs(t, err, queue.ErrStaleLease, "second completion")

	alive, err := store.Heartbeat(ctx, lease)
	require.NoError(t, err)
	assert.False(t, alive)
}

func testRetryThenSucceed(t *testing.T, store queue.Store, clock *Clock, q string) {
	ctx := context.Background()
	policy := queue.RetryPolicy{MaxFailures: 3, Backoff: queue.ExponentialBackoff(10*time.Second, time.Minute)}

	create(t, store, clock, q, queue.StateQueued)

	for k := 1; k <= 2; k++ {
		job, lease := claim(t, store, q)
		state, err := store.Fail(ctx, lease, fmt.Sprintf("attempt %d", k), policy)
		require.NoError(t, err)
		assert.Equal(t, queue.StateQueued, state)

		stored := get(t, store, job.ID)
		assert.Equal(t, k, stored.NumFailures)
		assert.Nil(t, stored.LeaseToken)
		require.NotNil(t, stored.FailureMessage)
		assert.Equal(t, fmt.Sprintf("attempt %d", k), *stored.FailureMessage)

		want := clock.Now().Add(policy.Backoff(k))
		assert.True(t, want.Equal(stored.ProcessAfter), "process_after: want %s, got %s", want, stored.ProcessAfter)

		_, err = store.Claim(ctx, q)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim, "job must wait for its backoff")

		_, err = store.Fail(ctx, lease, "again", policy)
		assert.ErrorIs(t, err, queue.ErrStaleLease)

		clock.Advance(policy.Backoff(k))
	}

	job, lease := claim(t, store, q)
	require.NoError(t, store.Complete(ctx, lease, nil))

	stored := get(t, store, job.ID)
	assert.Equal(t, queue.StateCompleted, stored.State)
	assert.Equal(t, 2, stored.NumFailures)
}

func testDeadLetter(t *testing.T, store queue.Store, clock *Clock, q string) {
	ctx := context.Background()
	policy := queue.RetryPolicy{MaxFailures: 2, Backoff: queue.ConstantBackoff(0)}

	create(t, store, clock, q, queue.StateQueued)

	job, lease := claim(t, store, q)
	state, err := store.Fail(ctx, lease, "first", policy)
	require.NoError(t, err)
	assert.Equal(t, queue.StateQueued, state)

	_, lease = claim(t, store, q)
	state, err = store.Fail(ctx, lease, "boom", policy)
	require.NoError(t, err)
	assert.Equal(t, queue.StateErrored, state)

	stored := get(t, store, job.ID)
	assert.Equal(t, queue.StateErrored, stored.State)
	assert.Equal(t, 2, stored.NumFailures)
	require.NotNil(t, stored.FailureMessage)
	assert.Equal(t, "boom", *stored.FailureMessage)
	assertTime(t, clock.Now(), stored.FinishedAt, "finished_at")

	clock.Advance(time.Hour)
	ids, err := store.ReclaimExpired(ctx, q, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, err = store.Claim(ctx, q)
	assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

	permanent := create(t, store, clock, q, queue.StateQueued)
	_, lease = claim(t, store, q)
	state, err = store.Fail(ctx, lease, "permanent", queue.NoRetry)
	require.NoError(t, err)
	assert.Equal(t, queue.StateErrored, state)
	assert.Equal(t, 1, get(t, store, permanent.ID).NumFailures)
}

func testFailureMessageCleaned(t *testing.T, store queue.Store, clock *Clock, q string) {
	job := create(t, store, clock, q, queue.StateQueued)
	_, lease := claim(t, store, q)

	// A tail cut through a multi-byte rune, plus a NUL byte.
	message := "exit status 3: \x00" + "€€"[:4]
	state, err := store.Fail(context.Background(), lease, message, queue.NoRetry)
	require.NoError(t, err)
	assert.Equal(t, queue.StateErrored, state)

	stored := get(t, store, job.ID)
	require.NotNil(t, stored.FailureMessage)
	assert.Equal(t, "exit status 3: €\uFFFD", *stored.FailureMessage)
}

func testLeaseQueueScope(t *testing.T, store queue.Store, clock *Clock, q string) {
	ctx := context.Background()

	job := create(t, store, clock, q, queue.StateQueued)
	_, lease := claim(t, store, q)
	assert.Equal(t, q, lease.Queue)

	foreign := lease
	foreign.Queue = q + "-other"

	ok, err := store.Heartbeat(ctx, foreign)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, store.Complete(ctx, foreign, nil), queue.ErrStaleLease)
	_, err = store.Fail(ctx, foreign, "x", queue.NoRetry)
	assert.ErrorIs(t, err, queue.ErrStaleLease)

	stored := get(t, store, job.ID)
	assert.Equal(t, queue.StateProcessing, stored.State)
	assert.Zero(t, stored.NumFailures)

	unscoped := lease
	unscoped.Queue = ""
	ok, err = store.Heartbeat(ctx, unscoped)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, store.Complete(ctx, lease, nil))
}

func testPromoteNext(t *testing.T, store queue.Store, clock *Clock, q string) {
	ctx := context.Background()

	_, err := store.PromoteNext(ctx, q)
	assert.ErrorIs(t, err, queue.ErrNoJobToPromote)

	a := create(t, store, clock, q, queue.StateScheduled)
	clock.Advance(time.Second)
	b := create(t, store, clock, q, queue.StateScheduled)
	create(t, store, clock, q+"-other", queue.StateScheduled)

	clock.Advance(time.Minute)

	promoted, err := store.PromoteNext(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, a.ID, promoted.ID)
	assert.Equal(t, queue.StateQueued, promoted.State)
	assert.True(t, clock.Now().Equal(promoted.ProcessAfter), "process_after is raised to now")

	promoted, err = store.PromoteNext(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, b.ID, promoted.ID)

	_, err = store.PromoteNext(ctx, q)
	assert.ErrorIs(t, err, queue.ErrNoJobToPromote)

	future := &queue.Job{
		ID:           uuid.New(),
		Queue:        q,
		Kind:         "test.Kind",
		Payload:      json.RawMessage(`{}`),
		State:        queue.StateScheduled,
		CreatedAt:    clock.Now(),
		ProcessAfter: clock.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateJob(ctx, future))
	promoted, err = store.PromoteNext(ctx, q)
	require.NoError(t, err)
	assert.True(t, future.ProcessAfter.Equal(promoted.ProcessAfter), "later process_after is kept")
}

func testSameTimestampOrder(t *testing.T, store queue.Store, clock *Clock, q string) {
	ctx := context.Background()

	const n = 20
	created := make([]uuid.UUID, n)
	for i := range created {
		created[i] = create(t, store, clock, q, queue.StateScheduled).ID
	}

	promoted := make([]uuid.UUID, 0, n)
	for range n {
		job, err := store.PromoteNext(ctx, q)
		require.NoError(t, err)
		promoted = append(promoted, job.ID)
	}
	assert.Equal(t, created, promoted, "promotion follows creation order")

	claimed := make([]uuid.UUID, 0, n)
	for range n {
		job, _ := claim(t, store, q)
		claimed = append(claimed, job.ID)
	}
	assert.Equal(t, created, claimed, "claims follow creation order")
}

func testQueuedNotBackdated(t *testing.T, store queue.Store, clock *Clock, q string) {
	past := clock.Now().Add(-time.Hour)
	job := &queue.Job{
		ID:           uuid.New(),
		Queue:        q,
		Kind:         "test.Kind",
		Payload:      json.RawMessage(`{}`),
		State:        queue.StateQueued,
		CreatedAt:    past,
		ProcessAfter: past,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	assert.True(t, clock.Now().Equal(job.ProcessAfter), "process_after: want %s, got %s", clock.Now(), job.ProcessAfter)
	assert.True(t, clock.Now().Equal(get(t, store, job.ID).ProcessAfter))

	scheduled := &queue.Job{
		ID:           uuid.New(),
		Queue:        q,
		Kind:         "test.Kind",
		Payload:      json.RawMessage(`{}`),
		State:        queue.StateScheduled,
		CreatedAt:    past,
		ProcessAfter: past,
	}
	require.NoError(t, store.CreateJob(context.Background(), scheduled))
	assert.True(t, past.Equal(get(t, store, scheduled.ID).ProcessAfter), "scheduled jobs keep process_after until promotion")
}

func testReclaimExpired(t *testing.T, store queue.Store, clock *Clock, q string) {
	ctx := context.Background()

	create(t, store, clock, q, queue.StateQueued)
	create(t, store, clock, q, queue.StateQueued)
	silent, silentLease := claim(t, store, q)
	_, aliveLease := claim(t, store, q)

	clock.Advance(45 * time.Second)
	ok, err := store.Heartbeat(ctx, aliveLease)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(30 * time.Second)
	ids, err := store.ReclaimExpired(ctx, q, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{silent.ID}, ids)

	stored := get(t, store, silent.ID)
	assert.Equal(t, queue.StateQueued, stored.State)
	assert.Equal(t, 1, stored.NumResets)
	assert.Nil(t, stored.LeaseToken)
	assert.True(t, clock.Now().Equal(stored.ProcessAfter))

	ok, err = store.Heartbeat(ctx, silentLease)
	require.NoError(t, err)
	assert.False(t, ok, "reclaimed lease is stale")
	assert.ErrorIs(t, store.Complete(ctx, silentLease, nil), queue.ErrStaleLease)

	again, _ := claim(t, store, q)
	assert.Equal(t, silent.ID, again.ID)
	assert.Equal(t, 1, again.NumResets)
}
