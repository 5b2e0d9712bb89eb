package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	backoff := queue.ExponentialBackoff(30*time.Second, 15*time.Minute)

	assert.Equal(t, time.Duration(0), backoff(0))
	assert.Equal(t, 30*time.Second, backoff(1))
	assert.Equal(t, time.Minute, backoff(2))
	assert.Equal(t, 2*time.Minute, backoff(3))
	assert.Equal(t, 8*time.Minute, backoff(5))
	assert.Equal(t, 15*time.Minute, backoff(6))
	assert.Equal(t, 15*time.Minute, backoff(1000), "large counts do not overflow")
}

func TestBackoff_IdleSequence(t *testing.T) {
	t.Parallel()

	b := queue.NewBackoff(5*time.Second, 60*time.Second)

	var got []time.Duration
	for range 6 {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, 5*time.Second, b.Next())
}

func TestRetryPolicy_Next(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	policy := queue.RetryPolicy{MaxFailures: 3, Backoff: queue.ExponentialBackoff(time.Second, time.Minute)}

	state, after := policy.Next(1, now)
	assert.Equal(t, queue.StateQueued, state)
	assert.Equal(t, now.Add(time.Second), after)

	state, after = policy.Next(2, now)
	assert.Equal(t, queue.StateQueued, state)
	assert.Equal(t, now.Add(2*time.Second), after)

	state, _ = policy.Next(3, now)
	assert.Equal(t, queue.StateErrored, state)

	state, _ = queue.NoRetry.Next(1, now)
	assert.Equal(t, queue.StateErrored, state)

	state, after = queue.RetryPolicy{MaxFailures: 2}.Next(1, now)
	assert.Equal(t, queue.StateQueued, state)
	assert.Equal(t, now, after, "nil backoff retries immediately")
}

func TestConfig_RetryPolicy(t *testing.T) {
	t.Parallel()

	cfg := queue.Config{MaxFailures: 4, RetryBackoff: time.Second, RetryBackoffMax: 3 * time.Second}
	policy := cfg.RetryPolicy()

	assert.Equal(t, 4, policy.MaxFailures)
	assert.Equal(t, 2*time.Second, policy.Backoff(2))
	assert.Equal(t, 3*time.Second, policy.Backoff(3))
}
