package queue

import "time"

// BackoffFunc returns the delay to apply after the given number of consecutive failures (1-based)
type BackoffFunc func(failures int) time.Duration

// ExponentialBackoff returns initial * 2^(failures-1), capped at max
func ExponentialBackoff(initial, maxDelay time.Duration) BackoffFunc {
	return func(failures int) time.Duration {
		if failures < 1 || initial <= 0 {
			return 0
		}
		d := initial
		for i := 1; i < failures; i++ {
			d *= 2
			if d >= maxDelay {
				return maxDelay
			}
		}
		return min(d, maxDelay)
	}
}

// ConstantBackoff always returns d
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// RetryPolicy decides what happens to a failed job
type RetryPolicy struct {
	// MaxFailures is the failure count at which the job is dead-lettered
	MaxFailures int

	// Backoff computes the delay before the next attempt
	Backoff BackoffFunc
}

var (
	// DefaultRetryPolicy retries twice: 30s and 1m after the first and second failure
	DefaultRetryPolicy = RetryPolicy{
		MaxFailures: 3,
		Backoff:     ExponentialBackoff(30*time.Second, 15*time.Minute),
	}

	// NoRetry dead-letters on the first failure
	NoRetry = RetryPolicy{}
)

// Next computes the state and process_after of a job that has just reached
// the given failure count.
func (p RetryPolicy) Next(failures int, now time.Time) (State, time.Time) {
	if failures >= p.MaxFailures {
		return StateErrored, now
	}
	var delay time.Duration
	if p.Backoff != nil {
		delay = p.Backoff(failures)
	}
	return StateQueued, now.Add(delay)
}

// Backoff is a stateful exponential backoff used while a queue is idle.
// Not safe for concurrent use.
type Backoff struct {
	fn       BackoffFunc
	attempts int
}

// NewBackoff creates a backoff yielding initial, initial*2, ... capped at max
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{fn: ExponentialBackoff(initial, maxDelay)}
}

// Next returns the next delay in the sequence
func (b *Backoff) Next() time.Duration {
	b.attempts++
	return b.fn(b.attempts)
}

// Reset restarts the sequence from the initial delay
func (b *Backoff) Reset() {
	b.attempts = 0
}
