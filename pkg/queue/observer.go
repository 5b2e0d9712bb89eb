package queue

import (
	"context"
	"time"
)

// Observer receives job lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	JobClaimed(ctx context.Context, job *Job)
	JobCompleted(ctx context.Context, job *Job, duration time.Duration)
	JobFailed(ctx context.Context, job *Job, state State, duration time.Duration)
	JobPromoted(ctx context.Context, job *Job, latency time.Duration)
	JobsReclaimed(ctx context.Context, queue string, count int)
}

// NoopObserver ignores every event
type NoopObserver struct{}

func (NoopObserver) JobClaimed(context.Context, *Job) {}
func (NoopObserver) JobCompleted(context.Context, *Job, time.Duration) {}
func (NoopObserver) JobFailed(context.Context, *Job, State, time.Duration) {}
func (NoopObserver) JobPromoted(context.Context, *Job, time.Duration) {}
func (NoopObserver) JobsReclaimed(context.Context, string, int) {}
