package queue

import "time"

// EnqueuerOption is a functional option for configuring an Enqueuer
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaultQueue string
	now          func() time.Time
}

// WithDefaultQueue sets the default queue name
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if queue != "" {
			o.defaultQueue = queue
		}
	}
}

// WithEnqueuerClock overrides the clock used for created_at and process_after
func WithEnqueuerClock(now func() time.Time) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// EnqueueOption is a functional option for the Enqueue method
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	queue        string
	kind         string
	state        State
	delay        time.Duration
	processAfter *time.Time
}

// ToQueue sets the queue for the job
func ToQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithKind overrides the job kind
func WithKind(kind string) EnqueueOption {
	return func(o *enqueueOptions) {
		if kind != "" {
			o.kind = kind
		}
	}
}

// Scheduled creates the job in the scheduled state: it waits for the scheduler
// to promote it before any worker can claim it
func Scheduled() EnqueueOption {
	return func(o *enqueueOptions) {
		o.state = StateScheduled
	}
}

// WithDelay sets a delay before the job can be processed
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithProcessAfter sets a specific time before which the job cannot be processed
func WithProcessAfter(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.processAfter = &t
	}
}
