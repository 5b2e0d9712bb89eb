package queue

import (
	"log/slog"
	"time"
)

// SchedulerOption is a functional option for configuring a Scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	queue        string
	emptyInitial time.Duration
	emptyMax     time.Duration
	storeTimeout time.Duration
	logger       *slog.Logger
	observer     Observer
}

// WithSchedulerQueue sets the queue whose scheduled jobs are promoted
func WithSchedulerQueue(queue string) SchedulerOption {
	return func(o *schedulerOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithEmptyBackoff sets the backoff applied while nothing can be promoted
func WithEmptyBackoff(initial, maxDelay time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if initial > 0 && maxDelay >= initial {
			o.emptyInitial = initial
			o.emptyMax = maxDelay
		}
	}
}

// WithSchedulerStoreTimeout bounds every PromoteNext call
func WithSchedulerStoreTimeout(timeout time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if timeout > 0 {
			o.storeTimeout = timeout
		}
	}
}

// WithSchedulerLogger sets a custom logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSchedulerObserver sets the observer notified of promotions
func WithSchedulerObserver(observer Observer) SchedulerOption {
	return func(o *schedulerOptions) {
		if observer != nil {
			o.observer = observer
		}
	}
}
