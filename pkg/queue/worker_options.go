package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a Worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	queue             string
	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	storeTimeout      time.Duration
	retryPolicy       RetryPolicy
	logger            *slog.Logger
	observer          Observer
}

// WithQueue sets the queue the worker drains
func WithQueue(queue string) WorkerOption {
	return func(o *workerOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithConcurrency sets the number of parallel execution slots
func WithConcurrency(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithPollInterval sets how long an idle slot waits before claiming again
func WithPollInterval(interval time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if interval > 0 {
			o.pollInterval = interval
		}
	}
}

// WithHeartbeatInterval sets how often a running job's lease is refreshed.
// Keep it well below the janitor lease timeout.
func WithHeartbeatInterval(interval time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if interval > 0 {
			o.heartbeatInterval = interval
		}
	}
}

// WithStoreTimeout bounds every store call made while reporting on a job
func WithStoreTimeout(timeout time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if timeout > 0 {
			o.storeTimeout = timeout
		}
	}
}

// WithRetryPolicy sets the policy applied to failed jobs
func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(o *workerOptions) {
		o.retryPolicy = policy
	}
}

// WithWorkerLogger sets a custom logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver sets the lifecycle event observer
func WithObserver(observer Observer) WorkerOption {
	return func(o *workerOptions) {
		if observer != nil {
			o.observer = observer
		}
	}
}
