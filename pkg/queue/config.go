package queue

import (
	"log/slog"
	"time"
)

// Config holds the configuration for workers, schedulers and janitors of a queue
type Config struct {
	Queue             string        `env:"QUEUE_NAME" envDefault:"default"`
	Concurrency       int           `env:"QUEUE_CONCURRENCY" envDefault:"10"`
	PollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	HeartbeatInterval time.Duration `env:"QUEUE_HEARTBEAT_INTERVAL" envDefault:"5s"`
	LeaseTimeout      time.Duration `env:"QUEUE_LEASE_TIMEOUT" envDefault:"1m"`
	JanitorInterval   time.Duration `env:"QUEUE_JANITOR_INTERVAL" envDefault:"30s"`
	StoreTimeout      time.Duration `env:"QUEUE_STORE_TIMEOUT" envDefault:"10s"`
	MaxFailures       int           `env:"QUEUE_MAX_FAILURES" envDefault:"3"`
	RetryBackoff      time.Duration `env:"QUEUE_RETRY_BACKOFF" envDefault:"30s"`
	RetryBackoffMax   time.Duration `env:"QUEUE_RETRY_BACKOFF_MAX" envDefault:"15m"`
	EmptyBackoff      time.Duration `env:"QUEUE_EMPTY_BACKOFF" envDefault:"5s"`
	EmptyBackoffMax   time.Duration `env:"QUEUE_EMPTY_BACKOFF_MAX" envDefault:"60s"`
}

// RetryPolicy builds the retry policy described by the config
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxFailures: c.MaxFailures,
		Backoff:     ExponentialBackoff(c.RetryBackoff, c.RetryBackoffMax),
	}
}

// WorkerOptions translates the config into worker options
func (c Config) WorkerOptions(logger *slog.Logger, observer Observer) []WorkerOption {
	return []WorkerOption{
		WithQueue(c.Queue),
		WithConcurrency(c.Concurrency),
		WithPollInterval(c.PollInterval),
		WithHeartbeatInterval(c.HeartbeatInterval),
		WithStoreTimeout(c.StoreTimeout),
		WithRetryPolicy(c.RetryPolicy()),
		WithWorkerLogger(logger),
		WithObserver(observer),
	}
}

// SchedulerOptions translates the config into scheduler options
func (c Config) SchedulerOptions(logger *slog.Logger, observer Observer) []SchedulerOption {
	return []SchedulerOption{
		WithSchedulerQueue(c.Queue),
		WithEmptyBackoff(c.EmptyBackoff, c.EmptyBackoffMax),
		WithSchedulerStoreTimeout(c.StoreTimeout),
		WithSchedulerLogger(logger),
		WithSchedulerObserver(observer),
	}
}
