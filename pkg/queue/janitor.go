package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/bgjobs/pkg/logger"
	"github.com/dmitrymomot/bgjobs/pkg/routine"
)

// JanitorOption configures a janitor
type JanitorOption func(*janitorOptions)

type janitorOptions struct {
	logger       *slog.Logger
	observer     Observer
	storeTimeout time.Duration
}

// WithJanitorLogger sets the janitor logger
func WithJanitorLogger(logger *slog.Logger) JanitorOption {
	return func(o *janitorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithJanitorObserver sets the observer notified of reclaimed jobs
func WithJanitorObserver(observer Observer) JanitorOption {
	return func(o *janitorOptions) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithJanitorStoreTimeout bounds every ReclaimExpired call
func WithJanitorStoreTimeout(timeout time.Duration) JanitorOption {
	return func(o *janitorOptions) {
		if timeout > 0 {
			o.storeTimeout = timeout
		}
	}
}

// NewJanitor returns a periodic routine that re-queues jobs of queue whose lease
// has not been refreshed for leaseTimeout. It runs every interval.
func NewJanitor(repo JanitorRepository, queue string, leaseTimeout, interval time.Duration, opts ...JanitorOption) (*routine.Periodic, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if leaseTimeout <= 0 {
		return nil, fmt.Errorf("janitor lease timeout must be positive, got %s", leaseTimeout)
	}

	options := &janitorOptions{
		logger:       slog.Default(),
		observer:     NoopObserver{},
		storeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}

	log := options.logger.With(logger.Component("janitor"), logger.Queue(queue))

	reclaim := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, options.storeTimeout)
		defer cancel()

		ids, err := repo.ReclaimExpired(ctx, queue, leaseTimeout)
		if err != nil {
			return fmt.Errorf("reclaim expired jobs: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		options.observer.JobsReclaimed(ctx, queue, len(ids))
		for _, id := range ids {
			log.Warn("reclaimed job with expired lease", logger.JobID(id))
		}
		return nil
	}

	return routine.NewPeriodic("janitor:"+queue, interval, reclaim, routine.WithLogger(log)), nil
}
