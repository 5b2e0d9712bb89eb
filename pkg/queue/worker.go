package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/bgjobs/pkg/logger"
)

// Worker drains one queue with a bounded number of concurrent execution slots
type Worker struct {
	repo     WorkerRepository
	registry *Registry

	queue             string
	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	storeTimeout      time.Duration
	retryPolicy       RetryPolicy
	logger            *slog.Logger
	observer          Observer

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

// NewWorker creates a new job worker
func NewWorker(repo WorkerRepository, registry *Registry, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if registry == nil {
		return nil, ErrRegistryNil
	}

	options := &workerOptions{
		queue:             DefaultQueueName,
		concurrency:       1,
		pollInterval:      time.Second,
		heartbeatInterval: 5 * time.Second,
		storeTimeout:      10 * time.Second,
		retryPolicy:       DefaultRetryPolicy,
		logger:            slog.Default(),
		observer:          NoopObserver{},
	}

	for _, opt := range opts {
		opt(options)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Worker{
		repo:              repo,
		registry:          registry,
		queue:             options.queue,
		concurrency:       options.concurrency,
		pollInterval:      options.pollInterval,
		heartbeatInterval: options.heartbeatInterval,
		storeTimeout:      options.storeTimeout,
		retryPolicy:       options.retryPolicy,
		logger:            options.logger.With(logger.Component("worker"), logger.Queue(options.queue)),
		observer:          options.observer,
		ctx:               ctx,
		cancel:            cancel,
		finished:          make(chan struct{}),
	}, nil
}

// Start runs the execution slots and blocks until Stop is called and every
// in-flight job has been reported. A worker can only be started once.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started || w.ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	defer close(w.finished)

	w.logger.Info("worker started", slog.Int("concurrency", w.concurrency))

	var wg sync.WaitGroup
	for range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.slot()
		}()
	}
	wg.Wait()

	w.logger.Info("worker stopped")
}

// Stop stops claiming new jobs and waits for in-flight handlers to finish
func (w *Worker) Stop() {
	w.mu.Lock()
	w.cancel()
	started := w.started
	w.mu.Unlock()

	if started {
		w.logger.Info("worker stopping, waiting for active jobs to complete")
		<-w.finished
	}
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		w.mu.Lock()
		if w.started {
			w.mu.Unlock()
			return ErrAlreadyStarted
		}
		w.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			w.Start()
		}()

		select {
		case <-ctx.Done():
		case <-done:
		}
		w.Stop()
		<-done
		return nil
	}
}

// slot is one execution slot: claim, process, repeat
func (w *Worker) slot() {
	for {
		if w.ctx.Err() != nil {
			return
		}

		processed, err := w.processNext()
		if err != nil && w.ctx.Err() == nil {
			w.logger.Error("failed to process job", logger.Error(err))
		}
		if processed {
			continue
		}

		timer := time.NewTimer(w.pollInterval)
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// processNext claims one job and processes it. processed is false when the
// queue had nothing eligible or the claim failed.
func (w *Worker) processNext() (processed bool, err error) {
	job, err := w.repo.Claim(w.ctx, w.queue)
	if errors.Is(err, ErrNoJobToClaim) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}

	lease, ok := job.Lease()
	if !ok {
		return false, fmt.Errorf("claimed job %s has no lease token", job.ID)
	}

	w.observer.JobClaimed(w.ctx, job)
	w.logger.Debug("claimed job",
		logger.JobID(job.ID),
		logger.Kind(job.Kind))

	return true, w.processJob(job, lease)
}

// processJob executes a job with its handler and reports the outcome
func (w *Worker) processJob(job *Job, lease Lease) error {
	start := time.Now()

	handler, ok := w.registry.Lookup(job.Kind)
	if !ok {
		w.logger.Error("no handler registered for job kind",
			logger.JobID(job.ID),
			logger.Kind(job.Kind))
		return w.fail(job, lease, fmt.Errorf("%w: %s", ErrHandlerNotFound, job.Kind), NoRetry, time.Since(start))
	}

	// Handler context is not tied to the worker lifecycle so shutdown lets jobs finish;
	// it is cancelled only when the lease turns stale.
	ctx, cancel := context.WithCancel(logger.WithJob(context.Background(), logger.JobInfo{
		ID:      job.ID,
		Queue:   job.Queue,
		Kind:    job.Kind,
		Attempt: job.NumFailures + 1,
	}))
	defer cancel()

	var stale atomic.Bool
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		w.heartbeat(ctx, lease, func() {
			stale.Store(true)
			cancel()
		})
	}()

	result, execErr := w.invoke(ctx, handler, job)
	cancel()
	<-heartbeatDone
	duration := time.Since(start)

	if stale.Load() {
		w.logger.Warn("lease lost while processing, abandoning job",
			logger.JobID(job.ID),
			logger.Kind(job.Kind),
			logger.Duration(duration))
		return nil
	}

	if execErr != nil {
		policy := w.retryPolicy
		if IsPermanent(execErr) {
			policy = NoRetry
		}
		return w.fail(job, lease, execErr, policy, duration)
	}

	return w.complete(job, lease, result, duration)
}

// invoke runs the handler, converting panics into errors
func (w *Worker) invoke(ctx context.Context, handler Handler, job *Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			w.logger.Error("handler panicked",
				logger.JobID(job.ID),
				logger.Kind(job.Kind),
				slog.Any("panic", r))
		}
	}()
	if rh, ok := handler.(ResultHandler); ok {
		return rh.HandleResult(ctx, job.Payload)
	}
	return nil, handler.Handle(ctx, job.Payload)
}

// heartbeat refreshes the lease until ctx is done; onStale is called once
// when the store reports the lease no longer owns the job.
func (w *Worker) heartbeat(ctx context.Context, lease Lease, onStale func()) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hctx, cancel := context.WithTimeout(ctx, w.storeTimeout)
			alive, err := w.repo.Heartbeat(hctx, lease)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("heartbeat failed",
						logger.JobID(lease.JobID),
						logger.Error(err))
				}
				continue
			}
			if !alive {
				onStale()
				return
			}
		}
	}
}

func (w *Worker) complete(job *Job, lease Lease, result json.RawMessage, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.storeTimeout)
	defer cancel()

	if err := w.repo.Complete(ctx, lease, result); err != nil {
		if errors.Is(err, ErrStaleLease) {
			w.logger.Warn("job completed after its lease expired",
				logger.JobID(job.ID))
			return nil
		}
		return fmt.Errorf("failed to mark job %s as completed: %w", job.ID, err)
	}

	w.observer.JobCompleted(ctx, job, duration)
	w.logger.Info("job completed successfully",
		logger.JobID(job.ID),
		logger.Kind(job.Kind),
		logger.Duration(duration))

	return nil
}

func (w *Worker) fail(job *Job, lease Lease, execErr error, policy RetryPolicy, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.storeTimeout)
	defer cancel()

	state, err := w.repo.Fail(ctx, lease, execErr.Error(), policy)
	if err != nil {
		if errors.Is(err, ErrStaleLease) {
			w.logger.Warn("job failed after its lease expired",
				logger.JobID(job.ID),
				logger.Error(execErr))
			return nil
		}
		return fmt.Errorf("failed to mark job %s as failed: %w", job.ID, err)
	}

	w.observer.JobFailed(ctx, job, state, duration)

	level := slog.LevelWarn
	msg := "job failed, will retry"
	if state == StateErrored {
		level = slog.LevelError
		msg = "job failed permanently"
	}
	w.logger.Log(ctx, level, msg,
		logger.JobID(job.ID),
		logger.Kind(job.Kind),
		slog.Int("failures", job.NumFailures+1),
		logger.Duration(duration),
		logger.Error(execErr))

	return nil
}
