package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrymomot/bgjobs/pkg/logger"
	"github.com/dmitrymomot/bgjobs/pkg/schedule"
)

// wakeReason tells the scheduler loop why a wait ended
type wakeReason int

const (
	wakeReady wakeReason = iota
	wakeWindowExpired
	wakeConfigChanged
	wakeStop
)

func (r wakeReason) String() string {
	switch r {
	case wakeReady:
		return "ready"
	case wakeWindowExpired:
		return "window expired"
	case wakeConfigChanged:
		return "configuration changed"
	case wakeStop:
		return "stop"
	}
	return "unknown"
}

// Scheduler promotes scheduled jobs of one queue to queued, in creation order,
// no faster than the active schedule window allows.
type Scheduler struct {
	repo   SchedulerRepository
	source schedule.Source

	queue        string
	emptyInitial time.Duration
	emptyMax     time.Duration
	storeTimeout time.Duration
	logger       *slog.Logger
	observer     Observer

	// limiter outlives windows so that reselecting one never refills its token.
	limiter *rate.Limiter

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

// NewScheduler creates a promotion scheduler
func NewScheduler(repo SchedulerRepository, source schedule.Source, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if source == nil {
		return nil, ErrSourceNil
	}

	options := &schedulerOptions{
		queue:        DefaultQueueName,
		emptyInitial: 5 * time.Second,
		emptyMax:     60 * time.Second,
		storeTimeout: 10 * time.Second,
		logger:       slog.Default(),
		observer:     NoopObserver{},
	}

	for _, opt := range opts {
		opt(options)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		repo:         repo,
		source:       source,
		queue:        options.queue,
		emptyInitial: options.emptyInitial,
		emptyMax:     options.emptyMax,
		storeTimeout: options.storeTimeout,
		logger:       options.logger.With(logger.Component("scheduler"), logger.Queue(options.queue)),
		observer:     options.observer,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		ctx:          ctx,
		cancel:       cancel,
		finished:     make(chan struct{}),
	}, nil
}

// Start runs the promotion loop until Stop is called
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	defer close(s.finished)

	s.logger.Info("scheduler started")

	changes := s.source.Changes()
	backoff := NewBackoff(s.emptyInitial, s.emptyMax)

	for {
		reason := s.runWindow(changes, backoff)
		if reason == wakeStop {
			s.logger.Info("scheduler stopped")
			return
		}
		s.logger.Debug("reselecting schedule window", slog.String("reason", reason.String()))
	}
}

// Stop terminates the loop and waits for it to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.finished
	}
}

// Run starts the scheduler and returns a function suitable for errgroup
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.Start()
		}()

		select {
		case <-ctx.Done():
		case <-done:
		}
		s.Stop()
		<-done
		return nil
	}
}

// runWindow selects the active window and promotes jobs under its rate until
// the window expires, the configuration changes or the scheduler stops.
func (s *Scheduler) runWindow(changes <-chan struct{}, backoff *Backoff) wakeReason {
	current, err := s.source.Current()
	if err != nil {
		s.logger.Error("schedule unavailable, promotions suspended until configuration changes",
			logger.Error(err))
		return s.wait(changes, nil, -1)
	}

	now := time.Now()
	window, err := current.Active(now)
	if err != nil {
		s.logger.Error("no active schedule window, promotions suspended until configuration changes",
			logger.Error(err))
		return s.wait(changes, nil, -1)
	}

	expiry := time.NewTimer(window.End.Sub(now))
	defer expiry.Stop()

	if window.Rate.Paused() {
		s.logger.Info("promotions paused",
			slog.Time("until", window.End))
		return s.wait(changes, expiry.C, -1)
	}

	limit := rate.Inf
	if interval := window.Interval(); interval > 0 {
		limit = rate.Every(interval)
	}
	s.limiter.SetLimit(limit)

	s.logger.Info("schedule window active",
		slog.String("rate", window.Rate.String()),
		slog.Time("until", window.End))

	for {
		reservation := s.limiter.Reserve()
		if reason := s.wait(changes, expiry.C, reservation.Delay()); reason != wakeReady {
			reservation.Cancel()
			return reason
		}

		if s.promote() {
			backoff.Reset()
			continue
		}

		if reason := s.wait(changes, expiry.C, backoff.Next()); reason != wakeReady {
			return reason
		}
	}
}

// promote attempts one promotion and reports whether a job was promoted
func (s *Scheduler) promote() bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.storeTimeout)
	defer cancel()

	job, err := s.repo.PromoteNext(ctx, s.queue)
	if err != nil {
		if errors.Is(err, ErrNoJobToPromote) {
			s.logger.Debug("no scheduled jobs to promote")
		} else if s.ctx.Err() == nil {
			s.logger.Error("failed to promote job", logger.Error(err))
		}
		return false
	}

	latency := time.Since(job.CreatedAt)
	s.observer.JobPromoted(ctx, job, latency)
	s.logger.Debug("promoted job",
		logger.JobID(job.ID),
		logger.Kind(job.Kind),
		slog.Duration("latency", latency))

	return true
}

// wait blocks for d, or until stop, a configuration change or window expiry.
// A negative d waits for one of the events only.
func (s *Scheduler) wait(changes <-chan struct{}, expiry <-chan time.Time, d time.Duration) wakeReason {
	var timeout <-chan time.Time
	if d >= 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	// Events already pending win over an elapsed timer.
	select {
	case <-s.ctx.Done():
		return wakeStop
	case <-changes:
		return wakeConfigChanged
	case <-expiry:
		return wakeWindowExpired
	default:
	}

	select {
	case <-s.ctx.Done():
		return wakeStop
	case <-changes:
		return wakeConfigChanged
	case <-expiry:
		return wakeWindowExpired
	case <-timeout:
		return wakeReady
	}
}
