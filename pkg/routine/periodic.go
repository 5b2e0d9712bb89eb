package routine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/bgjobs/pkg/logger"
)

// Func is the body of a periodic routine.
type Func func(ctx context.Context) error

// Periodic invokes a function on a fixed interval.
// Errors and panics from the function are logged and never stop the routine.
type Periodic struct {
	name      string
	interval  time.Duration
	fn        Func
	logger    *slog.Logger
	immediate bool

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

// PeriodicOption configures a Periodic routine.
type PeriodicOption func(*Periodic)

// WithLogger sets the logger used to report errors.
func WithLogger(logger *slog.Logger) PeriodicOption {
	return func(p *Periodic) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithImmediateRun invokes the function once right after Start, before the first tick.
func WithImmediateRun() PeriodicOption {
	return func(p *Periodic) {
		p.immediate = true
	}
}

// NewPeriodic creates a routine calling fn every interval.
func NewPeriodic(name string, interval time.Duration, fn Func, opts ...PeriodicOption) *Periodic {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interval <= 0 {
		p.interval = time.Minute
	}
	return p
}

// Name returns the routine name.
func (p *Periodic) Name() string {
	return p.name
}

func (p *Periodic) Start() {
	p.mu.Lock()
	if p.started || p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	defer close(p.finished)

	if p.immediate {
		p.invoke()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.invoke()
		}
	}
}

func (p *Periodic) Stop() {
	p.mu.Lock()
	p.cancel()
	started := p.started
	p.mu.Unlock()

	if started {
		<-p.finished
	}
}

func (p *Periodic) invoke() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("periodic routine panicked",
				slog.String("routine", p.name),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := p.fn(p.ctx); err != nil && p.ctx.Err() == nil {
		p.logger.Error("periodic routine failed",
			slog.String("routine", p.name),
			logger.Error(err))
	}
}
