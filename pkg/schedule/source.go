package schedule

import (
	"sync"
	"time"
)

// Source supplies the current schedule and announces configuration changes.
type Source interface {
	// Current returns a consistent snapshot of the schedule in effect now.
	Current() (*Schedule, error)

	// Changes returns a channel receiving a value after every configuration change.
	// Each call registers a new subscriber; notifications are coalesced, never blocking.
	Changes() <-chan struct{}
}

type notifier struct {
	mu   sync.Mutex
	subs []chan struct{}
}

func (n *notifier) Changes() <-chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// configHolder keeps the last loaded configuration (or load error) and compiles it on demand.
type configHolder struct {
	notifier

	mu  sync.RWMutex
	cfg *Configuration
	err error
	now func() time.Time
}

func newConfigHolder() *configHolder {
	return &configHolder{now: time.Now}
}

func (h *configHolder) Current() (*Schedule, error) {
	h.mu.RLock()
	cfg, err := h.cfg, h.err
	h.mu.RUnlock()

	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNoConfiguration
	}
	return cfg.Schedule(h.now())
}

// set stores a configuration or the error explaining why it could not be loaded.
func (h *configHolder) set(cfg *Configuration, err error) {
	h.mu.Lock()
	h.cfg, h.err = cfg, err
	h.mu.Unlock()
	h.notify()
}

// StaticSource serves an in-memory configuration that can be replaced at runtime.
type StaticSource struct {
	*configHolder
}

// NewStaticSource validates cfg and returns a source serving it.
func NewStaticSource(cfg Configuration) (*StaticSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &StaticSource{configHolder: newConfigHolder()}
	s.cfg = &cfg
	return s, nil
}

// Update replaces the configuration. An invalid configuration is rejected
// and the previous one stays in effect.
func (s *StaticSource) Update(cfg Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.set(&cfg, nil)
	return nil
}

// FixedSource serves a pre-built schedule. Useful for tests and for callers
// computing schedules themselves.
type FixedSource struct {
	notifier

	mu       sync.RWMutex
	schedule *Schedule
}

// NewFixedSource returns a source serving s. A nil schedule reports ErrNoConfiguration.
func NewFixedSource(s *Schedule) *FixedSource {
	return &FixedSource{schedule: s}
}

func (f *FixedSource) Current() (*Schedule, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.schedule == nil {
		return nil, ErrNoConfiguration
	}
	return f.schedule, nil
}

// Set swaps the schedule and notifies subscribers.
func (f *FixedSource) Set(s *Schedule) {
	f.mu.Lock()
	f.schedule = s
	f.mu.Unlock()
	f.notify()
}
