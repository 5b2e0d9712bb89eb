package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/bgjobs/pkg/logger"
)

// RedisSource reads the rollout configuration from a Redis key and reloads it
// whenever a message is published on the associated channel.
type RedisSource struct {
	*configHolder

	client  redis.UniversalClient
	key     string
	channel string
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
}

// RedisSourceOption configures a RedisSource.
type RedisSourceOption func(*RedisSource)

// WithRedisChannel overrides the change notification channel (default: "<key>:changed").
func WithRedisChannel(channel string) RedisSourceOption {
	return func(s *RedisSource) {
		if channel != "" {
			s.channel = channel
		}
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger *slog.Logger) RedisSourceOption {
	return func(s *RedisSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRedisTimeout bounds every Redis round trip.
func WithRedisTimeout(d time.Duration) RedisSourceOption {
	return func(s *RedisSource) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewRedisSource performs the initial load. A missing key is not an error: the
// source reports ErrNoConfiguration until a configuration is stored.
func NewRedisSource(ctx context.Context, client redis.UniversalClient, key string, opts ...RedisSourceOption) (*RedisSource, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	s := &RedisSource{
		configHolder: newConfigHolder(),
		ctx:          runCtx,
		cancel:       cancel,
		finished:     make(chan struct{}),
		client:       client,
		key:          key,
		channel:      key + ":changed",
		timeout:      5 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg, err := s.fetch(ctx)
	if err != nil && !errors.Is(err, ErrNoConfiguration) {
		var cerr *ConfigError
		if !errors.As(err, &cerr) {
			cancel()
			return nil, err
		}
	}
	s.cfg, s.err = cfg, err

	return s, nil
}

// Store validates cfg, writes it to the key and notifies every subscriber.
func (s *RedisSource) Store(ctx context.Context, cfg Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode schedule configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("store schedule configuration: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, "1").Err(); err != nil {
		return fmt.Errorf("publish schedule change: %w", err)
	}
	return nil
}

// Start subscribes to the change channel and reloads on every message until Stop.
// Start after Stop returns immediately.
func (s *RedisSource) Start() {
	s.mu.Lock()
	if s.started || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	defer close(s.finished)

	ctx := s.ctx
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// Catch up with changes published before the subscription was active.
	s.reload(ctx)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			s.reload(ctx)
		}
	}
}

func (s *RedisSource) Stop() {
	s.mu.Lock()
	s.cancel()
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.finished
	}
}

func (s *RedisSource) reload(ctx context.Context) {
	cfg, err := s.fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil && !errors.Is(err, ErrNoConfiguration) {
		var cerr *ConfigError
		if !errors.As(err, &cerr) {
			// Connectivity problem: keep serving the last known configuration.
			s.logger.Error("failed to reload schedule configuration",
				slog.String("key", s.key),
				logger.Error(err))
			return
		}
		s.logger.Error("invalid schedule configuration",
			slog.String("key", s.key),
			logger.Error(err))
	}
	s.set(cfg, err)
}

func (s *RedisSource) fetch(ctx context.Context) (*Configuration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoConfiguration
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule configuration: %w", err)
	}
	return decodeConfiguration(data)
}
