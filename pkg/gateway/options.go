package gateway

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

// Option configures the gateway handler.
type Option func(*handlerOptions)

type handlerOptions struct {
	queues       map[string]queue.RetryPolicy
	accessToken  string
	maxBodySize  int64
	storeTimeout time.Duration
	logger       *slog.Logger
}

// WithQueue exposes a queue through the gateway with the retry policy applied
// to failures reported by executors.
func WithQueue(name string, policy queue.RetryPolicy) Option {
	return func(o *handlerOptions) {
		if name != "" {
			o.queues[name] = policy
		}
	}
}

// WithAccessToken requires executors to send "Authorization: Bearer <token>".
// An empty token disables authentication.
func WithAccessToken(token string) Option {
	return func(o *handlerOptions) {
		o.accessToken = token
	}
}

// WithMaxBodySize limits request bodies, 1 MiB by default
func WithMaxBodySize(n int64) Option {
	return func(o *handlerOptions) {
		if n > 0 {
			o.maxBodySize = n
		}
	}
}

// WithStoreTimeout bounds every store call made on behalf of a request
func WithStoreTimeout(timeout time.Duration) Option {
	return func(o *handlerOptions) {
		if timeout > 0 {
			o.storeTimeout = timeout
		}
	}
}

// WithLogger sets the handler logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *handlerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
