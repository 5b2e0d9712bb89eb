package gateway

import "errors"

var (
	ErrUnknownQueue      = errors.New("unknown queue")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidRequest    = errors.New("invalid request body")
	ErrUnsupportedMedia  = errors.New("content type must be application/json")
	ErrUnexpectedStatus  = errors.New("unexpected gateway response status")
	ErrInvalidBaseURL    = errors.New("invalid gateway base url")
	ErrQueueMismatch     = errors.New("client is bound to another queue")
	ErrEmptyQueueName    = errors.New("queue name cannot be empty")
	ErrNilRepository     = errors.New("worker repository cannot be nil")
	ErrInvalidLeaseToken = errors.New("lease token is required")
	ErrStoreUnavailable  = errors.New("job store unavailable")
)
