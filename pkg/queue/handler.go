package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// Handler processes the payload of a job
	Handler interface {
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	// ResultHandler is a Handler that also produces a completion result stored on the job.
	// Workers prefer HandleResult when a handler implements it.
	ResultHandler interface {
		Handler
		HandleResult(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
	}

	// HandlerFunc adapts a plain function to Handler
	HandlerFunc func(ctx context.Context, payload json.RawMessage) error

	// TaskHandlerFunc handles a decoded payload
	TaskHandlerFunc[T any] func(ctx context.Context, payload T) error
)

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

// NewTaskHandler returns a Handler decoding the JSON payload into T.
// A payload that does not decode is a permanent failure.
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	return &taskHandler[T]{handler: handler}
}

type taskHandler[T any] struct {
	handler TaskHandlerFunc[T]
}

func (h *taskHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", KindOf[T](), err))
	}
	return h.handler(ctx, t)
}

// KindOf returns the job kind used for payloads of type T
func KindOf[T any]() string {
	var payload T
	return qualifiedStructName(payload)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: the job is dead-lettered on the first failure
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
