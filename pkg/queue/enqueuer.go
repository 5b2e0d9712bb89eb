package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueuer handles job creation
type Enqueuer struct {
	repo         EnqueuerRepository
	defaultQueue string
	now          func() time.Time
}

// NewEnqueuer creates a new Enqueuer
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		defaultQueue: DefaultQueueName,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:         repo,
		defaultQueue: options.defaultQueue,
		now:          options.now,
	}, nil
}

// Enqueue marshals payload to JSON and stores a new job.
// The job kind defaults to the qualified type name of payload (see KindOf).
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (*Job, error) {
	if payload == nil {
		return nil, ErrPayloadNil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Join(ErrPayloadMarshal, fmt.Errorf("payload of type %T: %w", payload, err))
	}

	return e.EnqueueRaw(ctx, qualifiedStructName(payload), raw, opts...)
}

// EnqueueRaw stores a job with an already encoded payload
func (e *Enqueuer) EnqueueRaw(ctx context.Context, kind string, payload json.RawMessage, opts ...EnqueueOption) (*Job, error) {
	if kind == "" {
		return nil, ErrKindEmpty
	}
	if payload == nil {
		return nil, ErrPayloadNil
	}

	options := &enqueueOptions{
		queue: e.defaultQueue,
		kind:  kind,
		state: StateQueued,
	}
	for _, opt := range opts {
		opt(options)
	}

	job := e.buildJob(payload, options)
	if err := e.repo.CreateJob(ctx, job); err != nil {
		return nil, errors.Join(ErrJobCreate, fmt.Errorf("job %q in queue %q: %w", job.Kind, job.Queue, err))
	}

	return job, nil
}

// buildJob constructs a Job from payload and options
func (e *Enqueuer) buildJob(payload json.RawMessage, options *enqueueOptions) *Job {
	now := e.now()

	processAfter := now
	if options.processAfter != nil {
		processAfter = *options.processAfter
	} else if options.delay > 0 {
		processAfter = now.Add(options.delay)
	}

	return &Job{
		ID:           uuid.New(),
		Queue:        options.queue,
		Kind:         options.kind,
		Payload:      payload,
		State:        options.state,
		ProcessAfter: processAfter,
		CreatedAt:    now,
	}
}
