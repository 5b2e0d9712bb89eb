package queue

import "errors"

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrRegistryNil is returned when a worker is built without a handler registry
	ErrRegistryNil = errors.New("handler registry cannot be nil")

	// ErrSourceNil is returned when a scheduler is built without a schedule source
	ErrSourceNil = errors.New("schedule source cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrPayloadMarshal is returned when payload marshaling fails
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrJobNil is returned when a nil job is passed to a store
	ErrJobNil = errors.New("job cannot be nil")

	// ErrJobCreate is returned when job creation in storage fails
	ErrJobCreate = errors.New("failed to create job in storage")

	// ErrJobNotFound is returned when a job does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyExists is returned when a job with the same ID is already stored
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrInvalidState is returned when a job is created in a state other than scheduled or queued
	ErrInvalidState = errors.New("jobs can only be created as scheduled or queued")

	// ErrNoJobToClaim is returned when no queued job is eligible for processing
	ErrNoJobToClaim = errors.New("no job to claim")

	// ErrNoJobToPromote is returned when no scheduled job is waiting for promotion
	ErrNoJobToPromote = errors.New("no job to promote")

	// ErrStaleLease is returned when the lease no longer owns the job
	ErrStaleLease = errors.New("stale lease")

	// ErrKindEmpty is returned when registering a handler without a kind
	ErrKindEmpty = errors.New("job kind cannot be empty")

	// ErrHandlerNotFound is returned when no handler is registered for a job kind
	ErrHandlerNotFound = errors.New("no handler registered for job kind")

	// ErrHandlerAlreadyRegistered is returned when a kind is registered twice
	ErrHandlerAlreadyRegistered = errors.New("handler already registered")

	// ErrHandlerPanic wraps panics recovered from handlers
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrAlreadyStarted is returned when a worker or scheduler is started twice
	ErrAlreadyStarted = errors.New("already started")
)
