package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository defines the interface for job creation
type EnqueuerRepository interface {
	CreateJob(ctx context.Context, job *Job) error
}

// WorkerRepository defines the interface for worker operations.
// Every method is atomic with respect to concurrent callers.
type WorkerRepository interface {
	// Claim moves the oldest eligible queued job to processing and issues a fresh lease.
	// Returns ErrNoJobToClaim when nothing is eligible.
	Claim(ctx context.Context, queue string) (*Job, error)

	// Heartbeat refreshes liveness; false means the lease is stale.
	Heartbeat(ctx context.Context, lease Lease) (bool, error)

	// Complete marks the job completed and stores the optional result.
	// Returns ErrStaleLease when the lease no longer owns the job.
	Complete(ctx context.Context, lease Lease, result json.RawMessage) error

	// Fail records a failure and either re-queues the job with backoff or dead-letters it.
	// Returns the resulting state, or ErrStaleLease.
	Fail(ctx context.Context, lease Lease, message string, policy RetryPolicy) (State, error)
}

// SchedulerRepository defines the interface for scheduler operations
type SchedulerRepository interface {
	// PromoteNext moves the oldest scheduled job to queued.
	// Returns ErrNoJobToPromote when no job is scheduled.
	PromoteNext(ctx context.Context, queue string) (*Job, error)
}

// JanitorRepository defines the interface for lease expiry
type JanitorRepository interface {
	// ReclaimExpired re-queues processing jobs whose last heartbeat is older than leaseTimeout.
	ReclaimExpired(ctx context.Context, queue string, leaseTimeout time.Duration) ([]uuid.UUID, error)
}

// Store is the complete queue store contract
type Store interface {
	EnqueuerRepository
	WorkerRepository
	SchedulerRepository
	JanitorRepository

	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
}
