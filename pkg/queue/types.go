package queue

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is the default queue name used when no queue is specified
const DefaultQueueName = "default"

// State represents the lifecycle state of a job
type State string

const (
	StateScheduled  State = "scheduled"
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateErrored    State = "errored"
)

// Valid reports whether s is one of the known states
func (s State) Valid() bool {
	switch s {
	case StateScheduled, StateQueued, StateProcessing, StateCompleted, StateErrored:
		return true
	}
	return false
}

// Terminal reports whether no further transition can happen from s
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored
}

// Job is a unit of work persisted in a queue store
type Job struct {
	ID             uuid.UUID       `json:"id"`
	Queue          string          `json:"queue"`
	Kind           string          `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	State          State           `json:"state"`
	ProcessAfter   time.Time       `json:"process_after"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	HeartbeatAt    *time.Time      `json:"heartbeat_at,omitempty"`
	NumResets      int             `json:"num_resets"`
	NumFailures    int             `json:"num_failures"`
	FailureMessage *string         `json:"failure_message,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	LeaseToken     *uuid.UUID      `json:"lease_token,omitempty"`
}

// Lease proves ownership of a processing job. A non-empty Queue also requires
// the job to belong to that queue.
type Lease struct {
	JobID uuid.UUID `json:"job_id"`
	Token uuid.UUID `json:"lease_token"`
	Queue string    `json:"queue,omitempty"`
}

// Lease returns the job lease; ok is false when the job is not held by anyone
func (j *Job) Lease() (lease Lease, ok bool) {
	if j == nil || j.LeaseToken == nil {
		return Lease{}, false
	}
	return Lease{JobID: j.ID, Token: *j.LeaseToken, Queue: j.Queue}, true
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Payload = slices.Clone(j.Payload)
	c.Result = slices.Clone(j.Result)
	c.StartedAt = clonePtr(j.StartedAt)
	c.FinishedAt = clonePtr(j.FinishedAt)
	c.HeartbeatAt = clonePtr(j.HeartbeatAt)
	c.FailureMessage = clonePtr(j.FailureMessage)
	c.LeaseToken = clonePtr(j.LeaseToken)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
