package gateway

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

type dequeueResponse struct {
	Job        *queue.Job `json:"job"`
	LeaseToken uuid.UUID  `json:"lease_token"`
}

type leaseRequest struct {
	JobID      uuid.UUID `json:"job_id"`
	LeaseToken uuid.UUID `json:"lease_token"`
}

// lease scopes the request to the queue named in the URL
func (r leaseRequest) lease(queueName string) queue.Lease {
	return queue.Lease{JobID: r.JobID, Token: r.LeaseToken, Queue: queueName}
}

func (r leaseRequest) validate() error {
	if r.JobID == uuid.Nil || r.LeaseToken == uuid.Nil {
		return ErrInvalidLeaseToken
	}
	return nil
}

type heartbeatResponse struct {
	Stale bool `json:"stale"`
}

type completeRequest struct {
	leaseRequest
	Result json.RawMessage `json:"result,omitempty"`
}

type failRequest struct {
	leaseRequest
	Message   string `json:"message"`
	Permanent bool   `json:"permanent,omitempty"`
}

type failResponse struct {
	State queue.State `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}
