package mongostore

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

// jobDocument is the stored form of a job. IDs and lease tokens are kept as
// canonical UUID strings.
type jobDocument struct {
	ID             string     `bson:"_id"`
	Queue          string     `bson:"queue"`
	Kind           string     `bson:"kind"`
	Payload        []byte     `bson:"payload,omitempty"`
	State          string     `bson:"state"`
	ProcessAfter   time.Time  `bson:"process_after"`
	CreatedAt      time.Time  `bson:"created_at"`
	StartedAt      *time.Time `bson:"started_at,omitempty"`
	FinishedAt     *time.Time `bson:"finished_at,omitempty"`
	HeartbeatAt    *time.Time `bson:"heartbeat_at,omitempty"`
	NumResets      int        `bson:"num_resets"`
	NumFailures    int        `bson:"num_failures"`
	FailureMessage *string    `bson:"failure_message,omitempty"`
	Result         []byte     `bson:"result,omitempty"`
	LeaseToken     *string    `bson:"lease_token,omitempty"`
	Seq            int64      `bson:"seq"`
}

func toDocument(j *queue.Job) jobDocument {
	return jobDocument{
		ID:           j.ID.String(),
		Queue:        j.Queue,
		Kind:         j.Kind,
		Payload:      []byte(j.Payload),
		State:        string(j.State),
		ProcessAfter: j.ProcessAfter,
		CreatedAt:    j.CreatedAt,
	}
}

func (d *jobDocument) toJob() (*queue.Job, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("mongostore: job id %q: %w", d.ID, err)
	}

	job := &queue.Job{
		ID:             id,
		Queue:          d.Queue,
		Kind:           d.Kind,
		Payload:        d.Payload,
		State:          queue.State(d.State),
		ProcessAfter:   d.ProcessAfter.UTC(),
		CreatedAt:      d.CreatedAt.UTC(),
		StartedAt:      utc(d.StartedAt),
		FinishedAt:     utc(d.FinishedAt),
		HeartbeatAt:    utc(d.HeartbeatAt),
		NumResets:      d.NumResets,
		NumFailures:    d.NumFailures,
		FailureMessage: d.FailureMessage,
		Result:         d.Result,
	}
	if d.LeaseToken != nil {
		token, err := uuid.Parse(*d.LeaseToken)
		if err != nil {
			return nil, fmt.Errorf("mongostore: lease token %q: %w", *d.LeaseToken, err)
		}
		job.LeaseToken = &token
	}
	return job, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
