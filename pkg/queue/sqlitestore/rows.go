package sqlitestore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

const jobColumns = `id, queue, kind, payload, state, process_after, created_at, started_at,
	finished_at, heartbeat_at, num_resets, num_failures, failure_message, result, lease_token`

// jobRow mirrors a bgjobs_jobs row
type jobRow struct {
	ID             string         `db:"id"`
	Queue          string         `db:"queue"`
	Kind           string         `db:"kind"`
	Payload        []byte         `db:"payload"`
	State          string         `db:"state"`
	ProcessAfter   int64          `db:"process_after"`
	CreatedAt      int64          `db:"created_at"`
	StartedAt      sql.NullInt64  `db:"started_at"`
	FinishedAt     sql.NullInt64  `db:"finished_at"`
	HeartbeatAt    sql.NullInt64  `db:"heartbeat_at"`
	NumResets      int            `db:"num_resets"`
	NumFailures    int            `db:"num_failures"`
	FailureMessage sql.NullString `db:"failure_message"`
	Result         []byte         `db:"result"`
	LeaseToken     sql.NullString `db:"lease_token"`
}

type reclaimedRow struct {
	ID        string `db:"id"`
	CreatedAt int64  `db:"created_at"`
	Seq       int64  `db:"seq"`
}

func fromJob(j *queue.Job) jobRow {
	return jobRow{
		ID:           j.ID.String(),
		Queue:        j.Queue,
		Kind:         j.Kind,
		Payload:      j.Payload,
		State:        string(j.State),
		ProcessAfter: j.ProcessAfter.UnixNano(),
		CreatedAt:    j.CreatedAt.UnixNano(),
	}
}

func (r *jobRow) toJob() (*queue.Job, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: job id %q: %w", r.ID, err)
	}

	job := &queue.Job{
		ID:           id,
		Queue:        r.Queue,
		Kind:         r.Kind,
		Payload:      r.Payload,
		State:        queue.State(r.State),
		ProcessAfter: fromNanos(r.ProcessAfter),
		CreatedAt:    fromNanos(r.CreatedAt),
		StartedAt:    nullTime(r.StartedAt),
		FinishedAt:   nullTime(r.FinishedAt),
		HeartbeatAt:  nullTime(r.HeartbeatAt),
		NumResets:    r.NumResets,
		NumFailures:  r.NumFailures,
		Result:       r.Result,
	}
	if r.FailureMessage.Valid {
		job.FailureMessage = &r.FailureMessage.String
	}
	if r.LeaseToken.Valid {
		token, err := uuid.Parse(r.LeaseToken.String)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: lease token %q: %w", r.LeaseToken.String, err)
		}
		job.LeaseToken = &token
	}
	return job, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
