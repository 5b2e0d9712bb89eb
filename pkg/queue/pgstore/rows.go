package pgstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

const jobColumns = `id, queue, kind, payload, state, process_after, created_at, started_at,
	finished_at, heartbeat_at, num_resets, num_failures, failure_message, result, lease_token`

// jobRow mirrors a bgjobs_jobs row
type jobRow struct {
	ID             uuid.UUID  `db:"id"`
	Queue          string     `db:"queue"`
	Kind           string     `db:"kind"`
	Payload        []byte     `db:"payload"`
	State          string     `db:"state"`
	ProcessAfter   time.Time  `db:"process_after"`
	CreatedAt      time.Time  `db:"created_at"`
	StartedAt      *time.Time `db:"started_at"`
	FinishedAt     *time.Time `db:"finished_at"`
	HeartbeatAt    *time.Time `db:"heartbeat_at"`
	NumResets      int        `db:"num_resets"`
	NumFailures    int        `db:"num_failures"`
	FailureMessage *string    `db:"failure_message"`
	Result         []byte     `db:"result"`
	LeaseToken     *uuid.UUID `db:"lease_token"`
}

func (r *jobRow) toJob() *queue.Job {
	return &queue.Job{
		ID:             r.ID,
		Queue:          r.Queue,
		Kind:           r.Kind,
		Payload:        r.Payload,
		State:          queue.State(r.State),
		ProcessAfter:   r.ProcessAfter.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		StartedAt:      utc(r.StartedAt),
		FinishedAt:     utc(r.FinishedAt),
		HeartbeatAt:    utc(r.HeartbeatAt),
		NumResets:      r.NumResets,
		NumFailures:    r.NumFailures,
		FailureMessage: r.FailureMessage,
		Result:         r.Result,
		LeaseToken:     r.LeaseToken,
	}
}

// collectJob reads exactly one row; pgx.ErrNoRows when the result is empty
func collectJob(rows pgx.Rows) (*queue.Job, error) {
	row, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[jobRow])
	if err != nil {
		return nil, err
	}
	return row.toJob(), nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// nullJSON maps an empty document to SQL NULL
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
