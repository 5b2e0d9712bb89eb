// Package pgstore implements queue.Store on PostgreSQL.
//
// Claims and promotions select their row with FOR UPDATE SKIP LOCKED inside a
// single UPDATE statement, so any number of processes can share a table
// without handing the same job out twice. Every timestamp is computed by the
// store clock and passed as a parameter rather than taken from NOW().
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/bgjobs/pkg/pg"
	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ queue.Store = (*Store)(nil)

// Store is a PostgreSQL queue store backed by a pgx pool.
// The caller owns the pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the store clock
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store on top of an existing pool
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool: pool,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates or upgrades the jobs table
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("pgstore: migrations: %w", err)
	}
	return pg.Migrate(ctx, pool, migrations, cfg, log)
}

// CreateJob implements queue.EnqueuerRepository
func (s *Store) CreateJob(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return queue.ErrJobNil
	}

	j, err := queue.PrepareNewJob(job, s.now())
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO bgjobs_jobs (id, queue, kind, payload, state, process_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		j.ID, j.Queue, j.Kind, nullJSON(j.Payload), string(j.State), j.ProcessAfter, j.CreatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", queue.ErrJobAlreadyExists, j.ID)
		}
		return fmt.Errorf("pgstore: create job: %w", err)
	}

	*job = *j
	return nil
}

// Claim implements queue.WorkerRepository
func (s *Store) Claim(ctx context.Context, queueName string) (*queue.Job, error) {
	now := s.now()
	rows, err := s.pool.Query(ctx, `
		UPDATE bgjobs_jobs
		SET state = 'processing', started_at = $1, heartbeat_at = $1, lease_token = $2
		WHERE id = (
			SELECT id FROM bgjobs_jobs
			WHERE queue = $3 AND state = 'queued' AND process_after <= $1
			ORDER BY process_after, created_at, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		now, uuid.New(), queueName,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: claim: %w", err)
	}

	job, err := collectJob(rows)
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrNoJobToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: claim: %w", err)
	}
	return job, nil
}

// Heartbeat implements queue.WorkerRepository
func (s *Store) Heartbeat(ctx context.Context, lease queue.Lease) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bgjobs_jobs SET heartbeat_at = $1
		WHERE id = $2 AND state = 'processing' AND lease_token = $3 AND ($4 = '' OR queue = $4)`,
		s.now(), lease.JobID, lease.Token, lease.Queue,
	)
	if err != nil {
		return false, fmt.Errorf("pgstore: heartbeat: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete implements queue.WorkerRepository
func (s *Store) Complete(ctx context.Context, lease queue.Lease, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bgjobs_jobs
		SET state = 'completed', finished_at = $1, result = $2, lease_token = NULL
		WHERE id = $3 AND state = 'processing' AND lease_token = $4 AND ($5 = '' OR queue = $5)`,
		s.now(), nullJSON(result), lease.JobID, lease.Token, lease.Queue,
	)
	if err != nil {
		return fmt.Errorf("pgstore: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrStaleLease
	}
	return nil
}

// Fail implements queue.WorkerRepository
func (s *Store) Fail(ctx context.Context, lease queue.Lease, message string, policy queue.RetryPolicy) (queue.State, error) {
	var state queue.State
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			failures     int
			processAfter time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT num_failures, process_after FROM bgjobs_jobs
			WHERE id = $1 AND state = 'processing' AND lease_token = $2 AND ($3 = '' OR queue = $3)
			FOR UPDATE`,
			lease.JobID, lease.Token, lease.Queue,
		).Scan(&failures, &processAfter)
		if pg.IsNotFoundError(err) {
			return queue.ErrStaleLease
		}
		if err != nil {
			return err
		}

		now := s.now()
		failures++
		message := queue.CleanMessage(message)
		var next time.Time
		state, next = policy.Next(failures, now)

		var finishedAt *time.Time
		if state == queue.StateErrored {
			finishedAt = &now
		} else {
			processAfter = next
		}

		_, err = tx.Exec(ctx, `
			UPDATE bgjobs_jobs
			SET state = $1, num_failures = $2, failure_message = $3, process_after = $4,
				finished_at = $5, lease_token = NULL
			WHERE id = $6`,
			string(state), failures, message, processAfter, finishedAt, lease.JobID,
		)
		return err
	})
	if errors.Is(err, queue.ErrStaleLease) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("pgstore: fail: %w", err)
	}
	return state, nil
}

// PromoteNext implements queue.SchedulerRepository
func (s *Store) PromoteNext(ctx context.Context, queueName string) (*queue.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE bgjobs_jobs
		SET state = 'queued', process_after = GREATEST(process_after, $1)
		WHERE id = (
			SELECT id FROM bgjobs_jobs
			WHERE queue = $2 AND state = 'scheduled'
			ORDER BY created_at, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		s.now(), queueName,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: promote: %w", err)
	}

	job, err := collectJob(rows)
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrNoJobToPromote
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: promote: %w", err)
	}
	return job, nil
}

// ReclaimExpired implements queue.JanitorRepository
func (s *Store) ReclaimExpired(ctx context.Context, queueName string, leaseTimeout time.Duration) ([]uuid.UUID, error) {
	now := s.now()
	rows, err := s.pool.Query(ctx, `
		WITH reclaimed AS (
			UPDATE bgjobs_jobs
			SET state = 'queued', num_resets = num_resets + 1, lease_token = NULL, process_after = $1
			WHERE queue = $2 AND state = 'processing'
				AND COALESCE(heartbeat_at, started_at, '-infinity'::timestamptz) < $3
			RETURNING id, created_at, seq
		)
		SELECT id FROM reclaimed ORDER BY created_at, seq`,
		now, queueName, now.Add(-leaseTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: reclaim expired: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("pgstore: reclaim expired: %w", err)
	}
	return ids, nil
}

// GetJob implements queue.Store
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM bgjobs_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("pgstore: get job: %w", err)
	}

	job, err := collectJob(rows)
	if pg.IsNotFoundError(err) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get job: %w", err)
	}
	return job, nil
}

// Stats counts jobs per state in the given queue
func (s *Store) Stats(ctx context.Context, queueName string) (map[queue.State]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT state, COUNT(*) FROM bgjobs_jobs WHERE queue = $1 GROUP BY state`,
		queueName,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[queue.State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("pgstore: stats: %w", err)
		}
		stats[queue.State(state)] = n
	}
	return stats, rows.Err()
}
