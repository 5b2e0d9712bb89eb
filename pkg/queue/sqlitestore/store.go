// Package sqlitestore implements queue.Store on a SQLite file.
//
// Every write runs in an immediate transaction, so SQLite takes its write lock
// up front and concurrent claimants queue behind the busy timeout instead of
// failing. Times are stored as Unix nanoseconds.
package sqlitestore

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ queue.Store = (*Store)(nil)

// Store is a SQLite queue store. The caller owns the database handle.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
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

// Open connects to the database file at path with the settings the store relies on
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path+"?_busy_timeout=5000&_txlock=immediate&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	return db, nil
}

// New creates a store on top of an open database
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates or upgrades the jobs table
func Migrate(ctx context.Context, db *sqlx.DB, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlitestore: migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB, migrations)
	if err != nil {
		return fmt.Errorf("sqlitestore: migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	for _, r := range results {
		log.InfoContext(ctx, "migration applied",
			slog.Int64("version", r.Source.Version),
			slog.String("file", r.Source.Path),
		)
	}
	return nil
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

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO bgjobs_jobs (id, queue, kind, payload, state, process_after, created_at)
		VALUES (:id, :queue, :kind, :payload, :state, :process_after, :created_at)`,
		fromJob(j),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", queue.ErrJobAlreadyExists, j.ID)
		}
		return fmt.Errorf("sqlitestore: create job: %w", err)
	}

	*job = *j
	return nil
}

// Claim implements queue.WorkerRepository
func (s *Store) Claim(ctx context.Context, queueName string) (*queue.Job, error) {
	var row jobRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now().UnixNano()
		return tx.GetContext(ctx, &row, `
			UPDATE bgjobs_jobs
			SET state = 'processing', started_at = ?, heartbeat_at = ?, lease_token = ?
			WHERE id = (
				SELECT id FROM bgjobs_jobs
				WHERE queue = ? AND state = 'queued' AND process_after <= ?
				ORDER BY process_after, created_at, rowid
				LIMIT 1
			)
			RETURNING `+jobColumns,
			now, now, uuid.NewString(), queueName, now,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNoJobToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: claim: %w", err)
	}
	return row.toJob()
}

// Heartbeat implements queue.WorkerRepository
func (s *Store) Heartbeat(ctx context.Context, lease queue.Lease) (bool, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bgjobs_jobs SET heartbeat_at = ?
			WHERE id = ? AND state = 'processing' AND lease_token = ? AND (? = '' OR queue = ?)`,
			s.now().UnixNano(), lease.JobID.String(), lease.Token.String(), lease.Queue, lease.Queue,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("sqlitestore: heartbeat: %w", err)
	}
	return n == 1, nil
}

// Complete implements queue.WorkerRepository
func (s *Store) Complete(ctx context.Context, lease queue.Lease, result json.RawMessage) error {
	var n int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bgjobs_jobs
			SET state = 'completed', finished_at = ?, result = ?, lease_token = NULL
			WHERE id = ? AND state = 'processing' AND lease_token = ? AND (? = '' OR queue = ?)`,
			s.now().UnixNano(), nullBytes(result), lease.JobID.String(), lease.Token.String(), lease.Queue, lease.Queue,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("sqlitestore: complete: %w", err)
	}
	if n == 0 {
		return queue.ErrStaleLease
	}
	return nil
}

// Fail implements queue.WorkerRepository
func (s *Store) Fail(ctx context.Context, lease queue.Lease, message string, policy queue.RetryPolicy) (queue.State, error) {
	var state queue.State
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var current struct {
			NumFailures  int   `db:"num_failures"`
			ProcessAfter int64 `db:"process_after"`
		}
		err := tx.GetContext(ctx, &current, `
			SELECT num_failures, process_after FROM bgjobs_jobs
			WHERE id = ? AND state = 'processing' AND lease_token = ? AND (? = '' OR queue = ?)`,
			lease.JobID.String(), lease.Token.String(), lease.Queue, lease.Queue,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return queue.ErrStaleLease
		}
		if err != nil {
			return err
		}

		now := s.now()
		failures := current.NumFailures + 1
		message := queue.CleanMessage(message)
		var next time.Time
		state, next = policy.Next(failures, now)

		processAfter := current.ProcessAfter
		var finishedAt sql.NullInt64
		if state == queue.StateErrored {
			finishedAt = sql.NullInt64{Int64: now.UnixNano(), Valid: true}
		} else {
			processAfter = next.UnixNano()
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE bgjobs_jobs
			SET state = ?, num_failures = ?, failure_message = ?, process_after = ?,
				finished_at = ?, lease_token = NULL
			WHERE id = ?`,
			string(state), failures, message, processAfter, finishedAt, lease.JobID.String(),
		)
		return err
	})
	if errors.Is(err, queue.ErrStaleLease) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("sqlitestore: fail: %w", err)
	}
	return state, nil
}

// PromoteNext implements queue.SchedulerRepository
func (s *Store) PromoteNext(ctx context.Context, queueName string) (*queue.Job, error) {
	var row jobRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, `
			UPDATE bgjobs_jobs
			SET state = 'queued', process_after = MAX(process_after, ?)
			WHERE id = (
				SELECT id FROM bgjobs_jobs
				WHERE queue = ? AND state = 'scheduled'
				ORDER BY created_at, rowid
				LIMIT 1
			)
			RETURNING `+jobColumns,
			s.now().UnixNano(), queueName,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNoJobToPromote
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: promote: %w", err)
	}
	return row.toJob()
}

// ReclaimExpired implements queue.JanitorRepository
func (s *Store) ReclaimExpired(ctx context.Context, queueName string, leaseTimeout time.Duration) ([]uuid.UUID, error) {
	var reclaimed []reclaimedRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := s.now()
		return tx.SelectContext(ctx, &reclaimed, `
			UPDATE bgjobs_jobs
			SET state = 'queued', num_resets = num_resets + 1, lease_token = NULL, process_after = ?
			WHERE queue = ? AND state = 'processing'
				AND COALESCE(heartbeat_at, started_at, 0) < ?
			RETURNING id, created_at, rowid AS seq`,
			now.UnixNano(), queueName, now.Add(-leaseTimeout).UnixNano(),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: reclaim expired: %w", err)
	}

	// RETURNING order is unspecified in SQLite
	slices.SortFunc(reclaimed, func(a, b reclaimedRow) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	ids := make([]uuid.UUID, 0, len(reclaimed))
	for _, r := range reclaimed {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: reclaim expired: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetJob implements queue.Store
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM bgjobs_jobs WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get job: %w", err)
	}
	return row.toJob()
}

// Stats counts jobs per state in the given queue
func (s *Store) Stats(ctx context.Context, queueName string) (map[queue.State]int, error) {
	var counts []struct {
		State string `db:"state"`
		N     int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &counts, `
		SELECT state, COUNT(*) AS n FROM bgjobs_jobs WHERE queue = ? GROUP BY state`,
		queueName,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: stats: %w", err)
	}

	stats := make(map[queue.State]int, len(counts))
	for _, c := range counts {
		stats[queue.State(c.State)] = c.N
	}
	return stats, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isDuplicateKey(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
