package queue

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStorage)(nil)

// MemoryStorage implements Store in process memory.
// A single mutex serialises every transition, so Claim is trivially linearizable.
type MemoryStorage struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	seq  map[uuid.UUID]uint64 // insertion order, breaks created_at ties
	next uint64
	now  func() time.Time
}

// MemoryStorageOption configures a MemoryStorage
type MemoryStorageOption func(*MemoryStorage)

// WithClock overrides the storage clock
func WithClock(now func() time.Time) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if now != nil {
			ms.now = now
		}
	}
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	ms := &MemoryStorage{
		jobs: make(map[uuid.UUID]*Job),
		seq:  make(map[uuid.UUID]uint64),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

// CreateJob implements EnqueuerRepository
func (ms *MemoryStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return ErrJobNil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, err := PrepareNewJob(job, ms.now())
	if err != nil {
		return err
	}
	if _, exists := ms.jobs[j.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, j.ID)
	}

	ms.next++
	ms.jobs[j.ID] = j
	ms.seq[j.ID] = ms.next
	*job = *j.Clone()
	return nil
}

// Claim implements WorkerRepository
func (ms *MemoryStorage) Claim(ctx context.Context, queue string) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Job
	for _, j := range ms.jobs {
		if j.Queue != queue || j.State != StateQueued || j.ProcessAfter.After(now) {
			continue
		}
		if best == nil || ms.claimOrder(j, best) < 0 {
			best = j
		}
	}
	if best == nil {
		return nil, ErrNoJobToClaim
	}

	token := uuid.New()
	best.State = StateProcessing
	best.StartedAt = &now
	best.HeartbeatAt = &now
	best.LeaseToken = &token

	return best.Clone(), nil
}

// Heartbeat implements WorkerRepository
func (ms *MemoryStorage) Heartbeat(ctx context.Context, lease Lease) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j := ms.leased(lease)
	if j == nil {
		return false, nil
	}
	now := ms.now()
	j.HeartbeatAt = &now
	return true, nil
}

// Complete implements WorkerRepository
func (ms *MemoryStorage) Complete(ctx context.Context, lease Lease, result json.RawMessage) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j := ms.leased(lease)
	if j == nil {
		return ErrStaleLease
	}
	now := ms.now()
	j.State = StateCompleted
	j.FinishedAt = &now
	j.Result = slices.Clone(result)
	j.LeaseToken = nil
	return nil
}

// Fail implements WorkerRepository
func (ms *MemoryStorage) Fail(ctx context.Context, lease Lease, message string, policy RetryPolicy) (State, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j := ms.leased(lease)
	if j == nil {
		return "", ErrStaleLease
	}

	now := ms.now()
	j.NumFailures++
	message = CleanMessage(message)
	j.FailureMessage = &message
	j.LeaseToken = nil

	state, processAfter := policy.Next(j.NumFailures, now)
	j.State = state
	if state == StateErrored {
		j.FinishedAt = &now
	} else {
		j.ProcessAfter = processAfter
	}
	return state, nil
}

// PromoteNext implements SchedulerRepository
func (ms *MemoryStorage) PromoteNext(ctx context.Context, queue string) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var oldest *Job
	for _, j := range ms.jobs {
		if j.Queue != queue || j.State != StateScheduled {
			continue
		}
		if oldest == nil || ms.creationOrder(j, oldest) < 0 {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, ErrNoJobToPromote
	}

	now := ms.now()
	oldest.State = StateQueued
	if oldest.ProcessAfter.Before(now) {
		oldest.ProcessAfter = now
	}
	return oldest.Clone(), nil
}

// ReclaimExpired implements JanitorRepository
func (ms *MemoryStorage) ReclaimExpired(ctx context.Context, queue string, leaseTimeout time.Duration) ([]uuid.UUID, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	deadline := now.Add(-leaseTimeout)

	var reclaimed []*Job
	for _, j := range ms.jobs {
		if j.Queue != queue || j.State != StateProcessing {
			continue
		}
		last := j.HeartbeatAt
		if last == nil {
			last = j.StartedAt
		}
		if last != nil && !last.Before(deadline) {
			continue
		}
		j.State = StateQueued
		j.NumResets++
		j.LeaseToken = nil
		j.ProcessAfter = now
		reclaimed = append(reclaimed, j)
	}

	slices.SortFunc(reclaimed, ms.creationOrder)
	ids := make([]uuid.UUID, len(reclaimed))
	for i, j := range reclaimed {
		ids[i] = j.ID
	}
	return ids, nil
}

// GetJob implements Store
func (ms *MemoryStorage) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	j, ok := ms.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// Stats counts jobs per state in the given queue
func (ms *MemoryStorage) Stats(ctx context.Context, queue string) (map[State]int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	stats := make(map[State]int)
	for _, j := range ms.jobs {
		if j.Queue == queue {
			stats[j.State]++
		}
	}
	return stats, nil
}

// leased returns the job owned by lease, or nil when the lease is stale
func (ms *MemoryStorage) leased(lease Lease) *Job {
	j, ok := ms.jobs[lease.JobID]
	if !ok || j.State != StateProcessing || j.LeaseToken == nil || *j.LeaseToken != lease.Token {
		return nil
	}
	if lease.Queue != "" && lease.Queue != j.Queue {
		return nil
	}
	return j
}

// PrepareNewJob validates a job about to be stored and returns a copy with defaults
// filled in. Store implementations call it from CreateJob.
func PrepareNewJob(job *Job, now time.Time) (*Job, error) {
	j := job.Clone()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Queue == "" {
		j.Queue = DefaultQueueName
	}
	if j.State == "" {
		j.State = StateQueued
	}
	if j.State != StateQueued && j.State != StateScheduled {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidState, j.State)
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.ProcessAfter.IsZero() {
		j.ProcessAfter = j.CreatedAt
	}
	if j.State == StateQueued && j.ProcessAfter.Before(now) {
		j.ProcessAfter = now
	}
	j.StartedAt, j.FinishedAt, j.HeartbeatAt, j.LeaseToken = nil, nil, nil, nil
	j.NumResets, j.NumFailures, j.FailureMessage, j.Result = 0, 0, nil, nil
	return j, nil
}

// claimOrder sorts by process_after, then created_at, then insertion
func (ms *MemoryStorage) claimOrder(a, b *Job) int {
	if c := a.ProcessAfter.Compare(b.ProcessAfter); c != 0 {
		return c
	}
	return ms.creationOrder(a, b)
}

// creationOrder sorts by created_at, then insertion
func (ms *MemoryStorage) creationOrder(a, b *Job) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(ms.seq[a.ID], ms.seq[b.ID])
}
