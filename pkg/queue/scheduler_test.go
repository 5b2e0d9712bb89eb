package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/schedule"
)

// MockSchedulerRepository is a mock implementation of SchedulerRepository
type MockSchedulerRepository struct {
	mock.Mock

	mu    sync.Mutex
	calls []time.Time
}

func (m *MockSchedulerRepository) PromoteNext(ctx context.Context, q string) (*queue.Job, error) {
	m.mu.Lock()
	m.calls = append(m.calls, time.Now())
	m.mu.Unlock()

	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *MockSchedulerRepository) callTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.calls...)
}

func fixedSource(t *testing.T, windows ...schedule.Window) *schedule.FixedSource {
	t.Helper()

	s, err := schedule.New(windows...)
	require.NoError(t, err)
	return schedule.NewFixedSource(s)
}

func unlimitedSource(t *testing.T) *schedule.FixedSource {
	t.Helper()

	now := time.Now()
	return fixedSource(t, schedule.Window{Start: now.Add(-time.Second), End: now.Add(time.Hour), Rate: schedule.UnlimitedRate})
}

func startScheduler(t *testing.T, repo queue.SchedulerRepository, source schedule.Source, opts ...queue.SchedulerOption) *queue.Scheduler {
	t.Helper()

	opts = append([]queue.SchedulerOption{queue.WithSchedulerLogger(quietLogger())}, opts...)
	s, err := queue.NewScheduler(repo, source, opts...)
	require.NoError(t, err)

	go s.Start()
	t.Cleanup(s.Stop)
	return s
}

func scheduleJobs(t *testing.T, storage *queue.MemoryStorage, n int) []*queue.Job {
	t.Helper()

	jobs := make([]*queue.Job, n)
	for i := range jobs {
		jobs[i] = enqueue(t, storage, testPayload{Value: i}, queue.Scheduled())
	}
	return jobs
}

func TestScheduler_NewScheduler(t *testing.T) {
	t.Parallel()

	_, err := queue.NewScheduler(nil, schedule.NewFixedSource(nil))
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)

	_, err = queue.NewScheduler(queue.NewMemoryStorage(), nil)
	assert.ErrorIs(t, err, queue.ErrSourceNil)
}

func TestScheduler_PromotesInCreationOrder(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	observer := newRecordingObserver()
	jobs := scheduleJobs(t, storage, 3)

	startScheduler(t, storage, unlimitedSource(t), queue.WithSchedulerObserver(observer))

	require.Eventually(t, func() bool { return len(observer.promotions()) == 3 }, 2*time.Second, 5*time.Millisecond)

	promoted := observer.promotions()
	for i, job := range jobs {
		assert.Equal(t, job.ID, promoted[i].id, "promotion %d out of order", i)
		stored, err := storage.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StateQueued, stored.State)
	}
}

func TestScheduler_WindowRate(t *testing.T) {
	t.Parallel()

	// Two promotions per 100ms window: one promotion every 50ms.
	storage := queue.NewMemoryStorage()
	observer := newRecordingObserver()
	jobs := scheduleJobs(t, storage, 5)

	now := time.Now()
	source := fixedSource(t, schedule.Window{Start: now, End: now.Add(time.Hour), Rate: schedule.PerPeriod(2, 100*time.Millisecond)})

	start := time.Now()
	startScheduler(t, storage, source, queue.WithSchedulerObserver(observer))

	require.Eventually(t, func() bool { return len(observer.promotions()) == 5 }, 2*time.Second, 5*time.Millisecond)

	promoted := observer.promotions()
	const tolerance = 30 * time.Millisecond
	for i, p := range promoted {
		assert.Equal(t, jobs[i].ID, p.id)

		want := time.Duration(i) * 50 * time.Millisecond
		got := p.at.Sub(start)
		assert.InDelta(t, want, got, float64(tolerance), "promotion %d at %s, want ~%s", i, got, want)
	}
}

func TestScheduler_ReselectionKeepsRate(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	observer := newRecordingObserver()
	scheduleJobs(t, storage, 4)

	now := time.Now()
	s, err := schedule.New(schedule.Window{Start: now.Add(-time.Second), End: now.Add(2 * time.Hour), Rate: schedule.PerPeriod(1, time.Hour)})
	require.NoError(t, err)
	source := schedule.NewFixedSource(s)

	startScheduler(t, storage, source, queue.WithSchedulerObserver(observer))
	require.Eventually(t, func() bool { return len(observer.promotions()) == 1 }, time.Second, 5*time.Millisecond)

	// Republishing the same schedule must not grant another promotion.
	for range 3 {
		source.Set(s)
		time.Sleep(60 * time.Millisecond)
	}
	assert.Len(t, observer.promotions(), 1)
}

func TestScheduler_WindowExpiryKeepsRate(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	observer := newRecordingObserver()
	scheduleJobs(t, storage, 3)

	now := time.Now()
	source := fixedSource(t,
		schedule.Window{Start: now.Add(-time.Second), End: now.Add(60 * time.Millisecond), Rate: schedule.PerPeriod(1, time.Hour)},
		schedule.Window{Start: now.Add(60 * time.Millisecond), End: now.Add(time.Hour), Rate: schedule.PerPeriod(1, time.Hour)},
	)
	startScheduler(t, storage, source, queue.WithSchedulerObserver(observer))

	require.Eventually(t, func() bool { return len(observer.promotions()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, observer.promotions(), 1, "the next window continues the same rate")
}

func TestScheduler_EmptyBackoff(t *testing.T) {
	t.Parallel()

	repo := new(MockSchedulerRepository)
	repo.On("PromoteNext", mock.Anything, queue.DefaultQueueName).Return(nil, queue.ErrNoJobToPromote).Times(5)
	repo.On("PromoteNext", mock.Anything, queue.DefaultQueueName).Return(&queue.Job{ID: uuid.New(), CreatedAt: time.Now()}, nil).Once()
	repo.On("PromoteNext", mock.Anything, queue.DefaultQueueName).Return(nil, queue.ErrNoJobToPromote)

	startScheduler(t, repo, unlimitedSource(t), queue.WithEmptyBackoff(20*time.Millisecond, 80*time.Millisecond))

	require.Eventually(t, func() bool { return len(repo.callTimes()) >= 8 }, 3*time.Second, 5*time.Millisecond)
	calls := repo.callTimes()

	gaps := make([]time.Duration, 0, len(calls)-1)
	for i := 1; i < len(calls); i++ {
		gaps = append(gaps, calls[i].Sub(calls[i-1]))
	}

	// Calls 1-5 are empty: waits of 20, 40, 80, 80ms follow calls 1-4.
	// Call 5 is empty too (wait 80), call 6 succeeds, call 7 follows immediately,
	// and the backoff restarts at 20ms after call 7.
	want := []time.Duration{20, 40, 80, 80, 80, 0, 20}
	for i, w := range want {
		w *= time.Millisecond
		assert.GreaterOrEqual(t, gaps[i], w-2*time.Millisecond, "gap %d", i)
		assert.Less(t, gaps[i], w+40*time.Millisecond, "gap %d", i)
	}
}

func TestScheduler_StoreErrorsDoNotStopLoop(t *testing.T) {
	t.Parallel()

	repo := new(MockSchedulerRepository)
	repo.On("PromoteNext", mock.Anything, queue.DefaultQueueName).Return(nil, errors.New("db down"))

	startScheduler(t, repo, unlimitedSource(t), queue.WithEmptyBackoff(5*time.Millisecond, 10*time.Millisecond))

	require.Eventually(t, func() bool { return len(repo.callTimes()) >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_PausedWindow(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	observer := newRecordingObserver()
	scheduleJobs(t, storage, 1)

	now := time.Now()
	source := fixedSource(t, schedule.Window{Start: now, End: now.Add(time.Hour), Rate: schedule.PerPeriod(0, time.Minute)})
	startScheduler(t, storage, source, queue.WithSchedulerObserver(observer))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, observer.promotions(), "paused window must not promote")

	s, err := schedule.Fixed(time.Now(), time.Hour, schedule.UnlimitedRate)
	require.NoError(t, err)
	source.Set(s)

	require.Eventually(t, func() bool { return len(observer.promotions()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_WindowExpiry(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	observer := newRecordingObserver()
	scheduleJobs(t, storage, 1)

	now := time.Now()
	source := fixedSource(t,
		schedule.Window{Start: now, End: now.Add(80 * time.Millisecond), Rate: schedule.PerPeriod(0, time.Second)},
		schedule.Window{Start: now.Add(80 * time.Millisecond), End: now.Add(time.Hour), Rate: schedule.UnlimitedRate},
	)
	startScheduler(t, storage, source, queue.WithSchedulerObserver(observer))

	require.Eventually(t, func() bool { return len(observer.promotions()) == 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, observer.promotions()[0].at.Sub(now), 80*time.Millisecond)
}

func TestScheduler_MissingSchedule(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	observer := newRecordingObserver()
	scheduleJobs(t, storage, 1)

	source := schedule.NewFixedSource(nil)
	startScheduler(t, storage, source, queue.WithSchedulerObserver(observer))

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, observer.promotions())

	s, err := schedule.Fixed(time.Now(), time.Hour, schedule.UnlimitedRate)
	require.NoError(t, err)
	source.Set(s)

	require.Eventually(t, func() bool { return len(observer.promotions()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopIsPrompt(t *testing.T) {
	t.Parallel()

	repo := new(MockSchedulerRepository)
	repo.On("PromoteNext", mock.Anything, queue.DefaultQueueName).Return(nil, queue.ErrNoJobToPromote)

	s, err := queue.NewScheduler(repo, unlimitedSource(t), queue.WithSchedulerLogger(quietLogger()))
	require.NoError(t, err)

	go s.Start()
	require.Eventually(t, func() bool { return len(repo.callTimes()) >= 1 }, time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop during its empty-queue backoff")
	}
}
