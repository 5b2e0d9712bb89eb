// Package queue provides a persisted job queue with atomic claim, heartbeat and retry
// semantics, a worker pool that drains it and a rate-limited scheduler that promotes
// deferred work.
//
// The package is organised around a handful of components:
//
//   - Enqueuer creates jobs, either queued (claimable) or scheduled (deferred)
//   - Worker claims queued jobs and dispatches them to handlers from a Registry
//   - Scheduler promotes scheduled jobs to queued at the rate of the active schedule window
//   - Janitor re-queues processing jobs whose lease expired without a heartbeat
//
// Components interact only through small repository interfaces (EnqueuerRepository,
// WorkerRepository, SchedulerRepository, JanitorRepository), composed by Store.
// MemoryStorage implements Store in process; the pgstore, sqlitestore and mongostore
// subpackages implement it on durable engines.
//
// # Job lifecycle
//
//	scheduled ──PromoteNext──▶ queued ──Claim──▶ processing ──Complete──▶ completed
//	                             ▲                   │
//	                             └──Fail (retry)─────┤
//	                             └──ReclaimExpired───┤
//	                                                 └──Fail (dead-letter)──▶ errored
//
// A processing job carries a lease token issued by Claim. Heartbeat, Complete and
// Fail succeed only with the matching lease; once the janitor reclaims a job its old
// lease is stale and the worker abandons it.
//
// # Usage
//
//	type SendEmail struct {
//	    UserID int64 `json:"user_id"`
//	}
//
//	store := queue.NewMemoryStorage()
//
//	registry := queue.NewRegistry()
//	_ = queue.Register(registry, func(ctx context.Context, p SendEmail) error {
//	    return mailer.Send(ctx, p.UserID)
//	})
//
//	enqueuer, _ := queue.NewEnqueuer(store)
//	_, _ = enqueuer.Enqueue(ctx, SendEmail{UserID: 42}, queue.Scheduled())
//
//	worker, _ := queue.NewWorker(store, registry, queue.WithConcurrency(4))
//	scheduler, _ := queue.NewScheduler(store, source)
//	janitor, _ := queue.NewJanitor(store, queue.DefaultQueueName, time.Minute, 30*time.Second)
//
//	_ = routine.Run(ctx, worker, scheduler, janitor)
//
// # Error Handling
//
// Handler errors are recorded on the job and never stop the worker. Wrap an error
// with Permanent to dead-letter the job immediately; other errors are retried
// according to the RetryPolicy. Package-level sentinel errors (e.g. ErrNoJobToClaim,
// ErrStaleLease) can be checked with errors.Is.
package queue
