package queue_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/schedule"
)

type welcomeEmail struct {
	To string `json:"to"`
}

// Example demonstrates enqueueing a job and processing it with a worker
func Example() {
	ctx := context.Background()
	storage := queue.NewMemoryStorage()

	done := make(chan struct{})
	registry := queue.NewRegistry()
	_ = queue.Register(registry, func(ctx context.Context, email welcomeEmail) error {
		fmt.Println("sending welcome email to", email.To)
		close(done)
		return nil
	})

	enqueuer, _ := queue.NewEnqueuer(storage)
	job, _ := enqueuer.Enqueue(ctx, welcomeEmail{To: "user@example.com"})

	worker, _ := queue.NewWorker(storage, registry,
		queue.WithPollInterval(10*time.Millisecond),
		queue.WithWorkerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	go worker.Start()

	<-done
	worker.Stop()

	stored, _ := storage.GetJob(ctx, job.ID)
	fmt.Println(stored.State)

	// Output:
	// sending welcome email to user@example.com
	// completed
}

// Example_scheduler demonstrates throttled promotion of scheduled jobs
func Example_scheduler() {
	ctx := context.Background()
	storage := queue.NewMemoryStorage()

	enqueuer, _ := queue.NewEnqueuer(storage)
	for _, to := range []string{"a@example.com", "b@example.com"} {
		_, _ = enqueuer.Enqueue(ctx, welcomeEmail{To: to}, queue.Scheduled())
	}

	source, _ := schedule.NewStaticSource(schedule.Configuration{
		Windows: []schedule.RolloutWindow{{Rate: "unlimited"}},
	})
	scheduler, _ := queue.NewScheduler(storage, source,
		queue.WithSchedulerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	go scheduler.Start()

	for {
		stats, _ := storage.Stats(ctx, queue.DefaultQueueName)
		if stats[queue.StateQueued] == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	scheduler.Stop()

	fmt.Println("promoted jobs are ready for workers")

	// Output:
	// promoted jobs are ready for workers
}
