// Package metrics records queue lifecycle events as OpenTelemetry instruments.
//
// Instruments:
//   - bgjobs.jobs.claimed, bgjobs.jobs.completed, bgjobs.jobs.failed,
//     bgjobs.jobs.promoted (Int64Counter) with attributes queue and kind;
//     failed additionally carries state ("queued" or "errored")
//   - bgjobs.jobs.reclaimed (Int64Counter) with attribute queue
//   - bgjobs.job.duration (Float64Histogram, seconds) with attributes queue,
//     kind and status ("completed" or "failed")
//   - bgjobs.promotion.latency (Float64Histogram, seconds): time a promoted
//     job spent scheduled since it was created
package metrics

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

// MeterName is the instrumentation scope name for bgjobs metrics.
const MeterName = "github.com/dmitrymomot/bgjobs"

var _ queue.Observer = (*Observer)(nil)

// Observer implements queue.Observer on OTel instruments.
type Observer struct {
	claimed   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	promoted  metric.Int64Counter
	reclaimed metric.Int64Counter
	duration  metric.Float64Histogram
	latency   metric.Float64Histogram
}

// NewGlobalObserver creates an observer on the global MeterProvider.
// Without a configured provider every instrument is a noop.
func NewGlobalObserver() (*Observer, error) {
	return NewObserver(otel.Meter(MeterName))
}

// NewObserver creates the instruments on the given meter.
func NewObserver(meter metric.Meter) (*Observer, error) {
	var (
		o    Observer
		errs []error
		err  error
	)

	counter := func(name, desc string) metric.Int64Counter {
		c, cErr := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		errs = append(errs, cErr)
		return c
	}
	o.claimed = counter("bgjobs.jobs.claimed", "Jobs claimed by workers")
	o.completed = counter("bgjobs.jobs.completed", "Jobs completed successfully")
	o.failed = counter("bgjobs.jobs.failed", "Failed job attempts")
	o.promoted = counter("bgjobs.jobs.promoted", "Scheduled jobs promoted to the queue")
	o.reclaimed = counter("bgjobs.jobs.reclaimed", "Jobs re-queued after their lease expired")

	o.duration, err = meter.Float64Histogram("bgjobs.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	o.latency, err = meter.Float64Histogram("bgjobs.promotion.latency",
		metric.WithDescription("Time a job spent scheduled before promotion in seconds"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *Observer) JobClaimed(ctx context.Context, job *queue.Job) {
	o.claimed.Add(ctx, 1, metric.WithAttributes(jobAttrs(job)...))
}

func (o *Observer) JobCompleted(ctx context.Context, job *queue.Job, duration time.Duration) {
	attrs := jobAttrs(job)
	o.completed.Add(ctx, 1, metric.WithAttributes(attrs...))
	o.duration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(append(attrs, attribute.String("status", "completed"))...))
}

func (o *Observer) JobFailed(ctx context.Context, job *queue.Job, state queue.State, duration time.Duration) {
	attrs := jobAttrs(job)
	o.failed.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("state", string(state)))...))
	o.duration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(append(attrs, attribute.String("status", "failed"))...))
}

func (o *Observer) JobPromoted(ctx context.Context, job *queue.Job, latency time.Duration) {
	attrs := metric.WithAttributes(jobAttrs(job)...)
	o.promoted.Add(ctx, 1, attrs)
	o.latency.Record(ctx, max(latency, 0).Seconds(), attrs)
}

func (o *Observer) JobsReclaimed(ctx context.Context, queueName string, count int) {
	if count <= 0 {
		return
	}
	o.reclaimed.Add(ctx, int64(count), metric.WithAttributes(attribute.String("queue", queueName)))
}

func jobAttrs(job *queue.Job) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("queue", job.Queue),
		attribute.String("kind", job.Kind),
	}
}
