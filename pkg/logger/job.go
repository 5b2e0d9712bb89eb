package logger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// JobInfo identifies the job a handler is running.
type JobInfo struct {
	ID      uuid.UUID
	Queue   string
	Kind    string
	Attempt int
}

type jobKey struct{}

// WithJob returns a context carrying info. Loggers built with WithJobContext
// tag every record logged with that context.
func WithJob(ctx context.Context, info JobInfo) context.Context {
	return context.WithValue(ctx, jobKey{}, info)
}

// JobFromContext returns the job carried by ctx.
func JobFromContext(ctx context.Context) (JobInfo, bool) {
	info, ok := ctx.Value(jobKey{}).(JobInfo)
	return info, ok
}

// JobExtractors returns one extractor per job attribute so that each keeps the
// key used by JobID, Queue, Kind and Attempt.
func JobExtractors() []ContextExtractor {
	field := func(attr func(JobInfo) slog.Attr) ContextExtractor {
		return func(ctx context.Context) (slog.Attr, bool) {
			info, ok := JobFromContext(ctx)
			if !ok {
				return slog.Attr{}, false
			}
			return attr(info), true
		}
	}
	return []ContextExtractor{
		field(func(j JobInfo) slog.Attr { return JobID(j.ID) }),
		field(func(j JobInfo) slog.Attr { return Queue(j.Queue) }),
		field(func(j JobInfo) slog.Attr { return Kind(j.Kind) }),
		field(func(j JobInfo) slog.Attr { return Attempt(j.Attempt) }),
	}
}
