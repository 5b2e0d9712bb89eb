package logger

import (
	"context"
	"log/slog"
	"slices"
)

// ContextExtractor extracts a slog attribute from context.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// LogHandlerDecorator adds attributes taken from the record context.
// An extracted attribute is dropped when the logger or the record already
// carries its key, so a worker logging logger.JobID explicitly inside a job
// context writes job_id once.
type LogHandlerDecorator struct {
	next       slog.Handler
	extractors []ContextExtractor
	keys       []string // top-level keys added through WithAttrs
	grouped    bool
}

// NewLogHandlerDecorator wraps next. Nil extractors are skipped.
func NewLogHandlerDecorator(next slog.Handler, extractors ...ContextExtractor) *LogHandlerDecorator {
	clean := make([]ContextExtractor, 0, len(extractors))
	for _, ex := range extractors {
		if ex != nil {
			clean = append(clean, ex)
		}
	}
	return &LogHandlerDecorator{next: next, extractors: clean}
}

func (h *LogHandlerDecorator) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogHandlerDecorator) Handle(ctx context.Context, rec slog.Record) error {
	if len(h.extractors) == 0 || ctx == nil {
		return h.next.Handle(ctx, rec)
	}

	for _, ex := range h.extractors {
		attr, ok := ex(ctx)
		if !ok || attr.Key == "" || h.carries(rec, attr.Key) {
			continue
		}
		rec.AddAttrs(attr)
	}
	return h.next.Handle(ctx, rec)
}

func (h *LogHandlerDecorator) carries(rec slog.Record, key string) bool {
	if !h.grouped && slices.Contains(h.keys, key) {
		return true
	}
	found := false
	rec.Attrs(func(a slog.Attr) bool {
		found = a.Key == key
		return !found
	})
	return found
}

func (h *LogHandlerDecorator) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	keys := slices.Clone(h.keys)
	if !h.grouped {
		for _, a := range attrs {
			keys = append(keys, a.Key)
		}
	}
	return &LogHandlerDecorator{
		next:       h.next.WithAttrs(attrs),
		extractors: h.extractors,
		keys:       keys,
		grouped:    h.grouped,
	}
}

func (h *LogHandlerDecorator) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &LogHandlerDecorator{
		next:       h.next.WithGroup(name),
		extractors: h.extractors,
		keys:       h.keys,
		grouped:    true,
	}
}
