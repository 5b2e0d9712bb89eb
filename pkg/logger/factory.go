package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment names understood by WithEnvironment.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Format represents logger output format.
type Format string

const (
	// FormatJSON writes one JSON object per record.
	FormatJSON Format = "json"
	// FormatText writes key=value lines.
	FormatText Format = "text"
)

// Option configures logger creation.
type Option func(*config)

type config struct {
	level      slog.Level
	format     Format
	output     io.Writer
	attrs      []slog.Attr
	extractors []ContextExtractor
}

// WithLevelName sets the level from its name (debug, info, warn, error).
// Unknown or empty names leave the level unchanged.
func WithLevelName(name string) Option {
	return func(c *config) {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.TrimSpace(name))); err == nil {
			c.level = l
		}
	}
}

// WithFormat sets the output format. It panics on anything but json or text,
// so a bad LOG_FORMAT stops the binary at startup.
func WithFormat(f Format) Option {
	return func(c *config) {
		switch f {
		case FormatJSON, FormatText:
			c.format = f
		default:
			panic(fmt.Errorf("invalid log format %q: must be %q or %q", f, FormatJSON, FormatText))
		}
	}
}

func WithTextFormatter() Option { return WithFormat(FormatText) }

func WithJSONFormatter() Option { return WithFormat(FormatJSON) }

// WithOutput sets the destination. Nil is ignored.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttr adds static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// WithContextExtractors registers callbacks that add attributes from the
// context of every record. Nil extractors are skipped.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(c *config) {
		for _, ex := range extractors {
			if ex != nil {
				c.extractors = append(c.extractors, ex)
			}
		}
	}
}

// WithJobContext adds the job_id, queue, kind and attempt of the job carried
// by the context (see WithJob) to every record logged while handling it.
func WithJobContext() Option {
	return WithContextExtractors(JobExtractors()...)
}

// WithDevelopment logs debug and above as text, tagged with the service name.
func WithDevelopment(service string) Option {
	return preset(EnvDevelopment, service, slog.LevelDebug, FormatText)
}

// WithProduction logs info and above as JSON, tagged with the service name.
func WithProduction(service string) Option {
	return preset(EnvProduction, service, slog.LevelInfo, FormatJSON)
}

// WithEnvironment picks the preset for env. Staging logs like production;
// anything unrecognised gets the development preset.
func WithEnvironment(env string, service string) Option {
	switch env {
	case EnvProduction, "prod":
		return WithProduction(service)
	case EnvStaging, "stage":
		return preset(EnvStaging, service, slog.LevelInfo, FormatJSON)
	default:
		return WithDevelopment(service)
	}
}

func preset(env, service string, level slog.Level, format Format) Option {
	return func(c *config) {
		if service == "" {
			return
		}
		c.level = level
		c.format = format
		c.attrs = append(c.attrs,
			slog.String("service", service),
			slog.String("env", env),
		)
	}
}

func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// New builds a logger: info and above, JSON, to stdout unless options say otherwise.
func New(opts ...Option) *slog.Logger {
	cfg := &config{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}

	var handler slog.Handler
	if cfg.format == FormatText {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	}

	return slog.New(NewLogHandlerDecorator(handler, cfg.extractors...).WithAttrs(cfg.attrs))
}
