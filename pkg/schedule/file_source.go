package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/bgjobs/pkg/routine"
)

// FileSource reads a YAML rollout configuration from disk and reloads it
// whenever the file modification time changes.
//
// Example file:
//
//	windows:
//	  - rate: 10/hour
//	    days: [saturday, sunday]
//	  - rate: 2/minute
//	    start: "08:00"
//	    end: "18:00"
type FileSource struct {
	*configHolder

	path   string
	logger *slog.Logger
	poller *routine.Periodic

	mu      sync.Mutex
	modTime time.Time
}

// FileSourceOption configures a FileSource.
type FileSourceOption func(*fileSourceOptions)

type fileSourceOptions struct {
	pollInterval time.Duration
	logger       *slog.Logger
}

// WithPollInterval sets how often the file is checked for changes.
func WithPollInterval(d time.Duration) FileSourceOption {
	return func(o *fileSourceOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger sets the logger used to report reload failures.
func WithLogger(logger *slog.Logger) FileSourceOption {
	return func(o *fileSourceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewFileSource loads the configuration at path. A missing or invalid file is a
// construction error. Call Start to watch the file for changes.
func NewFileSource(path string, opts ...FileSourceOption) (*FileSource, error) {
	options := &fileSourceOptions{
		pollInterval: 10 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	fs := &FileSource{
		configHolder: newConfigHolder(),
		path:         path,
		logger:       options.logger,
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat schedule file: %w", err)
	}
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	fs.cfg = cfg
	fs.modTime = info.ModTime()

	fs.poller = routine.NewPeriodic("schedule-file", options.pollInterval, fs.reloadIfChanged,
		routine.WithLogger(options.logger))

	return fs, nil
}

// Start polls the file until Stop is called.
func (fs *FileSource) Start() {
	fs.poller.Start()
}

func (fs *FileSource) Stop() {
	fs.poller.Stop()
}

// Reload reads the file unconditionally. A broken file replaces the served
// configuration with its error so schedulers stop promoting until it is fixed.
func (fs *FileSource) Reload() error {
	cfg, err := loadFile(fs.path)
	fs.set(cfg, err)
	return err
}

func (fs *FileSource) reloadIfChanged(context.Context) error {
	info, err := os.Stat(fs.path)
	if err != nil {
		return fmt.Errorf("stat schedule file: %w", err)
	}

	fs.mu.Lock()
	changed := !info.ModTime().Equal(fs.modTime)
	fs.modTime = info.ModTime()
	fs.mu.Unlock()

	if !changed {
		return nil
	}

	if err := fs.Reload(); err != nil {
		return err
	}
	fs.logger.Info("schedule configuration reloaded", slog.String("path", fs.path))
	return nil
}

func loadFile(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	return decodeConfiguration(data)
}

func decodeConfiguration(data []byte) (*Configuration, error) {
	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Problems: []string{"decode: " + err.Error()}}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
