// Package shell runs shell commands as queue jobs. The executor binary
// registers it for the "shell" kind.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrymomot/bgjobs/pkg/logger"
	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

// Kind is the job kind handled by Handler.
const Kind = "shell"

var (
	ErrEmptyCommand  = errors.New("shell: command cannot be empty")
	ErrCommandFailed = errors.New("shell: command failed")
)

// Payload describes the command to run.
type Payload struct {
	Command        string            `json:"command"`
	Dir            string            `json:"dir,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// Result is stored on the job after a successful run.
type Result struct {
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

var _ queue.ResultHandler = (*Handler)(nil)

// Handler executes Payload commands through a shell.
type Handler struct {
	shell          string
	outputLimit    int
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// Option configures the Handler.
type Option func(*Handler)

// WithShell sets the shell binary, /bin/sh by default
func WithShell(path string) Option {
	return func(h *Handler) {
		if path != "" {
			h.shell = path
		}
	}
}

// WithOutputLimit caps the bytes kept from each of stdout and stderr
func WithOutputLimit(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.outputLimit = n
		}
	}
}

// WithDefaultTimeout bounds commands whose payload has no timeout
func WithDefaultTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.defaultTimeout = d
		}
	}
}

// WithLogger sets the handler logger
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a shell handler
func New(opts ...Option) *Handler {
	h := &Handler{
		shell:          "/bin/sh",
		outputLimit:    64 << 10,
		defaultTimeout: 10 * time.Minute,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements queue.Handler
func (h *Handler) Handle(ctx context.Context, payload json.RawMessage) error {
	_, err := h.HandleResult(ctx, payload)
	return err
}

// HandleResult runs the command. A non-zero exit is a retryable failure; a
// payload that cannot be run is permanent.
func (h *Handler) HandleResult(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, queue.Permanent(fmt.Errorf("shell: decode payload: %w", err))
	}
	if strings.TrimSpace(p.Command) == "" {
		return nil, queue.Permanent(ErrEmptyCommand)
	}

	timeout := h.defaultTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &limitedBuffer{limit: h.outputLimit}
	stderr := &limitedBuffer{limit: h.outputLimit}

	cmd := exec.CommandContext(ctx, h.shell, "-c", p.Command)
	cmd.Dir = p.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second
	if len(p.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range p.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	start := time.Now()
	runErr := cmd.Run()
	h.logger.DebugContext(ctx, "shell command finished",
		slog.String("command", p.Command),
		logger.Duration(time.Since(start)),
		logger.Error(runErr))

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCommandFailed, ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, queue.Permanent(fmt.Errorf("%w: %w", ErrCommandFailed, runErr))
		}
		msg := fmt.Sprintf("%s: exit code %d", ErrCommandFailed, exitErr.ExitCode())
		if tail := stderr.tail(512); tail != "" {
			msg += ": " + tail
		}
		return nil, errors.New(msg)
	}

	result, err := json.Marshal(Result{
		ExitCode:  0,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	})
	if err != nil {
		return nil, fmt.Errorf("shell: encode result: %w", err)
	}
	return result, nil
}

// limitedBuffer keeps the first limit bytes written and drops the rest
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

// tail returns at most the last n bytes as valid UTF-8, starting on a rune boundary
func (b *limitedBuffer) tail(n int) string {
	s := strings.TrimSpace(b.buf.String())
	if len(s) > n {
		start := len(s) - n
		for start < len(s) && !utf8.RuneStart(s[start]) {
			start++
		}
		s = s[start:]
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
