package shell_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bgjobs/internal/shell"
	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

func TestMain(m *testing.M) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newHandler(opts ...shell.Option) *shell.Handler {
	opts = append([]shell.Option{shell.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return shell.New(opts...)
}

func payload(t *testing.T, p shell.Payload) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestHandler_Success(t *testing.T) {
	t.Parallel()
	h := newHandler()

	raw, err := h.HandleResult(context.Background(), payload(t, shell.Payload{
		Command: `echo "hello $NAME"; echo oops >&2`,
		Env:     map[string]string{"NAME": "bgjobs"},
	}))
	require.NoError(t, err)

	var res shell.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello bgjobs\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.False(t, res.Truncated)
}

func TestHandler_WorkingDirectory(t *testing.T) {
	t.Parallel()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	raw, err := newHandler().HandleResult(context.Background(), payload(t, shell.Payload{Command: "pwd -P", Dir: dir}))
	require.NoError(t, err)

	var res shell.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, dir, strings.TrimSpace(res.Stdout))
}

func TestHandler_NonZeroExitIsRetryable(t *testing.T) {
	t.Parallel()
	err := newHandler().Handle(context.Background(), payload(t, shell.Payload{Command: "echo disk full >&2; exit 3"}))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.Contains(t, err.Error(), "exit code 3")
	assert.Contains(t, err.Error(), "disk full")
}

func TestHandler_FailureMessageIsValidUTF8(t *testing.T) {
	t.Parallel()
	h := newHandler()

	_, err := h.HandleResult(context.Background(), payload(t, shell.Payload{
		Command: `i=0; while [ $i -lt 300 ]; do printf '€' >&2; i=$((i+1)); done; exit 3`,
	}))
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()), "message must be valid UTF-8")
	assert.Contains(t, err.Error(), "exit code 3")
	assert.True(t, strings.HasSuffix(err.Error(), "€"))
}

func TestHandler_PermanentFailures(t *testing.T) {
	t.Parallel()
	h := newHandler()

	err := h.Handle(context.Background(), json.RawMessage(`{"command":`))
	assert.True(t, queue.IsPermanent(err))

	err = h.Handle(context.Background(), payload(t, shell.Payload{Command: "   "}))
	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, shell.ErrEmptyCommand)

	err = newHandler(shell.WithShell("/nonexistent/shell")).Handle(context.Background(), payload(t, shell.Payload{Command: "true"}))
	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, shell.ErrCommandFailed)
}

func TestHandler_Timeout(t *testing.T) {
	t.Parallel()
	err := newHandler().Handle(context.Background(), payload(t, shell.Payload{Command: "sleep 5", TimeoutSeconds: 1}))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandler_OutputLimit(t *testing.T) {
	t.Parallel()
	raw, err := newHandler(shell.WithOutputLimit(4)).HandleResult(context.Background(), payload(t, shell.Payload{Command: "printf 0123456789"}))
	require.NoError(t, err)

	var res shell.Result
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, "0123", res.Stdout)
	assert.True(t, res.Truncated)
}
