package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

type testPayload struct {
	Message string `json:"message"`
	Value   int    `json:"value"`
}

type otherPayload struct {
	ID string `json:"id"`
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "queue_test.testPayload", queue.KindOf[testPayload]())
	assert.Equal(t, "queue_test.testPayload", queue.KindOf[*testPayload]())
	assert.Equal(t, "string", queue.KindOf[string]())
}

func TestNewTaskHandler(t *testing.T) {
	t.Parallel()

	t.Run("decodes payload", func(t *testing.T) {
		t.Parallel()

		var got testPayload
		h := queue.NewTaskHandler(func(_ context.Context, p testPayload) error {
			got = p
			return nil
		})

		require.NoError(t, h.Handle(context.Background(), json.RawMessage(`{"message":"hi","value":7}`)))
		assert.Equal(t, testPayload{Message: "hi", Value: 7}, got)
	})

	t.Run("invalid payload is permanent", func(t *testing.T) {
		t.Parallel()

		h := queue.NewTaskHandler(func(context.Context, testPayload) error { return nil })
		err := h.Handle(context.Background(), json.RawMessage(`not json`))
		require.Error(t, err)
		assert.True(t, queue.IsPermanent(err))
	})

	t.Run("handler error is returned", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		h := queue.NewTaskHandler(func(context.Context, testPayload) error { return boom })
		err := h.Handle(context.Background(), json.RawMessage(`{}`))
		assert.ErrorIs(t, err, boom)
		assert.False(t, queue.IsPermanent(err))
	})
}

func TestPermanent(t *testing.T) {
	t.Parallel()

	base := errors.New("bad input")
	err := queue.Permanent(base)

	assert.True(t, queue.IsPermanent(err))
	assert.True(t, queue.IsPermanent(fmt.Errorf("wrapped: %w", err)))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "bad input", err.Error())
	assert.False(t, queue.IsPermanent(base))
	assert.NoError(t, queue.Permanent(nil))
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("register and lookup", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		require.NoError(t, queue.Register(r, func(context.Context, testPayload) error { return nil }))
		require.NoError(t, r.Register("custom", queue.HandlerFunc(func(context.Context, json.RawMessage) error { return nil })))

		_, ok := r.Lookup(queue.KindOf[testPayload]())
		assert.True(t, ok)
		_, ok = r.Lookup("custom")
		assert.True(t, ok)
		_, ok = r.Lookup(queue.KindOf[otherPayload]())
		assert.False(t, ok)

		assert.Equal(t, []string{"custom", "queue_test.testPayload"}, r.Kinds())
	})

	t.Run("rejects duplicates and empty kinds", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		h := queue.HandlerFunc(func(context.Context, json.RawMessage) error { return nil })

		require.NoError(t, r.Register("a", h))
		assert.ErrorIs(t, r.Register("a", h), queue.ErrHandlerAlreadyRegistered)
		assert.ErrorIs(t, r.Register("", h), queue.ErrKindEmpty)
		assert.Error(t, r.Register("b", nil))
	})

	t.Run("fallback", func(t *testing.T) {
		t.Parallel()

		r := queue.NewRegistry()
		called := false
		r.SetFallback(queue.HandlerFunc(func(context.Context, json.RawMessage) error {
			called = true
			return nil
		}))

		h, ok := r.Lookup("anything")
		require.True(t, ok)
		require.NoError(t, h.Handle(context.Background(), nil))
		assert.True(t, called)
	})
}
