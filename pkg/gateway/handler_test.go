package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/bgjobs/pkg/gateway"
	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/requestid"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Claim(ctx context.Context, queueName string) (*queue.Job, error) {
	args := m.Called(ctx, queueName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *mockRepository) Heartbeat(ctx context.Context, lease queue.Lease) (bool, error) {
	args := m.Called(ctx, lease)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) Complete(ctx context.Context, lease queue.Lease, result json.RawMessage) error {
	args := m.Called(ctx, lease, result)
	return args.Error(0)
}

func (m *mockRepository) Fail(ctx context.Context, lease queue.Lease, message string, policy queue.RetryPolicy) (queue.State, error) {
	args := m.Called(ctx, lease, message, policy)
	return args.Get(0).(queue.State), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var retryTwice = queue.RetryPolicy{MaxFailures: 2, Backoff: queue.ConstantBackoff(time.Minute)}

func newHandler(t *testing.T, repo queue.WorkerRepository, opts ...gateway.Option) http.Handler {
	t.Helper()
	opts = append([]gateway.Option{
		gateway.WithQueue("emails", retryTwice),
		gateway.WithLogger(discardLogger()),
	}, opts...)
	h, err := gateway.NewHandler(repo, opts...)
	require.NoError(t, err)
	return h
}

func do(t *testing.T, h http.Handler, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func claimedJob(t *testing.T, storage *queue.MemoryStorage, queueName string) *queue.Job {
	t.Helper()
	enqueuer, err := queue.NewEnqueuer(storage, queue.WithDefaultQueue(queueName))
	require.NoError(t, err)
	_, err = enqueuer.EnqueueRaw(context.Background(), "send", json.RawMessage(`{"to":"a@example.com"}`))
	require.NoError(t, err)
	job, err := storage.Claim(context.Background(), queueName)
	require.NoError(t, err)
	return job
}

func leaseBody(t *testing.T, job *queue.Job, extra map[string]any) string {
	t.Helper()
	body := map[string]any{
		"job_id":      job.ID,
		"lease_token": job.LeaseToken,
	}
	for k, v := range extra {
		body[k] = v
	}
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	return string(buf)
}

func TestNewHandler_NilRepository(t *testing.T) {
	t.Parallel()
	_, err := gateway.NewHandler(nil)
	assert.ErrorIs(t, err, gateway.ErrNilRepository)
}

func TestHandler_Dequeue(t *testing.T) {
	t.Parallel()

	t.Run("empty queue", func(t *testing.T) {
		t.Parallel()
		h := newHandler(t, queue.NewMemoryStorage())
		rec := do(t, h, "/emails/dequeue", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("claims the oldest job", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		enqueuer, err := queue.NewEnqueuer(storage, queue.WithDefaultQueue("emails"))
		require.NoError(t, err)
		first, err := enqueuer.EnqueueRaw(context.Background(), "send", json.RawMessage(`{"n":1}`))
		require.NoError(t, err)
		_, err = enqueuer.EnqueueRaw(context.Background(), "send", json.RawMessage(`{"n":2}`))
		require.NoError(t, err)

		rec := do(t, newHandler(t, storage), "/emails/dequeue", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Job        queue.Job `json:"job"`
			LeaseToken uuid.UUID `json:"lease_token"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, first.ID, body.Job.ID)
		assert.Equal(t, queue.StateProcessing, body.Job.State)
		assert.JSONEq(t, `{"n":1}`, string(body.Job.Payload))
		assert.NotEqual(t, uuid.Nil, body.LeaseToken)

		stored, err := storage.GetJob(context.Background(), first.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LeaseToken)
		assert.Equal(t, *stored.LeaseToken, body.LeaseToken)
	})

	t.Run("unknown queue", func(t *testing.T) {
		t.Parallel()
		rec := do(t, newHandler(t, queue.NewMemoryStorage()), "/reports/dequeue", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, errorMessage(t, rec), "unknown queue")
	})

	t.Run("store error", func(t *testing.T) {
		t.Parallel()
		repo := &mockRepository{}
		repo.On("Claim", mock.Anything, "emails").Return(nil, errors.New("connection refused"))

		rec := do(t, newHandler(t, repo), "/emails/dequeue", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, gateway.ErrStoreUnavailable.Error(), errorMessage(t, rec))
		assert.NotContains(t, rec.Body.String(), "connection refused")
		repo.AssertExpectations(t)
	})

	t.Run("store call carries a deadline", func(t *testing.T) {
		t.Parallel()
		repo := &mockRepository{}
		repo.On("Claim", mock.MatchedBy(func(ctx context.Context) bool {
			deadline, ok := ctx.Deadline()
			return ok && time.Until(deadline) <= 2*time.Second
		}), "emails").Return(nil, queue.ErrNoJobToClaim)

		rec := do(t, newHandler(t, repo, gateway.WithStoreTimeout(2*time.Second)), "/emails/dequeue", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		repo.AssertExpectations(t)
	})

	t.Run("wrong method", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/emails/dequeue", nil)
		rec := httptest.NewRecorder()
		newHandler(t, queue.NewMemoryStorage()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandler_Heartbeat(t *testing.T) {
	t.Parallel()
	storage := queue.NewMemoryStorage()
	job := claimedJob(t, storage, "emails")
	h := newHandler(t, storage)

	rec := do(t, h, "/emails/heartbeat", leaseBody(t, job, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stale":false}`, rec.Body.String())

	stale := *job
	other := uuid.New()
	stale.LeaseToken = &other
	rec = do(t, h, "/emails/heartbeat", leaseBody(t, &stale, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stale":true}`, rec.Body.String())
}

func TestHandler_Complete(t *testing.T) {
	t.Parallel()
	storage := queue.NewMemoryStorage()
	job := claimedJob(t, storage, "emails")
	h := newHandler(t, storage)

	rec := do(t, h, "/emails/complete", leaseBody(t, job, map[string]any{"result": map[string]int{"sent": 1}}))
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateCompleted, stored.State)
	assert.JSONEq(t, `{"sent":1}`, string(stored.Result))

	rec = do(t, h, "/emails/complete", leaseBody(t, job, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "stale")
}

func TestHandler_Fail(t *testing.T) {
	t.Parallel()

	t.Run("applies the queue retry policy", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		job := claimedJob(t, storage, "emails")

		rec := do(t, newHandler(t, storage), "/emails/fail", leaseBody(t, job, map[string]any{"message": "smtp timeout"}))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"state":"queued"}`, rec.Body.String())

		stored, err := storage.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stored.NumFailures)
		require.NotNil(t, stored.FailureMessage)
		assert.Equal(t, "smtp timeout", *stored.FailureMessage)
		assert.True(t, stored.ProcessAfter.After(time.Now().Add(50*time.Second)))
	})

	t.Run("permanent failure dead-letters", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		job := claimedJob(t, storage, "emails")

		rec := do(t, newHandler(t, storage), "/emails/fail", leaseBody(t, job, map[string]any{
			"message":   "invalid address",
			"permanent": true,
		}))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"state":"errored"}`, rec.Body.String())
	})

	t.Run("stale lease", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		job := claimedJob(t, storage, "emails")
		other := uuid.New()
		job.LeaseToken = &other

		rec := do(t, newHandler(t, storage), "/emails/fail", leaseBody(t, job, map[string]any{"message": "x"}))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandler_LeaseBelongsToQueue(t *testing.T) {
	t.Parallel()
	storage := queue.NewMemoryStorage()
	job := claimedJob(t, storage, "emails")
	h := newHandler(t, storage, gateway.WithQueue("reports", queue.NoRetry))

	rec := do(t, h, "/reports/fail", leaseBody(t, job, map[string]any{"message": "x"}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, "/reports/heartbeat", leaseBody(t, job, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stale":true}`, rec.Body.String())

	rec = do(t, h, "/reports/complete", leaseBody(t, job, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	stored, err := storage.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateProcessing, stored.State)
	assert.Zero(t, stored.NumFailures)

	rec = do(t, h, "/emails/complete", leaseBody(t, job, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_BadRequests(t *testing.T) {
	t.Parallel()
	h := newHandler(t, queue.NewMemoryStorage(), gateway.WithMaxBodySize(256))
	id := uuid.NewString()

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"job_id":`, http.StatusBadRequest},
		{"empty body", "", http.StatusBadRequest},
		{"unknown field", `{"job_id":"` + id + `","lease_token":"` + id + `","extra":1}`, http.StatusBadRequest},
		{"missing lease token", `{"job_id":"` + id + `"}`, http.StatusBadRequest},
		{"invalid uuid", `{"job_id":"nope","lease_token":"` + id + `"}`, http.StatusBadRequest},
		{"too large", `{"job_id":"` + id + `","lease_token":"` + id + `","result":"` + strings.Repeat("a", 512) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h, "/emails/complete", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, errorMessage(t, rec))
		})
	}

	t.Run("wrong content type", func(t *testing.T) {
		t.Parallel()
		rec := do(t, h, "/emails/heartbeat", `{}`, "Content-Type", "text/plain")
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})
}

func TestHandler_AccessToken(t *testing.T) {
	t.Parallel()
	h := newHandler(t, queue.NewMemoryStorage(), gateway.WithAccessToken("s3cret"))

	rec := do(t, h, "/emails/dequeue", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, "/emails/dequeue", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, "/emails/dequeue", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_RequestID(t *testing.T) {
	t.Parallel()
	h := newHandler(t, queue.NewMemoryStorage())

	rec := do(t, h, "/emails/dequeue", "", requestid.Header, "exec-1")
	assert.Equal(t, "exec-1", rec.Header().Get(requestid.Header))

	rec = do(t, h, "/emails/dequeue", "")
	assert.True(t, requestid.Valid(rec.Header().Get(requestid.Header)))
}
