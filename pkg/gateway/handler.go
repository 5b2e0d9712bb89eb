package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/bgjobs/pkg/logger"
	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/requestid"
)

const defaultMaxBodySize = 1 << 20

type gatewayHandler struct {
	repo queue.WorkerRepository
	opts handlerOptions
}

// NewHandler returns the HTTP handler serving worker operations of the configured queues.
func NewHandler(repo queue.WorkerRepository, opts ...Option) (http.Handler, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}

	options := handlerOptions{
		queues:       make(map[string]queue.RetryPolicy),
		maxBodySize:  defaultMaxBodySize,
		storeTimeout: 10 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	options.logger = options.logger.With(logger.Component("gateway"))

	h := &gatewayHandler{repo: repo, opts: options}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(h.authenticate)

	r.Route("/{queue}", func(r chi.Router) {
		r.Use(h.knownQueue)
		r.Post("/dequeue", h.dequeue)
		r.Post("/heartbeat", h.heartbeat)
		r.Post("/complete", h.complete)
		r.Post("/fail", h.fail)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r, nil
}

func (h *gatewayHandler) authenticate(next http.Handler) http.Handler {
	if h.opts.accessToken == "" {
		return next
	}
	want := []byte("Bearer " + h.opts.accessToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *gatewayHandler) knownQueue(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "queue")
		if _, ok := h.opts.queues[name]; !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s", ErrUnknownQueue, name))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *gatewayHandler) dequeue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")
	ctx, cancel := h.storeContext(r)
	defer cancel()

	job, err := h.repo.Claim(ctx, name)
	if errors.Is(err, queue.ErrNoJobToClaim) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		h.storeError(w, r, "claim", err)
		return
	}

	lease, ok := job.Lease()
	if !ok {
		h.storeError(w, r, "claim", fmt.Errorf("claimed job %s has no lease", job.ID))
		return
	}
	writeJSON(w, http.StatusOK, dequeueResponse{Job: job, LeaseToken: lease.Token})
}

func (h *gatewayHandler) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()

	alive, err := h.repo.Heartbeat(ctx, req.lease(chi.URLParam(r, "queue")))
	if err != nil {
		h.storeError(w, r, "heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{Stale: !alive})
}

func (h *gatewayHandler) complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()

	if err := h.repo.Complete(ctx, req.lease(chi.URLParam(r, "queue")), req.Result); err != nil {
		h.storeError(w, r, "complete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *gatewayHandler) fail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if !h.decode(w, r, &req) {
		return
	}

	policy := h.opts.queues[chi.URLParam(r, "queue")]
	if req.Permanent {
		policy = queue.NoRetry
	}

	ctx, cancel := h.storeContext(r)
	defer cancel()

	state, err := h.repo.Fail(ctx, req.lease(chi.URLParam(r, "queue")), req.Message, policy)
	if err != nil {
		h.storeError(w, r, "fail", err)
		return
	}
	writeJSON(w, http.StatusOK, failResponse{State: state})
}

func (h *gatewayHandler) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.opts.storeTimeout)
}

func (h *gatewayHandler) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, queue.ErrStaleLease) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.opts.logger.ErrorContext(r.Context(), "store call failed",
		slog.String("op", op),
		logger.Queue(chi.URLParam(r, "queue")),
		logger.Error(err))
	writeError(w, http.StatusInternalServerError, ErrStoreUnavailable.Error())
}

// decode reads a JSON request body, answering 400/415 itself on failure
func (h *gatewayHandler) decode(w http.ResponseWriter, r *http.Request, v interface{ validate() error }) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err != nil || mediaType != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, ErrUnsupportedMedia.Error())
			return false
		}
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %s", ErrInvalidRequest, strings.TrimPrefix(err.Error(), "json: ")))
		return false
	}
	if err := v.validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %s", ErrInvalidRequest, err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
