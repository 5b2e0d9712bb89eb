package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
	"github.com/dmitrymomot/bgjobs/pkg/requestid"
)

var _ queue.WorkerRepository = (*Client)(nil)

// Client implements queue.WorkerRepository against a remote gateway.
// It is bound to a single queue.
type Client struct {
	baseURL     string
	queue       string
	accessToken string
	timeout     time.Duration
	httpClient  *http.Client
}

// StatusError is a gateway answer the client does not map to a queue error.
// It matches ErrUnexpectedStatus, and ErrUnauthorized or ErrUnknownQueue
// for 401 and 404, with errors.Is.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: %s: %d %s", e.Op, e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnexpectedStatus:
		return true
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrUnknownQueue:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client; WithClientTimeout is then ignored
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithClientAccessToken sends the token as a bearer credential
func WithClientAccessToken(token string) ClientOption {
	return func(cl *Client) {
		cl.accessToken = token
	}
}

// WithClientTimeout sets the per-request timeout of the default HTTP client
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(cl *Client) {
		if timeout > 0 {
			cl.timeout = timeout
		}
	}
}

// NewClient creates a client for the queue served by the gateway at baseURL.
func NewClient(baseURL, queueName string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}
	if queueName == "" {
		return nil, ErrEmptyQueueName
	}

	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		queue:   queueName,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// Claim implements queue.WorkerRepository
func (c *Client) Claim(ctx context.Context, queueName string) (*queue.Job, error) {
	if queueName != c.queue {
		return nil, fmt.Errorf("%w: %s, not %s", ErrQueueMismatch, c.queue, queueName)
	}

	var resp dequeueResponse
	status, err := c.post(ctx, "dequeue", nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, queue.ErrNoJobToClaim
	}
	if resp.Job == nil {
		return nil, fmt.Errorf("gateway: dequeue response without job")
	}

	token := resp.LeaseToken
	resp.Job.LeaseToken = &token
	return resp.Job, nil
}

// Heartbeat implements queue.WorkerRepository
func (c *Client) Heartbeat(ctx context.Context, lease queue.Lease) (bool, error) {
	if err := c.checkLease(lease); err != nil {
		return false, err
	}
	var resp heartbeatResponse
	if _, err := c.post(ctx, "heartbeat", toLeaseRequest(lease), &resp); err != nil {
		return false, err
	}
	return !resp.Stale, nil
}

// Complete implements queue.WorkerRepository
func (c *Client) Complete(ctx context.Context, lease queue.Lease, result json.RawMessage) error {
	if err := c.checkLease(lease); err != nil {
		return err
	}
	_, err := c.post(ctx, "complete", completeRequest{
		leaseRequest: toLeaseRequest(lease),
		Result:       result,
	}, nil)
	return err
}

// Fail implements queue.WorkerRepository.
// The gateway applies its own retry policy; only a policy without retries is
// forwarded, as a permanent failure.
func (c *Client) Fail(ctx context.Context, lease queue.Lease, message string, policy queue.RetryPolicy) (queue.State, error) {
	if err := c.checkLease(lease); err != nil {
		return "", err
	}
	var resp failResponse
	_, err := c.post(ctx, "fail", failRequest{
		leaseRequest: toLeaseRequest(lease),
		Message:      message,
		Permanent:    policy.MaxFailures <= 0,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.State, nil
}

func (c *Client) post(ctx context.Context, op string, body, out any) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("gateway: %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+url.PathEscape(c.queue)+"/"+op, reader)
	if err != nil {
		return 0, fmt.Errorf("gateway: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	requestid.Propagate(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gateway: %s: %w", op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusConflict:
		return resp.StatusCode, queue.ErrStaleLease
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return resp.StatusCode, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("gateway: %s: decode response: %w", op, err)
		}
		return resp.StatusCode, nil
	}

	var apiErr errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
	if apiErr.Error == "" {
		apiErr.Error = http.StatusText(resp.StatusCode)
	}
	return resp.StatusCode, &StatusError{Op: op, StatusCode: resp.StatusCode, Message: apiErr.Error}
}

func toLeaseRequest(lease queue.Lease) leaseRequest {
	return leaseRequest{JobID: lease.JobID, LeaseToken: lease.Token}
}

func (c *Client) checkLease(lease queue.Lease) error {
	if lease.Queue != "" && lease.Queue != c.queue {
		return fmt.Errorf("%w: %s, not %s", ErrQueueMismatch, c.queue, lease.Queue)
	}
	return nil
}
