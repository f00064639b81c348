// Package client is the pipeline UI-originated mutating calls pass through:
// credentials and CSRF token are attached before transport, network loss
// diverts the call into the offline queue, and 401s are handed to the auth
// retry coordinator.
package client

import (
	"context"
	"net/http"
	"time"

	"synckit/internal/faults"
	"synckit/internal/models"
	"synckit/internal/queue"
	"synckit/internal/transport"

	"github.com/rs/zerolog"
)

// TokenSource is the slice of the token manager the pipeline needs.
type TokenSource interface {
	AuthHeader() string
	ShouldRefresh(now time.Time) bool
}

// CSRFSource fetches anti-forgery tokens best-effort.
type CSRFSource interface {
	GetTokenOrNull(ctx context.Context) string
}

// AuthRecoverer owns 401 handling and the single-flight refresh gate.
type AuthRecoverer interface {
	IsAuthEndpoint(path string) bool
	HandleAuthFailure(ctx context.Context, req transport.Request) (*transport.Response, error)
	EnsureFresh()
}

// OnlineChecker reports current reachability.
type OnlineChecker interface {
	IsOnline() bool
}

// AuthExecutor decorates a transport executor with credential attachment and
// 401 recovery. It is what the sync orchestrator drains through, so queued
// items get the same auth treatment as live calls.
type AuthExecutor struct {
	executor    transport.Executor
	tokens      TokenSource
	csrf        CSRFSource
	coordinator AuthRecoverer
}

func NewAuthExecutor(executor transport.Executor, tokens TokenSource, csrf CSRFSource, coordinator AuthRecoverer) *AuthExecutor {
	return &AuthExecutor{
		executor:    executor,
		tokens:      tokens,
		csrf:        csrf,
		coordinator: coordinator,
	}
}

func (e *AuthExecutor) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	if e.tokens.ShouldRefresh(time.Now()) {
		e.coordinator.EnsureFresh()
	}

	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}
	if h := e.tokens.AuthHeader(); h != "" {
		req.Headers["Authorization"] = h
	}
	if isMutating(req.Method) && !e.coordinator.IsAuthEndpoint(req.Path) {
		if t := e.csrf.GetTokenOrNull(ctx); t != "" {
			req.Headers["X-CSRF-Token"] = t
		}
	}

	resp, err := e.executor.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && !e.coordinator.IsAuthEndpoint(req.Path) {
		return e.coordinator.HandleAuthFailure(ctx, req)
	}
	return resp, nil
}

// Result is the caller-visible outcome of a mutating call. A queued result
// means optimistic local completion: the backend will be reconciled by a
// later sync pass.
type Result struct {
	Response *transport.Response
	Queued   bool
	QueueID  int64
}

// Client is the entry point for UI-originated mutating calls.
type Client struct {
	auth   *AuthExecutor
	queue  *queue.Queue
	online OnlineChecker
	logger *zerolog.Logger
}

func New(auth *AuthExecutor, q *queue.Queue, online OnlineChecker, logger *zerolog.Logger) *Client {
	return &Client{auth: auth, queue: q, online: online, logger: logger}
}

// Do executes a mutating request, queueing it for later sync when offline or
// when the transport reports a network failure. Capacity and validation
// failures are the only errors surfaced synchronously on the queued path.
func (c *Client) Do(ctx context.Context, req transport.Request, priority models.Priority, opts queue.EnqueueOptions) (*Result, error) {
	if !c.online.IsOnline() {
		return c.enqueue(ctx, req, priority, opts)
	}

	resp, err := c.auth.Do(ctx, req)
	if err != nil {
		if faults.IsNetwork(err) {
			c.logger.Debug().Err(err).Str("path", req.Path).Msg("network failure, queueing request")
			return c.enqueue(ctx, req, priority, opts)
		}
		return nil, err
	}
	return &Result{Response: resp}, nil
}

func (c *Client) enqueue(ctx context.Context, req transport.Request, priority models.Priority, opts queue.EnqueueOptions) (*Result, error) {
	id, err := c.queue.Enqueue(ctx, req, priority, opts)
	if err != nil {
		return nil, err
	}
	return &Result{Queued: true, QueueID: id}, nil
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
