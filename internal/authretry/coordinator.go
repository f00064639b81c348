// Package authretry intercepts 401 responses, parks the failed requests,
// drives exactly one token refresh, and replays or rejects the parked
// requests once that refresh resolves.
package authretry

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"synckit/internal/faults"
	"synckit/internal/models"
	"synckit/internal/transport"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// TokenSource is the slice of the token manager the coordinator needs.
type TokenSource interface {
	Refresh(ctx context.Context) (*models.JwtToken, error)
	AuthHeader() string
}

// Outcome is the final result delivered to a parked request's caller.
type Outcome struct {
	Response *transport.Response
	Err      error
}

type pendingRequest struct {
	req  transport.Request
	done chan Outcome
}

const (
	stateIdle       = "idle"
	stateRefreshing = "refreshing"
)

type Config struct {
	MaxParked      int
	RefreshTimeout time.Duration
	// AuthPaths are endpoints whose 401s are surfaced directly: parking a
	// failed login or refresh would loop forever.
	AuthPaths []string
	// OnAuthFailed fires after a failed or timed-out refresh; expected to
	// drive logout / re-login.
	OnAuthFailed func()
}

type Coordinator struct {
	executor  transport.Executor
	tokens    TokenSource
	cfg       Config
	authPaths map[string]struct{}
	logger    *zerolog.Logger

	group singleflight.Group

	mu     sync.Mutex
	state  string
	parked []*pendingRequest
}

func NewCoordinator(executor transport.Executor, tokens TokenSource, cfg Config, logger *zerolog.Logger) *Coordinator {
	if cfg.MaxParked <= 0 {
		cfg.MaxParked = 50
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	authPaths := make(map[string]struct{}, len(cfg.AuthPaths))
	for _, p := range cfg.AuthPaths {
		authPaths[p] = struct{}{}
	}
	return &Coordinator{
		executor:  executor,
		tokens:    tokens,
		cfg:       cfg,
		authPaths: authPaths,
		logger:    logger,
		state:     stateIdle,
	}
}

// IsAuthEndpoint reports whether the path belongs to the auth flow itself.
func (c *Coordinator) IsAuthEndpoint(path string) bool {
	if _, ok := c.authPaths[path]; ok {
		return true
	}
	// Query strings do not change the endpoint identity.
	if i := strings.IndexByte(path, '?'); i >= 0 {
		_, ok := c.authPaths[path[:i]]
		return ok
	}
	return false
}

// HandleAuthFailure parks a request that just failed with 401 and blocks the
// caller until the single in-flight refresh resolves. Auth endpoints and
// capacity overflows are surfaced immediately instead.
func (c *Coordinator) HandleAuthFailure(ctx context.Context, req transport.Request) (*transport.Response, error) {
	if c.IsAuthEndpoint(req.Path) {
		return nil, &faults.AuthError{Message: "authentication endpoint rejected credentials"}
	}

	pending := &pendingRequest{req: req, done: make(chan Outcome, 1)}

	c.mu.Lock()
	if len(c.parked) >= c.cfg.MaxParked {
		c.mu.Unlock()
		return nil, &faults.AuthError{Message: "auth retry queue at capacity"}
	}
	c.parked = append(c.parked, pending)
	startRefresh := c.state == stateIdle
	if startRefresh {
		c.state = stateRefreshing
	}
	c.mu.Unlock()

	if startRefresh {
		go c.runRefresh()
	}

	select {
	case outcome := <-pending.done:
		return outcome.Response, outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnsureFresh drives a proactive refresh through the same idle/refreshing
// gate used for 401 recovery, so at most one refresh runs system-wide. A
// refresh already in flight makes this a no-op.
func (c *Coordinator) EnsureFresh() {
	c.mu.Lock()
	if c.state == stateRefreshing {
		c.mu.Unlock()
		return
	}
	c.state = stateRefreshing
	c.mu.Unlock()

	c.runRefresh()
}

// State reports idle or refreshing, for observability.
func (c *Coordinator) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueDepth reports the number of currently parked requests.
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.parked)
}

// ClearQueue rejects all parked requests without replay. Used on explicit
// logout.
func (c *Coordinator) ClearQueue() {
	c.mu.Lock()
	parked := c.parked
	c.parked = nil
	c.mu.Unlock()

	for _, p := range parked {
		p.done <- Outcome{Err: &faults.AuthError{Message: "auth retry queue cleared"}}
	}
}

func (c *Coordinator) runRefresh() {
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
		defer cancel()
		return c.tokens.Refresh(ctx)
	})

	c.mu.Lock()
	parked := c.parked
	c.parked = nil
	c.state = stateIdle
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Int("parked", len(parked)).Msg("token refresh failed, rejecting parked requests")
		for _, p := range parked {
			p.done <- Outcome{Err: &faults.AuthError{Message: "token refresh failed"}}
		}
		if c.cfg.OnAuthFailed != nil {
			c.cfg.OnAuthFailed()
		}
		return
	}

	c.logger.Info().Int("parked", len(parked)).Msg("token refreshed, replaying parked requests")
	for _, p := range parked {
		p.done <- c.replay(p.req)
	}
}

// replay re-issues one parked request with fresh credentials. A request that
// fails again is surfaced to its caller rather than re-parked: retry depth
// is bounded to one auth-triggered replay.
func (c *Coordinator) replay(req transport.Request) Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
	defer cancel()

	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}
	req.Headers["Authorization"] = c.tokens.AuthHeader()

	resp, err := c.executor.Do(ctx, req)
	if err != nil {
		return Outcome{Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return Outcome{Err: &faults.AuthError{Message: "request failed again after refresh"}}
	}
	return Outcome{Response: resp}
}
