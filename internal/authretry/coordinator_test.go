package authretry

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"synckit/internal/faults"
	"synckit/internal/models"
	"synckit/internal/transport"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	refreshes atomic.Int32
	refreshErr error
	gate       chan struct{} // when set, Refresh blocks until closed
	header     string
}

func (f *fakeTokens) Refresh(ctx context.Context) (*models.JwtToken, error) {
	f.refreshes.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &models.JwtToken{AccessToken: "fresh"}, nil
}

func (f *fakeTokens) AuthHeader() string { return f.header }

type replayExecutor struct {
	mu       sync.Mutex
	requests []transport.Request
	status   int
}

func (e *replayExecutor) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	status := e.status
	if status == 0 {
		status = http.StatusOK
	}
	return &transport.Response{StatusCode: status}, nil
}

func newTestCoordinator(executor transport.Executor, tokens TokenSource, cfg Config) *Coordinator {
	logger := zerolog.Nop()
	return NewCoordinator(executor, tokens, cfg, &logger)
}

func TestConcurrentFailuresShareOneRefresh(t *testing.T) {
	tokens := &fakeTokens{gate: make(chan struct{}), header: "Bearer fresh"}
	executor := &replayExecutor{}
	c := newTestCoordinator(executor, tokens, Config{})

	const n = 5
	results := make(chan Outcome, n)
	for i := 0; i < n; i++ {
		go func() {
			resp, err := c.HandleAuthFailure(context.Background(), transport.Request{Method: "POST", Path: "/orders"})
			results <- Outcome{Response: resp, Err: err}
		}()
	}

	require.Eventually(t, func() bool { return c.QueueDepth() == n }, time.Second, 5*time.Millisecond)
	assert.Equal(t, stateRefreshing, c.State())
	close(tokens.gate)

	for i := 0; i < n; i++ {
		outcome := <-results
		require.NoError(t, outcome.Err)
		assert.Equal(t, http.StatusOK, outcome.Response.StatusCode)
	}

	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, stateIdle, c.State())
	assert.Zero(t, c.QueueDepth())

	executor.mu.Lock()
	defer executor.mu.Unlock()
	require.Len(t, executor.requests, n)
	for _, req := range executor.requests {
		assert.Equal(t, "Bearer fresh", req.Headers["Authorization"])
	}
}

func TestFailedRefreshRejectsAllAndNotifies(t *testing.T) {
	var notified atomic.Bool
	tokens := &fakeTokens{gate: make(chan struct{}), refreshErr: &faults.AuthError{Message: "refresh token revoked"}}
	executor := &replayExecutor{}
	c := newTestCoordinator(executor, tokens, Config{
		OnAuthFailed: func() { notified.Store(true) },
	})

	const n = 3
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.HandleAuthFailure(context.Background(), transport.Request{Method: "POST", Path: "/orders"})
			results <- err
		}()
	}

	require.Eventually(t, func() bool { return c.QueueDepth() == n }, time.Second, 5*time.Millisecond)
	close(tokens.gate)

	for i := 0; i < n; i++ {
		err := <-results
		var authErr *faults.AuthError
		require.ErrorAs(t, err, &authErr)
	}

	assert.True(t, notified.Load())
	assert.Empty(t, executor.requests)
	assert.Equal(t, stateIdle, c.State())
}

func TestAuthEndpointFailureSurfacesDirectly(t *testing.T) {
	tokens := &fakeTokens{}
	c := newTestCoordinator(&replayExecutor{}, tokens, Config{
		AuthPaths: []string{"/auth/login", "/auth/refresh"},
	})

	_, err := c.HandleAuthFailure(context.Background(), transport.Request{Method: "POST", Path: "/auth/login"})
	var authErr *faults.AuthError
	require.ErrorAs(t, err, &authErr)

	// No refresh was started for it.
	assert.Zero(t, tokens.refreshes.Load())
	assert.Equal(t, stateIdle, c.State())
}

func TestIsAuthEndpointIgnoresQueryString(t *testing.T) {
	c := newTestCoordinator(&replayExecutor{}, &fakeTokens{}, Config{
		AuthPaths: []string{"/auth/refresh"},
	})

	assert.True(t, c.IsAuthEndpoint("/auth/refresh"))
	assert.True(t, c.IsAuthEndpoint("/auth/refresh?device=mobile"))
	assert.False(t, c.IsAuthEndpoint("/orders?device=mobile"))
}

func TestCapacityOverflowRejected(t *testing.T) {
	tokens := &fakeTokens{gate: make(chan struct{})}
	c := newTestCoordinator(&replayExecutor{}, tokens, Config{MaxParked: 1})
	defer close(tokens.gate)

	go func() {
		_, _ = c.HandleAuthFailure(context.Background(), transport.Request{Method: "POST", Path: "/orders"})
	}()
	require.Eventually(t, func() bool { return c.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)

	_, err := c.HandleAuthFailure(context.Background(), transport.Request{Method: "POST", Path: "/products"})
	var authErr *faults.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "capacity")
}

func TestReplayFailingAgainIsNotReparked(t *testing.T) {
	tokens := &fakeTokens{header: "Bearer fresh"}
	executor := &replayExecutor{status: http.StatusUnauthorized}
	c := newTestCoordinator(executor, tokens, Config{})

	_, err := c.HandleAuthFailure(context.Background(), transport.Request{Method: "POST", Path: "/orders"})
	var authErr *faults.AuthError
	require.ErrorAs(t, err, &authErr)

	// Exactly one replay attempt, one refresh.
	assert.Len(t, executor.requests, 1)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Zero(t, c.QueueDepth())
}

func TestClearQueueRejectsParked(t *testing.T) {
	tokens := &fakeTokens{gate: make(chan struct{})}
	c := newTestCoordinator(&replayExecutor{}, tokens, Config{})
	defer close(tokens.gate)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.HandleAuthFailure(context.Background(), transport.Request{Method: "DELETE", Path: "/orders/1"})
			results <- err
		}()
	}
	require.Eventually(t, func() bool { return c.QueueDepth() == 2 }, time.Second, 5*time.Millisecond)

	c.ClearQueue()

	for i := 0; i < 2; i++ {
		err := <-results
		var authErr *faults.AuthError
		require.ErrorAs(t, err, &authErr)
	}
	assert.Zero(t, c.QueueDepth())
}

func TestCallerContextCancellation(t *testing.T) {
	tokens := &fakeTokens{gate: make(chan struct{})}
	c := newTestCoordinator(&replayExecutor{}, tokens, Config{})
	defer close(tokens.gate)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := c.HandleAuthFailure(ctx, transport.Request{Method: "POST", Path: "/orders"})
		errs <- err
	}()
	require.Eventually(t, func() bool { return c.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)
}

func TestEnsureFreshIsNoOpWhileRefreshing(t *testing.T) {
	tokens := &fakeTokens{gate: make(chan struct{}), header: "Bearer fresh"}
	c := newTestCoordinator(&replayExecutor{}, tokens, Config{})

	go func() {
		_, _ = c.HandleAuthFailure(context.Background(), transport.Request{Method: "POST", Path: "/orders"})
	}()
	require.Eventually(t, func() bool { return c.State() == stateRefreshing }, time.Second, 5*time.Millisecond)

	// Would deadlock on the gate if it started a second refresh.
	c.EnsureFresh()

	close(tokens.gate)
	require.Eventually(t, func() bool { return c.State() == stateIdle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), tokens.refreshes.Load())
}

func TestEnsureFreshRunsRefreshWhenIdle(t *testing.T) {
	tokens := &fakeTokens{header: "Bearer fresh"}
	c := newTestCoordinator(&replayExecutor{}, tokens, Config{})

	c.EnsureFresh()

	assert.Equal(t, int32(1), tokens.refreshes.Load())
	assert.Equal(t, stateIdle, c.State())
}
