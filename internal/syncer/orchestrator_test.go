package syncer

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"synckit/internal/breaker"
	"synckit/internal/database"
	"synckit/internal/events"
	"synckit/internal/faults"
	"synckit/internal/models"
	"synckit/internal/queue"
	"synckit/internal/transport"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	online bool
	ch     chan bool
}

func (s *fakeSignal) IsOnline() bool          { return s.online }
func (s *fakeSignal) Subscribe() <-chan bool  { return s.ch }
func (s *fakeSignal) Unsubscribe(<-chan bool) {}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []transport.Request
	respond func(req transport.Request) (*transport.Response, error)
}

func (e *fakeExecutor) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	e.mu.Unlock()
	if e.respond != nil {
		return e.respond(req)
	}
	return &transport.Response{StatusCode: http.StatusOK}, nil
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) PublishJSON(eventType string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
	return nil
}

func (b *recordingBus) has(eventType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type harness struct {
	db           *database.DB
	queue        *queue.Queue
	executor     *fakeExecutor
	circuits     *breaker.Metrics
	bus          *recordingBus
	orchestrator *Orchestrator
	signal       *fakeSignal
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	executor := &fakeExecutor{}
	signal := &fakeSignal{online: true, ch: make(chan bool, 4)}
	q := queue.New(db, executor, signal, queue.Config{MaxRetries: 3}, &logger)
	circuits := breaker.New(breaker.Config{MinVolume: 1, Threshold: 0.5, Window: time.Minute}, &logger)
	bus := &recordingBus{}

	o := New(q, db, executor, circuits, signal, 100, 10, &logger)
	o.SetEventPublisher(bus)

	return &harness{db: db, queue: q, executor: executor, circuits: circuits, bus: bus, orchestrator: o, signal: signal}
}

func (h *harness) enqueue(t *testing.T, method, path string, priority models.Priority) int64 {
	t.Helper()
	id, err := h.queue.Enqueue(context.Background(), transport.Request{Method: method, Path: path, Body: `{}`}, priority, queue.EnqueueOptions{})
	require.NoError(t, err)
	return id
}

func (h *harness) item(t *testing.T, id int64) *models.QueueItem {
	t.Helper()
	item, err := h.db.GetQueueItem(context.Background(), id)
	require.NoError(t, err)
	return item
}

func TestSyncCompletesPendingItems(t *testing.T) {
	h := newHarness(t)
	a := h.enqueue(t, "POST", "/orders", models.PriorityNormal)
	b := h.enqueue(t, "PUT", "/orders/1", models.PriorityNormal)

	result := h.orchestrator.Sync(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.ProcessedCount)
	assert.Zero(t, result.FailedCount)
	assert.Equal(t, models.StateCompleted, h.item(t, a).State)
	assert.Equal(t, models.StateCompleted, h.item(t, b).State)
}

func TestSyncNothingToDo(t *testing.T) {
	h := newHarness(t)

	result := h.orchestrator.Sync(context.Background())

	assert.True(t, result.Success)
	assert.Zero(t, result.ProcessedCount)
	assert.Equal(t, "nothing to sync", result.Message)
}

func TestConflictIsTerminalAndPublishesEvent(t *testing.T) {
	h := newHarness(t)
	h.executor.respond = func(req transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusConflict, Body: []byte("version mismatch")}, nil
	}
	id := h.enqueue(t, "PUT", "/orders/1", models.PriorityNormal)

	result := h.orchestrator.Sync(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.FailedCount)

	item := h.item(t, id)
	assert.Equal(t, models.StateFailed, item.State)
	require.NotNil(t, item.LastError)
	assert.Equal(t, "conflict: version mismatch", *item.LastError)
	assert.True(t, h.bus.has(events.EventItemConflict))

	// A conflict is never revived by the failed-retry path.
	h.executor.respond = nil
	retried, err := h.orchestrator.RetryFailedOperations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, retried.ProcessedCount)
	assert.Equal(t, models.StateFailed, h.item(t, id).State)
}

func TestServerErrorRequeuesWithMessage(t *testing.T) {
	h := newHarness(t)
	h.executor.respond = func(req transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusInternalServerError, Body: []byte("db down")}, nil
	}
	id := h.enqueue(t, "POST", "/orders", models.PriorityNormal)

	result := h.orchestrator.Sync(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.FailedCount)

	item := h.item(t, id)
	assert.Equal(t, models.StatePending, item.State)
	assert.Equal(t, 1, item.RetryCount)
	require.NotNil(t, item.LastError)
	assert.Contains(t, *item.LastError, "500")
	assert.Contains(t, *item.LastError, "db down")
}

func TestNetworkErrorRequeuesAsTransient(t *testing.T) {
	h := newHarness(t)
	h.executor.respond = func(req transport.Request) (*transport.Response, error) {
		return nil, &faults.NetworkError{Err: errors.New("connection reset")}
	}
	id := h.enqueue(t, "POST", "/orders", models.PriorityNormal)

	h.orchestrator.Sync(context.Background())

	item := h.item(t, id)
	assert.Equal(t, models.StatePending, item.State)
	assert.Equal(t, 1, item.RetryCount)
	require.NotNil(t, item.LastError)
	assert.Contains(t, *item.LastError, "network error")
}

func TestOpenCircuitDefersWithoutAttempt(t *testing.T) {
	h := newHarness(t)
	h.circuits.RecordRequest("/orders")
	h.circuits.RecordError("/orders", 500)
	require.True(t, h.circuits.IsCircuitOpen("/orders"))

	id := h.enqueue(t, "POST", "/orders", models.PriorityNormal)

	result := h.orchestrator.Sync(context.Background())

	assert.Zero(t, result.ProcessedCount)
	assert.Zero(t, h.executor.callCount())

	item := h.item(t, id)
	assert.Equal(t, models.StatePending, item.State)
	assert.Zero(t, item.RetryCount)
}

func TestAuthFailureDefersWithoutRetryCost(t *testing.T) {
	h := newHarness(t)
	h.executor.respond = func(req transport.Request) (*transport.Response, error) {
		return nil, &faults.AuthError{Message: "token refresh failed"}
	}
	id := h.enqueue(t, "POST", "/orders", models.PriorityNormal)

	result := h.orchestrator.Sync(context.Background())

	assert.Zero(t, result.ProcessedCount)
	item := h.item(t, id)
	assert.Equal(t, models.StatePending, item.State)
	assert.Zero(t, item.RetryCount)
}

func TestSuccessClosesCircuit(t *testing.T) {
	h := newHarness(t)
	// Trip the circuit, then wait out the cooldown via a success.
	h.circuits.RecordRequest("/orders")
	h.circuits.RecordError("/orders", 500)
	require.True(t, h.circuits.IsCircuitOpen("/orders"))
	h.circuits.RecordSuccess("/orders")
	require.False(t, h.circuits.IsCircuitOpen("/orders"))

	id := h.enqueue(t, "POST", "/orders", models.PriorityNormal)
	result := h.orchestrator.Sync(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, models.StateCompleted, h.item(t, id).State)
}

func TestRetryFailedOperationsRevivesTransients(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "POST", "/orders", models.PriorityNormal)
	require.NoError(t, h.db.UpdateItemState(context.Background(), id, models.StateFailed, "server returned 503"))

	result, err := h.orchestrator.RetryFailedOperations(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, models.StateCompleted, h.item(t, id).State)
}

func TestCleanupCompletedOperations(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "POST", "/orders", models.PriorityNormal)
	require.NoError(t, h.db.UpdateItemState(context.Background(), id, models.StateCompleted, ""))

	_, err := h.orchestrator.CleanupCompletedOperations(context.Background(), -1)
	var validationErr *faults.ValidationError
	require.ErrorAs(t, err, &validationErr)

	removed, err := h.orchestrator.CleanupCompletedOperations(context.Background(), 7)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = h.orchestrator.CleanupCompletedOperations(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestRunSyncsOnManualTrigger(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "POST", "/orders", models.PriorityNormal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.orchestrator.Run(ctx)

	h.orchestrator.TriggerSync()

	require.Eventually(t, func() bool {
		return h.item(t, id).State == models.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.bus.has(events.EventSyncCompleted))
}

func TestRunSyncsOnConnectivityRestore(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "POST", "/orders", models.PriorityNormal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.orchestrator.Run(ctx)

	// Offline edge is ignored, online edge drains.
	h.signal.ch <- false
	h.signal.ch <- true

	require.Eventually(t, func() bool {
		return h.item(t, id).State == models.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSyncStampsIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "POST", "/orders", models.PriorityNormal)

	h.orchestrator.Sync(context.Background())

	h.executor.mu.Lock()
	defer h.executor.mu.Unlock()
	require.Len(t, h.executor.calls, 1)
	assert.NotEmpty(t, h.executor.calls[0].Headers["Idempotency-Key"])
}
