// Package queue is the durable, priority-ordered, TTL-bounded,
// dependency-aware store of pending mutating requests.
//
// Ordering is a read-time sort: each drain pass loads pending items, purges
// expired ones, sorts by priority descending then insertion time ascending,
// and executes the eligible remainder in that order. A drain never overlaps
// another and never runs while offline.
package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"synckit/internal/database"
	"synckit/internal/faults"
	"synckit/internal/metrics"
	"synckit/internal/models"
	"synckit/internal/transport"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OnlineChecker is the slice of the connectivity monitor the queue needs.
type OnlineChecker interface {
	IsOnline() bool
}

// Disposition is the outcome of executing one item.
type Disposition int

const (
	// DispositionCompleted marks the item done.
	DispositionCompleted Disposition = iota
	// DispositionRetry requeues the item with a bumped retry counter.
	DispositionRetry
	// DispositionFailed marks the item terminally failed.
	DispositionFailed
	// DispositionSkipped leaves the item untouched for a later pass.
	DispositionSkipped
)

// ExecuteFunc runs one item against the backend and classifies the result.
type ExecuteFunc func(ctx context.Context, item *models.QueueItem) (Disposition, string)

type Config struct {
	MaxSize    int
	MaxRetries int
	DefaultTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 24 * time.Hour
	}
}

// EnqueueOptions carries the optional parts of an enqueue call.
type EnqueueOptions struct {
	// TTL overrides the default time-to-live.
	TTL time.Duration
	// DependsOn names an entity id that must no longer be pending before
	// this item becomes eligible.
	DependsOn *string
	// EntityID identifies the logical subject; defaults to the idempotency
	// key when the caller has no natural id (e.g. creates).
	EntityID string
	// Operation overrides the create/update/delete kind derived from the
	// HTTP method.
	Operation string
}

type Queue struct {
	db       *database.DB
	executor transport.Executor
	online   OnlineChecker
	cfg      Config
	logger   *zerolog.Logger

	processing atomic.Bool
	now        func() time.Time
}

func New(db *database.DB, executor transport.Executor, online OnlineChecker, cfg Config, logger *zerolog.Logger) *Queue {
	cfg.applyDefaults()
	return &Queue{
		db:       db,
		executor: executor,
		online:   online,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// MaxRetries exposes the retry cap shared with the orchestrator.
func (q *Queue) MaxRetries() int {
	return q.cfg.MaxRetries
}

// Enqueue persists one mutating request. Returns the queue id, or
// faults.ErrQueueFull when the non-terminal item count reached the cap.
func (q *Queue) Enqueue(ctx context.Context, req transport.Request, priority models.Priority, opts EnqueueOptions) (int64, error) {
	if req.Method == "" || req.Path == "" {
		return 0, &faults.ValidationError{Field: "request", Message: "method and path are required"}
	}

	count, err := q.db.CountNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}
	if count >= q.cfg.MaxSize {
		return 0, faults.ErrQueueFull
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = q.cfg.DefaultTTL
	}

	key := uuid.NewString()
	entityID := opts.EntityID
	if entityID == "" {
		entityID = key
	}
	operation := opts.Operation
	if operation == "" {
		operation = operationForMethod(req.Method)
	}

	now := q.now()
	item := &models.QueueItem{
		EntityType:     DeriveEntityType(req.Path),
		EntityID:       entityID,
		Operation:      operation,
		Method:         req.Method,
		Path:           req.Path,
		Body:           req.Body,
		Headers:        req.Headers,
		QueryParams:    req.QueryParams,
		Priority:       priority,
		State:          models.StatePending,
		IdempotencyKey: key,
		DependsOn:      opts.DependsOn,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}

	if err := q.db.CreateQueueItem(ctx, item); err != nil {
		return 0, err
	}

	q.logger.Debug().
		Int64("id", item.ID).
		Str("entity_type", item.EntityType).
		Str("priority", priority.String()).
		Msg("request queued")
	return item.ID, nil
}

// ProcessQueue drains pending items with the raw success/failure policy:
// 2xx completes an item, anything else requeues it. Status-code
// classification beyond that is the sync orchestrator's concern.
func (q *Queue) ProcessQueue(ctx context.Context) (int, error) {
	return q.Drain(ctx, q.executeRaw)
}

// Drain runs one non-overlapping pass using the given executor. Returns the
// number of items attempted. A pass already in progress, or an offline
// monitor, short-circuits to 0 with no work done.
func (q *Queue) Drain(ctx context.Context, execute ExecuteFunc) (int, error) {
	if !q.processing.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer q.processing.Store(false)

	if !q.online.IsOnline() {
		return 0, nil
	}

	now := q.now()
	purged, err := q.db.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired items: %w", err)
	}
	if purged > 0 {
		q.logger.Info().Int64("count", purged).Msg("expired queue items purged")
	}

	items, err := q.db.GetPendingItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending items: %w", err)
	}

	// Priority descending; the store already orders by insertion time, and
	// the stable sort keeps FIFO within a priority band.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority > items[j].Priority
	})

	pendingEntities := make(map[string]int, len(items))
	for i := range items {
		pendingEntities[items[i].EntityID]++
	}

	processed := 0
	for i := range items {
		item := &items[i]

		if !q.dependencyMet(item, pendingEntities) {
			q.logger.Debug().Int64("id", item.ID).Str("depends_on", *item.DependsOn).Msg("dependency still pending, skipping")
			continue
		}

		if item.RetryCount >= q.cfg.MaxRetries {
			if err := q.db.UpdateItemState(ctx, item.ID, models.StateFailed, "retry limit exceeded"); err != nil {
				q.logger.Error().Err(err).Int64("id", item.ID).Msg("mark retry-exhausted item failed")
				continue
			}
			pendingEntities[item.EntityID]--
			metrics.IncSyncItem("retry_exhausted")
			continue
		}

		if err := q.db.UpdateItemState(ctx, item.ID, models.StateSyncing, ""); err != nil {
			q.logger.Error().Err(err).Int64("id", item.ID).Msg("promote item to syncing")
			continue
		}

		disposition, message := execute(ctx, item)
		processed++

		switch disposition {
		case DispositionCompleted:
			if err := q.db.UpdateItemState(ctx, item.ID, models.StateCompleted, ""); err != nil {
				q.logger.Error().Err(err).Int64("id", item.ID).Msg("mark item completed")
				continue
			}
			pendingEntities[item.EntityID]--
			metrics.IncSyncItem("completed")
		case DispositionFailed:
			if err := q.db.UpdateItemState(ctx, item.ID, models.StateFailed, message); err != nil {
				q.logger.Error().Err(err).Int64("id", item.ID).Msg("mark item failed")
				continue
			}
			pendingEntities[item.EntityID]--
			metrics.IncSyncItem("failed")
		case DispositionSkipped:
			processed--
			// Skipping must not consume retry budget.
			if err := q.db.ResetToPending(ctx, item.ID); err != nil {
				q.logger.Error().Err(err).Int64("id", item.ID).Msg("reset skipped item")
			}
		default:
			if err := q.db.UpdateItemState(ctx, item.ID, models.StatePending, message); err != nil {
				q.logger.Error().Err(err).Int64("id", item.ID).Msg("requeue item")
			}
			metrics.IncSyncItem("retried")
		}
	}

	if stats, err := q.db.Stats(ctx, q.now()); err == nil {
		metrics.SetQueueDepth(stats.TotalPending)
	}

	return processed, nil
}

// ClearQueue removes every item regardless of state.
func (q *Queue) ClearQueue(ctx context.Context) error {
	if err := q.db.ClearQueue(ctx); err != nil {
		return err
	}
	metrics.SetQueueDepth(0)
	q.logger.Info().Msg("offline queue cleared")
	return nil
}

// Stats summarizes the queue.
func (q *Queue) Stats(ctx context.Context) (models.QueueStats, error) {
	return q.db.Stats(ctx, q.now())
}

func (q *Queue) dependencyMet(item *models.QueueItem, pendingEntities map[string]int) bool {
	if item.DependsOn == nil || *item.DependsOn == "" {
		return true
	}
	count := pendingEntities[*item.DependsOn]
	if *item.DependsOn == item.EntityID {
		// The item itself is pending; only other holders of the entity
		// block it.
		return count <= 1
	}
	return count == 0
}

// executeRaw issues the item's request and applies the raw policy: 2xx
// completes, any failure requeues for another attempt.
func (q *Queue) executeRaw(ctx context.Context, item *models.QueueItem) (Disposition, string) {
	resp, err := q.executor.Do(ctx, BuildRequest(item))
	if err != nil {
		return DispositionRetry, err.Error()
	}
	if resp.Success() {
		return DispositionCompleted, ""
	}
	return DispositionRetry, fmt.Sprintf("server returned %d", resp.StatusCode)
}

// BuildRequest reconstructs the transport request from stored fields,
// stamping the idempotency key so a replay of an already-applied mutation is
// deduplicated server-side.
func BuildRequest(item *models.QueueItem) transport.Request {
	headers := make(map[string]string, len(item.Headers)+1)
	for k, v := range item.Headers {
		headers[k] = v
	}
	headers["Idempotency-Key"] = item.IdempotencyKey

	return transport.Request{
		Method:      item.Method,
		Path:        item.Path,
		Headers:     headers,
		Body:        item.Body,
		QueryParams: item.QueryParams,
	}
}

// DeriveEntityType extracts a logical entity group from a request path:
// the first path segment that is not an api/version prefix.
func DeriveEntityType(path string) string {
	for _, segment := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if segment == "" || segment == "api" {
			continue
		}
		if len(segment) >= 2 && segment[0] == 'v' && segment[1] >= '0' && segment[1] <= '9' {
			continue
		}
		return segment
	}
	return "unknown"
}

func operationForMethod(method string) string {
	switch strings.ToUpper(method) {
	case "POST":
		return models.OpCreate
	case "DELETE":
		return models.OpDelete
	default:
		return models.OpUpdate
	}
}
