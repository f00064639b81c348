// Package syncer drains the offline queue against the backend. It is the
// externally-triggered façade over the raw queue drain: it consults the
// circuit breaker before each endpoint call, feeds every outcome back into
// it, and classifies terminal outcomes by status code.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"synckit/internal/breaker"
	"synckit/internal/database"
	"synckit/internal/domain"
	"synckit/internal/events"
	"synckit/internal/faults"
	"synckit/internal/models"
	"synckit/internal/queue"
	"synckit/internal/transport"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Orchestrator struct {
	queue    *queue.Queue
	db       *database.DB
	executor transport.Executor
	circuits *breaker.Metrics
	monitor  domain.ConnectivitySignal
	limiter  *rate.Limiter
	logger   *zerolog.Logger
	bus      domain.EventPublisher

	trigger chan struct{}
}

func New(q *queue.Queue, db *database.DB, executor transport.Executor, circuits *breaker.Metrics, monitor domain.ConnectivitySignal, rps float64, burst int, logger *zerolog.Logger) *Orchestrator {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Orchestrator{
		queue:    q,
		db:       db,
		executor: executor,
		circuits: circuits,
		monitor:  monitor,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// SetEventPublisher wires an optional bus that receives sync and conflict
// events.
func (o *Orchestrator) SetEventPublisher(bus domain.EventPublisher) {
	o.bus = bus
}

// TriggerSync requests a sync pass ("sync now"). Coalesces with any trigger
// already waiting.
func (o *Orchestrator) TriggerSync() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run reacts to connectivity-restore events and manual triggers until ctx is
// done. Rapid triggers (connectivity flapping plus a manual button) collapse
// into rate-limited passes; overlap protection itself lives in the queue.
func (o *Orchestrator) Run(ctx context.Context) {
	transitions := o.monitor.Subscribe()
	defer o.monitor.Unsubscribe(transitions)

	o.logger.Info().Msg("sync orchestrator started")
	defer o.logger.Info().Msg("sync orchestrator stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-transitions:
			if !ok {
				return
			}
			if !online {
				continue
			}
			o.paceAndSync(ctx, "connectivity restored")
		case <-o.trigger:
			o.paceAndSync(ctx, "manual trigger")
		}
	}
}

func (o *Orchestrator) paceAndSync(ctx context.Context, reason string) {
	if err := o.limiter.Wait(ctx); err != nil {
		return
	}
	result := o.Sync(ctx)
	o.logger.Info().
		Str("reason", reason).
		Bool("success", result.Success).
		Int("processed", result.ProcessedCount).
		Int("failed", result.FailedCount).
		Msg("sync pass finished")

	if o.bus != nil {
		_ = o.bus.PublishJSON(events.EventSyncCompleted, events.SyncEventPayload{
			Success:        result.Success,
			ProcessedCount: result.ProcessedCount,
			FailedCount:    result.FailedCount,
			Message:        result.Message,
		})
	}
}

// Sync performs one full pass over the queue and summarizes it.
func (o *Orchestrator) Sync(ctx context.Context) models.SyncResult {
	var completed, failed int

	processed, err := o.queue.Drain(ctx, func(ctx context.Context, item *models.QueueItem) (queue.Disposition, string) {
		disposition, message := o.executeItem(ctx, item)
		switch disposition {
		case queue.DispositionCompleted:
			completed++
		case queue.DispositionFailed, queue.DispositionRetry:
			failed++
		}
		return disposition, message
	})
	if err != nil {
		return models.SyncResult{
			Success: false,
			Message: fmt.Sprintf("sync pass aborted: %v", err),
		}
	}

	result := models.SyncResult{
		Success:        failed == 0,
		ProcessedCount: processed,
		FailedCount:    failed,
	}
	switch {
	case processed == 0:
		result.Message = "nothing to sync"
	case failed == 0:
		result.Message = fmt.Sprintf("synced %d items", completed)
	default:
		result.Message = fmt.Sprintf("synced %d items, %d failed", completed, failed)
	}
	return result
}

// executeItem issues one item and classifies the outcome:
// 2xx completes; 409 fails terminally with a conflict reason; any other
// status requeues with the server text; a transport failure requeues as
// transient.
func (o *Orchestrator) executeItem(ctx context.Context, item *models.QueueItem) (queue.Disposition, string) {
	endpoint := item.Path

	if o.circuits.IsCircuitOpen(endpoint) {
		o.logger.Debug().Str("endpoint", endpoint).Int64("id", item.ID).Msg("circuit open, deferring item")
		return queue.DispositionSkipped, faults.ErrCircuitOpen.Error()
	}

	o.circuits.RecordRequest(endpoint)

	resp, err := o.executor.Do(ctx, queue.BuildRequest(item))
	if err != nil {
		var authErr *faults.AuthError
		if errors.As(err, &authErr) {
			// Ownership of 401 recovery sits with the auth retry
			// coordinator; once it gives up, this item waits for re-login.
			return queue.DispositionSkipped, authErr.Error()
		}
		o.circuits.RecordError(endpoint, 0)
		return queue.DispositionRetry, fmt.Sprintf("network error: %v", err)
	}

	switch {
	case resp.Success():
		o.circuits.RecordSuccess(endpoint)
		return queue.DispositionCompleted, ""
	case resp.StatusCode == http.StatusConflict:
		o.circuits.RecordError(endpoint, resp.StatusCode)
		reason := serverMessage(resp)
		if o.bus != nil {
			_ = o.bus.PublishJSON(events.EventItemConflict, events.ConflictEventPayload{
				QueueID:    item.ID,
				EntityType: item.EntityType,
				EntityID:   item.EntityID,
				Reason:     reason,
			})
		}
		return queue.DispositionFailed, "conflict: " + reason
	default:
		o.circuits.RecordError(endpoint, resp.StatusCode)
		return queue.DispositionRetry, fmt.Sprintf("server returned %d: %s", resp.StatusCode, serverMessage(resp))
	}
}

// RetryFailedOperations re-promotes failed items that still have retry
// budget (conflicts excluded) and immediately re-drains.
func (o *Orchestrator) RetryFailedOperations(ctx context.Context) (models.SyncResult, error) {
	requeued, err := o.db.RequeueFailed(ctx, o.queue.MaxRetries())
	if err != nil {
		return models.SyncResult{}, err
	}
	o.logger.Info().Int64("requeued", requeued).Msg("failed operations re-promoted")
	return o.Sync(ctx), nil
}

// CleanupCompletedOperations drops completed items older than the given
// number of days.
func (o *Orchestrator) CleanupCompletedOperations(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, &faults.ValidationError{Field: "olderThanDays", Message: "must not be negative"}
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	removed, err := o.db.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		o.logger.Info().Int64("removed", removed).Msg("completed operations cleaned up")
	}
	return removed, nil
}

func serverMessage(resp *transport.Response) string {
	msg := strings.TrimSpace(string(resp.Body))
	if msg == "" {
		return http.StatusText(resp.StatusCode)
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
