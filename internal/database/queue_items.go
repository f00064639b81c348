package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"synckit/internal/models"
)

func (db *DB) CreateQueueItem(ctx context.Context, item *models.QueueItem) error {
	headers, err := encodeMap(item.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	queryParams, err := encodeMap(item.QueryParams)
	if err != nil {
		return fmt.Errorf("encode query params: %w", err)
	}

	query := `INSERT INTO queue_items (entity_type, entity_id, operation, method, path, body, headers, query_params,
              priority, state, retry_count, idempotency_key, depends_on, last_error, created_at, expires_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	result, err := db.db.ExecContext(ctx, query,
		item.EntityType,
		item.EntityID,
		item.Operation,
		item.Method,
		item.Path,
		item.Body,
		headers,
		queryParams,
		item.Priority,
		item.State,
		item.RetryCount,
		item.IdempotencyKey,
		item.DependsOn,
		item.LastError,
		item.CreatedAt,
		item.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	item.ID = id

	return nil
}

const queueItemColumns = `id, entity_type, entity_id, operation, method, path, body, headers, query_params,
              priority, state, retry_count, idempotency_key, depends_on, last_error, created_at, expires_at, processed_at`

// GetPendingItems returns all pending items ordered by insertion. Priority
// ordering is a read-time sort done by the queue, not a storage invariant.
func (db *DB) GetPendingItems(ctx context.Context) ([]models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + `
              FROM queue_items WHERE state = 'pending' ORDER BY created_at ASC, id ASC`
	return db.queryItems(ctx, query)
}

func (db *DB) GetItemsByState(ctx context.Context, state string) ([]models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + `
              FROM queue_items WHERE state = ? ORDER BY created_at ASC, id ASC`
	return db.queryItems(ctx, query, state)
}

func (db *DB) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM queue_items WHERE id = ?`
	items, err := db.queryItems(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, sql.ErrNoRows
	}
	return &items[0], nil
}

// CountNonTerminal counts items still subject to the queue cap.
func (db *DB) CountNonTerminal(ctx context.Context) (int, error) {
	var count int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE state IN ('pending', 'syncing')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return count, nil
}

// UpdateItemState performs one atomic state transition. Requeueing to pending
// bumps the retry counter; terminal states record the processing time.
func (db *DB) UpdateItemState(ctx context.Context, id int64, state, errMsg string) error {
	var query string
	var args []interface{}
	now := time.Now()

	switch state {
	case models.StatePending:
		query = `UPDATE queue_items SET state = ?, last_error = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{state, nullable(errMsg), id}
	case models.StateCompleted, models.StateFailed:
		query = `UPDATE queue_items SET state = ?, last_error = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{state, nullable(errMsg), &now, id}
	default:
		query = `UPDATE queue_items SET state = ? WHERE id = ?`
		args = []interface{}{state, id}
	}

	_, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue item state: %w", err)
	}
	return nil
}

// ResetToPending reverts a syncing item to pending without consuming retry
// budget. Used when an attempt was skipped rather than failed.
func (db *DB) ResetToPending(ctx context.Context, id int64) error {
	_, err := db.db.ExecContext(ctx, `UPDATE queue_items SET state = 'pending' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to reset queue item: %w", err)
	}
	return nil
}

func (db *DB) DeleteQueueItem(ctx context.Context, id int64) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}
	return nil
}

// DeleteExpired purges items past their TTL regardless of state or retries.
func (db *DB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE expires_at < ? AND state IN ('pending', 'syncing')`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired items: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) ClearQueue(ctx context.Context) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM queue_items`)
	if err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// DeleteCompletedBefore drops completed items older than the cutoff.
func (db *DB) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE state = 'completed' AND processed_at IS NOT NULL AND processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed items: %w", err)
	}
	return result.RowsAffected()
}

// RequeueFailed promotes failed items with remaining retry budget back to
// pending. Conflicts stay failed: the divergence needs manual resolution,
// not another replay.
func (db *DB) RequeueFailed(ctx context.Context, maxRetries int) (int64, error) {
	result, err := db.db.ExecContext(ctx,
		`UPDATE queue_items SET state = 'pending' WHERE state = 'failed' AND retry_count < ?
         AND (last_error IS NULL OR last_error NOT LIKE 'conflict%')`, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue failed items: %w", err)
	}
	return result.RowsAffected()
}

// Stats summarizes pending items by priority plus the count already expired.
func (db *DB) Stats(ctx context.Context, now time.Time) (models.QueueStats, error) {
	stats := models.QueueStats{ByPriority: make(map[models.Priority]int)}

	rows, err := db.db.QueryContext(ctx,
		`SELECT priority, COUNT(*) FROM queue_items WHERE state = 'pending' GROUP BY priority`)
	if err != nil {
		return stats, fmt.Errorf("failed to load queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var priority models.Priority
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return stats, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats.ByPriority[priority] = count
		stats.TotalPending += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE state = 'pending' AND expires_at < ?`, now).Scan(&stats.ExpiredCount)
	if err != nil {
		return stats, fmt.Errorf("failed to count expired items: %w", err)
	}

	return stats, nil
}

func (db *DB) queryItems(ctx context.Context, query string, args ...interface{}) ([]models.QueueItem, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var item models.QueueItem
		var body, headers, queryParams sql.NullString
		err := rows.Scan(
			&item.ID, &item.EntityType, &item.EntityID, &item.Operation, &item.Method, &item.Path,
			&body, &headers, &queryParams, &item.Priority, &item.State, &item.RetryCount,
			&item.IdempotencyKey, &item.DependsOn, &item.LastError, &item.CreatedAt, &item.ExpiresAt, &item.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.Body = body.String
		if item.Headers, err = decodeMap(headers); err != nil {
			return nil, fmt.Errorf("decode headers for item %d: %w", item.ID, err)
		}
		if item.QueryParams, err = decodeMap(queryParams); err != nil {
			return nil, fmt.Errorf("decode query params for item %d: %w", item.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func encodeMap(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeMap(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
