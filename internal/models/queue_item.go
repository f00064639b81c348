package models

import "time"

// Priority orders queue items within one drain pass. Higher drains first.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Queue item states. Completed and failed are terminal.
const (
	StatePending   = "pending"
	StateSyncing   = "syncing"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Logical operation kinds.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// QueueItem is one persisted pending mutating request.
type QueueItem struct {
	ID             int64             `json:"id"`
	EntityType     string            `json:"entity_type"`
	EntityID       string            `json:"entity_id"`
	Operation      string            `json:"operation"`
	Method         string            `json:"method"`
	Path           string            `json:"path"`
	Body           string            `json:"body"`
	Headers        map[string]string `json:"headers,omitempty"`
	QueryParams    map[string]string `json:"query_params,omitempty"`
	Priority       Priority          `json:"priority"`
	State          string            `json:"state"`
	RetryCount     int               `json:"retry_count"`
	IdempotencyKey string            `json:"idempotency_key"`
	DependsOn      *string           `json:"depends_on,omitempty"`
	LastError      *string           `json:"last_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
}

// Expired reports whether the item's TTL has passed.
func (q *QueueItem) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Terminal reports whether the item reached a final state.
func (q *QueueItem) Terminal() bool {
	return q.State == StateCompleted || q.State == StateFailed
}

// QueueStats summarizes the queue for observability.
type QueueStats struct {
	TotalPending int              `json:"total_pending"`
	ByPriority   map[Priority]int `json:"by_priority"`
	ExpiredCount int              `json:"expired_count"`
}

// SyncResult summarizes one full sync pass.
type SyncResult struct {
	Success        bool   `json:"success"`
	ProcessedCount int    `json:"processed_count"`
	FailedCount    int    `json:"failed_count"`
	Message        string `json:"message"`
}
