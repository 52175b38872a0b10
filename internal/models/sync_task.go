package models

import "time"

// Sync task kinds: which remote endpoint a queued operation targets.
const (
	TaskUser   = "user"
	TaskSector = "sector"
)

// Sync task statuses in the sync_queue table.
const (
	TaskStatusPending        = "pending"
	TaskStatusRetry          = "retry"
	TaskStatusCompleted      = "completed"
	TaskStatusFailed         = "failed"
	TaskStatusNotImplemented = "not_implemented"
)

// SyncTask represents a queued background synchronization job.
type SyncTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	EntityID    string     `json:"entity_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
