// Package persistence provides optional archival of terminal task records.
// The coordinator itself keeps tasks in memory with no persistence
// guarantee; deployments that want an audit trail attach a Store.
package persistence

import (
	"context"
	"time"
)

// TaskRecord is the archived form of a settled task. Structured fields the
// archive filters on are flattened; the rest is stored as JSON.
type TaskRecord struct {
	ID                   uint      `gorm:"primaryKey" json:"-"`
	TaskID               string    `gorm:"uniqueIndex;size:64" json:"task_id"`
	Priority             string    `gorm:"size:16;index" json:"priority"`
	Status               string    `gorm:"size:16;index" json:"status"`
	AssignedWorker       string    `gorm:"size:64;index" json:"assigned_worker"`
	Success              bool      `json:"success"`
	Error                string    `json:"error,omitempty"`
	Handoffs             int       `json:"handoffs"`
	RequiredCapabilities string    `json:"required_capabilities"`
	HandoffHistory       string    `json:"handoff_history"`
	CreatedAt            time.Time `json:"created_at"`
	SettledAt            time.Time `gorm:"index" json:"settled_at"`
}

// Filter selects archived records.
type Filter struct {
	Status        string
	Worker        string
	Priority      string
	SettledAfter  *time.Time
	SettledBefore *time.Time
	Limit         int
}

// Stats summarizes the archive.
type Stats struct {
	TotalTasks    int64            `json:"total_tasks"`
	StatusCounts  map[string]int64 `json:"status_counts"`
	WorkerCounts  map[string]int64 `json:"worker_counts"`
	TotalHandoffs int64            `json:"total_handoffs"`
	OldestSettled *time.Time       `json:"oldest_settled,omitempty"`
	NewestSettled *time.Time       `json:"newest_settled,omitempty"`
}

// Store is the archive contract. Implementations must be safe for
// concurrent use; SaveTask is called from event subscribers.
type Store interface {
	SaveTask(ctx context.Context, rec *TaskRecord) error
	GetTask(ctx context.Context, taskID string) (*TaskRecord, error)
	ListTasks(ctx context.Context, filter Filter) ([]*TaskRecord, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
