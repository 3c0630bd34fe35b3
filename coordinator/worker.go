package coordinator

import (
	"context"
	"time"
)

// Availability is a worker's dispatchability state. Workers never set their
// own availability; they emit status signals the coordinator interprets.
type Availability string

const (
	WorkerAvailable Availability = "available"
	WorkerBusy      Availability = "busy"
	WorkerOffline   Availability = "offline"
)

// StatusSignal is what a worker reports about itself.
type StatusSignal string

const (
	SignalIdle      StatusSignal = "idle"
	SignalBusy      StatusSignal = "busy"
	SignalFailed    StatusSignal = "failed"
	SignalCompleted StatusSignal = "completed"
)

// Worker is the contract an external worker exposes to the coordinator.
// Execute runs asynchronously from the scheduler's point of view: the
// assignment loop hands execution to the dispatch pool and never waits.
type Worker interface {
	ID() string
	// Type is the declared worker type string, matched against handoff rule
	// patterns (e.g. "coding", "planning", "tool_execution").
	Type() string
	Capabilities() []string
	Execute(ctx context.Context, task *TaskContext) (*TaskResult, error)
}

// PerformanceStats is the running performance record of a worker.
type PerformanceStats struct {
	SuccessRate           float64 `json:"success_rate"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
	TasksCompleted        int     `json:"tasks_completed"`
}

// WorkerView is an immutable snapshot of one registry entry.
type WorkerView struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Capabilities []string         `json:"capabilities"`
	Availability Availability     `json:"availability"`
	LastActivity time.Time        `json:"last_activity"`
	Performance  PerformanceStats `json:"performance"`
	CurrentTask  string           `json:"current_task,omitempty"`
}

// Candidate is the selector's view of an available worker.
type Candidate struct {
	ID           string
	Type         string
	Capabilities []string
	Performance  PerformanceStats
}
