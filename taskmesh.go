// Package taskmesh provides a top-level convenience entry point for creating
// a task coordinator with minimal boilerplate.
//
// Usage:
//
//	import "github.com/taskmesh/taskmesh"
//
//	c := taskmesh.New(taskmesh.DefaultConfig(), logger)
//	c.Start(ctx)
//	c.RegisterWorker(myWorker)
//	id, err := c.SubmitTask([]string{"translation"},
//		&taskmesh.TaskContext{Description: "triage ticket 4812"},
//		taskmesh.PriorityHigh, nil)
//
// This is a thin wrapper around [coordinator.New]; both produce identical
// results. Use this package when you prefer the shorter import path.
package taskmesh

import (
	"go.uber.org/zap"

	"github.com/taskmesh/taskmesh/coordinator"
)

// Coordinator is the coordination engine. See [coordinator.Coordinator].
type Coordinator = coordinator.Coordinator

// Config is the coordinator configuration. See [coordinator.Config].
type Config = coordinator.Config

// Option configures the coordinator created by [New].
type Option = coordinator.Option

// Worker is the contract task executors implement.
type Worker = coordinator.Worker

// TaskContext carries the work description and accumulated conversation.
type TaskContext = coordinator.TaskContext

// Priority orders tasks in the queue.
type Priority = coordinator.Priority

// Task priorities, highest first.
const (
	PriorityCritical = coordinator.PriorityCritical
	PriorityHigh     = coordinator.PriorityHigh
	PriorityMedium   = coordinator.PriorityMedium
	PriorityLow      = coordinator.PriorityLow
)

// HandoffRequest asks the coordinator to move an in-progress task.
type HandoffRequest = coordinator.HandoffRequest

// New creates a coordinator. Call Start before submitting tasks.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	return coordinator.New(cfg, logger, opts...)
}

// DefaultConfig returns sensible defaults for every subsystem.
var DefaultConfig = coordinator.DefaultConfig

// WithMetrics attaches a metrics collector.
var WithMetrics = coordinator.WithMetrics

// WithArchive attaches a store that receives terminal task records.
var WithArchive = coordinator.WithArchive
