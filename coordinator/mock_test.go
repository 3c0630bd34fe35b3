package coordinator

import (
	"context"
	"sync/atomic"
)

// mockWorker is a configurable Worker for tests. The ExecuteFunc callback
// decides each execution's outcome.
type mockWorker struct {
	id           string
	workerType   string
	capabilities []string
	ExecuteFunc  func(ctx context.Context, tctx *TaskContext) (*TaskResult, error)
	executions   atomic.Int64
}

func newMockWorker(id, workerType string, capabilities ...string) *mockWorker {
	return &mockWorker{
		id:           id,
		workerType:   workerType,
		capabilities: capabilities,
		ExecuteFunc: func(ctx context.Context, tctx *TaskContext) (*TaskResult, error) {
			return &TaskResult{Success: true}, nil
		},
	}
}

func (m *mockWorker) ID() string             { return m.id }
func (m *mockWorker) Type() string           { return m.workerType }
func (m *mockWorker) Capabilities() []string { return m.capabilities }

func (m *mockWorker) Execute(ctx context.Context, tctx *TaskContext) (*TaskResult, error) {
	m.executions.Add(1)
	return m.ExecuteFunc(ctx, tctx)
}
