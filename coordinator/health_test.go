package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthMonitor_SweepDemotesSilentWorker(t *testing.T) {
	s, registry, bus := newTestScheduler(t)
	m := NewHealthMonitor(DefaultHealthConfig(), registry, s, nil, zap.NewNop())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	registry.clock = func() time.Time { return base }
	registry.Register(newMockWorker("w1", "coding"))

	// Nothing is stale yet.
	m.clock = func() time.Time { return base.Add(time.Minute) }
	m.Sweep()
	avail, _ := registry.Availability("w1")
	assert.Equal(t, WorkerAvailable, avail)

	m.clock = func() time.Time { return base.Add(10 * time.Minute) }
	m.Sweep()
	avail, _ = registry.Availability("w1")
	assert.Equal(t, WorkerOffline, avail)
	assert.Len(t, bus.ofType(EventWorkerUnresponsive), 1)

	// The entry survives demotion and an idle signal revives it.
	require.NoError(t, registry.Touch("w1", SignalIdle))
	avail, _ = registry.Availability("w1")
	assert.Equal(t, WorkerAvailable, avail)
}

func TestHealthMonitor_SweepRequeuesInflightTask(t *testing.T) {
	s, registry, _ := newTestScheduler(t)
	m := NewHealthMonitor(DefaultHealthConfig(), registry, s, nil, zap.NewNop())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	registry.clock = func() time.Time { return base }

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	w := newMockWorker("w1", "coding")
	w.ExecuteFunc = func(ctx context.Context, tctx *TaskContext) (*TaskResult, error) {
		close(started)
		<-release
		return &TaskResult{Success: true}, nil
	}
	registry.Register(w)

	id, err := s.Submit(nil, &TaskContext{Description: "hung"}, PriorityHigh, nil)
	require.NoError(t, err)
	s.assignPending()
	<-started

	m.clock = func() time.Time { return base.Add(10 * time.Minute) }
	m.Sweep()

	view, ok := s.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, TaskPending, view.Status)
	assert.Empty(t, view.AssignedWorker)
	avail, _ := registry.Availability("w1")
	assert.Equal(t, WorkerOffline, avail)
}

func TestHealthMonitor_StartStop(t *testing.T) {
	s, registry, _ := newTestScheduler(t)
	cfg := HealthConfig{SweepInterval: 10 * time.Millisecond, UnresponsiveAfter: time.Hour}
	m := NewHealthMonitor(cfg, registry, s, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	m.Stop()
}
