package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskmesh/taskmesh/types"
	"go.uber.org/zap"
)

// recordingBus captures published events synchronously so tests never sleep.
type recordingBus struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBus) Publish(event Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

func (b *recordingBus) Subscribe(EventType, EventHandler) string { return "" }
func (b *recordingBus) Unsubscribe(string)                       {}
func (b *recordingBus) Stop()                                    {}

func (b *recordingBus) ofType(t EventType) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, e := range b.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestRegistry() (*Registry, *recordingBus) {
	bus := &recordingBus{}
	return NewRegistry(bus, zap.NewNop()), bus
}

func TestRegistry_Register(t *testing.T) {
	r, bus := newTestRegistry()
	r.Register(newMockWorker("w1", "coding", "code_generation"))

	views := r.List()
	require.Len(t, views, 1)
	assert.Equal(t, "w1", views[0].ID)
	assert.Equal(t, "coding", views[0].Type)
	assert.Equal(t, WorkerAvailable, views[0].Availability)
	assert.Equal(t, 1.0, views[0].Performance.SuccessRate)
	assert.Equal(t, 0, views[0].Performance.TasksCompleted)
	assert.Len(t, bus.ofType(EventWorkerRegistered), 1)
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	r, bus := newTestRegistry()
	r.Register(newMockWorker("w1", "coding", "code_generation"))
	r.RecordCompletion("w1", true, 100*time.Millisecond)
	r.RecordCompletion("w1", false, 300*time.Millisecond)

	// Re-registering replaces the implementation but keeps the record.
	r.Register(newMockWorker("w1", "coding", "code_generation", "refactoring"))

	views := r.List()
	require.Len(t, views, 1)
	assert.Equal(t, 2, views[0].Performance.TasksCompleted)
	assert.Equal(t, 0.5, views[0].Performance.SuccessRate)
	assert.Contains(t, views[0].Capabilities, "refactoring")
	assert.Len(t, bus.ofType(EventWorkerRegistered), 1)
}

func TestRegistry_Unregister(t *testing.T) {
	r, bus := newTestRegistry()
	r.Register(newMockWorker("w1", "coding"))
	require.True(t, r.TryAcquire("w1", "task-1"))

	inflight, err := r.Unregister("w1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", inflight)
	assert.Empty(t, r.List())
	assert.Len(t, bus.ofType(EventWorkerUnregistered), 1)

	_, err = r.Unregister("w1")
	require.Error(t, err)
	assert.Equal(t, types.ErrWorkerNotFound, types.GetErrorCode(err))
}

func TestRegistry_TryAcquire(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(newMockWorker("w1", "coding"))

	assert.True(t, r.TryAcquire("w1", "task-1"))
	// Already busy: the commit point refuses a second acquisition.
	assert.False(t, r.TryAcquire("w1", "task-2"))
	assert.False(t, r.TryAcquire("missing", "task-3"))

	avail, ok := r.Availability("w1")
	require.True(t, ok)
	assert.Equal(t, WorkerBusy, avail)

	views := r.List()
	require.Len(t, views, 1)
	assert.Equal(t, "task-1", views[0].CurrentTask)
}

func TestRegistry_Release(t *testing.T) {
	r, bus := newTestRegistry()
	r.Register(newMockWorker("w1", "coding"))
	require.True(t, r.TryAcquire("w1", "task-1"))

	r.Release("w1")
	avail, _ := r.Availability("w1")
	assert.Equal(t, WorkerAvailable, avail)

	// Releasing an already available worker is a no-op.
	before := len(bus.ofType(EventWorkerAvailability))
	r.Release("w1")
	assert.Len(t, bus.ofType(EventWorkerAvailability), before)
}

func TestRegistry_RecordCompletionRunningMeans(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(newMockWorker("w1", "coding"))

	r.RecordCompletion("w1", true, 100*time.Millisecond)
	r.RecordCompletion("w1", true, 300*time.Millisecond)
	r.RecordCompletion("w1", false, 200*time.Millisecond)

	views := r.List()
	require.Len(t, views, 1)
	perf := views[0].Performance
	assert.Equal(t, 3, perf.TasksCompleted)
	assert.InDelta(t, 2.0/3.0, perf.SuccessRate, 1e-9)
	assert.InDelta(t, 200.0, perf.AverageResponseTimeMs, 1e-9)
}

func TestRegistry_TouchRevivesOfflineOnIdle(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(newMockWorker("w1", "coding"))
	require.NoError(t, r.SetAvailability("w1", WorkerOffline))

	// A busy signal refreshes activity but does not revive.
	require.NoError(t, r.Touch("w1", SignalBusy))
	avail, _ := r.Availability("w1")
	assert.Equal(t, WorkerOffline, avail)

	require.NoError(t, r.Touch("w1", SignalIdle))
	avail, _ = r.Availability("w1")
	assert.Equal(t, WorkerAvailable, avail)

	err := r.Touch("missing", SignalIdle)
	assert.Equal(t, types.ErrWorkerNotFound, types.GetErrorCode(err))
}

func TestRegistry_SweepStale(t *testing.T) {
	r, bus := newTestRegistry()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return base }

	r.Register(newMockWorker("stale", "coding"))

	r.clock = func() time.Time { return base.Add(10 * time.Minute) }
	r.Register(newMockWorker("fresh", "planning"))

	demoted := r.sweepStale(base.Add(5 * time.Minute))
	require.Equal(t, []string{"stale"}, demoted)

	avail, _ := r.Availability("stale")
	assert.Equal(t, WorkerOffline, avail)
	avail, _ = r.Availability("fresh")
	assert.Equal(t, WorkerAvailable, avail)

	events := bus.ofType(EventWorkerUnresponsive)
	require.Len(t, events, 1)
	assert.Equal(t, "stale", events[0].(*WorkerUnresponsiveEvent).WorkerID)

	// Offline entries are kept and not demoted twice.
	assert.Empty(t, r.sweepStale(base.Add(20*time.Minute)))
}

func TestRegistry_Candidates(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register(newMockWorker("w1", "coding", "code_generation"))
	r.Register(newMockWorker("w2", "planning"))
	require.True(t, r.TryAcquire("w2", "task-1"))

	candidates := r.Candidates()
	require.Len(t, candidates, 1)
	assert.Equal(t, "w1", candidates[0].ID)
	assert.Equal(t, []string{"code_generation"}, candidates[0].Capabilities)
}
