package coordinator

import (
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/types"
	"go.uber.org/zap"
)

// workerEntry is one row of the registration table. Each entry carries its
// own lock so performance updates for different workers never contend.
type workerEntry struct {
	mu           sync.Mutex
	worker       Worker
	availability Availability
	lastActivity time.Time
	performance  PerformanceStats
	successes    int
	currentTask  string
}

// Registry is the agent registration table: identity, capabilities,
// availability, and running performance statistics per worker.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*workerEntry
	bus     EventBus
	logger  *zap.Logger
	clock   func() time.Time
}

// NewRegistry creates a registry publishing availability changes on bus.
func NewRegistry(bus EventBus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*workerEntry),
		bus:     bus,
		logger:  logger.With(zap.String("component", "registry")),
		clock:   time.Now,
	}
}

// Register adds a worker to the table. Registration is idempotent by worker
// id: a second registration updates the entry in place and keeps its
// accumulated performance record.
func (r *Registry) Register(w Worker) {
	r.mu.Lock()
	entry, exists := r.entries[w.ID()]
	if !exists {
		entry = &workerEntry{
			worker:       w,
			availability: WorkerAvailable,
			lastActivity: r.clock(),
			performance:  PerformanceStats{SuccessRate: 1.0},
		}
		r.entries[w.ID()] = entry
	}
	r.mu.Unlock()

	if exists {
		entry.mu.Lock()
		entry.worker = w
		entry.lastActivity = r.clock()
		entry.mu.Unlock()
		r.logger.Info("worker registration updated", zap.String("worker_id", w.ID()))
		return
	}

	r.logger.Info("worker registered",
		zap.String("worker_id", w.ID()),
		zap.String("type", w.Type()),
		zap.Strings("capabilities", w.Capabilities()),
	)
	r.bus.Publish(&WorkerRegisteredEvent{
		WorkerID:     w.ID(),
		WorkerType:   w.Type(),
		Capabilities: w.Capabilities(),
		Timestamp_:   r.clock(),
	})
}

// Unregister removes a worker. It returns the id of the task the worker was
// mid-executing, if any, so the scheduler can requeue it.
func (r *Registry) Unregister(workerID string) (inflightTask string, err error) {
	r.mu.Lock()
	entry, ok := r.entries[workerID]
	if ok {
		delete(r.entries, workerID)
	}
	r.mu.Unlock()

	if !ok {
		return "", types.NewError(types.ErrWorkerNotFound, "unregister").WithWorker(workerID)
	}

	entry.mu.Lock()
	prev := entry.availability
	entry.availability = WorkerOffline
	inflightTask = entry.currentTask
	entry.currentTask = ""
	entry.mu.Unlock()

	r.logger.Info("worker unregistered",
		zap.String("worker_id", workerID),
		zap.String("inflight_task", inflightTask),
	)
	if prev != WorkerOffline {
		r.publishAvailability(workerID, prev, WorkerOffline)
	}
	r.bus.Publish(&WorkerUnregisteredEvent{WorkerID: workerID, Timestamp_: r.clock()})
	return inflightTask, nil
}

// SetAvailability moves a worker to the given state and emits the
// availability-changed notification the scheduler wakes on.
func (r *Registry) SetAvailability(workerID string, state Availability) error {
	entry, ok := r.get(workerID)
	if !ok {
		return types.NewError(types.ErrWorkerNotFound, "set availability").WithWorker(workerID)
	}

	entry.mu.Lock()
	prev := entry.availability
	entry.availability = state
	entry.lastActivity = r.clock()
	if state != WorkerBusy {
		entry.currentTask = ""
	}
	entry.mu.Unlock()

	if prev != state {
		r.publishAvailability(workerID, prev, state)
	}
	return nil
}

// TryAcquire atomically moves an available worker to busy for the given
// task. It is the commit point of the assignment loop: a worker that went
// busy or offline between scoring and commit is not acquired.
func (r *Registry) TryAcquire(workerID, taskID string) bool {
	entry, ok := r.get(workerID)
	if !ok {
		return false
	}

	entry.mu.Lock()
	if entry.availability != WorkerAvailable {
		entry.mu.Unlock()
		return false
	}
	entry.availability = WorkerBusy
	entry.currentTask = taskID
	entry.lastActivity = r.clock()
	entry.mu.Unlock()

	r.publishAvailability(workerID, WorkerAvailable, WorkerBusy)
	return true
}

// Release moves a busy worker back to available after its execution settles.
func (r *Registry) Release(workerID string) {
	entry, ok := r.get(workerID)
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.availability != WorkerBusy {
		entry.mu.Unlock()
		return
	}
	entry.availability = WorkerAvailable
	entry.currentTask = ""
	entry.lastActivity = r.clock()
	entry.mu.Unlock()

	r.publishAvailability(workerID, WorkerBusy, WorkerAvailable)
}

// RecordCompletion folds one execution result into the worker's running
// performance means. Updates for different workers never block each other.
func (r *Registry) RecordCompletion(workerID string, success bool, elapsed time.Duration) {
	entry, ok := r.get(workerID)
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.performance.TasksCompleted++
	if success {
		entry.successes++
	}
	n := float64(entry.performance.TasksCompleted)
	entry.performance.SuccessRate = float64(entry.successes) / n

	ms := float64(elapsed.Milliseconds())
	prev := entry.performance.AverageResponseTimeMs
	entry.performance.AverageResponseTimeMs = prev + (ms-prev)/n

	entry.lastActivity = r.clock()
}

// Touch refreshes a worker's last-activity timestamp. A status signal from
// an offline worker with signal idle revives it to available.
func (r *Registry) Touch(workerID string, signal StatusSignal) error {
	entry, ok := r.get(workerID)
	if !ok {
		return types.NewError(types.ErrWorkerNotFound, "status signal").WithWorker(workerID)
	}

	entry.mu.Lock()
	entry.lastActivity = r.clock()
	prev := entry.availability
	revived := prev == WorkerOffline && signal == SignalIdle
	if revived {
		entry.availability = WorkerAvailable
	}
	entry.mu.Unlock()

	if revived {
		r.logger.Info("worker revived by status signal", zap.String("worker_id", workerID))
		r.publishAvailability(workerID, prev, WorkerAvailable)
	}
	return nil
}

// Worker returns the registered worker implementation.
func (r *Registry) Worker(workerID string) (Worker, bool) {
	entry, ok := r.get(workerID)
	if !ok {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.worker, true
}

// Availability returns a worker's current availability.
func (r *Registry) Availability(workerID string) (Availability, bool) {
	entry, ok := r.get(workerID)
	if !ok {
		return "", false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.availability, true
}

// Candidates returns a snapshot of all available workers for the selector.
func (r *Registry) Candidates() []Candidate {
	r.mu.RLock()
	entries := make([]*workerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.availability == WorkerAvailable {
			out = append(out, Candidate{
				ID:           e.worker.ID(),
				Type:         e.worker.Type(),
				Capabilities: append([]string(nil), e.worker.Capabilities()...),
				Performance:  e.performance,
			})
		}
		e.mu.Unlock()
	}
	return out
}

// List returns a snapshot of every registry entry.
func (r *Registry) List() []WorkerView {
	r.mu.RLock()
	entries := make([]*workerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]WorkerView, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, WorkerView{
			ID:           e.worker.ID(),
			Type:         e.worker.Type(),
			Capabilities: append([]string(nil), e.worker.Capabilities()...),
			Availability: e.availability,
			LastActivity: e.lastActivity,
			Performance:  e.performance,
			CurrentTask:  e.currentTask,
		})
		e.mu.Unlock()
	}
	return out
}

// sweepStale demotes workers silent since before the cutoff to offline and
// returns their ids. Entries are kept so a later signal can revive them.
func (r *Registry) sweepStale(cutoff time.Time) []string {
	r.mu.RLock()
	entries := make(map[string]*workerEntry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.RUnlock()

	var demoted []string
	for id, e := range entries {
		e.mu.Lock()
		stale := e.availability != WorkerOffline && e.lastActivity.Before(cutoff)
		prev := e.availability
		var last time.Time
		if stale {
			e.availability = WorkerOffline
			e.currentTask = ""
			last = e.lastActivity
		}
		e.mu.Unlock()

		if stale {
			demoted = append(demoted, id)
			r.publishAvailability(id, prev, WorkerOffline)
			r.bus.Publish(&WorkerUnresponsiveEvent{
				WorkerID:     id,
				LastActivity: last,
				Timestamp_:   r.clock(),
			})
		}
	}
	return demoted
}

func (r *Registry) get(workerID string) (*workerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[workerID]
	return entry, ok
}

func (r *Registry) publishAvailability(workerID string, from, to Availability) {
	r.bus.Publish(&WorkerAvailabilityEvent{
		WorkerID:   workerID,
		From:       from,
		To:         to,
		Timestamp_: r.clock(),
	})
}
