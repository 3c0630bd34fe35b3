package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/internal/metrics"
	"github.com/taskmesh/taskmesh/internal/pool"
	"github.com/taskmesh/taskmesh/types"
	"go.uber.org/zap"
)

// redirectFunc lets the handoff engine re-route a task at the assignment
// commit point. It receives the task and the worker the selector chose and
// reports the rule-determined target, if any rule fired.
type redirectFunc func(t *Task, chosenID string) (target string, reason HandoffReason, fired bool)

// SchedulerConfig configures the scheduler.
type SchedulerConfig struct {
	// TickInterval is the assignment loop period.
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`
	// MaxHandoffs bounds a task's handoff history; failed tasks at or past
	// the bound are not retried.
	MaxHandoffs int `yaml:"max_handoffs" json:"max_handoffs"`
	// ConversationWindow is the number of trailing conversation entries a
	// handoff transfers.
	ConversationWindow int `yaml:"conversation_window" json:"conversation_window"`
	// TerminalRetention bounds how many settled task records stay queryable;
	// the oldest are evicted first.
	TerminalRetention int `yaml:"terminal_retention" json:"terminal_retention"`
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:       time.Second,
		MaxHandoffs:        3,
		ConversationWindow: 10,
		TerminalRetention:  1024,
	}
}

// Scheduler owns the pending-task queue and the background assignment loop.
// Dispatch is fire-and-forget: the loop's only synchronous work per task is
// pop, score, and hand execution to the dispatch pool.
type Scheduler struct {
	mu       sync.Mutex
	queue    *taskQueue
	tasks    map[string]*Task
	inflight map[string]*Task // worker id -> task
	terminal []string         // settled task ids, oldest first

	cfg      SchedulerConfig
	registry *Registry
	selector *Selector
	bus      EventBus
	pool     *pool.DispatchPool
	metrics  *metrics.Collector
	logger   *zap.Logger
	clock    func() time.Time

	redirect redirectFunc

	baseCtx  context.Context
	wake     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	wakeSub  string
}

// NewScheduler creates a scheduler. The dispatch pool and metrics collector
// may be nil; a default pool is created and metrics become no-ops.
func NewScheduler(cfg SchedulerConfig, registry *Registry, selector *Selector, bus EventBus, dispatch *pool.DispatchPool, collector *metrics.Collector, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatch == nil {
		dispatch = pool.New(pool.DefaultConfig())
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultSchedulerConfig().TickInterval
	}
	if cfg.MaxHandoffs <= 0 {
		cfg.MaxHandoffs = DefaultSchedulerConfig().MaxHandoffs
	}
	if cfg.ConversationWindow <= 0 {
		cfg.ConversationWindow = DefaultSchedulerConfig().ConversationWindow
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = DefaultSchedulerConfig().TerminalRetention
	}
	return &Scheduler{
		queue:    newTaskQueue(),
		tasks:    make(map[string]*Task),
		inflight: make(map[string]*Task),
		cfg:      cfg,
		registry: registry,
		selector: selector,
		bus:      bus,
		pool:     dispatch,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "scheduler")),
		clock:    time.Now,
		baseCtx:  context.Background(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the assignment loop. The loop also wakes whenever a worker
// becomes available, so freed capacity is used before the next tick.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.baseCtx = ctx
	s.wakeSub = s.bus.Subscribe(EventWorkerAvailability, func(e Event) {
		if ev, ok := e.(*WorkerAvailabilityEvent); ok && ev.To == WorkerAvailable {
			s.signalWake()
		}
	})
	go s.run(ctx)
	s.logger.Info("scheduler started", zap.Duration("tick_interval", s.cfg.TickInterval))
}

// Stop terminates the assignment loop and the dispatch pool.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.wakeSub != "" {
			s.bus.Unsubscribe(s.wakeSub)
		}
		s.pool.Close()
		s.logger.Info("scheduler stopped")
	})
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.assignPending()
	}
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Submit creates a task record in pending and inserts it into the queue.
func (s *Scheduler) Submit(required []string, tctx *TaskContext, priority Priority, deadline *time.Time) (string, error) {
	select {
	case <-s.done:
		return "", types.NewError(types.ErrSchedulerStopped, "submit")
	default:
	}

	if priority == "" {
		priority = PriorityMedium
	}
	if priority.Weight() == 0 {
		return "", types.NewError(types.ErrInvalidPriority, string(priority))
	}
	if tctx == nil {
		tctx = &TaskContext{}
	}

	t := &Task{
		ID:                   uuid.NewString(),
		RequiredCapabilities: append([]string(nil), required...),
		Priority:             priority,
		Deadline:             deadline,
		Context:              tctx,
		Status:               TaskPending,
		CreatedAt:            s.clock(),
		pendingHandoff:       -1,
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.queue.Push(t)
	depth := s.queue.Len()
	s.mu.Unlock()

	s.logger.Info("task submitted",
		zap.String("task_id", t.ID),
		zap.String("priority", string(priority)),
		zap.Strings("required", required),
	)
	s.bus.Publish(&TaskSubmittedEvent{TaskID: t.ID, Priority: priority, Timestamp_: s.clock()})
	s.metrics.RecordSubmission(string(priority))
	s.metrics.SetQueueDepth(depth)
	s.signalWake()
	return t.ID, nil
}

// assignPending makes one pass over the queue, assigning every task a worker
// can be found for. Unassignable tasks are deferred back at their original
// positions so they never block lower-priority tasks that are assignable.
func (s *Scheduler) assignPending() {
	s.metrics.RecordTick()

	s.mu.Lock()
	defer s.mu.Unlock()

	var deferred []*Task
	for {
		t := s.queue.Pop()
		if t == nil {
			break
		}
		if !s.tryAssign(t) {
			deferred = append(deferred, t)
		}
	}
	for _, t := range deferred {
		s.queue.Push(t)
	}
	s.metrics.SetQueueDepth(s.queue.Len())
}

// tryAssign attempts to commit one task to a worker. Caller holds s.mu.
func (s *Scheduler) tryAssign(t *Task) bool {
	candidates := s.registry.Candidates()
	if len(candidates) == 0 {
		return false
	}

	chosen, ok := s.selector.Select(t.RequiredCapabilities, candidates)
	if !ok {
		return false
	}

	// Give the handoff engine a chance to re-route before commit.
	from := ""
	var reason HandoffReason
	if s.redirect != nil {
		if target, r, fired := s.redirect(t, chosen); fired {
			from, chosen, reason = chosen, target, r
		}
	}

	if !s.registry.TryAcquire(chosen, t.ID) {
		// The worker changed state between scoring and commit.
		return false
	}

	worker, found := s.registry.Worker(chosen)
	if !found {
		s.registry.Release(chosen)
		return false
	}

	now := s.clock()
	t.mu.Lock()
	_ = t.transition(TaskAssigned)
	_ = t.transition(TaskInProgress)
	t.AssignedWorker = chosen
	t.DispatchedAt = now
	t.dispatchGen++
	gen := t.dispatchGen
	if from != "" {
		t.HandoffHistory = append(t.HandoffHistory, HandoffEvent{
			FromWorker:       from,
			ToWorker:         chosen,
			Reason:           reason,
			Timestamp:        now,
			ContextSizeBytes: contextSize(t.Context),
		})
		t.pendingHandoff = len(t.HandoffHistory) - 1
	}
	tctx := t.Context
	t.mu.Unlock()

	if err := s.pool.Submit(s.baseCtx, func(ctx context.Context) {
		s.execute(ctx, t, worker, chosen, gen, tctx)
	}); err != nil {
		s.logger.Warn("dispatch rejected by pool",
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
		t.mu.Lock()
		_ = t.transition(TaskPending)
		t.AssignedWorker = ""
		if from != "" {
			// No handoff happened; drop the placeholder record so a later
			// dispatch does not settle it.
			t.HandoffHistory = t.HandoffHistory[:len(t.HandoffHistory)-1]
			t.pendingHandoff = -1
		}
		t.mu.Unlock()
		s.registry.Release(chosen)
		return false
	}

	s.inflight[chosen] = t
	s.logger.Info("task assigned",
		zap.String("task_id", t.ID),
		zap.String("worker_id", chosen),
	)
	s.bus.Publish(&TaskAssignedEvent{TaskID: t.ID, WorkerID: chosen, Timestamp_: now})
	s.metrics.RecordAssignment()
	if from != "" {
		s.bus.Publish(&TaskHandoffEvent{
			TaskID:     t.ID,
			FromWorker: from,
			ToWorker:   chosen,
			Reason:     reason,
			Timestamp_: now,
		})
		s.metrics.RecordHandoff("executed")
	}
	return true
}

// execute runs one dispatched worker execution and settles the task.
func (s *Scheduler) execute(ctx context.Context, t *Task, worker Worker, workerID string, gen uint64, tctx *TaskContext) {
	start := s.clock()
	result, err := worker.Execute(ctx, tctx)
	elapsed := s.clock().Sub(start)

	if err != nil {
		result = &TaskResult{Success: false, Error: err.Error()}
	}
	if result == nil {
		result = &TaskResult{Success: false, Error: "worker returned no result"}
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = s.clock()
	}

	s.settle(t, workerID, gen, result, elapsed)
}

// settle applies a completed execution to the task record, updates the
// worker's performance, and evaluates the retry policy on failure. A
// settlement whose dispatch generation was superseded by a handoff or a
// requeue is stale and dropped.
func (s *Scheduler) settle(t *Task, workerID string, gen uint64, result *TaskResult, elapsed time.Duration) {
	now := s.clock()

	s.mu.Lock()
	t.mu.Lock()
	if t.dispatchGen != gen {
		t.mu.Unlock()
		s.mu.Unlock()
		s.logger.Debug("dropping stale completion",
			zap.String("task_id", t.ID),
			zap.String("worker_id", workerID),
		)
		return
	}
	delete(s.inflight, workerID)

	t.Result = result
	if t.pendingHandoff >= 0 && t.pendingHandoff < len(t.HandoffHistory) {
		ev := &t.HandoffHistory[t.pendingHandoff]
		ev.Success = result.Success
		ev.DurationMs = now.Sub(ev.Timestamp).Milliseconds()
		t.pendingHandoff = -1
	}

	var retry bool
	if result.Success {
		_ = t.transition(TaskCompleted)
	} else {
		_ = t.transition(TaskFailed)
		retry = len(t.HandoffHistory) < s.cfg.MaxHandoffs && t.Priority != PriorityLow
		if retry {
			_ = t.transition(TaskPending)
			t.AssignedWorker = ""
		}
	}
	taskID := t.ID
	errMsg := result.Error
	t.mu.Unlock()

	if retry {
		s.queue.PushFront(t)
	} else {
		s.retireLocked(taskID)
	}
	depth := s.queue.Len()
	s.mu.Unlock()

	s.registry.RecordCompletion(workerID, result.Success, elapsed)
	s.registry.Release(workerID)

	if result.Success {
		s.logger.Info("task completed",
			zap.String("task_id", taskID),
			zap.String("worker_id", workerID),
			zap.Duration("elapsed", elapsed),
		)
		s.bus.Publish(&TaskCompletedEvent{
			TaskID:     taskID,
			WorkerID:   workerID,
			DurationMs: elapsed.Milliseconds(),
			Timestamp_: now,
		})
		s.metrics.RecordSettlement("completed", elapsed)
	} else {
		s.logger.Warn("task failed",
			zap.String("task_id", taskID),
			zap.String("worker_id", workerID),
			zap.String("error", errMsg),
			zap.Bool("will_retry", retry),
		)
		s.bus.Publish(&TaskFailedEvent{
			TaskID:     taskID,
			WorkerID:   workerID,
			Error:      errMsg,
			WillRetry:  retry,
			Timestamp_: now,
		})
		s.metrics.RecordSettlement("failed", elapsed)
	}
	s.metrics.SetQueueDepth(depth)
	if retry {
		s.signalWake()
	}
}

// retireLocked records a settled task for retention and evicts the oldest
// settled records past the configured bound. Caller holds s.mu.
func (s *Scheduler) retireLocked(taskID string) {
	s.terminal = append(s.terminal, taskID)
	for len(s.terminal) > s.cfg.TerminalRetention {
		evicted := s.terminal[0]
		s.terminal = s.terminal[1:]
		delete(s.tasks, evicted)
	}
}

// transfer re-routes an in-progress task to an already-acquired target
// worker: it appends the handoff record, releases the source worker, and
// re-dispatches execution against the target with a trimmed context. The
// assignment is re-verified under the locks; the task may have settled or
// been requeued between the caller's check and the commit here.
func (s *Scheduler) transfer(t *Task, from, to string, reason HandoffReason) error {
	target, found := s.registry.Worker(to)
	if !found {
		s.registry.Release(to)
		return types.NewError(types.ErrWorkerNotFound, "handoff target").WithWorker(to)
	}

	now := s.clock()

	s.mu.Lock()
	t.mu.Lock()
	if t.Status != TaskInProgress || t.AssignedWorker != from {
		t.mu.Unlock()
		s.mu.Unlock()
		s.registry.Release(to)
		return types.NewError(types.ErrHandoffNotAssigned, "task is no longer under the source assignment").
			WithTask(t.ID).WithWorker(from)
	}
	delete(s.inflight, from)

	trimmed := t.Context.Trimmed(s.cfg.ConversationWindow)
	t.HandoffHistory = append(t.HandoffHistory, HandoffEvent{
		FromWorker:       from,
		ToWorker:         to,
		Reason:           reason,
		Timestamp:        now,
		ContextSizeBytes: contextSize(trimmed),
	})
	t.pendingHandoff = len(t.HandoffHistory) - 1
	t.AssignedWorker = to
	t.dispatchGen++
	gen := t.dispatchGen
	t.mu.Unlock()

	s.inflight[to] = t
	s.mu.Unlock()

	s.registry.Release(from)

	if err := s.pool.Submit(s.baseCtx, func(ctx context.Context) {
		s.execute(ctx, t, target, to, gen, trimmed)
	}); err != nil {
		// Undo the commit: no execution is running against the target, so
		// the task would otherwise sit in_progress forever. The source's
		// still-running execution settles stale and is dropped.
		s.mu.Lock()
		t.mu.Lock()
		if t.dispatchGen == gen {
			delete(s.inflight, to)
			t.HandoffHistory = t.HandoffHistory[:len(t.HandoffHistory)-1]
			t.pendingHandoff = -1
			_ = t.transition(TaskPending)
			t.AssignedWorker = ""
			t.dispatchGen++
			t.mu.Unlock()
			s.queue.PushFront(t)
			s.mu.Unlock()
			s.registry.Release(to)
			s.signalWake()
		} else {
			t.mu.Unlock()
			s.mu.Unlock()
		}
		return types.NewError(types.ErrInternalError, "handoff dispatch").WithCause(err).WithTask(t.ID)
	}

	s.logger.Info("task handed off",
		zap.String("task_id", t.ID),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("reason_type", reason.Type),
	)
	s.bus.Publish(&TaskHandoffEvent{
		TaskID:     t.ID,
		FromWorker: from,
		ToWorker:   to,
		Reason:     reason,
		Timestamp_: now,
	})
	s.metrics.RecordHandoff("executed")
	return nil
}

// RequeueWorker moves the task a worker was executing back to the front of
// the queue. Used by unregistration and the health monitor; the running
// execution, if it ever settles, is dropped as stale.
func (s *Scheduler) RequeueWorker(workerID string) {
	s.mu.Lock()
	t, ok := s.inflight[workerID]
	if ok {
		delete(s.inflight, workerID)
		requeue := false
		t.mu.Lock()
		if t.AssignedWorker == workerID && !t.Status.IsTerminal() {
			_ = t.transition(TaskPending)
			t.AssignedWorker = ""
			t.dispatchGen++
			requeue = true
		}
		t.mu.Unlock()
		if requeue {
			s.queue.PushFront(t)
			s.logger.Info("task requeued from worker",
				zap.String("task_id", t.ID),
				zap.String("worker_id", workerID),
			)
		}
	}
	s.mu.Unlock()
	s.signalWake()
}

// task returns the live task record.
func (s *Scheduler) task(taskID string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	return t, ok
}

// GetTask returns a snapshot of the task, if known.
func (s *Scheduler) GetTask(taskID string) (TaskView, bool) {
	t, ok := s.task(taskID)
	if !ok {
		return TaskView{}, false
	}
	return t.Snapshot(), true
}

// QueueStatus returns task counts by status.
func (s *Scheduler) QueueStatus() map[TaskStatus]int {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	counts := make(map[TaskStatus]int)
	for _, t := range tasks {
		t.mu.Lock()
		counts[t.Status]++
		t.mu.Unlock()
	}
	return counts
}

// contextSize is the serialized size of a context as transferred.
func contextSize(tctx *TaskContext) int {
	if tctx == nil {
		return 0
	}
	data, err := json.Marshal(tctx)
	if err != nil {
		return 0
	}
	return len(data)
}
