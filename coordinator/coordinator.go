package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/coordinator/handoff"
	"github.com/taskmesh/taskmesh/coordinator/persistence"
	"github.com/taskmesh/taskmesh/internal/metrics"
	"github.com/taskmesh/taskmesh/internal/pool"
	"github.com/taskmesh/taskmesh/types"
	"go.uber.org/zap"
)

// Config is the coordinator's complete configuration.
type Config struct {
	Scheduler SchedulerConfig  `yaml:"scheduler" json:"scheduler"`
	Health    HealthConfig     `yaml:"health" json:"health"`
	Weights   SelectionWeights `yaml:"selection_weights" json:"selection_weights"`
	Pool      pool.Config      `yaml:"dispatch_pool" json:"dispatch_pool"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Scheduler: DefaultSchedulerConfig(),
		Health:    DefaultHealthConfig(),
		Weights:   DefaultSelectionWeights(),
		Pool:      pool.DefaultConfig(),
	}
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = collector }
}

// WithArchive attaches a store that receives terminal task records.
func WithArchive(store persistence.Store) Option {
	return func(c *Coordinator) { c.archive = store }
}

// Coordinator is the explicitly constructed coordination engine instance.
// It owns the registration table, the scheduler, the handoff engine, and
// the health monitor; embedding processes hold it by reference and there is
// no ambient global state.
type Coordinator struct {
	cfg       Config
	bus       EventBus
	registry  *Registry
	selector  *Selector
	scheduler *Scheduler
	engine    *handoff.Engine
	health    *HealthMonitor
	metrics   *metrics.Collector
	archive   persistence.Store
	logger    *zap.Logger

	subs     []string
	stopOnce sync.Once
}

// New creates a coordinator. Call Start before submitting tasks.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "coordinator")),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.bus = NewEventBus(logger)
	c.registry = NewRegistry(c.bus, logger)
	c.selector = NewSelector(cfg.Weights, logger)
	c.engine = handoff.NewEngine(logger)
	c.scheduler = NewScheduler(cfg.Scheduler, c.registry, c.selector, c.bus, pool.New(cfg.Pool), c.metrics, logger)
	c.scheduler.redirect = c.redirect
	c.health = NewHealthMonitor(cfg.Health, c.registry, c.scheduler, c.metrics, logger)

	return c
}

// Start launches the assignment loop and the health monitor and wires the
// observer subscriptions.
func (c *Coordinator) Start(ctx context.Context) {
	if c.archive != nil {
		c.subs = append(c.subs,
			c.bus.Subscribe(EventTaskCompleted, c.archiveTask),
			c.bus.Subscribe(EventTaskFailed, c.archiveTask),
		)
	}
	if c.metrics != nil {
		c.subs = append(c.subs,
			c.bus.Subscribe(EventWorkerAvailability, func(Event) { c.updateWorkerGauges() }),
			c.bus.Subscribe(EventWorkerRegistered, func(Event) { c.updateWorkerGauges() }),
			c.bus.Subscribe(EventWorkerUnregistered, func(Event) { c.updateWorkerGauges() }),
		)
	}
	c.scheduler.Start(ctx)
	c.health.Start(ctx)
	c.logger.Info("coordinator started")
}

// Stop shuts everything down in reverse dependency order.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.health.Stop()
		c.scheduler.Stop()
		for _, sub := range c.subs {
			c.bus.Unsubscribe(sub)
		}
		c.bus.Stop()
		c.logger.Info("coordinator stopped")
	})
}

// RegisterWorker adds a worker to the registration table. Registering the
// same id twice updates the entry; it is never an error.
func (c *Coordinator) RegisterWorker(w Worker) {
	c.registry.Register(w)
}

// UnregisterWorker removes a worker and requeues any task it was executing
// at the front of the queue.
func (c *Coordinator) UnregisterWorker(workerID string) error {
	inflight, err := c.registry.Unregister(workerID)
	if err != nil {
		return err
	}
	if inflight != "" {
		c.scheduler.RequeueWorker(workerID)
	}
	return nil
}

// NotifyStatus records a worker's status signal. Signals refresh the
// worker's activity timestamp; an idle signal from an offline worker
// revives it to available.
func (c *Coordinator) NotifyStatus(workerID string, signal StatusSignal) error {
	return c.registry.Touch(workerID, signal)
}

// SubmitTask enqueues a unit of work and returns its task id.
func (c *Coordinator) SubmitTask(required []string, tctx *TaskContext, priority Priority, deadline *time.Time) (string, error) {
	return c.scheduler.Submit(required, tctx, priority, deadline)
}

// GetTaskStatus returns a snapshot of the task record.
func (c *Coordinator) GetTaskStatus(taskID string) (TaskView, error) {
	view, ok := c.scheduler.GetTask(taskID)
	if !ok {
		return TaskView{}, types.NewError(types.ErrTaskNotFound, "get status").WithTask(taskID)
	}
	return view, nil
}

// GetWorkerStatus returns a snapshot of every registered worker.
func (c *Coordinator) GetWorkerStatus() []WorkerView {
	return c.registry.List()
}

// GetQueueStatus returns task counts by status.
func (c *Coordinator) GetQueueStatus() map[TaskStatus]int {
	return c.scheduler.QueueStatus()
}

// Events exposes the coordination event stream.
func (c *Coordinator) Events() EventBus {
	return c.bus
}

// AddHandoffRule validates and installs a handoff rule.
func (c *Coordinator) AddHandoffRule(rule handoff.Rule) error {
	return c.engine.AddRule(rule)
}

// RegisterHandoffCondition installs a custom trigger predicate.
func (c *Coordinator) RegisterHandoffCondition(name string, cond handoff.Condition) {
	c.engine.RegisterCondition(name, cond)
}

// HandoffRequest is a worker's explicit, mid-execution request to move its
// task elsewhere.
type HandoffRequest struct {
	TaskID               string
	FromWorker           string
	Reason               string
	RequiredCapabilities []string
	Urgency              string
}

// RequestHandoff transfers an in-progress task to the best worker matching
// the requested capabilities. When no suitable target exists the task stays
// under its current assignment; the failed search is logged, not escalated.
func (c *Coordinator) RequestHandoff(req HandoffRequest) error {
	t, ok := c.scheduler.task(req.TaskID)
	if !ok {
		return types.NewError(types.ErrTaskNotFound, "handoff request").WithTask(req.TaskID)
	}

	t.mu.Lock()
	from := t.AssignedWorker
	status := t.Status
	t.mu.Unlock()

	if status != TaskInProgress || from == "" {
		return types.NewError(types.ErrHandoffNotAssigned, "task is not in progress").WithTask(req.TaskID)
	}
	if req.FromWorker != "" && req.FromWorker != from {
		return types.NewError(types.ErrHandoffNotAssigned, "task is assigned to another worker").
			WithTask(req.TaskID).WithWorker(req.FromWorker)
	}

	target, found := c.selector.Select(req.RequiredCapabilities, c.registry.Candidates())
	if !found || !c.registry.TryAcquire(target, req.TaskID) {
		c.logger.Warn("handoff target not found",
			zap.String("task_id", req.TaskID),
			zap.Strings("required", req.RequiredCapabilities),
		)
		c.metrics.RecordHandoff("no_target")
		return types.NewError(types.ErrHandoffTargetNotFound, "no suitable worker").WithTask(req.TaskID)
	}

	reason := HandoffReason{
		Type:        "explicit",
		Description: req.Reason,
		Severity:    req.Urgency,
	}
	if err := c.scheduler.transfer(t, from, target, reason); err != nil {
		c.metrics.RecordHandoff("failed")
		return err
	}
	return nil
}

// redirect is the scheduler's pre-commit hook: it evaluates handoff rules
// against the worker the selector chose and, when a rule fires, locates a
// concrete worker of the target type. Returning fired=false leaves the
// original choice in place.
func (c *Coordinator) redirect(t *Task, chosenID string) (string, HandoffReason, bool) {
	rules := c.engine.Rules()
	if len(rules) == 0 {
		return "", HandoffReason{}, false
	}

	chosen, ok := c.registry.Worker(chosenID)
	if !ok {
		return "", HandoffReason{}, false
	}

	t.mu.Lock()
	info := handoff.TaskInfo{
		TaskID:         t.ID,
		HandoffCount:   len(t.HandoffHistory),
		FromWorkerType: chosen.Type(),
	}
	if t.Context != nil {
		info.Description = t.Context.Description
		info.Metadata = t.Context.Metadata
		info.CompletedSteps = t.Context.CompletedSteps
	}
	required := append([]string(nil), t.RequiredCapabilities...)
	t.mu.Unlock()

	decision, fired := c.engine.Evaluate(info)
	if !fired {
		return "", HandoffReason{}, false
	}

	var targets []Candidate
	for _, cand := range c.registry.Candidates() {
		if cand.ID != chosenID && decision.ToTypePattern.MatchString(cand.Type) {
			targets = append(targets, cand)
		}
	}
	target, found := c.selector.Select(required, targets)
	if !found {
		c.logger.Warn("handoff rule fired but no target of required type",
			zap.String("task_id", t.ID),
			zap.String("rule_id", decision.RuleID),
		)
		c.metrics.RecordHandoff("no_target")
		return "", HandoffReason{}, false
	}

	return target, HandoffReason{
		Type:        "rule",
		Description: decision.Reason,
		Severity:    "normal",
	}, true
}

// archiveTask copies a terminal task record into the archive store.
func (c *Coordinator) archiveTask(e Event) {
	var taskID string
	switch ev := e.(type) {
	case *TaskCompletedEvent:
		taskID = ev.TaskID
	case *TaskFailedEvent:
		if ev.WillRetry {
			return
		}
		taskID = ev.TaskID
	default:
		return
	}

	view, ok := c.scheduler.GetTask(taskID)
	if !ok || !view.Status.IsTerminal() {
		return
	}

	rec := persistence.TaskRecord{
		TaskID:         view.ID,
		Priority:       string(view.Priority),
		Status:         string(view.Status),
		AssignedWorker: view.AssignedWorker,
		Handoffs:       len(view.HandoffHistory),
		CreatedAt:      view.CreatedAt,
		SettledAt:      e.Timestamp(),
	}
	if view.Result != nil {
		rec.Success = view.Result.Success
		rec.Error = view.Result.Error
	}
	if data, err := json.Marshal(view.RequiredCapabilities); err == nil {
		rec.RequiredCapabilities = string(data)
	}
	if data, err := json.Marshal(view.HandoffHistory); err == nil {
		rec.HandoffHistory = string(data)
	}

	if err := c.archive.SaveTask(context.Background(), &rec); err != nil {
		c.logger.Warn("failed to archive task",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) updateWorkerGauges() {
	counts := map[Availability]int{
		WorkerAvailable: 0,
		WorkerBusy:      0,
		WorkerOffline:   0,
	}
	for _, w := range c.registry.List() {
		counts[w.Availability]++
	}
	for state, n := range counts {
		c.metrics.SetWorkerCount(string(state), n)
	}
}
