package coordinator

import (
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/types"
)

// Priority orders tasks in the queue. Higher weight is assigned first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Weight returns the numeric ordering weight of the priority.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ParsePriority converts a string into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return Priority(s), nil
	default:
		return "", types.NewError(types.ErrInvalidPriority, "unknown priority: "+s)
	}
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// canTransition reports whether the state machine permits moving to the
// given status. failed→pending is the retry edge; in_progress→pending and
// pending→pending are the requeue edges used by unregistration and the
// health monitor.
func (s TaskStatus) canTransition(to TaskStatus) bool {
	switch s {
	case TaskPending:
		return to == TaskAssigned || to == TaskPending
	case TaskAssigned:
		return to == TaskInProgress || to == TaskPending
	case TaskInProgress:
		return to == TaskCompleted || to == TaskFailed || to == TaskPending
	case TaskFailed:
		return to == TaskPending
	default:
		return false
	}
}

// ConversationEntry is one exchange in a task's conversation history.
type ConversationEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// TaskContext is the payload handed to a worker. It is owned by the task
// while queued and shared by reference with the worker during execution.
type TaskContext struct {
	Description    string              `json:"description"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	Conversation   []ConversationEntry `json:"conversation,omitempty"`
	CompletedSteps map[string]bool     `json:"completed_steps,omitempty"`
}

// Trimmed returns a copy of the context carrying at most the last n
// conversation entries. Handoffs transfer the trimmed copy to bound cost.
func (c *TaskContext) Trimmed(n int) *TaskContext {
	if c == nil {
		return nil
	}
	out := &TaskContext{
		Description:    c.Description,
		Metadata:       c.Metadata,
		CompletedSteps: c.CompletedSteps,
	}
	if len(c.Conversation) <= n {
		out.Conversation = append([]ConversationEntry(nil), c.Conversation...)
	} else {
		out.Conversation = append([]ConversationEntry(nil), c.Conversation[len(c.Conversation)-n:]...)
	}
	return out
}

// TaskResult is what a worker execution settles with.
type TaskResult struct {
	Success   bool           `json:"success"`
	Output    any            `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// HandoffReason describes why a task moved between workers.
type HandoffReason struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// HandoffEvent is one append-only entry in a task's handoff history.
type HandoffEvent struct {
	FromWorker       string        `json:"from_worker"`
	ToWorker         string        `json:"to_worker"`
	Reason           HandoffReason `json:"reason"`
	Timestamp        time.Time     `json:"timestamp"`
	Success          bool          `json:"success"`
	DurationMs       int64         `json:"duration_ms"`
	ContextSizeBytes int           `json:"context_size_bytes"`
}

// Task is the coordinator's record of one unit of work. All fields are
// guarded by mu; mutations go through the scheduler and handoff paths only.
type Task struct {
	mu sync.Mutex

	ID                   string
	RequiredCapabilities []string
	Priority             Priority
	Deadline             *time.Time
	Context              *TaskContext
	AssignedWorker       string
	Status               TaskStatus
	Result               *TaskResult
	HandoffHistory       []HandoffEvent
	CreatedAt            time.Time
	DispatchedAt         time.Time

	// seq is the queue ordering tiebreak. Negative values mark tasks pushed
	// to the front of their priority tier.
	seq int64

	// dispatchGen identifies the current dispatch; completions from an
	// earlier dispatch (a worker replaced by handoff) are stale and dropped.
	dispatchGen uint64

	// pendingHandoff indexes the HandoffHistory entry awaiting settlement,
	// or -1 when none is pending.
	pendingHandoff int
}

// transition moves the task to the given status, enforcing the state machine.
func (t *Task) transition(to TaskStatus) error {
	if !t.Status.canTransition(to) {
		return types.NewError(types.ErrInvalidTransition,
			string(t.Status)+" -> "+string(to)).WithTask(t.ID)
	}
	t.Status = to
	return nil
}

// TaskView is an immutable snapshot of a task, safe to hand to callers.
type TaskView struct {
	ID                   string         `json:"id"`
	RequiredCapabilities []string       `json:"required_capabilities"`
	Priority             Priority       `json:"priority"`
	Deadline             *time.Time     `json:"deadline,omitempty"`
	AssignedWorker       string         `json:"assigned_worker,omitempty"`
	Status               TaskStatus     `json:"status"`
	Result               *TaskResult    `json:"result,omitempty"`
	HandoffHistory       []HandoffEvent `json:"handoff_history"`
	CreatedAt            time.Time      `json:"created_at"`
}

// Snapshot returns a consistent copy of the task's observable state.
func (t *Task) Snapshot() TaskView {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := TaskView{
		ID:             t.ID,
		Priority:       t.Priority,
		Deadline:       t.Deadline,
		AssignedWorker: t.AssignedWorker,
		Status:         t.Status,
		CreatedAt:      t.CreatedAt,
	}
	v.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	v.HandoffHistory = append([]HandoffEvent(nil), t.HandoffHistory...)
	if t.Result != nil {
		r := *t.Result
		v.Result = &r
	}
	return v
}
